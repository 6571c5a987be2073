// Package matrix stores Tegami's kv values as Matrix account data on the
// user's homeserver, so every device logged into the account sees the same
// conversation records.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Tegami/common/crypto"
	"github.com/bdobrica/Tegami/common/retry"
	"github.com/bdobrica/Tegami/internal/tegami/kv"
)

// DefaultEventPrefix namespaces Tegami's account data event types.
const DefaultEventPrefix = "io.tegami.kv."

// Config holds the homeserver login and storage options.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string

	// EventPrefix is prepended to every key to form the account data type.
	EventPrefix string

	// SealKey, when set, encrypts values with AES-256-GCM before upload.
	SealKey []byte

	// Retry governs rate-limited writes; only M_LIMIT_EXCEEDED is retried.
	Retry retry.Config
}

// content is the account data payload.
type content struct {
	Value  string `json:"value"`
	Sealed bool   `json:"sealed,omitempty"`
}

// AccountData is a kv.Backend over Matrix account data.
type AccountData struct {
	client *mautrix.Client
	cfg    Config
	logger *slog.Logger
}

var _ kv.Backend = (*AccountData)(nil)

// New creates the client. It does not contact the homeserver.
func New(cfg Config, logger *slog.Logger) (*AccountData, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" {
		return nil, errors.New("matrix: homeserver and user ID are required")
	}
	if cfg.SealKey != nil && len(cfg.SealKey) != crypto.KeySize {
		return nil, crypto.ErrInvalidKeySize
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	if cfg.EventPrefix == "" {
		cfg.EventPrefix = DefaultEventPrefix
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default
	}
	cfg.Retry.Retryable = func(err error) bool { return errors.Is(err, mautrix.MLimitExceeded) }
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SealKey == nil {
		logger.Warn("matrix: account data is stored unencrypted on the homeserver")
	}
	return &AccountData{client: client, cfg: cfg, logger: logger}, nil
}

func (a *AccountData) Name() string { return "matrix" }

func (a *AccountData) eventType(key string) string { return a.cfg.EventPrefix + key }

// Get reads key. M_NOT_FOUND is a miss, not an error.
func (a *AccountData) Get(ctx context.Context, key string) (string, bool, error) {
	var c content
	err := a.client.GetAccountData(ctx, a.eventType(key), &c)
	if errors.Is(err, mautrix.MNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("matrix: get %s: %w", key, errors.Join(kv.ErrUnavailable, err))
	}
	if !c.Sealed {
		return c.Value, true, nil
	}
	if a.cfg.SealKey == nil {
		return "", false, fmt.Errorf("matrix: get %s: value is sealed but no key is configured", key)
	}
	plain, err := crypto.OpenString(a.cfg.SealKey, c.Value)
	if err != nil {
		return "", false, fmt.Errorf("matrix: open %s: %w", key, err)
	}
	return plain, true, nil
}

// Set uploads value under key, retrying while the homeserver rate-limits.
func (a *AccountData) Set(ctx context.Context, key, value string) error {
	c := content{Value: value}
	if a.cfg.SealKey != nil {
		sealed, err := crypto.SealString(a.cfg.SealKey, value)
		if err != nil {
			return fmt.Errorf("matrix: seal %s: %w", key, err)
		}
		c = content{Value: sealed, Sealed: true}
	}
	err := retry.Do(ctx, a.cfg.Retry, func() error {
		return a.client.SetAccountData(ctx, a.eventType(key), &c)
	})
	if err != nil {
		return fmt.Errorf("matrix: set %s: %w", key, errors.Join(kv.ErrUnavailable, err))
	}
	return nil
}

// Check confirms the access token is valid for the configured user.
func (a *AccountData) Check(ctx context.Context) error {
	resp, err := a.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("matrix: whoami: %w", err)
	}
	if resp.UserID != id.UserID(a.cfg.UserID) {
		return fmt.Errorf("matrix: token belongs to %s, not %s", resp.UserID, a.cfg.UserID)
	}
	return nil
}
