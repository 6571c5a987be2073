// Package settings holds the runtime-toggled options shared by every
// scope, persisted as one JSON document under the global settings key.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bdobrica/Tegami/internal/tegami/kv"
)

var ErrInvalid = errors.New("settings: invalid value")

// Settings are user-facing knobs. Zero prompt depths fall back to defaults;
// a zero chunk delay commits chunks back to back. Fields absent from a JSON
// document keep their defaults.
type Settings struct {
	// OnlineMode enables reply generation. Offline, user messages are
	// recorded and nothing is sent to the backend.
	OnlineMode bool `json:"onlineMode"`
	// TranscriptDepth is how many host transcript entries go into a prompt.
	TranscriptDepth int `json:"transcriptDepth,omitempty"`
	// HistoryDepth is how many thread messages go into a prompt.
	HistoryDepth int `json:"historyDepth,omitempty"`
	// ChunkDelayMillis spaces committed reply chunks.
	ChunkDelayMillis int `json:"chunkDelayMillis"`
}

const (
	DefaultTranscriptDepth  = 8
	DefaultHistoryDepth     = 20
	DefaultChunkDelayMillis = 800
)

// Defaults returns the settings used before anything is saved.
func Defaults() Settings {
	return Settings{
		OnlineMode:       true,
		TranscriptDepth:  DefaultTranscriptDepth,
		HistoryDepth:     DefaultHistoryDepth,
		ChunkDelayMillis: DefaultChunkDelayMillis,
	}
}

// UnmarshalJSON decodes over Defaults, so an explicit 0 differs from an
// absent field.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type plain Settings
	v := plain(Defaults())
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Settings(v)
	return nil
}

// withDefaults fills zero prompt depths.
func (s Settings) withDefaults() Settings {
	d := Defaults()
	if s.TranscriptDepth == 0 {
		s.TranscriptDepth = d.TranscriptDepth
	}
	if s.HistoryDepth == 0 {
		s.HistoryDepth = d.HistoryDepth
	}
	return s
}

// Validate rejects negative budgets.
func (s Settings) Validate() error {
	switch {
	case s.TranscriptDepth < 0:
		return fmt.Errorf("%w: transcriptDepth %d", ErrInvalid, s.TranscriptDepth)
	case s.HistoryDepth < 0:
		return fmt.Errorf("%w: historyDepth %d", ErrInvalid, s.HistoryDepth)
	case s.ChunkDelayMillis < 0:
		return fmt.Errorf("%w: chunkDelayMillis %d", ErrInvalid, s.ChunkDelayMillis)
	}
	return nil
}

// Service caches the settings document and writes changes through to kv.
type Service struct {
	kv     *kv.Store
	logger *slog.Logger

	mu     sync.RWMutex
	cur    Settings
	loaded bool
}

// NewService returns a Service over store. A nil logger uses slog.Default().
func NewService(store *kv.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{kv: store, logger: logger}
}

// Get returns the current settings, reading them on first use. A missing or
// unreadable document yields Defaults.
func (s *Service) Get(ctx context.Context) Settings {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		return s.cur
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.cur
	}
	s.cur = Defaults()
	raw, ok, err := s.kv.Get(ctx, kv.Global(kv.DataSettings))
	switch {
	case err != nil:
		// not cached: the next call retries the read
		s.logger.Warn("settings: read failed, using defaults", "err", err)
		return s.cur
	case ok:
		var stored Settings
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			s.logger.Error("settings: stored document is corrupt, using defaults", "err", err)
		} else {
			s.cur = stored.withDefaults()
		}
	}
	s.loaded = true
	return s.cur
}

// Update validates next and persists it. A write that landed only in a
// secondary backend still counts.
func (s *Service) Update(ctx context.Context, next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	next = next.withDefaults()
	data, err := json.Marshal(next)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, kv.Global(kv.DataSettings), string(data)); err != nil {
		var werr *kv.WriteError
		if !errors.As(err, &werr) || !werr.Landed() {
			return Settings{}, fmt.Errorf("settings: persist: %w", err)
		}
		s.logger.Warn("settings: persisted in degraded mode", "err", err)
	}
	s.cur, s.loaded = next, true
	return next, nil
}
