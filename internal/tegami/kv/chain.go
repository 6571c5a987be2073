package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Chain tries backends in order. Reads stop at the first backend holding a
// value; writes go through to every backend so a primary outage never loses
// data that the secondary could have kept.
type Chain struct {
	backends []Backend
	logger   *slog.Logger
}

var _ Backend = (*Chain)(nil)

// NewChain orders backends from most to least authoritative. Nil entries
// are skipped. If logger is nil, the default slog logger is used.
func NewChain(logger *slog.Logger, backends ...Backend) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{logger: logger}
	for _, b := range backends {
		if b != nil {
			c.backends = append(c.backends, b)
		}
	}
	return c
}

// Name lists the chained backends, e.g. "matrix>sqlite".
func (c *Chain) Name() string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return strings.Join(names, ">")
}

// Get returns the value from the first backend that has one. A backend that
// errors is skipped with a warning. An error is returned only when no
// backend could answer at all.
func (c *Chain) Get(ctx context.Context, key string) (string, bool, error) {
	if len(c.backends) == 0 {
		return "", false, ErrNoBackends
	}
	var errs []error
	answered := false
	for _, b := range c.backends {
		value, ok, err := b.Get(ctx, key)
		if err != nil {
			c.logger.Warn("kv: backend read failed, falling through",
				"backend", b.Name(), "key", key, "err", err)
			errs = append(errs, BackendError{Backend: b.Name(), Err: err})
			continue
		}
		answered = true
		if ok {
			return value, true, nil
		}
	}
	if !answered {
		return "", false, fmt.Errorf("kv: get %q: %w", key, errors.Join(errs...))
	}
	return "", false, nil
}

// Set writes value to every backend in order. It returns nil only when all
// of them accepted it; otherwise a *WriteError says which failed and where
// the value did land.
func (c *Chain) Set(ctx context.Context, key, value string) error {
	if len(c.backends) == 0 {
		return ErrNoBackends
	}
	werr := &WriteError{Key: key}
	for i, b := range c.backends {
		if err := b.Set(ctx, key, value); err != nil {
			werr.Failures = append(werr.Failures, BackendError{Backend: b.Name(), Err: err})
			if i == 0 {
				werr.PrimaryFailed = true
			}
			continue
		}
		werr.Stored = append(werr.Stored, b.Name())
	}
	if len(werr.Failures) == 0 {
		return nil
	}
	if werr.Landed() {
		c.logger.Warn("kv: write degraded", "key", key, "stored", werr.Stored, "err", werr)
	} else {
		c.logger.Error("kv: write lost on every backend", "key", key, "err", werr)
	}
	return werr
}
