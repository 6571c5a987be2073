package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/bdobrica/Tegami/internal/tegami/host"
	"github.com/bdobrica/Tegami/internal/tegami/kv"
	"github.com/bdobrica/Tegami/internal/tegami/narrative"
)

var (
	ErrEmptyName        = errors.New("chat: name must not be empty")
	ErrEmptyContent     = errors.New("chat: content must not be empty")
	ErrDuplicateContact = errors.New("chat: a contact with that name already exists")
	ErrNotFound         = errors.New("chat: not found")
	ErrInvalidKind      = errors.New("chat: invalid kind")
)

// Store owns every conversation record. Exactly one scope is active at a
// time; Bind switches it. Handles returned by earlier Bind calls stay tied
// to their own scope.
//
// All record mutations are serialized by one mutex and persist before the
// lock is released, so each runs to completion.
type Store struct {
	kv       *kv.Store
	synth    *Synthesizer
	resolver *narrative.Resolver
	logger   *slog.Logger
	degraded func(kv.Scope, error)

	loads singleflight.Group

	mu      sync.Mutex
	records map[kv.Scope]*Record
	active  kv.Scope
	bound   bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithDegradedHandler is called when a write missed at least one backend
// but landed in another, quota failures included. The mutation itself is
// reported as successful.
func WithDegradedHandler(fn func(kv.Scope, error)) Option {
	return func(s *Store) { s.degraded = fn }
}

// NewStore returns a Store persisting through store. Synthesized records
// take their timestamps from resolver.
func NewStore(store *kv.Store, synth *Synthesizer, resolver *narrative.Resolver, opts ...Option) *Store {
	s := &Store{
		kv:       store,
		synth:    synth,
		resolver: resolver,
		logger:   slog.Default(),
		records:  make(map[kv.Scope]*Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind makes snap's scope the active one, loading or synthesizing its
// record, and returns a handle for it.
func (s *Store) Bind(ctx context.Context, snap *host.Snapshot) (*Scoped, error) {
	scope := snap.Scope()

	s.mu.Lock()
	_, cached := s.records[scope]
	s.mu.Unlock()

	if !cached {
		v, err, _ := s.loads.Do(s.kv.Path(kv.Scoped(scope, kv.DataConversation)), func() (any, error) {
			return s.load(ctx, scope, snap)
		})
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if _, raced := s.records[scope]; !raced {
			s.records[scope] = v.(*Record)
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.bound && s.active != scope {
		s.logger.Info("chat: active scope changed", "from", s.active.String(), "to", scope.String())
	}
	s.active, s.bound = scope, true
	s.mu.Unlock()

	return &Scoped{store: s, scope: scope, snap: snap}, nil
}

// Active returns the currently bound scope.
func (s *Store) Active() (kv.Scope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.bound
}

// IsActive reports whether scope is the bound one.
func (s *Store) IsActive(scope kv.Scope) bool {
	active, ok := s.Active()
	return ok && active == scope
}

// load reads scope's record, synthesizing and persisting a new one when
// none is stored or the stored one cannot be decoded.
func (s *Store) load(ctx context.Context, scope kv.Scope, snap *host.Snapshot) (*Record, error) {
	key := kv.Scoped(scope, kv.DataConversation)
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("chat: load %s: %w", scope, err)
	}
	if ok {
		rec, err := decodeRecord(raw)
		if err == nil {
			return rec, nil
		}
		s.logger.Error("chat: stored record is corrupt, resynthesizing",
			"scope", scope.String(), "key", s.kv.Path(key), "err", err)
	}

	rec := s.synth.Synthesize(snap, s.resolver.Resolve(snap))
	s.logger.Info("chat: synthesized record", "scope", scope.String(), "genre", rec.Genre,
		"contacts", len(rec.Contacts), "threads", len(rec.Threads))
	if err := s.write(ctx, scope, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func decodeRecord(raw string) (*Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	rec.normalize()
	return &rec, nil
}

// write persists rec. A write that failed somewhere but landed elsewhere
// is reported to the degraded handler and treated as success.
func (s *Store) write(ctx context.Context, scope kv.Scope, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("chat: encode record: %w", err)
	}
	err = s.kv.Set(ctx, kv.Scoped(scope, kv.DataConversation), string(data))
	if err == nil {
		return nil
	}
	var werr *kv.WriteError
	if errors.As(err, &werr) && werr.Landed() {
		s.logger.Warn("chat: record persisted in degraded mode", "scope", scope.String(), "err", err)
		if s.degraded != nil {
			s.degraded(scope, err)
		}
		return nil
	}
	return fmt.Errorf("chat: persist %s: %w", scope, err)
}

// record returns scope's cached record, loading it if needed. Must be
// called with mu held.
func (s *Store) record(ctx context.Context, scope kv.Scope, snap *host.Snapshot) (*Record, error) {
	if rec, ok := s.records[scope]; ok {
		return rec, nil
	}
	rec, err := s.load(ctx, scope, snap)
	if err != nil {
		return nil, err
	}
	s.records[scope] = rec
	return rec, nil
}

// mutate runs fn against a copy of scope's record and, once the copy is
// persisted, makes it the cached record. A failed fn or write leaves the
// record as it was.
func (s *Store) mutate(ctx context.Context, h *Scoped, fn func(*Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(ctx, h.scope, h.snap)
	if err != nil {
		return err
	}
	next := rec.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.write(ctx, h.scope, next); err != nil {
		return err
	}
	s.records[h.scope] = next
	return nil
}

// view runs fn against scope's record without persisting.
func (s *Store) view(ctx context.Context, h *Scoped, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(ctx, h.scope, h.snap)
	if err != nil {
		return err
	}
	fn(rec)
	return nil
}
