// Package app wires Tegami together: the storage tiers, the conversation
// store, the reply pipeline and the HTTP API a front end talks to.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bdobrica/Tegami/internal/tegami/chat"
	"github.com/bdobrica/Tegami/internal/tegami/dispatch"
	"github.com/bdobrica/Tegami/internal/tegami/host"
	"github.com/bdobrica/Tegami/internal/tegami/kv"
	"github.com/bdobrica/Tegami/internal/tegami/llm"
	"github.com/bdobrica/Tegami/internal/tegami/matrix"
	"github.com/bdobrica/Tegami/internal/tegami/narrative"
	"github.com/bdobrica/Tegami/internal/tegami/settings"
	"github.com/bdobrica/Tegami/internal/tegami/store"
)

// ErrNotBound is returned by operations that need an active scope before
// any snapshot has been bound.
var ErrNotBound = errors.New("app: no conversation bound")

// App is the running Tegami instance.
type App struct {
	config   Config
	db       *store.Store
	local    *kv.SQLite
	remote   *matrix.AccountData
	kv       *kv.Store
	chat     *chat.Store
	settings *settings.Service
	pipeline *dispatch.Pipeline
	resolver *narrative.Resolver
	events   *eventLog
	server   *Server
	logger   *slog.Logger

	mu     sync.RWMutex
	active *chat.Scoped
}

// New opens storage and builds every component. Nothing is started.
func New(cfg Config) (*App, error) {
	cfg.withDefaults()
	logger := slog.Default()

	logger.Info("opening database", "path", cfg.DatabasePath)
	db, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	local := kv.NewSQLite(db, cfg.LocalQuotaBytes)

	backends := []kv.Backend{local}
	var remote *matrix.AccountData
	if cfg.Matrix != nil {
		logger.Info("using Matrix account data as primary storage", "homeserver", cfg.Matrix.Homeserver)
		remote, err = matrix.New(*cfg.Matrix, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize Matrix storage: %w", err)
		}
		backends = []kv.Backend{remote, local}
	} else {
		logger.Warn("no Matrix homeserver configured; conversations are stored locally only")
	}
	kvStore := kv.NewStore(kv.NewChain(logger, backends...), cfg.Namespace)

	events := newEventLog(logger)
	resolver := narrative.NewResolver(cfg.Location, nil)
	chatStore := chat.NewStore(kvStore, chat.NewSynthesizer(nil), resolver,
		chat.WithLogger(logger),
		chat.WithDegradedHandler(func(scope kv.Scope, err error) {
			events.degraded(scope, err)
			if errors.Is(err, kv.ErrQuotaExceeded) {
				events.Alert(err)
			}
		}),
	)
	st := settings.NewService(kvStore, logger)

	gen := cfg.Generator
	if gen == nil {
		gen = llm.NewOpenAI(cfg.LLM, logger)
	}
	gen = llm.Limited(gen, llm.NewRateLimiter(cfg.LLMRateLimit, 0))

	a := &App{
		config:   cfg,
		db:       db,
		local:    local,
		remote:   remote,
		kv:       kvStore,
		chat:     chatStore,
		settings: st,
		resolver: resolver,
		events:   events,
		logger:   logger,
		pipeline: dispatch.New(chatStore, gen, resolver, st,
			dispatch.WithNotifier(events),
			dispatch.WithLogger(logger),
			dispatch.WithStalePolicy(cfg.StalePolicy),
		),
	}
	a.server = NewServer(cfg.HTTPAddr, a)
	return a, nil
}

// Handler exposes the HTTP API without a listener.
func (a *App) Handler() *Server { return a.server }

// Bind makes snap the active conversation.
func (a *App) Bind(ctx context.Context, snap *host.Snapshot) (*chat.Scoped, error) {
	h, err := a.chat.Bind(ctx, snap)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.active = h
	a.mu.Unlock()
	return h, nil
}

// Active returns the handle of the bound conversation.
func (a *App) Active() (*chat.Scoped, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.active == nil {
		return nil, ErrNotBound
	}
	return a.active, nil
}

// Run binds the configured snapshot, starts the HTTP listener and blocks
// until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.remote != nil {
		if err := a.remote.Check(ctx); err != nil {
			a.logger.Warn("Matrix storage check failed; writes will land locally until it recovers", "err", err)
		}
	}
	if a.config.SnapshotPath != "" {
		snap, err := host.LoadFile(a.config.SnapshotPath)
		if err != nil {
			return err
		}
		if _, err := a.Bind(ctx, snap); err != nil {
			return fmt.Errorf("bind startup snapshot: %w", err)
		}
	}
	if a.config.HTTPAddr != "" {
		if err := a.server.Start(ctx); err != nil {
			return err
		}
	}
	a.logger.Info("Tegami is running")
	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

// Stop drains pending replies and closes storage.
func (a *App) Stop() {
	a.server.Stop()
	a.logger.Info("cancelling pending replies", "pending", a.pipeline.Pending())
	_ = a.pipeline.Close()
	a.logger.Info("closing database")
	a.db.Close()
}
