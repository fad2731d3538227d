// Package cli implements the docsync client commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/iudanet/docsync/internal/client/api"
	"github.com/iudanet/docsync/internal/client/auth"
	"github.com/iudanet/docsync/internal/client/data"
	"github.com/iudanet/docsync/internal/client/iocli"
	"github.com/iudanet/docsync/internal/client/storage"
	"github.com/iudanet/docsync/internal/client/storage/boltdb"
	"github.com/iudanet/docsync/internal/config"
	"github.com/iudanet/docsync/internal/queue"
	"github.com/iudanet/docsync/internal/remote"
	"github.com/iudanet/docsync/internal/replication"
	"github.com/iudanet/docsync/internal/routing"
)

// App holds the wired client components used by the commands.
type App struct {
	io      iocli.IO
	session *auth.Session
	engine  *replication.Controller
	data    *data.Service
	online  queue.Connectivity
	local   storage.KVStore
	logger  *slog.Logger
	closers []func() error
}

// Components are the parts an App is assembled from.
type Components struct {
	IO      iocli.IO
	Local   storage.KVStore
	Auth    storage.AuthStorage
	API     auth.API
	Remote  remote.Store
	Online  queue.Connectivity
	Routes  *routing.Table
	Logger  *slog.Logger
	Tokens  interface{ UseTokens(api.TokenSource) }
	Config  replication.Config
	Server  string
	Closers []func() error
}

// Opener builds an App for one command invocation.
type Opener func(ctx context.Context, configPath string, io iocli.IO) (*App, error)

// New assembles an App. The replication engine restores its persisted queue here.
func New(ctx context.Context, c Components) (*App, error) {
	session := auth.NewSession(c.Auth, c.API, c.Server, c.Logger)
	if c.Tokens != nil {
		c.Tokens.UseTokens(session)
	}

	engine, err := replication.New(ctx, replication.Deps{
		Local:   c.Local,
		Remote:  c.Remote,
		Session: session,
		Online:  c.Online,
		Routes:  c.Routes,
	}, c.Config, c.Logger, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start replication: %w", err)
	}

	return &App{
		io:      c.IO,
		session: session,
		engine:  engine,
		data:    data.NewService(c.Local, engine, c.Routes, c.Logger),
		online:  c.Online,
		local:   c.Local,
		logger:  c.Logger,
		closers: c.Closers,
	}, nil
}

// Open loads the configuration and wires the bbolt store, the HTTP client
// and the replication engine.
func Open(ctx context.Context, configPath string, io iocli.IO) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	routes, err := cfg.Routes()
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)

	store, err := boltdb.New(ctx, cfg.Local.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	client := api.NewClient(cfg.Remote.URL,
		api.WithTimeout(cfg.Remote.Timeout.Std()),
		api.WithTxRetries(cfg.Remote.TxRetries),
	)

	app, err := New(ctx, Components{
		IO:      io,
		Local:   store,
		Auth:    store,
		API:     client,
		Remote:  client,
		Online:  client,
		Tokens:  client,
		Routes:  routes,
		Logger:  logger,
		Config:  cfg.Replication(),
		Server:  client.BaseURL(),
		Closers: []func() error{store.Close},
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

// Close flushes debounced changes and releases the local store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.engine.FlushPending(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush pending changes: %w", err))
	}
	a.engine.Close()
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
