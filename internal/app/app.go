// Package app wires the backend together and supervises its goroutines.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/auth"
	"github.com/luciancaetano/kephasmmo/internal/config"
	"github.com/luciancaetano/kephasmmo/internal/dispatch"
	"github.com/luciancaetano/kephasmmo/internal/guild"
	"github.com/luciancaetano/kephasmmo/internal/party"
	"github.com/luciancaetano/kephasmmo/internal/queue"
	"github.com/luciancaetano/kephasmmo/internal/rpc"
	"github.com/luciancaetano/kephasmmo/internal/session"
	"github.com/luciancaetano/kephasmmo/internal/storage"
	"github.com/luciancaetano/kephasmmo/internal/tcp"
	"github.com/luciancaetano/kephasmmo/internal/websocket"
)

// ShutdownTimeout bounds how long Run waits for the transports to close their connections.
const ShutdownTimeout = 10 * time.Second

// App is one running instance of the backend.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	queue    *queue.Queue
	guilds   *guild.Service
	handlers *rpc.Handlers

	ws  *websocket.Server
	tcp *tcp.Server
}

// New builds the dependency graph. Nothing listens until Run.
func New(cfg config.Config, logger *zap.Logger, store storage.Store) *App {
	dir := session.NewDirectory(cfg.Policy())
	q := queue.New(cfg.QueueInterval, logger.Named("queue"))
	guilds := guild.New(dir, store, guild.Config{
		DefaultRank: cfg.DefaultGuildRank,
		OfficerRank: cfg.GuildOfficerRank,
	}, logger)
	parties := party.New(dir, cfg.PartyMaxSize, logger)

	handlers := rpc.New(rpc.Deps{
		Config:    cfg,
		Directory: dir,
		Queue:     q,
		Store:     store,
		Auth:      auth.New(cfg.PasswordPepper, cfg.BcryptCost),
		Guilds:    guilds,
		Parties:   parties,
		Logger:    logger,
	})
	d := dispatch.New(logger, handlers.Registrations()...)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		queue:    q,
		guilds:   guilds,
		handlers: handlers,
	}
	if cfg.WSAddr != "" {
		a.ws = websocket.New(&websocket.ServerConfig{
			Addr:            cfg.WSAddr,
			Handler:         d,
			MaxMessageSize:  cfg.MaxMessageSize,
			RateLimitConfig: cfg.RateLimitConfig(),
			CheckOrigin:     websocket.AllOrigins(),
			Logger:          logger,
		})
	}
	if cfg.TCPAddr != "" {
		a.tcp = tcp.New(&tcp.ServerConfig{
			Addr:            cfg.TCPAddr,
			Handler:         d,
			MaxMessageSize:  cfg.MaxMessageSize,
			RateLimitConfig: cfg.RateLimitConfig(),
			Logger:          logger,
		})
	}
	return a
}

// WSAddr returns the websocket listen address, or "" when the transport is disabled or not
// started.
func (a *App) WSAddr() string {
	if a.ws == nil {
		return ""
	}
	return a.ws.Addr()
}

// TCPAddr returns the TCP listen address, or "" when the transport is disabled or not started.
func (a *App) TCPAddr() string {
	if a.tcp == nil {
		return ""
	}
	return a.tcp.Addr()
}

func (a *App) servers() []kephasmmo.Server {
	var out []kephasmmo.Server
	if a.ws != nil {
		out = append(out, a.ws)
	}
	if a.tcp != nil {
		out = append(out, a.tcp)
	}
	return out
}

// Start loads the guilds and brings the transports up. On failure every transport that did
// start is stopped again.
func (a *App) Start(ctx context.Context) error {
	if err := a.guilds.Load(ctx); err != nil {
		return fmt.Errorf("load guilds: %w", err)
	}
	var started []kephasmmo.Server
	for _, s := range a.servers() {
		if err := s.Start(ctx); err != nil {
			a.stop(started)
			return fmt.Errorf("start transport: %w", err)
		}
		started = append(started, s)
	}
	return nil
}

// Run starts the app, then blocks until ctx ends. The transports are stopped first so every
// Disconnected action they raise still reaches the queue. Only then is the queue cancelled; its
// consumer runs the final drain itself, so actions never run on two goroutines.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("backend running",
		zap.String("env", a.cfg.Env),
		zap.String("ws", a.WSAddr()),
		zap.String("tcp", a.TCPAddr()),
	)

	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()

	g, gctx := errgroup.WithContext(queueCtx)
	g.Go(func() error {
		err := a.queue.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-gctx.Done():
		}
		err := a.stop(a.servers())
		stopQueue()
		return err
	})

	err := g.Wait()
	a.logger.Info("backend stopped")
	return err
}

func (a *App) stop(servers []kephasmmo.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var g errgroup.Group
	for _, s := range servers {
		g.Go(func() error {
			return s.Stop(ctx)
		})
	}
	return g.Wait()
}
