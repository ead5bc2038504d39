package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/teilomillet/colloquy/config"
	"github.com/teilomillet/colloquy/server/circuitbreaker"
	"github.com/teilomillet/colloquy/server/completion"
	"github.com/teilomillet/colloquy/server/dialogue"
	"github.com/teilomillet/colloquy/server/handlers"
	"github.com/teilomillet/colloquy/server/metrics"
	"github.com/teilomillet/colloquy/server/pool"
	"github.com/teilomillet/colloquy/server/storage"
	"github.com/teilomillet/colloquy/server/storage/memory"
	"github.com/teilomillet/colloquy/server/storage/postgres"
	"github.com/teilomillet/colloquy/server/validation"
	"go.uber.org/zap"
)

// App is a fully wired colloquy instance.
type App struct {
	Handler http.Handler
	Service *dialogue.Service
	Metrics *metrics.Metrics

	server  *Server
	closers []func()
}

// NewApp builds the store, pools, completion client, service and router
// described by cfg. The caller must Close the app.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Metrics: metrics.NewMetrics()}

	store, pinger, err := app.openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	var clientOpts []completion.Option
	clientOpts = append(clientOpts, completion.WithMetrics(app.Metrics))
	if cb := cfg.Completion.CircuitBreaker; cb.Enabled {
		breaker, err := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
			Name:             "completion",
			MaxRequests:      cb.MaxRequests,
			Interval:         cb.Interval,
			Timeout:          cb.Timeout,
			FailureThreshold: cb.FailureThreshold,
		}, logger, app.Metrics.Registry())
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("create circuit breaker: %w", err)
		}
		clientOpts = append(clientOpts, completion.WithCircuitBreaker(breaker))
	}
	client := completion.NewClient(cfg.Completion, logger, clientOpts...)

	network := pool.New("network", cfg.Pools.Network,
		pool.WithActiveGauge(app.Metrics.PoolActive.WithLabelValues("network")))
	storagePool := pool.New("storage", cfg.Pools.Storage,
		pool.WithActiveGauge(app.Metrics.PoolActive.WithLabelValues("storage")))

	app.Service = dialogue.NewService(client, storage.Instrument(store, app.Metrics), network, storagePool, logger,
		dialogue.WithMetrics(app.Metrics))

	validator, err := validation.New(cfg.Validation)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Handler = NewRouter(RouterConfig{
		Dialogues:      handlers.NewDialogueHandler(app.Service, validator, logger),
		Metrics:        app.Metrics,
		Logger:         logger,
		RateLimit:      cfg.RateLimit,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Health:         pinger,
	})
	app.server = NewServer(cfg.Server, app.Handler, logger)
	return app, nil
}

func (a *App) openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (dialogue.Store, Pinger, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := postgres.Open(ctx, cfg, logger, nil)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			a.Close()
			return nil, nil, err
		}
		return pg, pg, nil
	case "memory", "":
		logger.Warn("using in-memory dialogue store, dialogues are lost on restart")
		return memory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Run serves HTTP until ctx ends.
func (a *App) Run(ctx context.Context) error {
	return a.server.Start(ctx)
}

// Close releases the store.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
