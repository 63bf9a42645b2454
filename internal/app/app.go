package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/swflcoders/chatsync/internal/config"
	"github.com/swflcoders/chatsync/internal/dispatch"
	"github.com/swflcoders/chatsync/internal/metrics"
	"github.com/swflcoders/chatsync/internal/registry"
	"github.com/swflcoders/chatsync/internal/registry/redisreg"
	"github.com/swflcoders/chatsync/internal/store"
	"github.com/swflcoders/chatsync/internal/store/sqlite"
	transporthttp "github.com/swflcoders/chatsync/internal/transport/http"
)

// App wires together the durable log, connection registry, dispatcher, and
// HTTP transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	messages        store.MessageLog
	dispatcher      *dispatch.Dispatcher
	rdb             *goredis.Client
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	messages, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init message log: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("message log initialized")

	var reg registry.Registry
	var rdb *goredis.Client
	switch cfg.RegistryBackend {
	case config.RegistryRedis:
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		reg = redisreg.New(rdb, cfg.ConnectionTTL, clockwork.NewRealClock())
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("using redis connection registry")
	case config.RegistryMemory:
		reg = registry.NewMemory(cfg.ConnectionTTL, clockwork.NewRealClock())
	default:
		messages.Close()
		return nil, fmt.Errorf("unknown registry backend %q", cfg.RegistryBackend)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheus(promReg)

	sink := transporthttp.NewSink()
	dispatcher := dispatch.New(reg, sink, cfg.PushWorkers, recorder, logger)

	server := transporthttp.NewServer(transporthttp.Deps{
		Messages:   messages,
		Registry:   reg,
		Sink:       sink,
		Dispatcher: dispatcher,
		Recorder:   recorder,
		Gatherer:   promReg,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		messages:        messages,
		dispatcher:      dispatcher,
		rdb:             rdb,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.dispatcher.Run(ctx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the message log and other resources.
func (a *App) cleanup() {
	if a.messages != nil {
		if err := a.messages.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close message log")
		} else {
			a.log.Info().Msg("message log closed")
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
}
