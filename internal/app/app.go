// Package app assembles a rollcall process from its settings.
//
// An App owns:
//  1. The log output shared by every component
//  2. The store, opened for the configured driver and wrapped with
//     metrics and, when Kafka is configured, change publishing
//  3. The seed dataset used to bootstrap an empty store
//
// Close releases all of them and reports every failure.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/eventroll/rollcall/internal/bootstrap"
	"github.com/eventroll/rollcall/internal/config"
	"github.com/eventroll/rollcall/internal/events"
	"github.com/eventroll/rollcall/internal/logging"
	"github.com/eventroll/rollcall/internal/seed"
	"github.com/eventroll/rollcall/internal/server"
	"github.com/eventroll/rollcall/internal/session"
	"github.com/eventroll/rollcall/internal/store"
	"github.com/eventroll/rollcall/internal/store/memory"
	"github.com/eventroll/rollcall/internal/store/postgres"
	"github.com/eventroll/rollcall/internal/store/sqlite"
)

// App is a configured set of components.
type App struct {
	Settings *config.Settings
	Logs     *logging.Logs
	Registry *prometheus.Registry

	// Store is the decorated store every component should use
	Store store.Store
	Seed  *seed.Loader

	logger    *log.Logger
	base      store.Store
	publisher events.Publisher
}

// New opens everything settings describe. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, settings *config.Settings) (a *App, err error) {
	logs, err := logging.Open(logging.Config{
		File:       settings.Log.File,
		MaxSizeMB:  settings.Log.MaxSizeMB,
		MaxBackups: settings.Log.MaxBackups,
	})
	if err != nil {
		return nil, err
	}

	a = &App{
		Settings:  settings,
		Logs:      logs,
		Registry:  prometheus.NewRegistry(),
		logger:    logs.For("app"),
		publisher: events.Discard{},
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.base, err = OpenStore(ctx, settings.Store, logs)
	if err != nil {
		return a, err
	}

	metrics, err := store.NewMetrics(a.Registry)
	if err != nil {
		return a, fmt.Errorf("failed to register store metrics: %w", err)
	}
	a.Store = store.Instrument(a.base, metrics)

	if len(settings.Kafka.Brokers) > 0 {
		pub, err := events.NewKafka(events.KafkaConfig{
			Brokers: settings.Kafka.Brokers,
			Topic:   settings.Kafka.Topic,
		})
		if err != nil {
			return a, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		a.publisher = pub
		a.Store = store.Publishing(a.Store, pub, logs.For("events"))
		a.logger.Printf("Publishing changes to %s on %v", settings.Kafka.Topic, settings.Kafka.Brokers)
	}

	a.Seed, err = seed.Open(ctx, settings.Seed.Source, seed.S3Config{
		Region:    settings.Seed.S3Region,
		Endpoint:  settings.Seed.S3Endpoint,
		PathStyle: settings.Seed.S3Endpoint != "",
	})
	if err != nil {
		return a, fmt.Errorf("failed to load seed: %w", err)
	}
	return a, nil
}

// OpenStore opens the store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreSettings, logs *logging.Logs) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		sc := sqlite.DefaultConfig(cfg.DSN)
		if cfg.PollInterval > 0 {
			sc.PollInterval = cfg.PollInterval
		}
		sc.Logger = logs.For("sqlite")
		st, err := sqlite.Open(ctx, sc)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverPostgres:
		pc := postgres.DefaultConfig(cfg.DSN)
		pc.Logger = logs.For("postgres")
		st, err := postgres.Open(ctx, pc)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Logger returns a logger for component on the shared output.
func (a *App) Logger(component string) *log.Logger {
	return a.Logs.For(component)
}

// Branches returns the branches of the seed dataset.
func (a *App) Branches() []string {
	return a.Seed.Branches()
}

// Bootstrap copies the seed into the store if it is empty.
func (a *App) Bootstrap(ctx context.Context) (bootstrap.Result, error) {
	return bootstrap.New(a.Store, a.Seed, a.Logger("bootstrap")).EnsureInitialized(ctx)
}

// NewServer creates a server over the app's store on port.
func (a *App) NewServer(port int) (*server.Server, error) {
	return server.NewServer(&server.Config{
		Port:       port,
		Store:      a.Store,
		Branches:   a.Branches(),
		Sessions:   session.NewRegistry(a.Settings.Session.TTL),
		Optimistic: a.Settings.View.Optimistic,
		Registry:   a.Registry,
		Logger:     a.Logger("server"),
	})
}

// Serve bootstraps the store and serves on port until ctx is cancelled.
func (a *App) Serve(ctx context.Context, port int) error {
	res, err := a.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	if res.Inserted > 0 {
		a.logger.Printf("Seeded %d members", res.Inserted)
	}

	srv, err := a.NewServer(port)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return srv.Stop()
}

// Close closes the publisher, the store and the log output.
func (a *App) Close() error {
	var result *multierror.Error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.base != nil {
		if err := a.base.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close store: %w", err))
		}
	}
	if a.Logs != nil {
		if err := a.Logs.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close log: %w", err))
		}
	}
	return result.ErrorOrNil()
}
