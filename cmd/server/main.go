package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"posadmin/backend/internal/cart"
	"posadmin/backend/internal/catalog"
	catalogmemory "posadmin/backend/internal/catalog/memory"
	catalogpostgres "posadmin/backend/internal/catalog/postgres"
	"posadmin/backend/internal/config"
	"posadmin/backend/internal/httpapi"
	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/metrics"
	"posadmin/backend/internal/service"
	"posadmin/backend/internal/sessionstore"
	sessionmemory "posadmin/backend/internal/sessionstore/memory"
	sessionpostgres "posadmin/backend/internal/sessionstore/postgres"
	sessionredis "posadmin/backend/internal/sessionstore/redis"
)

const serviceName = "posadmin-cart"

func main() {
	log := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		log.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		log.Error(context.Background(), "invalid security configuration", err)
		os.Exit(1)
	}

	log = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var closers []func() error

	store, storeClosers, err := openSessionStore(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "session store unavailable", err)
		os.Exit(1)
	}
	closers = append(closers, storeClosers...)

	products, catalogClosers, err := openCatalog(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "catalog unavailable", err)
		os.Exit(1)
	}
	closers = append(closers, catalogClosers...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cartMetrics := metrics.NewCartMetrics(reg)

	registry := cart.NewRegistry(cart.Options{
		Store:   store,
		Prefix:  cfg.StoragePrefix,
		Logger:  log,
		Metrics: cartMetrics,
	})
	svc := service.New(registry, products, service.Options{
		Policy:        service.StockPolicy(cfg.StockPolicy),
		DefaultBranch: cfg.DefaultBranch,
		Logger:        log,
		Metrics:       cartMetrics,
	})
	api := httpapi.New(svc, httpapi.NewIdentityResolver(cfg.AuthSecret), httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        log,
		Gatherer:      reg,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info(log.WithField(context.Background(), "addr", cfg.Address()), "cart service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(context.Background(), "server error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	err = server.Shutdown(shutdownCtx)
	for _, closeFn := range closers {
		err = multierr.Append(err, closeFn())
	}
	if err != nil {
		log.Error(shutdownCtx, "shutdown error", err)
	}
	log.Info(shutdownCtx, "server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

// openSessionStore selects the cart persistence backend. A configured remote
// store that cannot be reached refuses startup instead of silently losing carts.
func openSessionStore(ctx context.Context, cfg config.Config, log *logger.Logger) (sessionstore.Store, []func() error, error) {
	ctx = log.WithField(ctx, "session_driver", cfg.SessionDriver)

	switch cfg.SessionDriver {
	case config.SessionDriverNone:
		log.Info(ctx, "cart persistence disabled")
		return sessionstore.Noop{}, nil, nil
	case config.SessionDriverRedis:
		store := sessionredis.New(sessionredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		})
		if err := store.Ping(ctx); err != nil {
			return nil, nil, multierr.Append(fmt.Errorf("redis ping: %w", err), store.Close())
		}
		log.Info(ctx, "cart persistence: redis")
		return store, []func() error{store.Close}, nil
	case config.SessionDriverPostgres:
		store, err := sessionpostgres.New(ctx, cfg.DatabaseURL, cfg.SessionTTL)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, multierr.Append(err, store.Close())
		}
		if purged, err := store.PurgeExpired(ctx); err != nil {
			log.Warn(ctx, "purging expired carts failed", err)
		} else if purged > 0 {
			log.Info(log.WithField(ctx, "purged", purged), "expired carts purged")
		}
		log.Info(ctx, "cart persistence: postgres")
		return store, []func() error{store.Close}, nil
	default:
		log.Info(ctx, "cart persistence: in-memory")
		return sessionmemory.New(), nil, nil
	}
}

func openCatalog(ctx context.Context, cfg config.Config, log *logger.Logger) (catalog.Catalog, []func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Info(ctx, "catalog: in-memory seed")
		return catalogmemory.NewSeeded(cfg.DefaultBranch), nil, nil
	}

	products, err := catalogpostgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres catalog: %w", err)
	}
	if err := products.EnsureSchema(ctx); err != nil {
		return nil, nil, multierr.Append(err, products.Close())
	}
	log.Info(ctx, "catalog: postgres")
	return products, []func() error{products.Close}, nil
}
