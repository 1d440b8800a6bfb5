package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"barterflow/api"
	"barterflow/auth"
	"barterflow/cache"
	"barterflow/catalog"
	"barterflow/config"
	"barterflow/content"
	"barterflow/db"
	"barterflow/deal"
	"barterflow/memstore"
	"barterflow/outbox"
	"barterflow/pgstore"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Runtime owns the HTTP server, the outbox relay and their backing clients.
type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	relay      *outbox.Relay
	closers    []io.Closer
	cleanupFn  func()
}

func NewRuntime(ctx context.Context, cfg config.Config, logOut io.Writer) (*Runtime, error) {
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: cfg.LogLevel})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	rt := &Runtime{cfg: cfg, logger: logger, cleanupFn: func() {}}

	var (
		store    deal.Store
		products catalog.Reader
		repo     outbox.Repository
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.MaxDBConns})
		if err != nil {
			return nil, err
		}
		rt.cleanupFn = pool.Close
		if cfg.RunMigrations {
			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				pool.Close()
				return nil, err
			}
			logger.InfoContext(ctx, "migrations applied", "module", "bootstrap", "applied", applied)
		}
		store = pgstore.New(pool).WithLockTimeout(cfg.DBLockTimeout)
		products = catalog.NewRepository(pool)
		repo = pgstore.NewOutboxRepository(pool, cfg.OutboxClaimTTL)
	} else {
		logger.WarnContext(ctx, "DATABASE_URL not set, using in-memory store", "module", "bootstrap")
		mem := memstore.New()
		store = mem
		products = catalog.NewStatic(cfg.Products...)
		repo = mem
	}

	svc := deal.NewService(store, products).
		WithLogger(logger).
		WithContentPolicy(content.Policy{MaxRevisions: cfg.MaxRevisions})

	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.WarnContext(ctx, "redis unavailable, deal cache disabled", "module", "bootstrap", "error", err)
		} else {
			dc := cache.NewDealCache(client, cfg.DealCacheTTL).WithLogger(logger)
			svc = svc.WithCache(dc).WithCommitHook(dc)
			rt.closers = append(rt.closers, client)
		}
	}

	publisher := outbox.Publisher(outbox.NewLoggingPublisher(logger))
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := outbox.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, cfg.KafkaTopics)
		if err != nil {
			logger.WarnContext(ctx, "kafka publisher disabled, using logging publisher", "module", "bootstrap", "error", err)
		} else {
			publisher = kp
			rt.closers = append(rt.closers, kp)
		}
	}
	rt.relay = outbox.NewRelay(logger, repo, publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize, cfg.OutboxMaxAttempts)

	tokens := auth.NewService(cfg.JWTSecret, cfg.TokenTTL)
	rt.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.NewRouter(api.NewHandler(svc, products, tokens, logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return rt, nil
}

// Handler exposes the router for in-process use.
func (r *Runtime) Handler() http.Handler { return r.httpServer.Handler }

// Run serves until ctx is cancelled or SIGINT/SIGTERM, then drains.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.InfoContext(gctx, "http server listening", "module", "bootstrap", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := r.relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		r.logger.Info("shutting down", "module", "bootstrap")
		return r.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (r *Runtime) close() {
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			r.logger.Warn("close failed", "module", "bootstrap", "error", err)
		}
	}
	r.cleanupFn()
}
