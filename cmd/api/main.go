package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paygate/internal/config"
	"paygate/internal/core/reconcile"
	httpx "paygate/internal/http"
	"paygate/internal/idgen"
	"paygate/internal/metrics"
	"paygate/internal/provider/zalopay"
	eventsvc "paygate/internal/services/event"
	"paygate/internal/services/payment"
	"paygate/internal/services/refund"
	"paygate/internal/services/webhook"
	"paygate/internal/store/memory"
	"paygate/internal/store/postgres"
	"paygate/internal/store/repositories"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("paygate stopped with error")
	}
	log.Info().Msg("paygate stopped")
}

func setupLogging(app config.AppCfg) {
	level, err := zerolog.ParseLevel(app.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if app.Env == "sandbox" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func run(ctx context.Context, cfg config.Cfg) error {
	// Storage
	var (
		store repositories.Store
		ping  func(context.Context) error
	)
	switch cfg.DB.Driver {
	case "memory":
		log.Warn().Msg("using in-memory store; data is lost on exit")
		store = memory.New()
	default:
		pool := postgres.MustOpen(ctx, cfg.DB.DSN, cfg.DB.ConnectWait)
		defer pool.Close()
		if cfg.DB.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}
			log.Info().Msg("schema applied")
		}
		store = postgres.NewRepo(pool)
		ping = pool.Ping
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Events
	var publisher eventsvc.Publisher = eventsvc.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := eventsvc.NewKafkaPublisher(eventsvc.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return err
		}
		defer func() { _ = kp.Close() }()
		publisher = kp
	}

	// Provider
	ids, err := idgen.NewSnowflake(cfg.IDs.NodeID, cfg.ZaloPay.AppID)
	if err != nil {
		return err
	}
	client := zalopay.New(zalopay.Config{
		AppID:        cfg.ZaloPay.AppID,
		Key1:         cfg.ZaloPay.Key1,
		BaseURL:      cfg.ZaloPay.BaseURL,
		CallbackURL:  cfg.ZaloPay.CallbackURL,
		RedirectURL:  cfg.ZaloPay.RedirectURL,
		Timeout:      cfg.ZaloPay.Timeout,
		QueryRetries: cfg.ZaloPay.QueryRetries,
		MinAmount:    cfg.ZaloPay.MinAmount,
		MaxAmount:    cfg.ZaloPay.MaxAmount,
	})
	client.SetObserver(m.ProviderCall)

	// Services
	payments := payment.NewService(store, client, ids, publisher, cfg.ZaloPay.Timeout)
	refunds := refund.NewService(store, client, ids, publisher, m, cfg.ZaloPay.Timeout)
	callbacks := webhook.NewVerifier(zalopay.NewCallbacks(cfg.ZaloPay.AppID, cfg.ZaloPay.Key2), payments, m)

	router := httpx.NewRouter(httpx.RouterDependencies{
		AdminToken: cfg.Sec.AdminToken,
		Payments:   payments,
		Refunds:    refunds,
		Callbacks:  callbacks,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Ping:       ping,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.App.Env).Msg("paygate listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Reconcile.Enabled {
		var locker reconcile.Locker
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
			defer func() { _ = rdb.Close() }()
			locker = reconcile.NewRedisLocker(rdb)
		} else {
			log.Warn().Msg("REDIS_ADDR not set; reconcile lock is local to this instance")
			locker = reconcile.NewLocalLocker()
		}
		worker := reconcile.NewWorker(store.Refunds(), refunds, locker, m, reconcile.Config{
			Schedule:    cfg.Reconcile.Schedule,
			BatchSize:   cfg.Reconcile.BatchSize,
			Concurrency: cfg.Reconcile.Concurrency,
			ItemTimeout: cfg.Reconcile.ItemTimeout,
			StaleAfter:  cfg.Reconcile.StaleAfter,
		})
		g.Go(func() error { return worker.Run(gctx) })
	}

	return g.Wait()
}
