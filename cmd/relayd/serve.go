package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/infodancer/relayd/internal/config"
	"github.com/infodancer/relayd/internal/dispatch"
	"github.com/infodancer/relayd/internal/gate"
	"github.com/infodancer/relayd/internal/httpd"
	"github.com/infodancer/relayd/internal/identity"
	"github.com/infodancer/relayd/internal/logging"
	"github.com/infodancer/relayd/internal/metrics"
	"github.com/infodancer/relayd/internal/recipients"
	"github.com/infodancer/relayd/internal/registry"
	"github.com/infodancer/relayd/internal/relay"
	"github.com/infodancer/relayd/internal/rspamd"
	"github.com/infodancer/relayd/internal/spamcheck"
	"github.com/infodancer/relayd/internal/telegram"
	"github.com/infodancer/relayd/internal/transport"
)

const shutdownTimeout = 15 * time.Second

func runServe() {
	flags := config.ParseFlags()

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.ValidateServe(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := serve(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// serve builds every component from cfg and runs until ctx is canceled.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) (err error) {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = errors.Join(err, closers[i]())
		}
	}()

	admin, err := identity.Parse(cfg.AdminID)
	if err != nil {
		return fmt.Errorf("admin_id: %w", err)
	}
	redactor := logging.Redactor{Disabled: cfg.LogAddresses}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewPrometheusCollector(promReg)

	store, err := registry.OpenStore(ctx, cfg.Registry)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	closers = append(closers, store.Close)

	bot, err := telegram.New(telegram.Config{
		Token:         cfg.Telegram.Token,
		PollTimeout:   cfg.Telegram.PollTimeout,
		WebhookURL:    cfg.Telegram.WebhookURL,
		WebhookSecret: cfg.Telegram.WebhookSecret,
		MaxFileBytes:  cfg.Uploads.MaxBytes,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	reg := registry.New(registry.Config{
		Store:     store,
		Notifier:  bot,
		Collector: collector,
		Logger:    logger,
	})
	var loaded atomic.Bool
	if err := reg.Load(ctx); err != nil {
		logger.Warn("registry load failed, starting empty", slog.String("error", err.Error()))
	}
	loaded.Store(true)

	sender, err := transport.Open(ctx, cfg.Transport, redactor, logger)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}

	engine := dispatch.New(dispatch.Config{
		Sender:        sender,
		Interval:      cfg.Dispatch.SendInterval(),
		SendTimeout:   cfg.Dispatch.SendTimeoutDuration(),
		ProgressEvery: cfg.Dispatch.ProgressEvery,
		Collector:     collector,
		Redactor:      redactor,
		Logger:        logger,
	})

	locker, closeLocker, err := openLocker(ctx, cfg, store)
	if err != nil {
		return err
	}
	closers = append(closers, closeLocker)

	var screener relay.Screener
	if cfg.Screening.Enabled {
		s := createScreener(cfg.Screening, logger)
		closers = append(closers, s.Close)
		screener = s
	}

	router := relay.New(relay.Config{
		Registry:       reg,
		Gate:           gate.New(admin, reg),
		Recipients:     recipients.NewStore(),
		Engine:         engine,
		Locker:         locker,
		Notifier:       bot,
		Fetcher:        bot,
		Screener:       screener,
		MaxUploadBytes: cfg.Uploads.MaxBytes,
		Collector:      collector,
		Logger:         logger,
	})
	closers = append(closers, router.Close)

	var httpServer *httpd.Server
	if cfg.HTTP.Enabled {
		httpCfg := httpd.Config{
			Address:     cfg.HTTP.Address,
			MetricsPath: cfg.HTTP.MetricsPath,
			Gatherer:    promReg,
			Ready:       func() bool { return loaded.Load() && bot.Ready() },
			Logger:      logger,
		}
		if cfg.Telegram.Mode == config.ModeWebhook {
			httpCfg.WebhookPath = cfg.Telegram.WebhookPath
			httpCfg.Webhook = bot.WebhookHandler(router)
		}
		httpServer = httpd.New(httpCfg)
		go func() {
			if err := httpServer.Start(ctx); err != nil {
				logger.Error("http listener error", "error", err)
			}
		}()
	}

	logger.Info("starting relayd",
		"admin", admin.String(),
		"approved", reg.Len(),
		"transport", cfg.Transport.Type,
		"interval", cfg.Dispatch.SendInterval().String(),
		"mode", cfg.Telegram.Mode)

	switch cfg.Telegram.Mode {
	case config.ModeWebhook:
		if err := bot.RegisterWebhook(ctx); err != nil {
			return err
		}
		<-ctx.Done()
	default:
		if err := bot.Run(ctx, router); err != nil {
			return err
		}
	}

	if httpServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", "error", err)
		}
	}
	logger.Info("relayd stopped")
	return nil
}

// openLocker builds the dispatch lock. The redis lock shares the registry's
// client when the registry also lives in redis.
func openLocker(ctx context.Context, cfg config.Config, store registry.Store) (dispatch.Locker, func() error, error) {
	if cfg.Dispatch.Lock != config.LockRedis {
		return dispatch.NewLocalLock(), func() error { return nil }, nil
	}

	if rs, ok := store.(*registry.RedisStore); ok {
		return dispatch.NewRedisLock(rs.Client(), dispatch.DefaultLockKey, cfg.Dispatch.LockTTLDuration()), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(cfg.Registry.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return dispatch.NewRedisLock(client, dispatch.DefaultLockKey, cfg.Dispatch.LockTTLDuration()), client.Close, nil
}

// createScreener builds the rspamd-backed content screener.
func createScreener(cfg config.ScreeningConfig, logger *slog.Logger) *spamcheck.Screener {
	checker := rspamd.NewChecker(cfg.RspamdURL, cfg.Password, cfg.TimeoutDuration())
	logger.Info("content screening enabled",
		"checker", checker.Name(),
		"url", cfg.RspamdURL,
		"fail_mode", cfg.FailMode,
		"reject_threshold", cfg.RejectThreshold)

	return spamcheck.NewScreener(spamcheck.Config{
		Checker:         checker,
		FailMode:        spamcheck.FailMode(cfg.FailMode),
		RejectThreshold: cfg.RejectThreshold,
		Logger:          logger,
	})
}
