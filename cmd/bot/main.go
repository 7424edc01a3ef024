package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stacktip/custody-bot/internal/bot"
	"github.com/stacktip/custody-bot/internal/custody"
	"github.com/stacktip/custody-bot/internal/database"
	"github.com/stacktip/custody-bot/internal/health"
	"github.com/stacktip/custody-bot/internal/idempotency"
	"github.com/stacktip/custody-bot/internal/ledger"
	"github.com/stacktip/custody-bot/internal/lifecycle"
	"github.com/stacktip/custody-bot/internal/repository"
	"github.com/stacktip/custody-bot/internal/user"
	"github.com/stacktip/custody-bot/internal/usercache"
	"github.com/stacktip/custody-bot/internal/wallet"
	"github.com/stacktip/custody-bot/pkg/config"
	"github.com/stacktip/custody-bot/pkg/graceful"
	"github.com/stacktip/custody-bot/pkg/logger"
	"github.com/stacktip/custody-bot/pkg/metrics"
	appredis "github.com/stacktip/custody-bot/pkg/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.AppEnv,
		}); err != nil {
			slog.Error("failed to initialize sentry", slog.Any("error", err))
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	}

	log := logger.New(logger.Config{
		Level:         cfg.Logger.Level,
		Format:        cfg.Logger.Format,
		FilePath:      cfg.Logger.FilePath,
		MaxSizeMB:     cfg.Logger.MaxSizeMB,
		MaxBackups:    cfg.Logger.MaxBackups,
		MaxAgeDays:    cfg.Logger.MaxAgeDays,
		SentryEnabled: cfg.Sentry.Enabled,
	})
	slog.SetDefault(log)

	log.Info("starting custody bot",
		slog.String("env", cfg.AppEnv),
		slog.String("bot_mode", cfg.Bot.Mode),
		slog.String("admin_addr", cfg.Server.Port),
	)

	db, err := sql.Open("postgres", cfg.DB.DSN())
	if err != nil {
		log.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}

	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	migrator := database.NewMigrator(db, log)
	if err := migrator.ApplyDir(ctx, "migrations"); err != nil {
		log.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	rdb, err := appredis.New(ctx, appredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}

	userRepo := repository.NewUserRepository(db, log)
	resolver := usercache.NewResolver(userRepo, rdb, 0, log)

	ledgerClient := ledger.NewHTTPClient(cfg.Ledger.NodeURL, cfg.Ledger.APIURL, cfg.Ledger.RequestTimeout)
	issuer := ledger.NewIssuer(ledgerClient, cfg.Ledger.FeeMicroSTX, cfg.Ledger.Memo, log)
	userService := user.NewService(userRepo, ledgerClient, log)

	cipher := custody.NewCipher(cfg.Custody.ServerSecret)
	deriver := wallet.NewDeriver(cfg.Custody.SeedPassword)

	idempotencyManager := idempotency.NewManager(idempotency.NewRedisStore(rdb, log), log)

	b, err := bot.New(*cfg, log, idempotencyManager, userRepo, resolver, userService, cipher, deriver, issuer)
	if err != nil {
		log.Error("failed to initialize bot", slog.Any("error", err))
		os.Exit(1)
	}

	checker := health.NewChecker(log)
	checker.AddCheck("postgres", health.NewDBChecker(db))
	checker.AddCheck("redis", health.NewRedisChecker(rdb))
	checker.AddCheck("ledger", health.NewLedgerChecker(ledgerClient))
	checker.AddCheck("telegram", health.NewTelegramChecker(b.Telebot()))

	adminSrv := graceful.NewServer(log, &http.Server{
		Addr:    cfg.Server.Port,
		Handler: adminMux(checker),
	}, cfg.Server.ShutdownTimeout)

	collector := metrics.NewFlowCollector(b.Flows(), 15*time.Second)
	cleaner := idempotency.NewCleaner(rdb, log, time.Hour)

	go collector.Run(ctx)
	go cleaner.Run(ctx)
	go b.Start()

	go func() {
		if err := adminSrv.ListenAndServe(ctx); err != nil {
			log.Error("admin server stopped with error", slog.Any("error", err))
		}
	}()

	<-ctx.Done()

	shutdown := lifecycle.NewShutdown(log)
	shutdown.Register("telegram-bot", func(context.Context) error {
		b.Stop()
		// with the update loop stopped, wipe whatever secret material is
		// still sitting in half-finished flows
		b.Flows().Drain("shutdown")
		return nil
	})
	shutdown.Register("redis", func(context.Context) error {
		return rdb.Close()
	})
	shutdown.Register("postgres", func(context.Context) error {
		return db.Close()
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown finished with errors", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("custody bot stopped")
}

func adminMux(checker *health.Checker) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		results := checker.Check(r.Context())

		status := http.StatusOK
		for _, result := range results {
			if result != "OK" {
				status = http.StatusServiceUnavailable
				break
			}
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		for name, result := range results {
			_, _ = w.Write([]byte(name + ": " + result + "\n"))
		}
	})

	return logger.Middleware(mux)
}
