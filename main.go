package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/weekpath/internal/bot"
	"github.com/example/weekpath/internal/catalog"
	"github.com/example/weekpath/internal/config"
	"github.com/example/weekpath/internal/database"
	"github.com/example/weekpath/internal/events"
	apphttp "github.com/example/weekpath/internal/http"
	httpH "github.com/example/weekpath/internal/http/handlers"
	"github.com/example/weekpath/internal/platform/logger"
	"github.com/example/weekpath/internal/progress"
	"github.com/example/weekpath/internal/scheduler"
	"github.com/example/weekpath/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger settings come from config, so this one goes to a bare logger
		l, _ := logger.New("", logger.Options{})
		l.Fatal("failed to load config", "error", err)
	}

	log, err := logger.New(cfg.LogMode, logger.Options{Redact: true, Salt: cfg.LogSalt})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Создаем контекст с отменой по сигналу
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	localDB, err := database.OpenLocal(ctx, cfg.LocalDBPath)
	if err != nil {
		log.Fatal("failed to open local database", "path", cfg.LocalDBPath, "error", err)
	}
	defer localDB.Close()

	// connectRemote attaches the shared store to svc once it is reachable.
	// Until then writes wait in the outbox.
	var (
		remoteMu sync.Mutex
		remoteDB *sqlx.DB
		svc      *tracker.Service
	)
	connectRemote := func(ctx context.Context) error {
		remoteMu.Lock()
		defer remoteMu.Unlock()
		if remoteDB != nil {
			return nil
		}
		connectCtx, cancel := context.WithTimeout(ctx, cfg.RemoteTimeout)
		defer cancel()
		db, err := database.OpenRemote(connectCtx, cfg.RemoteDSN)
		if err != nil {
			return err
		}
		remoteDB = db
		svc.AttachRemote(database.NewRemoteStore(db))
		return nil
	}
	defer func() {
		remoteMu.Lock()
		defer remoteMu.Unlock()
		if remoteDB != nil {
			remoteDB.Close()
		}
	}()

	cat := catalog.Default()
	if cfg.CatalogFile != "" {
		importCfg := catalog.DefaultImportConfig()
		importCfg.FilePath = cfg.CatalogFile
		importCfg.SheetName = cfg.CatalogSheet
		if cat, err = catalog.Import(importCfg); err != nil {
			log.Fatal("failed to import catalog", "file", cfg.CatalogFile, "error", err)
		}
	}
	log.Info("catalog loaded", "units", len(cat.Units()))

	policy, err := progress.ParsePolicy(cfg.UnitPolicy)
	if err != nil {
		log.Fatal("invalid unit policy", "error", err)
	}

	evaluator := progress.NewEvaluator(cat, policy)
	log.Info("unit policy", "policy", evaluator.Policy().Name())

	bus := events.NewBus(log)
	svc = tracker.NewService(
		cat,
		evaluator,
		database.NewLocalCache(localDB),
		nil,
		database.NewOutbox(localDB),
		bus,
		log,
		tracker.Options{
			UserID:        cfg.UserID,
			DeviceID:      cfg.DeviceID,
			RemoteTimeout: cfg.RemoteTimeout,
		},
	)

	if cfg.RemoteEnabled() {
		if err := connectRemote(ctx); err != nil {
			// the device keeps working offline; the scheduler retries
			log.Warn("remote database unavailable, running local-only", "error", err)
		}
	}
	log.Info("progress tracker ready", "remote", svc.RemoteAttached())

	if cfg.RedisAddr != "" {
		relay, err := events.NewRedisRelay(cfg.RedisAddr, cfg.RedisChannel, cfg.UserID, cfg.DeviceID, bus, log)
		if err != nil {
			log.Warn("redis relay disabled", "error", err)
		} else {
			defer relay.Close()
			if err := relay.Start(ctx); err != nil {
				log.Warn("redis relay failed to start", "error", err)
			}
		}
	}

	var sched *scheduler.Scheduler
	if cfg.RemoteEnabled() {
		sched = scheduler.New(svc, cfg.OutboxFlushInterval, cfg.RemoteTimeout*4, log).WithConnector(connectRemote)
		if err := sched.Start(); err != nil {
			log.Fatal("failed to start scheduler", "error", err)
		}
	}

	var b *bot.Bot
	if cfg.TelegramToken != "" {
		b, err = bot.New(cfg.TelegramToken, cfg.TelegramChatID, svc, bot.DefaultConfig(), log)
		if err != nil {
			log.Warn("telegram bot disabled", "error", err)
		} else {
			svc.OnProgressChanged(b.Notify)
			go func() {
				if err := b.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("bot error", "error", err)
				}
			}()
		}
	}

	server := apphttp.NewServer(cfg.HTTPAddr, apphttp.RouterConfig{
		ProgressHandler: httpH.NewProgressHandler(svc),
		HealthHandler:   httpH.NewHealthHandler(),
		Logger:          log,
	})
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.Run(); err != nil {
			log.Error("http server error", "error", err)
			stop()
		}
	}()

	// Ждем сигнала завершения
	<-ctx.Done()
	log.Info("shutting down")

	// Даем время на graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if b != nil {
		b.Stop()
	}
	if sched != nil {
		sched.Stop()
	}
	if err := svc.Close(shutdownCtx); err != nil {
		log.Warn("in-flight remote writes abandoned, they stay in the outbox", "error", err)
	}
	log.Info("stopped")
}
