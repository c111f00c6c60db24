package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"maaspace/internal/api"
	"maaspace/internal/auth"
	"maaspace/internal/blob"
	"maaspace/internal/config"
	dailymsg "maaspace/internal/daily"
	"maaspace/internal/logger"
	"maaspace/internal/mood"
	"maaspace/internal/nightmode"
	"maaspace/internal/redis"
	"maaspace/internal/reply"
	"maaspace/internal/service/account"
	"maaspace/internal/service/chat"
	dailysvc "maaspace/internal/service/daily"
	"maaspace/internal/service/diary"
	"maaspace/internal/service/prayer"
	"maaspace/internal/service/vault"
	"maaspace/internal/storage"
	"maaspace/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("MAASPACE_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		// logger mode comes from the config, so fall back to a dev logger
		boot, _ := logger.New("dev")
		boot.Fatal("load config", "error", err)
	}

	log, err := logger.New(cfg.BasicConfig.Mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	if cfg.BasicConfig.Mode == "release" || cfg.BasicConfig.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbType := os.Getenv("MAASPACE_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatal("open database", "error", err)
	}
	defer db.Close()
	if err := storage.Migrate(ctx, db); err != nil {
		log.Fatal("migrate database", "error", err)
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("create redis client", "error", err)
	}
	defer rdb.Close()
	if !rdb.Enabled() {
		log.Info("redis disabled, running without cache")
	}

	blobs, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatal("init blob storage", "error", err)
	}

	moods := mood.FromConfig(cfg.Mood.Keywords)
	provider, err := reply.New(ctx, cfg, moods, log)
	if err != nil {
		log.Fatal("init reply provider", "error", err)
	}

	loc := time.Local
	if cfg.BasicConfig.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.BasicConfig.Timezone); err != nil {
			log.Fatal("load timezone", "timezone", cfg.BasicConfig.Timezone, "error", err)
		}
	}
	clock := func() time.Time { return time.Now().In(loc) }

	night := nightmode.Default
	if w := cfg.BasicConfig.NightWindow; len(w) == 2 {
		night = nightmode.Window{Start: w[0], End: w[1]}
	}

	replyTimeout := time.Duration(cfg.BasicConfig.ReplyTimeout) * time.Second
	dispatcher := worker.NewDispatcher(
		cfg.BasicConfig.MinWorkers,
		cfg.BasicConfig.MaxWorkers,
		cfg.BasicConfig.QueueSize,
		time.Duration(cfg.BasicConfig.WorkerIdleTimeout)*time.Minute,
		log,
	)
	defer dispatcher.Stop()

	accounts := account.NewService(db)
	vaultService := vault.NewService(db, blobs, accounts, log)
	vaultService.StartSweeper(ctx, time.Duration(cfg.BasicConfig.SweepInterval)*time.Minute)

	chats := chat.NewManager(chat.NewSQLStore(db), provider, chat.Options{
		HistoryLimit: cfg.BasicConfig.HistoryLimit,
		ReplyTimeout: replyTimeout,
		Night:        night,
		Clock:        clock,
		IdleTimeout:  time.Duration(cfg.BasicConfig.SessionIdleTimeout) * time.Minute,
	}, log)
	chats.StartJanitor(ctx, 0)

	handlers := api.NewHandler(api.Services{
		Accounts: accounts,
		Auth:     auth.NewService(db, rdb, auth.OptionsFromConfig(cfg), log),
		Chat:     chats,
		Daily:    dailysvc.NewService(db, rdb, accounts, dailymsg.FromConfig(cfg.Daily.Birthday, cfg.Daily.Templates), clock, log),
		Diary:    diary.NewService(db, provider, dispatcher, replyTimeout, log),
		Prayers:  prayer.NewService(db),
		Vault:    vaultService,
		Blobs:    blobs,
		Clock:    clock,
	}, log)

	router := gin.Default()
	router.Use(api.CORS(cfg.BasicConfig.CORSOrigins))
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown server", "error", err)
	}
	log.Info("server stopped")
}
