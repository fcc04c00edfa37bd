package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bill-relay-go/internal/config"
	"bill-relay-go/internal/db"
	"bill-relay-go/internal/gmailrelay"
	"bill-relay-go/internal/handler"
	"bill-relay-go/internal/metrics"
	"bill-relay-go/internal/model"
	"bill-relay-go/internal/pipeline"
	"bill-relay-go/internal/repository"
	"bill-relay-go/internal/scheduler"
	"bill-relay-go/internal/telegram"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Bill Relay Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	repo := repository.New(dbConn)
	m := metrics.NewMetrics()

	tg, err := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	if err != nil {
		return fmt.Errorf("failed to create telegram notifier: %w", err)
	}
	var notifier pipeline.Notifier
	var files pipeline.FileDownloader
	if tg != nil {
		notifier = tg
		files = tg
		logrus.Info("Telegram notifications enabled")
	} else {
		logrus.Info("Telegram bot token not set, chat features disabled")
	}

	client := gmailrelay.NewClient(&cfg.Google, &cfg.IMAP, repo)
	providerFunc := func(ctx context.Context, account *model.MailAccount) (pipeline.Provider, error) {
		prov, err := client.ForAccount(ctx, account)
		if err != nil {
			return nil, err
		}
		return prov, nil
	}

	pipe := pipeline.New(repo, providerFunc, notifier, files, m, cfg)

	sched := scheduler.NewScheduler(&cfg.Scheduler, pipe)

	h := handler.New(dbConn, repo, pipe, sched, cfg)
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), gin.Logger())
	h.SetupRoutes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
