package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/deskflow/internal/analysis"
	"github.com/xaenox/deskflow/internal/httpapi"
	"github.com/xaenox/deskflow/internal/notify"
	"github.com/xaenox/deskflow/internal/pipeline"
	"github.com/xaenox/deskflow/internal/responder"
	"github.com/xaenox/deskflow/internal/storage"
	"github.com/xaenox/deskflow/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		}
		store, err = storage.NewPostgresStorage(dbConfig)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	client := openai.NewClient(cfg.OpenAI.APIKey)

	engine := analysis.NewEngine(client, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens, cfg.OpenAI.Temperature, logger)
	generator := responder.NewGenerator(client, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Temperature, cfg.AI.BrandVoice, logger)

	dispatcher := notify.NewDispatcher(buildSinks(cfg, logger), cfg.Notify.Workers, logger)
	defer dispatcher.Close()

	service := pipeline.NewService(store, engine, generator, dispatcher,
		pipeline.Thresholds{AutoSend: cfg.AI.AutoSendThreshold, RequireReview: cfg.AI.RequireReviewBelow},
		cfg.AI.MaxKnowledgeEntries, cfg.Webhook.Secret, logger)

	handler := httpapi.NewHandler(service, store, cfg.Server.Debug, logger)
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: httpapi.NewRouter(handler),
	}

	go func() {
		logger.Info("Starting server", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
}

func buildSinks(cfg *config.Config, logger *zap.Logger) []notify.Sink {
	var sinks []notify.Sink
	if cfg.Notify.Email.Enabled {
		sinks = append(sinks, notify.NewEmailSink(
			cfg.Notify.Email.SMTPHost,
			cfg.Notify.Email.SMTPPort,
			cfg.Notify.Email.Username,
			cfg.Notify.Email.Password,
			cfg.Notify.Email.From,
		))
	}
	if cfg.Notify.Webhook.Enabled {
		sinks = append(sinks, notify.NewWebhookSink(
			cfg.Notify.Webhook.URL,
			cfg.Notify.Webhook.Secret,
			cfg.Notify.Webhook.Events,
		))
	}
	if cfg.Notify.Slack.Enabled {
		sinks = append(sinks, notify.NewSlackSink(cfg.Notify.Slack.URL, cfg.Notify.Slack.Events))
	}
	if cfg.Notify.Telegram.Enabled {
		sink, err := notify.NewTelegramSink(
			cfg.Notify.Telegram.Token,
			cfg.Notify.Telegram.ChatID,
			cfg.Notify.Telegram.Events,
		)
		if err != nil {
			logger.Error("Failed to create telegram sink, skipping", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}
