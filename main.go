package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/room4-2/voicebridge/config"
	"github.com/room4-2/voicebridge/functions"
	"github.com/room4-2/voicebridge/gemini"
	"github.com/room4-2/voicebridge/logger"
	"github.com/room4-2/voicebridge/observe"
	"github.com/room4-2/voicebridge/server"
	"github.com/room4-2/voicebridge/session"
	"github.com/room4-2/voicebridge/upstream"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog := logger.Default("info", "console")
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.Default(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connector, err := gemini.NewConnector(ctx, cfg.GeminiAPIKey, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini connector")
	}

	var (
		metrics        = observe.Discard()
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		provider, err := observe.InitProvider()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init metrics")
		}
		defer provider.Shutdown(context.Background())
		metrics = provider.Metrics
		metricsHandler = provider.Handler()
	}

	redisClient := session.ConnectRedis(ctx, cfg, log)

	opts := session.Options{
		Connector:  connector,
		Model:      cfg.GeminiModel,
		Voice:      cfg.Voice,
		Generation: upstream.DefaultGenerationConfig,
		Metrics:    metrics,
		Log:        log,
	}

	if cfg.EnableDoc {
		store := functions.NewGenAIStore(connector.Client())
		var cache functions.DocCache
		if redisClient != nil {
			cache = functions.NewRedisDocCache(redisClient)
		}
		doc := functions.LoadDocument(ctx, cfg.DocPath, functions.NewUploader(store, log), store, cache, log)
		opts.DocQA = functions.NewDocQA(doc, functions.NewAnswerer(store, cfg.TextModel))
	} else {
		log.Info().Msg("📄 document QA disabled")
	}

	// Create session manager
	sessionManager := session.NewManager(cfg, opts, redisClient)

	// Start cleanup routine
	go sessionManager.StartCleanupRoutine(ctx)

	srv := server.NewServer(cfg, sessionManager, metricsHandler, log)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
}
