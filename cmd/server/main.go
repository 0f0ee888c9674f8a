package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"callaudit/internal/analyze"
	"callaudit/internal/app"
	"callaudit/internal/audio"
	"callaudit/internal/config"
	"callaudit/internal/ratelimit"
	"callaudit/internal/server"
	"callaudit/internal/servicetoken"
	"callaudit/internal/transcribe"
	"callaudit/internal/upload"
	"callaudit/internal/util"
	"callaudit/pkg/ai"
	"callaudit/pkg/queue"
	"callaudit/pkg/storage"
	"callaudit/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	st, audioDir, err := buildStore(cfg, logger)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	stageQueue, err := buildQueue(cfg)
	if err != nil {
		log.Fatalf("failed to init queue: %v", err)
	}

	var archive storage.Archive
	if cfg.MinioEndpoint != "" {
		archive, err = storage.NewMinioArchive(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init audio archive: %v", err)
		}
	}

	gate := audio.NewGate(audio.Config{
		FFmpegPath: cfg.FFmpegPath,
		Ceiling:    cfg.TranscriptionMaxBytes,
		BitrateKb:  cfg.CompressBitrateKb,
		Timeout:    time.Duration(cfg.FFmpegTimeoutSec) * time.Second,
		Logger:     logger,
	})
	transcriber := transcribe.NewClient(transcribe.Options{
		BaseURL: cfg.TranscriptionURL,
		APIKey:  cfg.TranscriptionKey,
		Timeout: time.Duration(cfg.TranscriptionTimeoutSec) * time.Second,
	})
	generator := ai.NewOpenAICompatGenerator(ai.GeneratorOptions{
		BaseURL:     cfg.AnalysisBaseURL,
		APIKey:      cfg.AnalysisKey,
		Model:       cfg.AnalysisModel,
		Temperature: cfg.AnalysisTemperature,
		JSONMode:    true,
	})
	analyzer := analyze.New(generator, logger)

	reassembler := upload.New(cfg.MaxUploadBytes)

	appCore, err := app.New(app.Options{
		Store:       st,
		Queue:       stageQueue,
		Uploads:     reassembler,
		Gate:        gate,
		Transcriber: transcriber,
		Analyzer:    analyzer,
		Archive:     archive,
		AudioDir:    audioDir,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	appCore.Start(ctx, cfg.QueueConcurrency)

	limiter, err := buildLimiter(cfg)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	var verifier *servicetoken.Verifier
	if cfg.ServiceTokenKey != "" {
		verifier, err = servicetoken.NewVerifier(servicetoken.VerifierOptions{
			Key:            cfg.ServiceTokenKey,
			Audience:       servicetoken.Audience,
			AllowedIssuers: []string{cfg.ServiceTokenIssuer},
		})
		if err != nil {
			log.Fatalf("failed to init token verifier: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Store:          st,
		Uploads:        reassembler,
		UploadLimiter:  limiter,
		TrustedProxies: trusted,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Archive:        archive,
		TokenVerifier:  verifier,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	// Abandoned partial uploads are dropped in the background.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := reassembler.Sweep(); n > 0 {
					logger.Info("swept stale uploads", "count", n)
				}
			}
		}
	}()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("callaudit server listening", "addr", addr, "storage", cfg.StorageDriver, "queue", cfg.QueueDriver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func buildStore(cfg config.FileConfig, logger *slog.Logger) (store.Store, string, error) {
	switch cfg.StorageDriver {
	case "postgres":
		audioDir := filepath.Join(cfg.DataDir, "uploads")
		st, err := store.NewGormStore(cfg.DatabaseURL, audioDir)
		return st, audioDir, err
	default:
		st, err := store.NewFileStore(cfg.DataDir, logger)
		if err != nil {
			return nil, "", err
		}
		return st, st.UploadsDir(), nil
	}
}

func buildQueue(cfg config.FileConfig) (queue.StageQueue, error) {
	switch cfg.QueueDriver {
	case "redis":
		return queue.NewRedisStageQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.QueueName,
			Group:      cfg.QueueGroup,
			MaxRetries: cfg.QueueMaxRetries,
		})
	case "amqp":
		return queue.NewAMQPStageQueue(queue.AMQPQueueConfig{
			URL:        cfg.AMQPURL,
			Queue:      cfg.QueueName,
			MaxRetries: cfg.QueueMaxRetries,
		})
	default:
		return queue.NewMemoryStageQueue(queue.MemoryQueueConfig{
			MaxRetries: cfg.QueueMaxRetries,
		}), nil
	}
}

func buildLimiter(cfg config.FileConfig) (ratelimit.Limiter, error) {
	window := time.Duration(cfg.UploadRateWindowSec) * time.Second
	if cfg.RedisAddr != "" {
		return ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.UploadRateLimit, window)
	}
	return ratelimit.NewLocalFixedWindowLimiter(cfg.UploadRateLimit, window)
}
