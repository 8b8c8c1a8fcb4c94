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

	"docmind/internal/usertoken"
	"docmind/internal/util"
	"docmind/pkg/ai"
	"docmind/pkg/ocr"
	"docmind/pkg/storage"
	"docmind/pkg/store"
	"docmind/services/document/internal/app"
	"docmind/services/document/internal/config"
	"docmind/services/document/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataStore, err := openStore(cfg)
	if err != nil {
		fatal("failed to init store", err)
	}
	if closer, ok := dataStore.(io.Closer); ok {
		defer closer.Close()
	}
	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		fatal("failed to init object storage", err)
	}
	engine, err := openOCREngine(ctx, cfg)
	if err != nil {
		fatal("failed to init ocr engine", err)
	}
	if closer, ok := engine.(io.Closer); ok {
		defer closer.Close()
	}
	extractor, err := ocr.NewExtractor(ocr.Config{
		Engine:         engine,
		Language:       cfg.OCR.Language,
		MaxConcurrency: cfg.OCR.MaxConcurrency,
	})
	if err != nil {
		fatal("failed to init text extractor", err)
	}
	model, err := ai.NewChatModel(ctx, ai.Config{
		Provider: cfg.LLM.Provider,
		BaseURL:  cfg.LLM.BaseURL,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.LLMTimeout(),
	})
	if err != nil {
		fatal("failed to init language model", err)
	}
	if closer, ok := model.(io.Closer); ok {
		defer closer.Close()
	}

	var tokenVerifier *usertoken.Verifier
	if cfg.Auth.JWKSURL != "" {
		leeway, err := config.ParseJWTLeeway(cfg.Auth.Leeway)
		if err != nil {
			fatal("failed to parse jwt leeway", err)
		}
		tokenVerifier, err = usertoken.NewVerifier(usertoken.Config{
			JWKSURL:    cfg.Auth.JWKSURL,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			Leeway:     leeway,
			HTTPClient: &http.Client{Timeout: 5 * time.Second},
		})
		if err != nil {
			fatal("failed to init jwks verifier", err)
		}
	} else {
		logger.Warn("auth.jwksURL not set, trusting X-User-Id header")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		fatal("failed to parse trusted proxies", err)
	}

	appCore, err := app.New(app.Config{
		Store:         dataStore,
		Artifacts:     storage.NewArtifactStore(objects),
		Extractor:     extractor,
		Model:         model,
		HistoryWindow: cfg.Chat.HistoryWindow,
		ModelTimeout:  cfg.LLMTimeout(),
	})
	if err != nil {
		fatal("failed to init app", err)
	}
	httpServer, err := server.New(server.Config{
		App:                       appCore,
		TokenVerifier:             tokenVerifier,
		MaxUploadBytes:            cfg.MaxUploadBytes,
		CORSOrigins:               cfg.CORSOrigins,
		TrustedProxies:            trusted,
		RedisAddr:                 cfg.RedisAddr,
		RedisPassword:             cfg.RedisPassword,
		UploadRateLimitPerMinute:  cfg.RateLimit.UploadsPerMinute,
		MessageRateLimitPerMinute: cfg.RateLimit.MessagesPerMinute,
	})
	if err != nil {
		fatal("failed to init server", err)
	}
	defer httpServer.Close()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}()

	logger.Info("document server listening", "addr", addr, "store", cfg.Store.Driver, "storage", cfg.Storage.Driver, "ocr", cfg.OCR.Engine, "llm", cfg.LLM.Provider)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

func openStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.Store.Driver == "memory" {
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(cfg.Store.DatabaseURL)
}

func openObjectStore(ctx context.Context, cfg config.FileConfig) (storage.ObjectStore, error) {
	sc := cfg.Storage
	switch sc.Driver {
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Config{
			Region:        sc.Region,
			Bucket:        sc.Bucket,
			Endpoint:      sc.Endpoint,
			AccessKey:     sc.AccessKey,
			SecretKey:     sc.SecretKey,
			PathStyle:     sc.PathStyle,
			PublicBaseURL: sc.PublicBaseURL,
		})
	case "memory":
		return storage.NewMemoryStore(sc.PublicBaseURL), nil
	default:
		return storage.NewMinioStore(storage.MinioConfig{
			Endpoint:      sc.Endpoint,
			AccessKey:     sc.AccessKey,
			SecretKey:     sc.SecretKey,
			Bucket:        sc.Bucket,
			UseSSL:        sc.UseSSL,
			PublicBaseURL: sc.PublicBaseURL,
		})
	}
}

func openOCREngine(ctx context.Context, cfg config.FileConfig) (ocr.Engine, error) {
	if cfg.OCR.Engine == "vision" {
		return ocr.NewVisionEngine(ctx, cfg.OCR.CredentialsFile)
	}
	return ocr.NewTesseractEngine(cfg.OCR.Command, cfg.OCRTimeout())
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
