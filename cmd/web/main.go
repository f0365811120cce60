package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/transcribeservice"

	"vocalytics/internal/auth"
	"vocalytics/internal/awsutil"
	"vocalytics/internal/comments"
	"vocalytics/internal/config"
	"vocalytics/internal/handlers"
	"vocalytics/internal/ingest"
	"vocalytics/internal/jobs"
	"vocalytics/internal/records"
	"vocalytics/internal/render"
	"vocalytics/internal/storage"
	"vocalytics/internal/transcribe"
)

const localTranscribeDelay = 3 * time.Second

type backends struct {
	objects storage.Store
	records records.Store
	client  transcribe.Client
	auth    auth.Provider
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	viewerPolicy, err := render.ParsePolicy(cfg.ViewerAnchorPolicy)
	if err != nil {
		logger.Error("invalid VIEWER_ANCHOR_POLICY", "error", err)
		os.Exit(1)
	}
	detailPolicy, err := render.ParsePolicy(cfg.DetailAnchorPolicy)
	if err != nil {
		logger.Error("invalid DETAIL_ANCHOR_POLICY", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := newBackends(cfg, logger)
	if err != nil {
		logger.Error("could not configure backend", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}

	commentStore, err := newCommentStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("could not configure comment store", "error", err)
		os.Exit(1)
	}

	commentSvc := comments.NewService(logger, commentStore, b.records)
	recordSvc := records.NewService(logger, b.records, b.objects, commentSvc)
	orchestrator := transcribe.NewOrchestrator(logger,
		b.client,
		transcribe.NewDocumentFetcher(b.objects, &http.Client{Timeout: 30 * time.Second}),
		recordSvc,
		cfg.Bucket,
		transcribe.WithPollInterval(cfg.PollInterval),
	)

	tracker := jobs.NewTracker(logger)
	tracker.StartCleanupLoop(ctx, 10*time.Minute, cfg.JobTTL)

	app := handlers.NewApp(logger, handlers.Deps{
		Auth:           b.auth,
		Ingest:         ingest.NewService(logger, b.objects),
		Orchestrator:   orchestrator,
		Records:        recordSvc,
		Comments:       commentSvc,
		Jobs:           tracker,
		LanguageCode:   cfg.LanguageCode,
		MaxUploadBytes: cfg.MaxUploadBytes,
		CookieSecure:   cfg.CookieSecure,
		ViewerPolicy:   viewerPolicy,
		DetailPolicy:   detailPolicy,
	})

	// No WriteTimeout: progress and playback websockets outlive any fixed deadline.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server started", "addr", cfg.Addr, "backend", cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")
	cancel()
	tracker.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		_ = srv.Close()
	}
	logger.Info("server stopped")
}

func newBackends(cfg config.Config, logger *slog.Logger) (backends, error) {
	if cfg.Backend == config.BackendMemory {
		objects := storage.NewMemory(cfg.Bucket, cfg.AWSRegion)
		logger.Warn("using in-memory backend; data is lost on restart")
		return backends{
			objects: objects,
			records: records.NewMemory(),
			client:  transcribe.NewLocalClient(objects, localTranscribeDelay),
			auth:    auth.NewMemory(logger),
		}, nil
	}

	sess, err := awsutil.Session(cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
	if err != nil {
		return backends{}, err
	}
	return backends{
		objects: storage.NewS3(s3.New(sess), cfg.Bucket, cfg.AWSRegion),
		records: records.NewDynamoStore(dynamodb.New(sess), cfg.Table, cfg.OwnerIndex, cfg.MediaIndex),
		client:  transcribe.NewAWSClient(transcribeservice.New(sess)),
		auth:    auth.NewCognito(cognitoidentityprovider.New(sess), cfg.CognitoClientID),
	}, nil
}

func newCommentStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (comments.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set; comments are kept in memory")
		return comments.NewMemory(), nil
	}
	db, err := comments.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	store := comments.NewGormStore(db, logger)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
