package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"learnstream/internal/config"
	"learnstream/internal/events"
	"learnstream/internal/observability/logging"
	"learnstream/internal/storage"
	"learnstream/internal/transcode"
)

func main() {
	var (
		logLevel  = flag.String("log-level", firstNonEmpty(os.Getenv("LEARNSTREAM_LOG_LEVEL"), "info"), "log level (debug, info, warn, error)")
		logFormat = flag.String("log-format", firstNonEmpty(os.Getenv("LEARNSTREAM_LOG_FORMAT"), "json"), "log format (json or text)")

		ffmpegPath    = flag.String("ffmpeg", firstNonEmpty(os.Getenv("LEARNSTREAM_FFMPEG"), "ffmpeg"), "path to the ffmpeg binary")
		ffprobePath   = flag.String("ffprobe", firstNonEmpty(os.Getenv("LEARNSTREAM_FFPROBE"), "ffprobe"), "path to the ffprobe binary")
		workspaceRoot = flag.String("workspace", firstNonEmpty(os.Getenv("LEARNSTREAM_WORKSPACE"), "./work"), "scratch directory for job workspaces")
		pollInterval  = flag.Duration("poll-interval", envDuration("LEARNSTREAM_POLL_INTERVAL", 5*time.Second), "delay between job queue polls")
		presetFile    = flag.String("presets", os.Getenv("LEARNSTREAM_PRESETS"), "optional YAML file defining the rendition ladder")
		concurrency   = flag.Int("upload-concurrency", envInt("LEARNSTREAM_UPLOAD_CONCURRENCY", 4), "max parallel output uploads")

		postgresDSN = flag.String("postgres-dsn", os.Getenv("LEARNSTREAM_POSTGRES_DSN"), "Postgres connection string (empty selects the file-backed store)")
		dataFile    = flag.String("data-file", firstNonEmpty(os.Getenv("LEARNSTREAM_DATA_FILE"), "./data/learnstream.json"), "datastore file for the in-memory store")

		s3Endpoint  = flag.String("s3-endpoint", firstNonEmpty(os.Getenv("LEARNSTREAM_S3_ENDPOINT"), "localhost:9000"), "S3-compatible endpoint")
		s3Region    = flag.String("s3-region", firstNonEmpty(os.Getenv("LEARNSTREAM_S3_REGION"), "us-east-1"), "S3 region for request signing")
		s3AccessKey = flag.String("s3-access-key", os.Getenv("LEARNSTREAM_S3_ACCESS_KEY"), "S3 access key")
		s3SecretKey = flag.String("s3-secret-key", os.Getenv("LEARNSTREAM_S3_SECRET_KEY"), "S3 secret key")
		s3UseSSL    = flag.Bool("s3-use-ssl", envBool("LEARNSTREAM_S3_USE_SSL", false), "use https for object storage")
		rawBucket   = flag.String("raw-bucket", firstNonEmpty(os.Getenv("LEARNSTREAM_RAW_BUCKET"), "learnstream-raw"), "bucket holding raw uploads")
		procBucket  = flag.String("processed-bucket", firstNonEmpty(os.Getenv("LEARNSTREAM_PROCESSED_BUCKET"), "learnstream-processed"), "bucket receiving transcoded output")

		redisAddr   = flag.String("redis-addr", os.Getenv("LEARNSTREAM_REDIS_ADDR"), "Redis address for lifecycle events (empty disables publishing)")
		redisStream = flag.String("redis-stream", firstNonEmpty(os.Getenv("LEARNSTREAM_REDIS_STREAM"), "learnstream:transcoding"), "Redis stream receiving lifecycle events")

		enqueueVideo = flag.String("enqueue-video", "", "enqueue a transcoding job for the given video id and exit")
	)
	flag.Parse()

	logger := logging.Init(logging.Config{Level: *logLevel, Format: *logFormat})

	presets := config.DefaultLadder()
	if strings.TrimSpace(*presetFile) != "" {
		loaded, err := config.LoadLadder(*presetFile)
		if err != nil {
			logger.Error("load presets", "error", err)
			os.Exit(1)
		}
		presets = loaded
	}

	cfg := config.Config{
		FFmpegPath:        *ffmpegPath,
		FFprobePath:       *ffprobePath,
		WorkspaceRoot:     *workspaceRoot,
		PollInterval:      *pollInterval,
		RawBucket:         *rawBucket,
		ProcessedBucket:   *procBucket,
		UploadConcurrency: *concurrency,
		Presets:           presets,
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := openRepository(*postgresDSN, *dataFile)
	if err != nil {
		logger.Error("open datastore", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	notifier, err := openNotifier(*redisAddr, *redisStream)
	if err != nil {
		logger.Error("connect event broker", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Warn("close event broker", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *enqueueVideo != "" {
		dispatcher := transcode.NewDispatcher(store, notifier, logger)
		job, err := dispatcher.CreateJob(ctx, *enqueueVideo)
		if err != nil {
			logger.Error("enqueue job", "video_id", *enqueueVideo, "error", err)
			os.Exit(1)
		}
		fmt.Println(job.ID)
		return
	}

	objects, err := storage.NewObjectClient(storage.ObjectStorageConfig{
		Endpoint:  *s3Endpoint,
		Region:    *s3Region,
		AccessKey: *s3AccessKey,
		SecretKey: *s3SecretKey,
		UseSSL:    *s3UseSSL,
	})
	if err != nil {
		logger.Error("configure object storage", "error", err)
		os.Exit(1)
	}
	for _, bucket := range []string{cfg.RawBucket, cfg.ProcessedBucket} {
		if err := objects.EnsureBucket(ctx, bucket); err != nil {
			logger.Error("ensure bucket", "bucket", bucket, "error", err)
			os.Exit(1)
		}
	}

	pipeline := transcode.NewPipeline(store, objects, transcode.ExecRunner{}, cfg, logger)
	finalizer := transcode.NewFinalizer(store, objects, cfg, logger)
	poller := transcode.NewPoller(transcode.PollerConfig{
		Store:         store,
		Pipeline:      pipeline,
		Finalizer:     finalizer,
		Notifier:      notifier,
		WorkspaceRoot: cfg.WorkspaceRoot,
		Interval:      cfg.PollInterval,
		Logger:        logger,
	})
	poller.Start()
	logger.Info("transcoding worker started", "interval", cfg.PollInterval.String(), "renditions", len(cfg.Presets))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := poller.Shutdown(shutdownCtx); err != nil {
		logger.Error("poller shutdown", "error", err)
	}
	logger.Info("transcoding worker stopped")
}

func openRepository(postgresDSN, dataFile string) (storage.Repository, func(), error) {
	if strings.TrimSpace(postgresDSN) != "" {
		repo, err := storage.NewPostgresRepository(storage.PostgresConfig{
			DSN:             postgresDSN,
			ApplicationName: "learnstream-worker",
		})
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := repo.Close(ctx); err != nil {
				slog.Warn("close postgres pool", "error", err)
			}
		}
		return repo, closer, nil
	}
	store, err := storage.NewStorage(dataFile)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

func openNotifier(addr, stream string) (events.Notifier, error) {
	if strings.TrimSpace(addr) == "" {
		return events.NoopNotifier{}, nil
	}
	return events.NewRedisNotifier(events.RedisNotifierConfig{Addr: addr, Stream: stream})
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
