package transcode

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"learnstream/internal/config"
	"learnstream/internal/models"
	"learnstream/internal/observability/logging"
	"learnstream/internal/storage"
)

// Finalizer publishes a finished pipeline run: it uploads the HLS output and
// thumbnail to the processed bucket, flips the video to ready and settles the
// job record.
type Finalizer struct {
	store   storage.Repository
	objects ObjectStore
	cfg     config.Config
	logger  *slog.Logger
}

func NewFinalizer(store storage.Repository, objects ObjectStore, cfg config.Config, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{
		store:   store,
		objects: objects,
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "finalizer"),
	}
}

// Finalize uploads every artifact and then commits the video update before
// the job transition, so a ready video always has its keys in place by the
// time the job reads as completed.
func (f *Finalizer) Finalize(ctx context.Context, job models.TranscodingJob, result Result) error {
	logger := logging.WithContext(ctx, f.logger)

	prefix := objectPrefix(result.Video)
	uploaded, err := f.uploadHLS(ctx, result.HLSDir, prefix)
	if err != nil {
		return err
	}
	logger.Info("hls output uploaded", "objects", uploaded, "prefix", prefix)

	thumbnailKey := ""
	if result.ThumbnailPath != "" {
		key := prefix + "/thumbnail.jpg"
		if err := f.uploadFile(ctx, result.ThumbnailPath, key); err != nil {
			// The ladder is already uploaded; a lost thumbnail is not worth
			// failing the job over.
			logger.Warn("thumbnail upload failed", "error", err)
		} else {
			thumbnailKey = key
		}
	}

	status := models.VideoReady
	masterKey := prefix + "/hls/master.m3u8"
	update := storage.VideoUpdate{
		Status:        &status,
		HLSStorageKey: &masterKey,
	}
	if thumbnailKey != "" {
		update.ThumbnailKey = &thumbnailKey
	}
	if result.DurationSeconds > 0 {
		duration := result.DurationSeconds
		update.DurationSeconds = &duration
	}
	if _, err := f.store.UpdateVideo(result.Video.ID, update); err != nil {
		return fmt.Errorf("mark video %s ready: %w", result.Video.ID, err)
	}

	if err := f.store.MarkJobCompleted(job.ID); err != nil {
		return fmt.Errorf("mark job %s completed: %w", job.ID, err)
	}
	logger.Info("job finalized", "master_key", masterKey)
	return nil
}

// uploadHLS walks the generated ladder and uploads playlists and segments
// concurrently, bounded by the configured concurrency.
func (f *Finalizer) uploadHLS(ctx context.Context, hlsDir, prefix string) (int, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.cfg.UploadConcurrency)

	count := 0
	err := filepath.WalkDir(hlsDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(hlsDir, path)
		if err != nil {
			return err
		}
		key := prefix + "/hls/" + filepath.ToSlash(rel)
		count++
		group.Go(func() error {
			return f.uploadFile(groupCtx, path, key)
		})
		return nil
	})
	if err != nil {
		// Let in-flight uploads drain before reporting the walk failure.
		_ = group.Wait()
		return 0, fmt.Errorf("walk hls output: %w", err)
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, fmt.Errorf("hls output directory %s is empty", hlsDir)
	}
	return count, nil
}

func (f *Finalizer) uploadFile(ctx context.Context, path, key string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if err := f.objects.Upload(ctx, f.cfg.ProcessedBucket, key, contentTypeFor(path), file); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func objectPrefix(video models.Video) string {
	return video.OwnerID + "/" + video.ID
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
