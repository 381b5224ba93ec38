package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"learnstream/internal/events"
	"learnstream/internal/models"
	"learnstream/internal/observability/logging"
	"learnstream/internal/storage"
)

// Dispatcher requests transcoding for an uploaded video: it enqueues the job,
// flips the video into processing and announces the request.
type Dispatcher struct {
	store    storage.Repository
	notifier events.Notifier
	logger   *slog.Logger
}

func NewDispatcher(store storage.Repository, notifier events.Notifier, logger *slog.Logger) *Dispatcher {
	if notifier == nil {
		notifier = events.NoopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		logger:   logging.WithComponent(logger, "dispatcher"),
	}
}

// CreateJob enqueues a pending job for the video. The video must exist and
// carry a raw upload key.
func (d *Dispatcher) CreateJob(ctx context.Context, videoID string) (models.TranscodingJob, error) {
	video, ok := d.store.GetVideo(videoID)
	if !ok {
		return models.TranscodingJob{}, storage.ErrVideoNotFound
	}
	if video.RawStorageKey == "" {
		return models.TranscodingJob{}, fmt.Errorf("video %s has no raw upload", videoID)
	}

	job, err := d.store.EnqueueJob(videoID)
	if err != nil {
		return models.TranscodingJob{}, err
	}

	status := models.VideoProcessing
	if _, err := d.store.UpdateVideo(videoID, storage.VideoUpdate{Status: &status}); err != nil {
		return models.TranscodingJob{}, fmt.Errorf("mark video %s processing: %w", videoID, err)
	}

	event := events.Event{
		Type:       events.TypeTranscodingRequested,
		JobID:      job.ID,
		VideoID:    videoID,
		OccurredAt: time.Now().UTC(),
	}
	if err := d.notifier.Publish(ctx, event); err != nil {
		d.logger.Warn("event publish failed", "type", string(event.Type), "job_id", job.ID, "error", err)
	}
	d.logger.Info("job enqueued", "job_id", job.ID, "video_id", videoID)
	return job, nil
}
