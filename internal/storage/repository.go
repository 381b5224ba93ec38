package storage

import (
	"context"
	"errors"

	"learnstream/internal/models"
)

// ErrVideoNotFound indicates the referenced video record does not exist.
var ErrVideoNotFound = errors.New("video not found")

// Repository exposes the datastore operations required by the transcoding
// worker: the durable job queue with its atomic claim transition, plus the
// video metadata records the finalizer updates.
//
// ClaimNextJob selects the oldest pending job and transitions it to
// in_progress as a single atomic operation. Under any number of concurrent
// callers a given job is handed to at most one of them; callers never need a
// coordination primitive beyond this method.
//
// MarkJobCompleted and MarkJobFailed only transition in_progress jobs; a
// missing job or one already in a terminal state is a no-op, so repeated or
// late finishes cannot rewrite history.
type Repository interface {
	Ping(ctx context.Context) error

	EnqueueJob(videoID string) (models.TranscodingJob, error)
	ClaimNextJob() (models.TranscodingJob, bool, error)
	MarkJobCompleted(jobID string) error
	MarkJobFailed(jobID, message string) error
	GetJob(id string) (models.TranscodingJob, bool)
	ListJobs(videoID string) ([]models.TranscodingJob, error)

	CreateVideo(params CreateVideoParams) (models.Video, error)
	GetVideo(id string) (models.Video, bool)
	UpdateVideo(id string, update VideoUpdate) (models.Video, error)
	SetVideoUploaded(id, rawKey string) (models.Video, error)
}

// CreateVideoParams captures the attributes set when registering a video
// record on behalf of the upload surface.
type CreateVideoParams struct {
	OwnerID       string
	Title         string
	Description   string
	RawStorageKey string
}

// VideoUpdate describes the mutable fields of a video record. Nil pointers
// leave the corresponding field untouched.
type VideoUpdate struct {
	Status          *models.VideoStatus
	RawStorageKey   *string
	HLSStorageKey   *string
	ThumbnailKey    *string
	DurationSeconds *int
	Error           *string
}
