package transcode

import (
	"context"
	"errors"
	"testing"

	"learnstream/internal/events"
	"learnstream/internal/models"
	"learnstream/internal/storage"
)

func TestDispatcherCreateJob(t *testing.T) {
	store := newTestRepo(t)
	notifier := &captureNotifier{}
	video, err := store.CreateVideo(storage.CreateVideoParams{
		OwnerID:       "owner-1",
		Title:         "demo",
		RawStorageKey: "owner-1/raw/demo.mp4",
	})
	if err != nil {
		t.Fatalf("CreateVideo returned error: %v", err)
	}

	dispatcher := NewDispatcher(store, notifier, nil)
	job, err := dispatcher.CreateJob(context.Background(), video.ID)
	if err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}
	if job.Status != models.JobPending {
		t.Fatalf("expected pending job, got %s", job.Status)
	}
	if job.VideoID != video.ID {
		t.Fatalf("unexpected video id %s", job.VideoID)
	}

	stored, _ := store.GetVideo(video.ID)
	if stored.Status != models.VideoProcessing {
		t.Fatalf("expected processing status, got %s", stored.Status)
	}

	captured := notifier.captured()
	if len(captured) != 1 || captured[0].Type != events.TypeTranscodingRequested {
		t.Fatalf("expected one requested event, got %v", captured)
	}
	if captured[0].JobID != job.ID {
		t.Fatalf("unexpected job id in event %v", captured[0])
	}
}

func TestDispatcherCreateJobMissingVideo(t *testing.T) {
	store := newTestRepo(t)
	dispatcher := NewDispatcher(store, nil, nil)

	if _, err := dispatcher.CreateJob(context.Background(), "missing"); !errors.Is(err, storage.ErrVideoNotFound) {
		t.Fatalf("expected ErrVideoNotFound, got %v", err)
	}
}

func TestDispatcherCreateJobRequiresRawUpload(t *testing.T) {
	store := newTestRepo(t)
	video, err := store.CreateVideo(storage.CreateVideoParams{OwnerID: "owner-1", Title: "no upload"})
	if err != nil {
		t.Fatalf("CreateVideo returned error: %v", err)
	}

	dispatcher := NewDispatcher(store, nil, nil)
	if _, err := dispatcher.CreateJob(context.Background(), video.ID); err == nil {
		t.Fatalf("expected error for video without raw upload")
	}
}
