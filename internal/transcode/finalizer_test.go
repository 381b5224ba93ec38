package transcode

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"learnstream/internal/models"
	"learnstream/internal/storage"
)

// orderedRepo records the sequence of settlement calls so tests can assert
// the video update lands before the job transition.
type orderedRepo struct {
	*storage.Storage
	mu    sync.Mutex
	calls []string
}

func (r *orderedRepo) UpdateVideo(id string, update storage.VideoUpdate) (models.Video, error) {
	r.mu.Lock()
	r.calls = append(r.calls, "UpdateVideo")
	r.mu.Unlock()
	return r.Storage.UpdateVideo(id, update)
}

func (r *orderedRepo) MarkJobCompleted(jobID string) error {
	r.mu.Lock()
	r.calls = append(r.calls, "MarkJobCompleted")
	r.mu.Unlock()
	return r.Storage.MarkJobCompleted(jobID)
}

func finalizerFixture(t *testing.T) (*orderedRepo, *fakeObjectStore, models.TranscodingJob, Result) {
	t.Helper()
	repo := &orderedRepo{Storage: newTestRepo(t)}
	objects := newFakeObjectStore()
	video, _ := seedVideoWithJob(t, repo.Storage, objects)

	job, ok, err := repo.ClaimNextJob()
	if err != nil || !ok {
		t.Fatalf("expected claim to succeed, got ok=%v err=%v", ok, err)
	}

	scratch := t.TempDir()
	hlsDir := filepath.Join(scratch, "hls")
	if err := writeFiles(scratch, map[string]string{
		"hls/master.m3u8":     "#EXTM3U master",
		"hls/stream_0.m3u8":   "#EXTM3U variant",
		"hls/stream_0_000.ts": "segment bytes",
		"thumbnail.jpg":       "jpeg bytes",
	}); err != nil {
		t.Fatalf("write fixture files: %v", err)
	}

	result := Result{
		Video:           video,
		DurationSeconds: 42,
		HLSDir:          hlsDir,
		ThumbnailPath:   filepath.Join(scratch, "thumbnail.jpg"),
	}
	return repo, objects, job, result
}

func TestFinalizeUploadsAndSettlesRecords(t *testing.T) {
	repo, objects, job, result := finalizerFixture(t)
	cfg := pipelineConfig(t)

	finalizer := NewFinalizer(repo, objects, cfg, nil)
	if err := finalizer.Finalize(context.Background(), job, result); err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}

	video := result.Video
	prefix := video.OwnerID + "/" + video.ID
	expectations := map[string]string{
		"processed/" + prefix + "/hls/master.m3u8":     "application/vnd.apple.mpegurl",
		"processed/" + prefix + "/hls/stream_0.m3u8":   "application/vnd.apple.mpegurl",
		"processed/" + prefix + "/hls/stream_0_000.ts": "video/mp2t",
		"processed/" + prefix + "/thumbnail.jpg":       "image/jpeg",
	}
	for key, contentType := range expectations {
		if _, ok := objects.objects[key]; !ok {
			t.Fatalf("expected object %s to be uploaded, have %v", key, keysOf(objects.objects))
		}
		if got := objects.contentTypes[key]; got != contentType {
			t.Fatalf("object %s has content type %q, want %q", key, got, contentType)
		}
	}

	stored, ok := repo.GetVideo(video.ID)
	if !ok {
		t.Fatalf("expected video to exist")
	}
	if stored.Status != models.VideoReady {
		t.Fatalf("expected ready status, got %s", stored.Status)
	}
	if stored.HLSStorageKey != prefix+"/hls/master.m3u8" {
		t.Fatalf("unexpected hls key %q", stored.HLSStorageKey)
	}
	if stored.ThumbnailKey != prefix+"/thumbnail.jpg" {
		t.Fatalf("unexpected thumbnail key %q", stored.ThumbnailKey)
	}
	if stored.DurationSeconds != 42 {
		t.Fatalf("unexpected duration %d", stored.DurationSeconds)
	}

	storedJob, _ := repo.GetJob(job.ID)
	if storedJob.Status != models.JobCompleted {
		t.Fatalf("expected completed job, got %s", storedJob.Status)
	}

	if len(repo.calls) < 2 || repo.calls[0] != "UpdateVideo" || repo.calls[1] != "MarkJobCompleted" {
		t.Fatalf("expected video update before job completion, got %v", repo.calls)
	}
}

func TestFinalizeWithoutThumbnail(t *testing.T) {
	repo, objects, job, result := finalizerFixture(t)
	result.ThumbnailPath = ""
	cfg := pipelineConfig(t)

	finalizer := NewFinalizer(repo, objects, cfg, nil)
	if err := finalizer.Finalize(context.Background(), job, result); err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}

	stored, _ := repo.GetVideo(result.Video.ID)
	if stored.ThumbnailKey != "" {
		t.Fatalf("expected empty thumbnail key, got %q", stored.ThumbnailKey)
	}
	if stored.Status != models.VideoReady {
		t.Fatalf("expected ready status, got %s", stored.Status)
	}
}

func TestFinalizeThumbnailUploadFailureIsNonFatal(t *testing.T) {
	repo, objects, job, result := finalizerFixture(t)
	objects.failSuffix = "thumbnail.jpg"
	cfg := pipelineConfig(t)

	finalizer := NewFinalizer(repo, objects, cfg, nil)
	if err := finalizer.Finalize(context.Background(), job, result); err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}

	stored, _ := repo.GetVideo(result.Video.ID)
	if stored.Status != models.VideoReady {
		t.Fatalf("expected ready status, got %s", stored.Status)
	}
	if stored.ThumbnailKey != "" {
		t.Fatalf("expected empty thumbnail key after failed upload, got %q", stored.ThumbnailKey)
	}
}

func TestFinalizeFailsWhenSegmentUploadFails(t *testing.T) {
	repo, objects, job, result := finalizerFixture(t)
	objects.failSuffix = "stream_0_000.ts"
	cfg := pipelineConfig(t)

	finalizer := NewFinalizer(repo, objects, cfg, nil)
	if err := finalizer.Finalize(context.Background(), job, result); err == nil {
		t.Fatalf("expected finalize error when segment upload fails")
	}

	storedJob, _ := repo.GetJob(job.ID)
	if storedJob.Status != models.JobInProgress {
		t.Fatalf("expected job to stay in_progress, got %s", storedJob.Status)
	}
	stored, _ := repo.GetVideo(result.Video.ID)
	if stored.Status == models.VideoReady {
		t.Fatalf("video must not be ready after failed upload")
	}
}

func TestFinalizeRejectsEmptyHLSDir(t *testing.T) {
	repo, objects, job, result := finalizerFixture(t)
	empty := filepath.Join(t.TempDir(), "hls")
	if err := os.MkdirAll(empty, 0o755); err != nil {
		t.Fatalf("create empty dir: %v", err)
	}
	result.HLSDir = empty
	cfg := pipelineConfig(t)

	finalizer := NewFinalizer(repo, objects, cfg, nil)
	if err := finalizer.Finalize(context.Background(), job, result); err == nil {
		t.Fatalf("expected error for empty hls output")
	}
}

func keysOf(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	return keys
}
