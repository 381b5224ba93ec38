package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"learnstream/internal/models"
)

// Storage is an in-memory Repository guarded by a single mutex. When
// constructed with a file path it persists the dataset as JSON after every
// mutation, which keeps queued jobs across worker restarts in single-node
// deployments.
type Storage struct {
	mu       sync.Mutex
	filePath string
	data     dataset
	now      func() time.Time
}

type dataset struct {
	Videos   map[string]models.Video          `json:"videos"`
	Jobs     map[string]models.TranscodingJob `json:"transcodingJobs"`
	JobOrder []string                         `json:"jobOrder"`
}

// NewStorage creates an in-memory repository. When filePath is non-empty the
// dataset is loaded from it at startup and written back after every mutation.
func NewStorage(filePath string) (*Storage, error) {
	store := &Storage{filePath: filePath, now: time.Now}
	store.data = dataset{
		Videos: make(map[string]models.Video),
		Jobs:   make(map[string]models.TranscodingJob),
	}
	if filePath != "" {
		if err := store.load(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (s *Storage) load() error {
	raw, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read datastore: %w", err)
	}
	var data dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode datastore: %w", err)
	}
	if data.Videos == nil {
		data.Videos = make(map[string]models.Video)
	}
	if data.Jobs == nil {
		data.Jobs = make(map[string]models.TranscodingJob)
	}
	s.data = data
	return nil
}

// persist writes the dataset atomically via a temp file rename. Callers must
// hold the mutex.
func (s *Storage) persist() error {
	if s.filePath == "" {
		return nil
	}
	payload, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode datastore: %w", err)
	}
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create datastore directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "datastore-*.json")
	if err != nil {
		return fmt.Errorf("create datastore temp file: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write datastore temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close datastore temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace datastore file: %w", err)
	}
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// EnqueueJob appends a pending job for the video to the back of the queue.
func (s *Storage) EnqueueJob(videoID string) (models.TranscodingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Videos[videoID]; !ok {
		return models.TranscodingJob{}, ErrVideoNotFound
	}

	id, err := generateID()
	if err != nil {
		return models.TranscodingJob{}, err
	}
	job := models.TranscodingJob{
		ID:        id,
		VideoID:   videoID,
		Status:    models.JobPending,
		CreatedAt: s.now().UTC(),
	}
	s.data.Jobs[job.ID] = job
	s.data.JobOrder = append(s.data.JobOrder, job.ID)
	if err := s.persist(); err != nil {
		delete(s.data.Jobs, job.ID)
		s.data.JobOrder = s.data.JobOrder[:len(s.data.JobOrder)-1]
		return models.TranscodingJob{}, err
	}
	return job, nil
}

// ClaimNextJob hands out the oldest pending job, moving it to in_progress
// before releasing the lock so no other caller can receive the same job.
func (s *Storage) ClaimNextJob() (models.TranscodingJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.data.JobOrder {
		job, ok := s.data.Jobs[id]
		if !ok || job.Status != models.JobPending {
			continue
		}
		started := s.now().UTC()
		job.Status = models.JobInProgress
		job.StartedAt = &started
		s.data.Jobs[id] = job
		if err := s.persist(); err != nil {
			job.Status = models.JobPending
			job.StartedAt = nil
			s.data.Jobs[id] = job
			return models.TranscodingJob{}, false, err
		}
		return job, true, nil
	}
	return models.TranscodingJob{}, false, nil
}

func (s *Storage) MarkJobCompleted(jobID string) error {
	return s.finishJob(jobID, models.JobCompleted, "")
}

func (s *Storage) MarkJobFailed(jobID, message string) error {
	return s.finishJob(jobID, models.JobFailed, message)
}

// finishJob applies a terminal transition. Missing jobs and jobs that are not
// in_progress are left untouched.
func (s *Storage) finishJob(jobID string, status models.JobStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.data.Jobs[jobID]
	if !ok {
		return nil
	}
	if !job.Status.CanTransitionTo(status) {
		return nil
	}
	previous := job
	completed := s.now().UTC()
	job.Status = status
	job.CompletedAt = &completed
	job.ErrorMessage = message
	s.data.Jobs[jobID] = job
	if err := s.persist(); err != nil {
		s.data.Jobs[jobID] = previous
		return err
	}
	return nil
}

func (s *Storage) GetJob(id string) (models.TranscodingJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.data.Jobs[id]
	return job, ok
}

// ListJobs returns jobs for the video ordered oldest first. An empty videoID
// returns every job.
func (s *Storage) ListJobs(videoID string) ([]models.TranscodingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]models.TranscodingJob, 0, len(s.data.Jobs))
	for _, job := range s.data.Jobs {
		if videoID != "" && job.VideoID != videoID {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *Storage) CreateVideo(params CreateVideoParams) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := generateID()
	if err != nil {
		return models.Video{}, err
	}
	now := s.now().UTC()
	video := models.Video{
		ID:            id,
		OwnerID:       params.OwnerID,
		Title:         params.Title,
		Description:   params.Description,
		Status:        models.VideoDraft,
		RawStorageKey: params.RawStorageKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.data.Videos[video.ID] = video
	if err := s.persist(); err != nil {
		delete(s.data.Videos, video.ID)
		return models.Video{}, err
	}
	return video, nil
}

func (s *Storage) GetVideo(id string) (models.Video, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	return video, ok
}

func (s *Storage) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	previous := video
	applyVideoUpdate(&video, update)
	video.UpdatedAt = s.now().UTC()
	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		s.data.Videos[id] = previous
		return models.Video{}, err
	}
	return video, nil
}

// SetVideoUploaded records the raw upload key once the upload surface has
// landed the file in the raw bucket.
func (s *Storage) SetVideoUploaded(id, rawKey string) (models.Video, error) {
	return s.UpdateVideo(id, VideoUpdate{RawStorageKey: &rawKey})
}

func applyVideoUpdate(video *models.Video, update VideoUpdate) {
	if update.Status != nil {
		video.Status = *update.Status
	}
	if update.RawStorageKey != nil {
		video.RawStorageKey = *update.RawStorageKey
	}
	if update.HLSStorageKey != nil {
		video.HLSStorageKey = *update.HLSStorageKey
	}
	if update.ThumbnailKey != nil {
		video.ThumbnailKey = *update.ThumbnailKey
	}
	if update.DurationSeconds != nil {
		video.DurationSeconds = *update.DurationSeconds
	}
	if update.Error != nil {
		video.Error = *update.Error
	}
}
