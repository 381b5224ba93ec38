package models

import (
	"fmt"
	"time"
)

// JobStatus tracks a transcoding job through its lifecycle. Transitions are
// one-directional: pending -> in_progress -> completed or failed.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo reports whether moving from s to next respects the
// one-directional job lifecycle.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobInProgress
	case JobInProgress:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// TranscodingJob records one transcoding attempt for one video. Jobs are
// retained after completion for audit; the worker never deletes them.
type TranscodingJob struct {
	ID           string     `json:"id"`
	VideoID      string     `json:"videoId"`
	Status       JobStatus  `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// VideoStatus mirrors the lifecycle of the video record owned by the wider
// platform: draft until the raw upload lands, processing while a transcoding
// job is queued or running, then ready or failed.
type VideoStatus string

const (
	VideoDraft      VideoStatus = "draft"
	VideoProcessing VideoStatus = "processing"
	VideoReady      VideoStatus = "ready"
	VideoFailed     VideoStatus = "failed"
)

type Video struct {
	ID              string      `json:"id"`
	OwnerID         string      `json:"ownerId"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	Status          VideoStatus `json:"status"`
	RawStorageKey   string      `json:"rawStorageKey,omitempty"`
	HLSStorageKey   string      `json:"hlsStorageKey,omitempty"`
	ThumbnailKey    string      `json:"thumbnailKey,omitempty"`
	DurationSeconds int         `json:"durationSeconds,omitempty"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// QualityPreset describes one rendition of the adaptive output ladder. The
// configured preset order defines ffmpeg output stream index assignment and
// must stay stable for the duration of a single pipeline run.
type QualityPreset struct {
	Label   string `json:"label" yaml:"label"`
	Width   int    `json:"width" yaml:"width"`
	Height  int    `json:"height" yaml:"height"`
	Bitrate string `json:"bitrate" yaml:"bitrate"`
}

// Resolution returns the WxH form ffmpeg expects for -s:v.
func (p QualityPreset) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}
