// Package transcode contains the media pipeline: it turns one claimed job
// into an HLS rendition ladder plus thumbnail, uploads the output and settles
// the job and video records.
package transcode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"learnstream/internal/config"
	"learnstream/internal/models"
	"learnstream/internal/observability/logging"
	"learnstream/internal/storage"
)

// ObjectStore is the slice of the object storage client the pipeline and
// finalizer need.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) error
	Download(ctx context.Context, bucket, key string, dst io.Writer) error
}

// Severity classifies a pipeline step failure.
type Severity string

const (
	// SeverityFatal failures abort the job.
	SeverityFatal Severity = "fatal"
	// SeverityRecoverable failures degrade the output but let the job finish.
	SeverityRecoverable Severity = "recoverable"
)

// StepError reports which pipeline step failed and carries the tool output
// captured from the failing invocation.
type StepError struct {
	Step     string
	Severity Severity
	Output   []byte
	Err      error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
	if tail := outputTail(e.Output); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *StepError) Unwrap() error { return e.Err }

// outputTail returns the last non-empty line of tool output, which for
// ffmpeg is almost always the actual error.
func outputTail(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// Result is what a successful pipeline run leaves in the workspace.
type Result struct {
	Video           models.Video
	DurationSeconds int
	HLSDir          string
	ThumbnailPath   string
}

// Pipeline runs the per-job media steps: fetch the raw upload, probe its
// duration, extract a thumbnail and produce the HLS ladder.
type Pipeline struct {
	store   storage.Repository
	objects ObjectStore
	runner  Runner
	cfg     config.Config
	logger  *slog.Logger
}

func NewPipeline(store storage.Repository, objects ObjectStore, runner Runner, cfg config.Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:   store,
		objects: objects,
		runner:  runner,
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "pipeline"),
	}
}

// Run executes the pipeline inside ws. Recoverable step failures are logged
// and the run continues with degraded output; fatal failures are returned as
// a *StepError.
func (p *Pipeline) Run(ctx context.Context, ws *Workspace, job models.TranscodingJob) (Result, error) {
	logger := logging.WithContext(ctx, p.logger)

	video, ok := p.store.GetVideo(job.VideoID)
	if !ok {
		return Result{}, &StepError{
			Step:     "lookup",
			Severity: SeverityFatal,
			Err:      fmt.Errorf("video %s: %w", job.VideoID, storage.ErrVideoNotFound),
		}
	}
	if strings.TrimSpace(video.RawStorageKey) == "" {
		return Result{}, &StepError{
			Step:     "lookup",
			Severity: SeverityFatal,
			Err:      fmt.Errorf("video %s has no raw upload", video.ID),
		}
	}

	inputPath, err := p.download(ctx, ws, video)
	if err != nil {
		return Result{}, err
	}
	logger.Info("raw upload fetched", "input", inputPath)

	result := Result{Video: video, HLSDir: ws.HLSDir()}

	duration, err := p.probe(ctx, ws, inputPath)
	if err != nil {
		return Result{}, err
	}
	result.DurationSeconds = duration

	thumbnailPath := ws.Join("thumbnail.jpg")
	if err := p.thumbnail(ctx, ws, inputPath, thumbnailPath); err != nil {
		logger.Warn("thumbnail extraction failed", "error", err)
	} else {
		result.ThumbnailPath = thumbnailPath
	}

	if err := p.transcode(ctx, ws, inputPath); err != nil {
		return Result{}, err
	}
	logger.Info("hls ladder produced", "renditions", len(p.cfg.Presets), "duration_seconds", result.DurationSeconds)

	return result, nil
}

func (p *Pipeline) download(ctx context.Context, ws *Workspace, video models.Video) (string, error) {
	ext := filepath.Ext(video.RawStorageKey)
	if ext == "" {
		ext = ".mp4"
	}
	inputPath := ws.Join("input" + ext)
	file, err := os.Create(inputPath)
	if err != nil {
		return "", &StepError{Step: "download", Severity: SeverityFatal, Err: err}
	}
	if err := p.objects.Download(ctx, p.cfg.RawBucket, video.RawStorageKey, file); err != nil {
		file.Close()
		return "", &StepError{Step: "download", Severity: SeverityFatal, Err: err}
	}
	if err := file.Close(); err != nil {
		return "", &StepError{Step: "download", Severity: SeverityFatal, Err: err}
	}
	return inputPath, nil
}

// probe asks ffprobe for the container duration and rounds it to whole
// seconds. An input ffprobe cannot read is one ffmpeg cannot transcode, so a
// failed probe aborts the job.
func (p *Pipeline) probe(ctx context.Context, ws *Workspace, inputPath string) (int, error) {
	output, err := p.runner.Run(ctx, p.cfg.FFprobePath, buildProbeArgs(inputPath), ws.Dir())
	if err != nil {
		return 0, &StepError{Step: "probe", Severity: SeverityFatal, Output: output, Err: err}
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, &StepError{Step: "probe", Severity: SeverityFatal, Output: output, Err: fmt.Errorf("parse duration: %w", err)}
	}
	return int(math.Round(seconds)), nil
}

func (p *Pipeline) thumbnail(ctx context.Context, ws *Workspace, inputPath, outputPath string) error {
	output, err := p.runner.Run(ctx, p.cfg.FFmpegPath, buildThumbnailArgs(inputPath, outputPath), ws.Dir())
	if err != nil {
		return &StepError{Step: "thumbnail", Severity: SeverityRecoverable, Output: output, Err: err}
	}
	return nil
}

func (p *Pipeline) transcode(ctx context.Context, ws *Workspace, inputPath string) error {
	output, err := p.runner.Run(ctx, p.cfg.FFmpegPath, buildTranscodeArgs(inputPath, p.cfg.Presets), ws.Dir())
	if err != nil {
		return &StepError{Step: "transcode", Severity: SeverityFatal, Output: output, Err: err}
	}
	return nil
}
