package transcode

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"learnstream/internal/events"
	"learnstream/internal/models"
	"learnstream/internal/observability/logging"
	"learnstream/internal/storage"
)

type jobPipeline interface {
	Run(ctx context.Context, ws *Workspace, job models.TranscodingJob) (Result, error)
}

type jobFinalizer interface {
	Finalize(ctx context.Context, job models.TranscodingJob, result Result) error
}

// PollerConfig wires the poller's collaborators.
type PollerConfig struct {
	Store         storage.Repository
	Pipeline      jobPipeline
	Finalizer     jobFinalizer
	Notifier      events.Notifier
	WorkspaceRoot string
	Interval      time.Duration
	Logger        *slog.Logger
}

// Poller drives the worker: every tick it claims at most one pending job and
// runs it through the pipeline and finalizer. Each job gets a fresh workspace
// that is removed before the tick returns, whatever the outcome.
type Poller struct {
	cfg    PollerConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Notifier == nil {
		cfg.Notifier = events.NoopNotifier{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{cfg: cfg, logger: logging.WithComponent(logger, "poller")}
}

// Start launches the polling loop in a background goroutine.
func (p *Poller) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go p.loop()
}

// Shutdown stops the loop and waits for an in-flight job to finish, up to the
// context deadline.
func (p *Poller) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.cfg.Interval.String())
	for {
		select {
		case <-p.ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			p.tick(p.ctx)
		}
	}
}

// tick claims at most one job. A claim error is logged and retried on the
// next tick rather than crashing the loop.
func (p *Poller) tick(ctx context.Context) {
	job, ok, err := p.cfg.Store.ClaimNextJob()
	if err != nil {
		p.logger.Error("claim failed", "error", err)
		return
	}
	if !ok {
		return
	}
	p.process(ctx, job)
}

func (p *Poller) process(ctx context.Context, job models.TranscodingJob) {
	// A claimed job runs to completion even during shutdown; cancelling here
	// would kill ffmpeg mid-run and settle the job as failed.
	ctx = context.WithoutCancel(ctx)
	ctx = logging.ContextWithJobID(ctx, job.ID)
	ctx = logging.ContextWithVideoID(ctx, job.VideoID)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("job claimed")

	ws, err := NewWorkspace(p.cfg.WorkspaceRoot, job.ID)
	if err != nil {
		p.fail(ctx, job, err)
		return
	}
	defer ws.Cleanup(logger)

	result, err := p.cfg.Pipeline.Run(ctx, ws, job)
	if err != nil {
		p.fail(ctx, job, err)
		return
	}
	if err := p.cfg.Finalizer.Finalize(ctx, job, result); err != nil {
		p.fail(ctx, job, err)
		return
	}

	p.publish(ctx, events.Event{
		Type:    events.TypeTranscodingCompleted,
		JobID:   job.ID,
		VideoID: job.VideoID,
	})
	logger.Info("job completed")
}

// fail settles the job and video records and emits the failure event. Errors
// while recording the failure are logged; there is nothing further to unwind.
func (p *Poller) fail(ctx context.Context, job models.TranscodingJob, cause error) {
	logger := logging.WithContext(ctx, p.logger)
	logger.Error("job failed", "error", cause)

	if err := p.cfg.Store.MarkJobFailed(job.ID, cause.Error()); err != nil {
		logger.Error("record job failure", "error", err)
	}
	status := models.VideoFailed
	message := cause.Error()
	if _, err := p.cfg.Store.UpdateVideo(job.VideoID, storage.VideoUpdate{Status: &status, Error: &message}); err != nil {
		if !errors.Is(err, storage.ErrVideoNotFound) {
			logger.Error("record video failure", "error", err)
		}
	}
	p.publish(ctx, events.Event{
		Type:    events.TypeTranscodingFailed,
		JobID:   job.ID,
		VideoID: job.VideoID,
		Error:   cause.Error(),
	})
}

func (p *Poller) publish(ctx context.Context, event events.Event) {
	event.OccurredAt = time.Now().UTC()
	if err := p.cfg.Notifier.Publish(ctx, event); err != nil {
		logging.WithContext(ctx, p.logger).Warn("event publish failed", "type", string(event.Type), "error", err)
	}
}
