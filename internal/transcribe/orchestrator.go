package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"vocalytics/internal/apperr"
	"vocalytics/internal/auth"
	"vocalytics/internal/models"
)

// DefaultPollInterval is the status polling period.
const DefaultPollInterval = time.Second

// RecordWriter persists a completed transcript.
type RecordWriter interface {
	Save(ctx context.Context, rec *models.TranscriptRecord) error
}

// JobHandle tracks one submitted job through its state machine.
type JobHandle struct {
	mu  sync.RWMutex
	job models.TranscriptionJob
}

// Job returns a snapshot of the job.
func (h *JobHandle) Job() models.TranscriptionJob {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.job
}

// Name is the job name, which also becomes the transcript id.
func (h *JobHandle) Name() string {
	return h.Job().Name
}

func (h *JobHandle) transition(to models.JobStatus, now time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.job.Status == to {
		return nil
	}
	if !isValidTransition(h.job.Status, to) {
		return fmt.Errorf("invalid transition: %s -> %s", h.job.Status, to)
	}
	h.job.Status = to
	h.job.UpdatedAt = now
	return nil
}

func (h *JobHandle) update(fn func(*models.TranscriptionJob)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.job)
}

// isValidTransition enforces SUBMITTED -> IN_PROGRESS -> {COMPLETED, FAILED}.
// CANCELLED is reachable from any non-terminal state.
func isValidTransition(from, to models.JobStatus) bool {
	switch from {
	case models.StatusSubmitted:
		return to == models.StatusInProgress || to == models.StatusCancelled
	case models.StatusInProgress:
		return to == models.StatusCompleted || to == models.StatusFailed || to == models.StatusCancelled
	default:
		return false
	}
}

// Orchestrator submits jobs and polls them to a terminal state.
type Orchestrator struct {
	logger   *slog.Logger
	client   Client
	fetcher  Fetcher
	records  RecordWriter
	bucket   string
	interval time.Duration
	now      func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithClock overrides time.Now, used for job names and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the orchestrator. outputBucket is where the service
// writes result documents.
func NewOrchestrator(logger *slog.Logger, client Client, fetcher Fetcher, records RecordWriter, outputBucket string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:   logger,
		client:   client,
		fetcher:  fetcher,
		records:  records,
		bucket:   outputBucket,
		interval: DefaultPollInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// JobName returns the generated name for a job created at t.
func JobName(t time.Time) string {
	return "transcription-" + strconv.FormatInt(t.UnixMilli(), 10)
}

// StartJob submits a transcription of media and returns a handle that is
// already IN_PROGRESS.
func (o *Orchestrator) StartJob(ctx context.Context, sess auth.Session, media models.MediaRef, languageCode string) (*JobHandle, error) {
	if !sess.Valid() {
		return nil, apperr.ErrNotSignedIn
	}
	now := o.now()
	h := &JobHandle{job: models.TranscriptionJob{
		Name:         JobName(now),
		Owner:        sess.Username,
		LanguageCode: languageCode,
		Media:        media,
		Status:       models.StatusSubmitted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}}

	err := o.client.Submit(ctx, SubmitRequest{
		JobName:      h.job.Name,
		LanguageCode: languageCode,
		MediaURI:     media.URL,
		OutputBucket: o.bucket,
	})
	if err != nil {
		return nil, err
	}
	if err := h.transition(models.StatusInProgress, o.now()); err != nil {
		return nil, err
	}
	o.logger.Info("transcription job submitted", "job_id", h.job.Name, "media", media.Key, "owner", sess.Username)
	return h, nil
}

// PollUntilTerminal checks the job every interval until it completes or
// fails, or ctx is cancelled. onStatus, if set, is called after every poll
// that leaves the job in progress. On completion the transcript is parsed
// and saved as a record before returning.
//
// There is no timeout: a job that never finishes is polled until ctx ends.
func (o *Orchestrator) PollUntilTerminal(ctx context.Context, h *JobHandle, onStatus func(models.TranscriptionJob)) (*Result, error) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	name := h.Name()
	for {
		select {
		case <-ctx.Done():
			_ = h.transition(models.StatusCancelled, o.now())
			o.logger.Info("transcription polling stopped", "job_id", name, "reason", ctx.Err())
			return nil, ctx.Err()
		case <-ticker.C:
		}

		state, err := o.client.Status(ctx, name)
		if err != nil {
			if ctx.Err() == nil {
				o.logger.Warn("transcription status check failed", "job_id", name, "error", err)
			}
			continue
		}

		switch state.Status {
		case models.StatusCompleted:
			h.update(func(j *models.TranscriptionJob) { j.OutputURI = state.OutputURI })
			res, err := o.complete(ctx, h)
			if err != nil {
				return nil, err
			}
			if err := h.transition(models.StatusCompleted, o.now()); err != nil {
				return nil, err
			}
			return res, nil
		case models.StatusFailed:
			h.update(func(j *models.TranscriptionJob) { j.FailureReason = state.FailureReason })
			if err := h.transition(models.StatusFailed, o.now()); err != nil {
				return nil, err
			}
			o.logger.Warn("transcription job failed", "job_id", name, "reason", state.FailureReason)
			if state.FailureReason != "" {
				return nil, fmt.Errorf("%w: %s", apperr.ErrJobFailed, state.FailureReason)
			}
			return nil, apperr.ErrJobFailed
		default:
			if onStatus != nil {
				onStatus(h.Job())
			}
		}
	}
}

func (o *Orchestrator) complete(ctx context.Context, h *JobHandle) (*Result, error) {
	job := h.Job()
	data, err := o.fetcher.Fetch(ctx, job.OutputURI)
	if err != nil {
		return nil, err
	}
	res, err := ParseResult(data)
	if err != nil {
		return nil, err
	}

	rec := &models.TranscriptRecord{
		ID:        job.Name,
		Owner:     job.Owner,
		Text:      res.Text,
		Segments:  res.Segments,
		CreatedAt: o.now().UTC(),
		MediaKey:  job.Media.Key,
	}
	if err := o.records.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save transcript %s: %w", job.Name, err)
	}
	o.logger.Info("transcription completed", "job_id", job.Name, "segments", len(res.Segments))
	return res, nil
}
