package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/subtitle-engine/internal/metrics"
)

// TranscriptFetcher downloads the transcript of a completed job.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, uri string) (string, error)
}

// RecognizerOptions configures job naming and the poll bound.
type RecognizerOptions struct {
	JobPrefix     string
	PollInterval  time.Duration
	MaxPolls      int
	Timeout       time.Duration // wall-clock bound for submit+poll+fetch; 0 = none
	// StatusRetries bounds extra attempts for a failed status check before
	// the job is given up on.
	StatusRetries int
	Log           zerolog.Logger
}

// Recognizer submits a transcription job and waits for its transcript.
type Recognizer struct {
	jobs    JobService
	fetcher TranscriptFetcher
	opts    RecognizerOptions
	log     zerolog.Logger
	now     func() time.Time
}

// NewRecognizer creates a recognizer over the given job backend.
func NewRecognizer(jobs JobService, fetcher TranscriptFetcher, opts RecognizerOptions) *Recognizer {
	if opts.JobPrefix == "" {
		opts.JobPrefix = "transcription"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxPolls < 1 {
		opts.MaxPolls = 1
	}
	if opts.StatusRetries < 0 {
		opts.StatusRetries = 0
	}
	return &Recognizer{
		jobs:    jobs,
		fetcher: fetcher,
		opts:    opts,
		log:     opts.Log.With().Str("provider", jobs.Name()).Logger(),
		now:     time.Now,
	}
}

// Recognize transcribes the audio at mediaURI. It blocks until the job is
// terminal, the poll bound is exceeded (ErrTimeout), or ctx is cancelled.
func (r *Recognizer) Recognize(ctx context.Context, mediaURI, languageCode, mediaFormat string) (string, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	name := r.jobName()
	log := r.log.With().Str("job", name).Logger()

	err := r.jobs.Submit(ctx, JobRequest{
		Name:         name,
		MediaURI:     mediaURI,
		LanguageCode: languageCode,
		MediaFormat:  mediaFormat,
	})
	if err != nil {
		return "", r.wrap(ctx, name, "submit", err)
	}
	log.Debug().Str("language", languageCode).Msg("transcription job submitted")

	job, err := r.wait(ctx, name)
	if err != nil {
		return "", err
	}

	text, err := r.fetcher.Fetch(ctx, job.ResultURI)
	if err != nil {
		return "", r.wrap(ctx, name, "fetch result", err)
	}
	log.Debug().Int("chars", len(text)).Msg("transcription complete")
	return text, nil
}

// wait polls at a fixed interval until the job is terminal.
func (r *Recognizer) wait(ctx context.Context, name string) (*Job, error) {
	timer := time.NewTimer(r.opts.PollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= r.opts.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return nil, r.wrap(ctx, name, "poll", ctx.Err())
		case <-timer.C:
		}

		job, err := r.status(ctx, name)
		if err != nil {
			return nil, r.wrap(ctx, name, "poll", err)
		}

		switch job.Status {
		case StatusCompleted:
			return job, nil
		case StatusFailed, StatusCanceled:
			return nil, &FailedError{JobName: name, Status: job.Status, Reason: job.FailureReason}
		}

		r.log.Debug().Str("job", name).Int("attempt", attempt).Msg("transcription job still running")
		timer.Reset(r.opts.PollInterval)
	}

	return nil, fmt.Errorf("%w: job %s not finished after %d polls", ErrTimeout, name, r.opts.MaxPolls)
}

// status checks the job, retrying transient failures with backoff so a
// throttled status call does not abandon a job that is still running.
func (r *Recognizer) status(ctx context.Context, name string) (*Job, error) {
	var job *Job
	op := func() error {
		metrics.RecognitionPollsTotal.Inc()
		j, err := r.jobs.Status(ctx, name)
		if err != nil {
			r.log.Warn().Err(err).Str("job", name).Msg("transcription status check failed")
			return err
		}
		job = j
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.PollInterval / 2
	b.MaxInterval = 2 * r.opts.PollInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.StatusRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return job, nil
}

// wrap converts our own deadline into ErrTimeout and other failures into
// *UpstreamError. Caller cancellation passes through unchanged.
func (r *Recognizer) wrap(ctx context.Context, name, stage string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: job %s: %s: %v", ErrTimeout, name, stage, err)
	case ctx.Err() != nil:
		return fmt.Errorf("job %s: %s: %w", name, stage, ctx.Err())
	}
	return &UpstreamError{JobName: name, Stage: stage, Err: err}
}

func (r *Recognizer) jobName() string {
	return fmt.Sprintf("%s-%d-%s", r.opts.JobPrefix, r.now().UnixNano(), uuid.NewString()[:8])
}
