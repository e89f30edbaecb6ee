package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"recording-worker/constant"
	"recording-worker/entities"
	"recording-worker/gateway"
	"recording-worker/repository"
)

// Dispatcher is the single worker loop behind the transcription queue. It
// wakes on enqueue (with a poll fallback), claims the highest-priority
// job, invokes the transcription gateway under a bounded timeout and
// records the outcome. One job's failure never stops the loop.
type Dispatcher struct {
	queue          *JobQueue
	transcriber    gateway.TranscriptionGateway
	repo           repository.RecordingRepository
	gatewayTimeout time.Duration
	pollInterval   time.Duration
	done           chan struct{}
}

func NewDispatcher(
	queue *JobQueue,
	transcriber gateway.TranscriptionGateway,
	repo repository.RecordingRepository,
	gatewayTimeout, pollInterval time.Duration,
) *Dispatcher {
	return &Dispatcher{
		queue:          queue,
		transcriber:    transcriber,
		repo:           repo,
		gatewayTimeout: gatewayTimeout,
		pollInterval:   pollInterval,
		done:           make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled. The in-flight job, if any, is always
// brought to a terminal state before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		d.drainReady(ctx)

		select {
		case <-ctx.Done():
			return
		case <-d.queue.Wake():
		case <-ticker.C:
		}
	}
}

// Done is closed once the loop has exited and no job is in flight.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) drainReady(ctx context.Context) {
	for {
		job := d.queue.Claim()
		if job == nil {
			return
		}
		d.process(ctx, job)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, job *entities.TranscriptionJob) {
	// A claimed job must reach a durable terminal state even when the run
	// context is cancelled mid-flight, or the record stays PROCESSING
	// across a clean shutdown. The gateway timeout still bounds the call.
	ctx = context.WithoutCancel(ctx)

	logger := zerolog.Ctx(ctx).With().
		Str("job_id", job.ID.String()).
		Str("recording_id", job.RecordingID.String()).
		Str("priority", string(job.Priority)).
		Logger()

	if err := d.repo.SaveJob(ctx, job); err != nil {
		logger.Error().Err(err).Msg("failed to persist job claim")
	}
	logger.Info().Msg("transcription job claimed")

	// Bounded call: a stalled provider must not stall the loop.
	callCtx, cancel := context.WithTimeout(ctx, d.gatewayTimeout)
	err := d.transcriber.Transcribe(callCtx, job)
	cancel()

	if err != nil {
		reason := err.Error()
		job.Status = constant.JobStatusFailed
		job.FailureReason = &reason
		logger.Error().Err(err).Msg("transcription job failed")
	} else {
		job.Status = constant.JobStatusCompleted
		job.Progress = 100
		logger.Info().Msg("transcription job completed")
	}

	if err := d.repo.SaveJob(ctx, job); err != nil {
		logger.Error().Err(err).Msg("failed to persist job outcome")
	}
}
