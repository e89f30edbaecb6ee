package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"recording-worker/gateway"
	"recording-worker/repository"
)

// RetentionEnforcer periodically deletes recordings whose retention window
// has elapsed. Sweeps are idempotent: a re-run after a partial failure
// skips already-purged rows and the storage gateway tolerates missing
// objects.
type RetentionEnforcer struct {
	repo           repository.RecordingRepository
	storage        gateway.StorageGateway
	retention      time.Duration
	sweepInterval  time.Duration
	gatewayTimeout time.Duration
	done           chan struct{}
}

func NewRetentionEnforcer(
	repo repository.RecordingRepository,
	storage gateway.StorageGateway,
	retention, sweepInterval, gatewayTimeout time.Duration,
) *RetentionEnforcer {
	return &RetentionEnforcer{
		repo:           repo,
		storage:        storage,
		retention:      retention,
		sweepInterval:  sweepInterval,
		gatewayTimeout: gatewayTimeout,
		done:           make(chan struct{}),
	}
}

func (e *RetentionEnforcer) Run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

func (e *RetentionEnforcer) Done() <-chan struct{} {
	return e.done
}

// Sweep deletes every expired recording it can and reports how many were
// purged. Failures are logged per session and retried on the next sweep.
func (e *RetentionEnforcer) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-e.retention)
	expired, err := e.repo.ListExpiredSessions(ctx, cutoff)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("retention sweep: failed to list expired sessions")
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	zerolog.Ctx(ctx).Info().
		Int("expired", len(expired)).
		Time("cutoff", cutoff).
		Msg("retention sweep started")

	purged := 0
	for _, session := range expired {
		callCtx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
		err := e.storage.Delete(callCtx, session.ID)
		cancel()
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).
				Str("session_id", session.ID.String()).
				Msg("retention sweep: failed to delete recording")
			continue
		}
		if err := e.repo.MarkSessionPurged(ctx, session.ID, time.Now().UTC()); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).
				Str("session_id", session.ID.String()).
				Msg("retention sweep: failed to mark session purged")
			continue
		}
		purged++
	}

	zerolog.Ctx(ctx).Info().Int("purged", purged).Msg("retention sweep finished")
	return purged
}
