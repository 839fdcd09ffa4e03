package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/accountability-dispatch/internal/observability"
	"go.uber.org/zap"
)

const (
	JobDispatch = "dispatch"
	JobSweep    = "sweep"

	lockReleaseTimeout = 5 * time.Second
)

// TickFunc runs one tick of a periodic job.
type TickFunc func(ctx context.Context) error

// TickLocker keeps a periodic job from running on two instances at once.
type TickLocker interface {
	TryAcquire(ctx context.Context, job string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// TickRunner runs a job on a fixed interval. All timing state lives in the
// database, so a restarted runner simply picks up on its next tick.
type TickRunner struct {
	job      string
	interval time.Duration
	run      TickFunc
	lock     TickLocker
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewTickRunner builds a runner. lock may be nil for single-instance setups.
func NewTickRunner(
	job string,
	interval time.Duration,
	run TickFunc,
	lock TickLocker,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*TickRunner, error) {
	job = strings.TrimSpace(job)
	if job == "" {
		return nil, fmt.Errorf("job name is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive")
	}
	if run == nil {
		return nil, fmt.Errorf("tick func is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TickRunner{
		job:      job,
		interval: interval,
		run:      run,
		lock:     lock,
		metrics:  metrics,
		logger:   logger.With(zap.String("job", job)),
		now:      time.Now,
	}, nil
}

// DispatchTick adapts an orchestrator to a TickFunc.
func DispatchTick(o *Orchestrator) TickFunc {
	return func(ctx context.Context) error {
		_, err := o.RunTick(ctx)
		return err
	}
}

// SweepTick adapts a sweep to a TickFunc.
func SweepTick(s *Sweep) TickFunc {
	return func(ctx context.Context) error {
		_, err := s.RunTick(ctx)
		return err
	}
}

// Start runs an initial tick and then one tick per interval until ctx is done.
func (r *TickRunner) Start(ctx context.Context) error {
	if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("initial tick failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("tick failed", zap.Error(err))
			}
		}
	}
}

// RunOnce runs a single tick if no other instance is running the job.
func (r *TickRunner) RunOnce(ctx context.Context) error {
	if r.lock != nil {
		release, acquired, err := r.lock.TryAcquire(ctx, r.job, r.interval)
		if err != nil {
			return fmt.Errorf("failed to acquire tick lock: %w", err)
		}
		if !acquired {
			r.logger.Debug("tick skipped, lock held elsewhere")
			return nil
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
			defer cancel()
			if err := release(releaseCtx); err != nil {
				r.logger.Warn("failed to release tick lock", zap.Error(err))
			}
		}()
	}

	started := r.now()
	err := r.run(ctx)
	r.metrics.ObserveTick(r.job, r.now().Sub(started))
	return err
}
