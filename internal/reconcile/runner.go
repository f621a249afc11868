package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/metrics"
	"github.com/lalithlochan/nudge/internal/redis"
)

// ErrBusy is returned by LocalLocker when a pass is already running.
var ErrBusy = errors.New("reconciliation already running")

// Locker keeps two passes from overlapping. redis.Lock satisfies it for
// processes sharing a ledger.
type Locker interface {
	Acquire(ctx context.Context) (func(), error)
}

// LocalLocker is the single-process Locker.
type LocalLocker struct {
	mu sync.Mutex
}

func (l *LocalLocker) Acquire(context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrBusy
	}
	return l.mu.Unlock, nil
}

// Runner runs a pass at launch and then on an interval.
type Runner struct {
	task     *Task
	locker   Locker
	interval time.Duration
	logger   *zap.Logger
}

func NewRunner(task *Task, locker Locker, interval time.Duration, logger *zap.Logger) *Runner {
	if locker == nil {
		locker = &LocalLocker{}
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Runner{task: task, locker: locker, interval: interval, logger: logger}
}

// Start blocks until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("reconciler started", zap.Duration("interval", r.interval))

	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("reconciliation failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reconciliation failed", zap.Error(err))
			}
		}
	}
}

// RunOnce runs a pass unless another one holds the lock, in which case the
// report is marked skipped.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	release, err := r.locker.Acquire(ctx)
	if errors.Is(err, ErrBusy) || errors.Is(err, redis.ErrLockHeld) {
		r.logger.Debug("reconciliation skipped, lock held")
		metrics.RecordReconcile("skipped", 0)
		return Report{Skipped: true}, nil
	}
	if err != nil {
		metrics.RecordReconcile("error", 0)
		return Report{}, err
	}
	defer release()

	return r.task.Run(ctx)
}
