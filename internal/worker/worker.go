package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/clock"
	"github.com/lalithlochan/nudge/internal/metrics"
	"github.com/lalithlochan/nudge/internal/platform"
)

// Source hands out requests whose fire time has passed.
type Source interface {
	Due(now time.Time) []platform.Delivery
}

// DeliveredFunc is told about every delivery that fired, whether or not a
// transport accepted it. The notification was shown by the platform either way.
type DeliveredFunc func(ctx context.Context, d platform.Delivery)

// Worker polls the scheduler for fired notifications and pushes them out.
type Worker struct {
	source    Source
	sender    Sender
	clock     clock.Clocker
	config    Config
	delivered DeliveredFunc
	logger    *zap.Logger
}

// Config tunes the poll loop. Retries belong to the sender; see MultiSender.
type Config struct {
	PollInterval time.Duration
}

func New(source Source, sender Sender, clk clock.Clocker, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}

	return &Worker{
		source: source,
		sender: sender,
		clock:  clk,
		config: cfg,
		logger: logger,
	}
}

// OnDelivered registers the callback run after each delivery.
func (w *Worker) OnDelivered(fn DeliveredFunc) {
	w.delivered = fn
}

func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick delivers everything due at the current clock time and returns how
// many deliveries it handled.
func (w *Worker) Tick(ctx context.Context) int {
	due := w.source.Due(w.clock.Now())
	for i := range due {
		w.dispatch(ctx, &due[i])
	}
	return len(due)
}

func (w *Worker) dispatch(ctx context.Context, d *platform.Delivery) {
	if err := w.sender.Send(ctx, d); err != nil {
		w.logger.Error("failed to deliver notification",
			zap.String("id", d.Identifier),
			zap.String("sender", w.sender.Name()),
			zap.Error(err),
		)
		metrics.RecordDelivery("failed")
	} else {
		w.logger.Info("notification delivered", zap.String("id", d.Identifier))
		metrics.RecordDelivery("sent")
	}

	if w.delivered != nil {
		w.delivered(ctx, *d)
	}
}
