package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/circuitbreaker"
	"github.com/lalithlochan/nudge/internal/platform"
)

// Sender hands a fired notification to a transport that reaches the user.
// Implementations: SNS mobile push, webhook relay, log.
type Sender interface {
	Send(ctx context.Context, d *platform.Delivery) error
	Name() string
}

// RetryConfig bounds the per-transport retry of a delivery.
type RetryConfig struct {
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration
}

// DefaultRetryConfig returns the production retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		Base:       200 * time.Millisecond,
		Cap:        5 * time.Second,
	}
}

// MultiSender fans a delivery out to every configured transport, retrying
// each one on its own. A delivery succeeds if at least one transport
// accepted it.
type MultiSender struct {
	senders []Sender
	retry   RetryConfig
	logger  *zap.Logger
}

// NewMultiSender creates a fan-out over senders with the default retry policy.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders, retry: DefaultRetryConfig(), logger: logger}
}

// WithRetry replaces the retry policy.
func (m *MultiSender) WithRetry(cfg RetryConfig) *MultiSender {
	m.retry = cfg
	return m
}

// Send delivers through every sender and joins the failures.
func (m *MultiSender) Send(ctx context.Context, d *platform.Delivery) error {
	if len(m.senders) == 0 {
		return errors.New("no senders configured")
	}

	var errs []error
	for _, s := range m.senders {
		attempts, err := m.sendWithRetry(ctx, s, d)
		if err != nil {
			m.logger.Warn("transport failed",
				zap.String("sender", s.Name()),
				zap.String("notification_id", d.Identifier),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		if attempts > 1 {
			m.logger.Info("transport recovered",
				zap.String("sender", s.Name()),
				zap.String("notification_id", d.Identifier),
				zap.Int("attempts", attempts),
			)
		}
	}
	if len(errs) == len(m.senders) {
		return errors.Join(errs...)
	}
	return nil
}

// sendWithRetry retries one transport. An open breaker is not retried.
func (m *MultiSender) sendWithRetry(ctx context.Context, s Sender, d *platform.Delivery) (int, error) {
	b := retry.NewFibonacci(m.retry.Base)
	b = retry.WithMaxRetries(uint64(m.retry.MaxRetries), b)
	b = retry.WithCappedDuration(m.retry.Cap, b)

	attempts := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		err := s.Send(ctx, d)
		if err == nil || errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return err
		}
		return retry.RetryableError(err)
	})
	return attempts, err
}

func (m *MultiSender) Name() string { return "multi" }

// LogSender only logs deliveries (for development)
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, d *platform.Delivery) error {
	s.logger.Info("notification delivered",
		zap.String("id", d.Identifier),
		zap.String("title", d.Content.Title),
		zap.String("body", d.Content.Body),
		zap.Any("data", d.Content.Data),
		zap.Time("fired_at", d.FiredAt),
	)
	return nil
}

func (s *LogSender) Name() string { return "log" }
