package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/platform"
)

// Sender mirrors worker.Sender to avoid an import cycle.
type Sender interface {
	Send(ctx context.Context, d *platform.Delivery) error
	Name() string
}

// ProtectedSender wraps a transport with a breaker.
type ProtectedSender struct {
	sender  Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedSender(sender Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send fails fast with ErrCircuitOpen while the breaker is open.
func (p *ProtectedSender) Send(ctx context.Context, d *platform.Delivery) error {
	if !p.breaker.Allow() {
		p.logger.Debug("transport skipped, breaker open",
			zap.String("sender", p.sender.Name()),
			zap.String("notification_id", d.Identifier),
		)
		return fmt.Errorf("%w: %s", ErrCircuitOpen, p.sender.Name())
	}

	if err := p.sender.Send(ctx, d); err != nil {
		p.breaker.RecordFailure()
		return err
	}
	p.breaker.RecordSuccess()
	return nil
}

func (p *ProtectedSender) Name() string { return p.sender.Name() }

// Breaker exposes the breaker for stats.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
