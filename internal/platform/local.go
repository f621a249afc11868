package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/clock"
	"github.com/lalithlochan/nudge/internal/domain"
)

// LocalConfig configures the in-process scheduler.
type LocalConfig struct {
	Location *time.Location
	// GrantOnRequest decides the outcome of RequestPermissions.
	GrantOnRequest bool
	// InitialPermission is the state before any request.
	InitialPermission domain.PermissionStatus
}

type pending struct {
	req  Request
	next time.Time
	seq  int
}

// Local keeps scheduled requests in memory and hands out the due ones to
// the dispatcher. Restarting the process drops everything, which the
// reconciliation pass repairs.
type Local struct {
	mu         sync.Mutex
	pending    map[string]*pending
	seq        int
	permission domain.PermissionStatus
	grant      bool
	loc        *time.Location
	clock      clock.Clocker
	logger     *zap.Logger
}

var _ Scheduler = (*Local)(nil)

// NewLocal creates an empty scheduler.
func NewLocal(cfg LocalConfig, clk clock.Clocker, logger *zap.Logger) *Local {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.InitialPermission == "" {
		cfg.InitialPermission = domain.PermissionNotRequested
	}
	return &Local{
		pending:    make(map[string]*pending),
		permission: cfg.InitialPermission,
		grant:      cfg.GrantOnRequest,
		loc:        cfg.Location,
		clock:      clk,
		logger:     logger,
	}
}

// Schedule registers a request and returns its identifier.
func (l *Local) Schedule(_ context.Context, content Content, trigger Trigger) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.permission != domain.PermissionAuthorized {
		return "", ErrNotAuthorized
	}

	now := l.clock.Now()
	if trigger.Kind == TriggerTimeInterval {
		// Interval triggers are pinned to an absolute instant on arrival.
		trigger = Trigger{Kind: TriggerDate, Date: now.Add(time.Duration(trigger.Seconds) * time.Second)}
	}
	next, ok := trigger.NextAfter(now, l.loc)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTriggerExpired, trigger.Kind)
	}

	id := uuid.NewString()
	l.seq++
	l.pending[id] = &pending{
		req:  Request{Identifier: id, Content: content, Trigger: trigger},
		next: next,
		seq:  l.seq,
	}

	l.logger.Debug("notification scheduled",
		zap.String("id", id),
		zap.String("trigger", string(trigger.Kind)),
		zap.Time("next_fire", next),
	)
	return id, nil
}

// Cancel removes a request. Unknown ids are ignored.
func (l *Local) Cancel(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, id)
	return nil
}

// ListScheduled returns pending requests in scheduling order.
func (l *Local) ListScheduled(_ context.Context) ([]Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := make([]*pending, 0, len(l.pending))
	for _, p := range l.pending {
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })

	out := make([]Request, len(items))
	for i, p := range items {
		out[i] = p.req
	}
	return out, nil
}

// Permissions returns the current permission state.
func (l *Local) Permissions(context.Context) (domain.PermissionStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.permission, nil
}

// RequestPermissions prompts once; later calls return the settled answer.
func (l *Local) RequestPermissions(context.Context) (domain.PermissionStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.permission == domain.PermissionNotRequested {
		if l.grant {
			l.permission = domain.PermissionAuthorized
		} else {
			l.permission = domain.PermissionDenied
		}
	}
	return l.permission, nil
}

// Due pops every request whose fire time is at or before now. One-shot
// requests are removed; repeating ones advance to their next occurrence.
func (l *Local) Due(now time.Time) []Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()

	var due []*pending
	for _, p := range l.pending {
		if !p.next.After(now) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].next.Equal(due[j].next) {
			return due[i].next.Before(due[j].next)
		}
		return due[i].seq < due[j].seq
	})

	out := make([]Delivery, 0, len(due))
	for _, p := range due {
		out = append(out, Delivery{Request: p.req, FiredAt: p.next})
		if p.req.Trigger.OneShot() {
			delete(l.pending, p.req.Identifier)
			continue
		}
		next, ok := p.req.Trigger.NextAfter(now, l.loc)
		if !ok {
			delete(l.pending, p.req.Identifier)
			continue
		}
		p.next = next
	}
	return out
}
