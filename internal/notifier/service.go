// Package notifier decides which local notifications should be pending
// right now and keeps the platform and the delivery ledger in line with
// that decision.
//
// Public operations never return errors. Each one reports a Result; a
// failure means the notification is simply not scheduled, and the next
// state change or reconciliation pass tries again.
package notifier

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/analytics"
	"github.com/lalithlochan/nudge/internal/clock"
	"github.com/lalithlochan/nudge/internal/domain"
	"github.com/lalithlochan/nudge/internal/ledger"
	"github.com/lalithlochan/nudge/internal/nextstep"
	"github.com/lalithlochan/nudge/internal/notification"
	"github.com/lalithlochan/nudge/internal/platform"
)

// StateStore is the part of the domain store the service needs.
type StateStore interface {
	Snapshot() domain.State
	SetNotificationPreferences(ctx context.Context, update func(domain.Preferences) domain.Preferences) domain.Preferences
}

// Config tunes the nudge policy.
type Config struct {
	Location *time.Location

	// DailyCap is the most system nudges delivered on one local date.
	DailyCap int
	// MinSpacing is the least time between two system nudges.
	MinSpacing time.Duration
	// StackingWindow keeps a system nudge this far from any activity reminder.
	StackingWindow time.Duration
	// MaxPushDays bounds how many days the guards may push a nudge.
	MaxPushDays int
	// BackoffAfter unopened nudges in a row delay the next one by a day.
	BackoffAfter int
	// PersonalizeMinOpens opens move the goal nudge to the user's usual hour,
	// clamped to [PersonalizeFromHour, PersonalizeToHour].
	PersonalizeMinOpens int
	PersonalizeFromHour int
	PersonalizeToHour   int
	// CustomOccurrences bounds the one-shots precomputed for a custom repeat.
	CustomOccurrences int
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{
		Location:            time.Local,
		DailyCap:            2,
		MinSpacing:          6 * time.Hour,
		StackingWindow:      3 * time.Hour,
		MaxPushDays:         7,
		BackoffAfter:        2,
		PersonalizeMinOpens: 5,
		PersonalizeFromHour: 15,
		PersonalizeToHour:   19,
		CustomOccurrences:   24,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Location == nil {
		c.Location = d.Location
	}
	if c.DailyCap <= 0 {
		c.DailyCap = d.DailyCap
	}
	if c.MinSpacing <= 0 {
		c.MinSpacing = d.MinSpacing
	}
	if c.StackingWindow <= 0 {
		c.StackingWindow = d.StackingWindow
	}
	if c.MaxPushDays <= 0 {
		c.MaxPushDays = d.MaxPushDays
	}
	if c.BackoffAfter <= 0 {
		c.BackoffAfter = d.BackoffAfter
	}
	if c.PersonalizeMinOpens <= 0 {
		c.PersonalizeMinOpens = d.PersonalizeMinOpens
	}
	if c.PersonalizeToHour <= 0 {
		c.PersonalizeFromHour, c.PersonalizeToHour = d.PersonalizeFromHour, d.PersonalizeToHour
	}
	if c.CustomOccurrences <= 0 {
		c.CustomOccurrences = d.CustomOccurrences
	}
	return c
}

// Service is the notification orchestrator. It owns the scheduled-id cache
// that lets cancels skip a full platform scan.
type Service struct {
	scheduler   platform.Scheduler
	ledger      *ledger.Ledger
	store       StateStore
	recommender nextstep.Recommender
	tracker     analytics.Tracker
	clock       clock.Clocker
	cfg         Config
	logger      *zap.Logger

	locks keyedMutex

	cacheMu     sync.Mutex
	activityIDs map[string][]string
	systemIDs   map[notification.Category][]string
	goalTarget  string
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Scheduler   platform.Scheduler
	Ledger      *ledger.Ledger
	Store       StateStore
	Recommender nextstep.Recommender
	Tracker     analytics.Tracker
	Clock       clock.Clocker
	Logger      *zap.Logger
}

func New(deps Deps, cfg Config) *Service {
	if deps.Recommender == nil {
		deps.Recommender = nextstep.Default{}
	}
	if deps.Tracker == nil {
		deps.Tracker = analytics.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		scheduler:   deps.Scheduler,
		ledger:      deps.Ledger,
		store:       deps.Store,
		recommender: deps.Recommender,
		tracker:     deps.Tracker,
		clock:       deps.Clock,
		cfg:         cfg.withDefaults(),
		logger:      deps.Logger,
		locks:       keyedMutex{locks: make(map[string]*sync.Mutex)},
		activityIDs: make(map[string][]string),
		systemIDs:   make(map[notification.Category][]string),
	}
}

// Location is the zone all time-of-day math runs in.
func (s *Service) Location() *time.Location {
	return s.cfg.Location
}

func (s *Service) now() time.Time {
	return s.clock.Now().In(s.cfg.Location)
}

// Init rebuilds the scheduled-id cache from the platform's list and syncs
// the stored permission state with the platform.
func (s *Service) Init(ctx context.Context) {
	if status, err := s.scheduler.Permissions(ctx); err != nil {
		s.logger.Warn("failed to read notification permission", zap.Error(err))
	} else {
		s.syncPermission(ctx, status)
	}

	requests, err := s.scheduler.ListScheduled(ctx)
	if err != nil {
		s.logger.Warn("failed to list scheduled notifications", zap.Error(err))
		return
	}

	activities := make(map[string][]string)
	system := make(map[notification.Category][]string)
	for _, req := range requests {
		data, err := notification.Parse(req.Content.Data)
		if err != nil {
			continue
		}
		switch {
		case data.Type == notification.ActivityReminder:
			activities[data.ActivityID] = append(activities[data.ActivityID], req.Identifier)
		case data.Type.System():
			system[data.Type] = append(system[data.Type], req.Identifier)
			if data.Type == notification.GoalNudge {
				s.cacheMu.Lock()
				s.goalTarget = data.GoalID
				s.cacheMu.Unlock()
			}
		}
	}

	s.cacheMu.Lock()
	s.activityIDs = activities
	s.systemIDs = system
	s.cacheMu.Unlock()

	s.logger.Info("notification cache hydrated",
		zap.Int("activities", len(activities)),
		zap.Int("system", len(system)),
		zap.Int("scheduled", len(requests)),
	)
}

// Forget drops ids from the cache, e.g. after a one-shot fired.
func (s *Service) Forget(ids ...string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	for key, cached := range s.activityIDs {
		if kept := without(cached, drop); len(kept) > 0 {
			s.activityIDs[key] = kept
		} else {
			delete(s.activityIDs, key)
		}
	}
	for key, cached := range s.systemIDs {
		if kept := without(cached, drop); len(kept) > 0 {
			s.systemIDs[key] = kept
		} else {
			delete(s.systemIDs, key)
		}
	}
}

func without(ids []string, drop map[string]bool) []string {
	var kept []string
	for _, id := range ids {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	return kept
}

// CachedActivityIDs returns the cached ids per activity.
func (s *Service) CachedActivityIDs() map[string][]string {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	out := make(map[string][]string, len(s.activityIDs))
	for k, v := range s.activityIDs {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (s *Service) track(ctx context.Context, name string, c notification.Category, props map[string]any) {
	s.tracker.Track(ctx, analytics.Event{Name: name, Category: c, Properties: props, At: s.clock.Now()})
}

// scheduledByTag lists live requests matching keep.
func (s *Service) scheduledByTag(ctx context.Context, keep func(notification.Data) bool) ([]string, error) {
	requests, err := s.scheduler.ListScheduled(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, req := range requests {
		data, err := notification.Parse(req.Content.Data)
		if err == nil && keep(data) {
			ids = append(ids, req.Identifier)
		}
	}
	return ids, nil
}

// cancelIDs cancels each id once and returns the ones the platform accepted.
func (s *Service) cancelIDs(ctx context.Context, ids []string) []string {
	sort.Strings(ids)
	var done []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if err := s.scheduler.Cancel(ctx, id); err != nil {
			s.logger.Debug("cancel failed", zap.String("id", id), zap.Error(err))
			continue
		}
		done = append(done, id)
	}
	return done
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock serializes the cancel-then-schedule sequence of one key.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
