// Package store holds the in-memory domain snapshot the notification engine
// reacts to. Preferences are persisted; arcs, goals and activities are
// pushed in by the app.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/domain"
	"github.com/lalithlochan/nudge/internal/kv"
)

const preferencesKey = "prefs:notifications"

// Listener observes every state change. It runs synchronously after the
// mutation is applied, in subscription order.
type Listener func(ctx context.Context, prev, next domain.State)

// Store is the domain store.
type Store struct {
	mu        sync.RWMutex
	state     domain.State
	listeners map[int]Listener
	nextID    int

	// notifyMu serializes listener fan-out so listeners observe changes in
	// the order they were made.
	notifyMu sync.Mutex

	kv     kv.Store
	logger *zap.Logger
}

// New creates a store, restoring persisted preferences. A missing or
// unreadable record yields the defaults.
func New(ctx context.Context, kvStore kv.Store, logger *zap.Logger) *Store {
	s := &Store{
		state:     domain.State{Preferences: domain.DefaultPreferences()},
		listeners: make(map[int]Listener),
		kv:        kvStore,
		logger:    logger,
	}

	raw, err := kvStore.Get(ctx, preferencesKey)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		logger.Warn("failed to load notification preferences, using defaults", zap.Error(err))
	default:
		var prefs domain.Preferences
		if err := json.Unmarshal(raw, &prefs); err != nil {
			logger.Warn("discarding unreadable notification preferences", zap.Error(err))
		} else {
			s.state.Preferences = prefs
		}
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Subscribe registers fn and returns its unsubscribe function.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) mutate(ctx context.Context, fn func(*domain.State)) (prev, next domain.State) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev = s.state.Clone()
	fn(&s.state)
	next = s.state.Clone()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(ctx, prev, next)
	}
	return prev, next
}

// ReplaceDomain swaps arcs, goals, activities and day markers. Preferences
// are left alone; they change only through SetNotificationPreferences.
func (s *Store) ReplaceDomain(ctx context.Context, next domain.State) {
	s.mutate(ctx, func(st *domain.State) {
		prefs := st.Preferences
		*st = next.Clone()
		st.Preferences = prefs
	})
}

// UpsertActivity adds or replaces one activity.
func (s *Store) UpsertActivity(ctx context.Context, a domain.Activity) {
	s.mutate(ctx, func(st *domain.State) {
		for i := range st.Activities {
			if st.Activities[i].ID == a.ID {
				st.Activities[i] = a
				return
			}
		}
		st.Activities = append(st.Activities, a)
	})
}

// RemoveActivity deletes one activity. Returns false if it did not exist.
func (s *Store) RemoveActivity(ctx context.Context, id string) bool {
	found := false
	s.mutate(ctx, func(st *domain.State) {
		kept := st.Activities[:0]
		for _, a := range st.Activities {
			if a.ID == id {
				found = true
				continue
			}
			kept = append(kept, a)
		}
		st.Activities = kept
	})
	return found
}

// SetNotificationPreferences is the single entry point for preference
// changes. Persistence is best-effort; the in-memory value always updates.
func (s *Store) SetNotificationPreferences(ctx context.Context, update func(domain.Preferences) domain.Preferences) domain.Preferences {
	_, next := s.mutate(ctx, func(st *domain.State) {
		st.Preferences = update(st.Preferences)
	})

	raw, err := json.Marshal(next.Preferences)
	if err == nil {
		err = s.kv.Set(ctx, preferencesKey, raw)
	}
	if err != nil {
		s.logger.Warn("failed to persist notification preferences", zap.Error(err))
	}
	return next.Preferences
}
