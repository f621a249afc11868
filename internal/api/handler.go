package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/domain"
	"github.com/lalithlochan/nudge/internal/ledger"
	"github.com/lalithlochan/nudge/internal/notification"
	"github.com/lalithlochan/nudge/internal/notifier"
	"github.com/lalithlochan/nudge/internal/platform"
	"github.com/lalithlochan/nudge/internal/reconcile"
)

// StateStore is the domain store the API edits.
type StateStore interface {
	Snapshot() domain.State
	ReplaceDomain(ctx context.Context, next domain.State)
	UpsertActivity(ctx context.Context, a domain.Activity)
	RemoveActivity(ctx context.Context, id string) bool
}

// Notifier is the part of the notification service exposed over HTTP.
type Notifier interface {
	ApplySettings(ctx context.Context, next domain.Preferences) []notifier.Result
	EnsurePermissionWithRationale(ctx context.Context, rationale string) notifier.PermissionResult
	HandleResponse(ctx context.Context, data map[string]any, openedAt time.Time) (notification.Route, bool)
}

// Reconciler runs a reconciliation pass on demand.
type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Report, error)
}

// Lister reads the platform's scheduled list.
type Lister interface {
	ListScheduled(ctx context.Context) ([]platform.Request, error)
}

// LedgerReader reads the delivery ledger.
type LedgerReader interface {
	LoadSystem(ctx context.Context, c notification.Category) (ledger.Entry, error)
	LoadActivityReminders(ctx context.Context) (map[string]ledger.Entry, error)
	LoadNudges(ctx context.Context) (ledger.SystemNudges, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// PreferencesResponse is returned after applying settings.
type PreferencesResponse struct {
	Preferences domain.Preferences `json:"preferences"`
	Results     []notifier.Result  `json:"results"`
}

// PermissionRequest is the body of POST /v1/permissions.
type PermissionRequest struct {
	Rationale string `json:"rationale"`
}

// OpenRequest is the body of POST /v1/notifications/open.
type OpenRequest struct {
	Data     map[string]any `json:"data"`
	OpenedAt *time.Time     `json:"openedAt,omitempty"`
}

// LedgerResponse is the full ledger dump.
type LedgerResponse struct {
	System     map[notification.Category]ledger.Entry `json:"system"`
	Activities map[string]ledger.Entry                `json:"activities"`
	Nudges     ledger.SystemNudges                    `json:"nudges"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger     *zap.Logger
	store      StateStore
	notifier   Notifier
	reconciler Reconciler
	scheduler  Lister
	ledger     LedgerReader
	now        func() time.Time
}

// Deps bundles the collaborators of a Handler.
type Deps struct {
	Store      StateStore
	Notifier   Notifier
	Reconciler Reconciler
	Scheduler  Lister
	Ledger     LedgerReader
	Now        func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, deps Deps) *Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handler{
		logger:     logger,
		store:      deps.Store,
		notifier:   deps.Notifier,
		reconciler: deps.Reconciler,
		scheduler:  deps.Scheduler,
		ledger:     deps.Ledger,
		now:        deps.Now,
	}
}

// Mount registers the /v1 routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireJSON)

		r.Get("/state", h.GetState)
		r.Put("/state", h.ReplaceState)
		r.Put("/activities/{id}", h.PutActivity)
		r.Delete("/activities/{id}", h.DeleteActivity)
		r.Put("/preferences", h.PutPreferences)
		r.Post("/permissions", h.EnsurePermission)
		r.Get("/scheduled", h.ListScheduled)
		r.Post("/notifications/open", h.OpenNotification)
		r.Post("/reconcile", h.Reconcile)
		r.Get("/ledger", h.GetLedger)
	})
}

// GetState handles GET /v1/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.Snapshot())
}

// ReplaceState handles PUT /v1/state
// Arcs, goals, activities and day markers are replaced; preferences in the
// body are ignored.
func (h *Handler) ReplaceState(w http.ResponseWriter, r *http.Request) {
	var next domain.State
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	seen := make(map[string]bool, len(next.Activities))
	for _, a := range next.Activities {
		if a.ID == "" || seen[a.ID] {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid activities", "every activity needs a unique id")
			return
		}
		seen[a.ID] = true
	}

	h.store.ReplaceDomain(r.Context(), next)

	h.logger.Info("domain state replaced",
		zap.Int("arcs", len(next.Arcs)),
		zap.Int("goals", len(next.Goals)),
		zap.Int("activities", len(next.Activities)),
	)
	h.writeJSON(w, http.StatusOK, h.store.Snapshot())
}

// PutActivity handles PUT /v1/activities/{id}
func (h *Handler) PutActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var a domain.Activity
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if a.ID != "" && a.ID != id {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "ID mismatch", "body id must match the path")
		return
	}
	a.ID = id
	if a.Status == "" {
		a.Status = domain.ActivityPlanned
	}

	h.store.UpsertActivity(r.Context(), a)

	h.logger.Info("activity saved",
		zap.String("activity_id", id),
		zap.String("status", string(a.Status)),
	)
	saved, _ := h.store.Snapshot().Activity(id)
	h.writeJSON(w, http.StatusOK, saved)
}

// DeleteActivity handles DELETE /v1/activities/{id}
func (h *Handler) DeleteActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !h.store.RemoveActivity(r.Context(), id) {
		h.writeError(w, http.StatusNotFound, "not_found", "Activity not found", "")
		return
	}

	h.logger.Info("activity removed", zap.String("activity_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// PutPreferences handles PUT /v1/preferences
func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs domain.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	for field, value := range map[string]string{
		"dailyShowUpTime": prefs.DailyShowUpTime,
		"dailyFocusTime":  prefs.DailyFocusTime,
		"goalNudgeTime":   prefs.GoalNudgeTime,
	} {
		if value == "" {
			continue
		}
		if _, err := domain.ParseTimeOfDay(value); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid time", field+" must be HH:MM")
			return
		}
	}

	results := h.notifier.ApplySettings(r.Context(), prefs)

	h.writeJSON(w, http.StatusOK, PreferencesResponse{
		Preferences: h.store.Snapshot().Preferences,
		Results:     results,
	})
}

// EnsurePermission handles POST /v1/permissions
func (h *Handler) EnsurePermission(w http.ResponseWriter, r *http.Request) {
	var req PermissionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
			return
		}
	}

	h.writeJSON(w, http.StatusOK, h.notifier.EnsurePermissionWithRationale(r.Context(), req.Rationale))
}

// ListScheduled handles GET /v1/scheduled
func (h *Handler) ListScheduled(w http.ResponseWriter, r *http.Request) {
	requests, err := h.scheduler.ListScheduled(r.Context())
	if err != nil {
		h.logger.Error("failed to list scheduled notifications", zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "platform_error", "Failed to list scheduled notifications", "")
		return
	}
	if requests == nil {
		requests = []platform.Request{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"notifications": requests,
		"count":         len(requests),
	})
}

// OpenNotification handles POST /v1/notifications/open
func (h *Handler) OpenNotification(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	openedAt := h.now()
	if req.OpenedAt != nil {
		openedAt = *req.OpenedAt
	}

	route, ok := h.notifier.HandleResponse(r.Context(), req.Data, openedAt)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unreadable notification data", "data must carry a known type and its ids")
		return
	}
	h.writeJSON(w, http.StatusOK, route)
}

// Reconcile handles POST /v1/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("reconciliation failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "reconcile_error", "Reconciliation failed", err.Error())
		return
	}

	status := http.StatusOK
	if report.Skipped {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, report)
}

// GetLedger handles GET /v1/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := LedgerResponse{System: make(map[notification.Category]ledger.Entry)}

	for _, c := range notification.SystemCategories {
		entry, err := h.ledger.LoadSystem(ctx, c)
		if err != nil {
			h.ledgerError(w, err)
			return
		}
		resp.System[c] = entry
	}

	activities, err := h.ledger.LoadActivityReminders(ctx)
	if err != nil {
		h.ledgerError(w, err)
		return
	}
	resp.Activities = activities

	nudges, err := h.ledger.LoadNudges(ctx)
	if err != nil {
		h.ledgerError(w, err)
		return
	}
	resp.Nudges = nudges

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ledgerError(w http.ResponseWriter, err error) {
	h.logger.Error("failed to read ledger", zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "storage_error", "Failed to read ledger", "")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
