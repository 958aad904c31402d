package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/yegors/arrival-watch/internal/monitor"
	"github.com/yegors/arrival-watch/internal/storage/sqlite"
	"github.com/yegors/arrival-watch/internal/tracking"
	"github.com/yegors/arrival-watch/pkg/logger"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 500
)

// LedgerReader exposes the notified registrations
type LedgerReader interface {
	Get() map[string]struct{}
}

// MarkerReader exposes the persisted arrival marker without any fallback
type MarkerReader interface {
	Peek() (time.Time, bool)
}

// FlightSnapshotter exposes the cached flights
type FlightSnapshotter interface {
	Snapshot() tracking.Snapshot
}

// StatusProvider exposes the poll loop state
type StatusProvider interface {
	Status() monitor.Status
}

// NotificationHistory queries stored notifications
type NotificationHistory interface {
	GetRecentNotifications(ctx context.Context, limit int) ([]*sqlite.NotificationRecord, error)
	GetNotificationsByRegistration(ctx context.Context, registration string, limit int) ([]*sqlite.NotificationRecord, error)
}

// Handler serves the read-only status API
type Handler struct {
	ledger  LedgerReader
	marker  MarkerReader
	flights FlightSnapshotter
	status  StatusProvider
	history NotificationHistory // nil when history storage is disabled

	startedAt time.Time
	now       func() time.Time
	logger    *logger.Logger
}

// NewHandler creates a new handler. history may be nil.
func NewHandler(ledger LedgerReader, marker MarkerReader, flights FlightSnapshotter, status StatusProvider, history NotificationHistory, logger *logger.Logger) *Handler {
	return &Handler{
		ledger:    ledger,
		marker:    marker,
		flights:   flights,
		status:    status,
		history:   history,
		startedAt: time.Now(),
		now:       time.Now,
		logger:    logger.Named("api-handler"),
	}
}

// GetHealth reports liveness
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": h.now().Sub(h.startedAt).Round(time.Second).String(),
	})
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Phase         monitor.Phase         `json:"phase"`
	LastCycle     *monitor.CycleSummary `json:"last_cycle,omitempty"`
	NextPoll      *time.Time            `json:"next_poll,omitempty"` // absent until the first full cycle
	NextPollHuman string                `json:"next_poll_human,omitempty"`
	Notified      int                   `json:"notified"`
	CachedFlights int                   `json:"cached_flights"`
	LastFetched   *time.Time            `json:"last_fetched,omitempty"`
}

// GetStatus reports the loop phase, the marker and cache occupancy
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.status.Status()
	snap := h.flights.Snapshot()

	resp := StatusResponse{
		Phase:         st.Phase,
		LastCycle:     st.LastCycle,
		Notified:      len(h.ledger.Get()),
		CachedFlights: len(snap.Flights),
	}
	if next, ok := h.marker.Peek(); ok {
		resp.NextPoll = &next
		resp.NextPollHuman = humanize.RelTime(next, h.now(), "ago", "from now")
	}
	if !snap.LastFetched.IsZero() {
		resp.LastFetched = &snap.LastFetched
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetLedger lists the registrations already notified, sorted
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	set := h.ledger.Get()
	regs := make([]string, 0, len(set))
	for reg := range set {
		regs = append(regs, reg)
	}
	sort.Strings(regs)

	writeJSON(w, http.StatusOK, map[string]any{
		"registrations": regs,
		"count":         len(regs),
	})
}

// GetFlights returns the cached flight list
func (h *Handler) GetFlights(w http.ResponseWriter, r *http.Request) {
	snap := h.flights.Snapshot()
	resp := map[string]any{
		"flights": snap.Flights,
		"count":   len(snap.Flights),
		"changes": snap.Changes,
	}
	if !snap.LastFetched.IsZero() {
		resp["last_fetched"] = snap.LastFetched
		resp["age"] = humanize.RelTime(snap.LastFetched, h.now(), "ago", "from now")
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetNotifications returns the most recent notification records
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "notification history is disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := h.history.GetRecentNotifications(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to query notifications", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": records,
		"count":         len(records),
	})
}

// GetNotificationsByRegistration returns notification records for one aircraft
func (h *Handler) GetNotificationsByRegistration(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "notification history is disabled")
		return
	}
	registration := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "registration")))
	if registration == "" {
		writeError(w, http.StatusBadRequest, "registration is required")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := h.history.GetNotificationsByRegistration(r.Context(), registration, limit)
	if err != nil {
		h.logger.Error("Failed to query notifications",
			logger.String("registration", registration),
			logger.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to query notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registration":  registration,
		"notifications": records,
		"count":         len(records),
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultNotificationLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
