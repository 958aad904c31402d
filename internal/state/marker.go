package state

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yegors/arrival-watch/pkg/logger"
)

// ArrivalMarker persists the earliest time worth polling again. The file holds
// one RFC 3339 timestamp (fractional seconds kept) followed by a newline.
type ArrivalMarker struct {
	path           string
	defaultHorizon time.Duration
	mu             sync.Mutex
	now            func() time.Time
	logger         *logger.Logger
}

// NewArrivalMarker creates a marker backed by the file at path. When nothing
// usable is stored, Get answers now + defaultHorizon.
func NewArrivalMarker(path string, defaultHorizon time.Duration, logger *logger.Logger) *ArrivalMarker {
	return &ArrivalMarker{
		path:           path,
		defaultHorizon: defaultHorizon,
		now:            time.Now,
		logger:         logger.Named("marker"),
	}
}

// WithClock overrides the time source; used by tests
func (m *ArrivalMarker) WithClock(now func() time.Time) *ArrivalMarker {
	m.now = now
	return m
}

// Get returns the persisted marker or the fallback horizon
func (m *ArrivalMarker) Get() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		fallback := m.now().Add(m.defaultHorizon)
		m.logger.Info("No arrival marker, using default horizon",
			logger.Time("marker", fallback),
			logger.String("reason", err.Error()),
		)
		return fallback
	}

	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		fallback := m.now().Add(m.defaultHorizon)
		m.logger.Warn("Corrupt arrival marker, using default horizon",
			logger.Time("marker", fallback),
			logger.Error(err),
		)
		return fallback
	}
	return t
}

// Peek returns the persisted marker and whether one exists. Unlike Get it
// neither falls back to the default horizon nor logs.
func (m *ArrivalMarker) Peek() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Save persists max(candidate, now) and returns the value written
func (m *ArrivalMarker) Save(candidate time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if candidate.Before(now) {
		candidate = now
	}

	if err := writeFileAtomic(m.path, []byte(candidate.Format(time.RFC3339Nano)+"\n")); err != nil {
		return time.Time{}, fmt.Errorf("failed to save arrival marker: %w", err)
	}

	m.logger.Debug("Arrival marker saved", logger.Time("marker", candidate))
	return candidate, nil
}
