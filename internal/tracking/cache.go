package tracking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yegors/arrival-watch/internal/config"
	"github.com/yegors/arrival-watch/internal/flightradar"
	"github.com/yegors/arrival-watch/internal/schedule"
	"github.com/yegors/arrival-watch/pkg/logger"
)

// Snapshot is a copy of the cache contents
type Snapshot struct {
	Flights     []flightradar.Flight `json:"flights"`
	LastFetched time.Time            `json:"last_fetched"`
	// Changes between the last two successful fetches
	Changes []Change `json:"changes"`
}

// Cache holds the filtered list of scheduled flights for at most one TTL.
// The upstream list is fetched on first use and then once per TTL, even when
// the last fetch matched nothing.
type Cache struct {
	source         flightradar.Source
	normalizer     *schedule.Normalizer
	airline        string
	ttl            time.Duration
	maxAltitudeFt  int
	arrivalAirport string
	detector       *ChangeDetector

	mu          sync.RWMutex
	flights     []flightradar.Flight
	lastFetched time.Time
	changes     []Change

	now    func() time.Time
	logger *logger.Logger
}

// NewCache creates a flight cache over source
func NewCache(source flightradar.Source, normalizer *schedule.Normalizer, airline string, cfg config.TrackingConfig, logger *logger.Logger) *Cache {
	return &Cache{
		source:         source,
		normalizer:     normalizer,
		airline:        airline,
		ttl:            cfg.CacheTTL(),
		maxAltitudeFt:  cfg.MaxAltitudeFt,
		arrivalAirport: strings.ToUpper(strings.TrimSpace(cfg.ArrivalAirport)),
		detector:       NewChangeDetector(logger),
		now:            time.Now,
		logger:         logger.Named("tracking"),
	}
}

// WithClock overrides the time source; used by tests
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// GetTrackingFlights returns the scheduled flights currently worth tracking.
// A fetch error leaves the previous contents in place.
func (c *Cache) GetTrackingFlights(ctx context.Context, entries []schedule.Entry) ([]flightradar.Flight, error) {
	now := c.now()

	c.mu.RLock()
	fresh := !c.lastFetched.IsZero() && now.Sub(c.lastFetched) <= c.ttl
	cached := c.flights
	c.mu.RUnlock()
	if fresh {
		return cached, nil
	}

	all, err := c.source.ListFlights(ctx, flightradar.Query{Airline: c.airline})
	if err != nil {
		return nil, fmt.Errorf("failed to list flights for %s: %w", c.airline, err)
	}

	scheduled := schedule.Registrations(entries)
	matched := make([]flightradar.Flight, 0)
	for _, f := range all {
		f.Registration = c.normalizer.Registration(f.Registration)
		if _, ok := scheduled[f.Registration]; !ok {
			continue
		}
		if !c.passesFilter(f) {
			continue
		}
		c.logger.Info("Tracking flight",
			logger.String("registration", f.Registration),
			logger.String("callsign", f.Callsign),
			logger.String("destination", f.DestinationIATA),
			logger.Int("altitude_ft", f.Altitude),
		)
		matched = append(matched, f)
	}

	changes := c.detector.DetectChanges(matched)

	c.mu.Lock()
	c.flights = matched
	c.lastFetched = now
	c.changes = changes
	c.mu.Unlock()

	return matched, nil
}

// passesFilter keeps descending/low flights headed for the arrival airport
func (c *Cache) passesFilter(f flightradar.Flight) bool {
	if f.Altitude <= 0 || f.Altitude >= c.maxAltitudeFt {
		return false
	}
	if c.arrivalAirport != "" && !strings.EqualFold(f.DestinationIATA, c.arrivalAirport) {
		return false
	}
	return true
}

// Len returns the number of cached flights
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.flights)
}

// Snapshot returns a copy of the cache contents
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	flights := make([]flightradar.Flight, len(c.flights))
	copy(flights, c.flights)
	changes := make([]Change, len(c.changes))
	copy(changes, c.changes)
	return Snapshot{Flights: flights, LastFetched: c.lastFetched, Changes: changes}
}
