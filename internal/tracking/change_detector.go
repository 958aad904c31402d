package tracking

import (
	"sort"

	"github.com/yegors/arrival-watch/internal/flightradar"
	"github.com/yegors/arrival-watch/pkg/logger"
)

// Change types
const (
	ChangeAppeared    = "appeared"
	ChangeDisappeared = "disappeared"
)

// Change is a tracked registration entering or leaving the filtered feed
type Change struct {
	Type         string              `json:"type"`
	Registration string              `json:"registration"`
	Flight       *flightradar.Flight `json:"flight,omitempty"` // nil for disappeared
}

// ChangeDetector tracks which registrations are visible between fetches
type ChangeDetector struct {
	previous map[string]flightradar.Flight
	logger   *logger.Logger
}

// NewChangeDetector creates a new change detector
func NewChangeDetector(logger *logger.Logger) *ChangeDetector {
	return &ChangeDetector{
		previous: make(map[string]flightradar.Flight),
		logger:   logger.Named("changes"),
	}
}

// DetectChanges compares flights with the previous fetch and returns the
// registrations that appeared or disappeared, sorted by registration.
func (cd *ChangeDetector) DetectChanges(flights []flightradar.Flight) []Change {
	changes := []Change{}
	current := make(map[string]flightradar.Flight, len(flights))
	for _, f := range flights {
		current[f.Registration] = f
	}

	for reg, f := range current {
		if _, seen := cd.previous[reg]; !seen {
			f := f
			changes = append(changes, Change{Type: ChangeAppeared, Registration: reg, Flight: &f})
		}
	}
	for reg := range cd.previous {
		if _, still := current[reg]; !still {
			changes = append(changes, Change{Type: ChangeDisappeared, Registration: reg})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Registration < changes[j].Registration
	})

	for _, ch := range changes {
		cd.logger.Info("Tracked aircraft "+ch.Type, logger.String("registration", ch.Registration))
	}

	cd.previous = current
	return changes
}
