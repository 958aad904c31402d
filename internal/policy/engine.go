package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/arrival-watch/internal/config"
	"github.com/yegors/arrival-watch/internal/flightradar"
	"github.com/yegors/arrival-watch/internal/schedule"
	"github.com/yegors/arrival-watch/pkg/logger"
)

// Ledger answers whether a registration was already notified
type Ledger interface {
	Contains(registration string) bool
}

// Engine applies the notification gates to one flight at a time
type Engine struct {
	ledger         Ledger
	source         flightradar.Source
	normalizer     *schedule.Normalizer
	airline        string
	afterDeparture time.Duration
	beforeArrival  time.Duration
	location       *time.Location
	now            func() time.Time
	logger         *logger.Logger
}

// NewEngine creates a policy engine
func NewEngine(ledger Ledger, source flightradar.Source, normalizer *schedule.Normalizer, airline string, cfg config.PolicyConfig, logger *logger.Logger) *Engine {
	return &Engine{
		ledger:         ledger,
		source:         source,
		normalizer:     normalizer,
		airline:        airline,
		afterDeparture: cfg.AfterDeparture(),
		beforeArrival:  cfg.BeforeArrival(),
		location:       cfg.Location(),
		now:            time.Now,
		logger:         logger.Named("policy"),
	}
}

// WithClock overrides the time source; used by tests
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Evaluate runs the gates in order; the first gate that fails decides the skip.
func (e *Engine) Evaluate(ctx context.Context, flight flightradar.Flight, entries []schedule.Entry) Decision {
	reg := e.normalizer.Registration(flight.Registration)
	flight.Registration = reg
	log := e.logger.WithRegistration(reg)

	if e.ledger.Contains(reg) {
		return e.skipped(log, skip(ReasonAlreadyNotified, flight))
	}

	found, err := e.source.ListFlights(ctx, flightradar.Query{
		Airline:      e.airline,
		Registration: reg,
		Details:      true,
	})
	if err != nil {
		d := skip(ReasonLookupFailed, flight)
		d.Err = err
		log.Warn("Flight detail lookup failed", logger.Error(err))
		return d
	}
	if len(found) == 0 {
		log.Info("Registration not found in live feed")
		return Decision{
			Action:   ActionNotify,
			Degraded: true,
			Flight:   flight,
			Lines:    []string{fmt.Sprintf("%s registration not found on FlightRadar24 currently.", escapeMarkdown(reg))},
		}
	}

	detail := found[0]
	detail.Registration = reg

	entry, ok := schedule.Match(entries, reg, detail.FlightNumber)
	if !ok {
		return e.skipped(log, skip(ReasonNotInSchedule, detail))
	}

	scheduledSkip := func(reason string) Decision {
		d := skip(reason, detail)
		d.Entry = entry
		return e.skipped(log, d)
	}

	now := e.now()
	if detail.RealDeparture != nil && now.Sub(*detail.RealDeparture) < e.afterDeparture {
		return scheduledSkip(ReasonRecentlyDeparted)
	}

	if detail.EstimatedArrival == nil {
		return scheduledSkip(ReasonNoETA)
	}

	minutes := int(detail.EstimatedArrival.Sub(now) / time.Minute)
	if minutes > int(e.beforeArrival/time.Minute) {
		return scheduledSkip(ReasonTooFarOut)
	}

	return Decision{
		Action: ActionNotify,
		Flight: detail,
		Entry:  entry,
		Lines:  e.payload(detail, entry, minutes),
	}
}

func (e *Engine) skipped(log *logger.Logger, d Decision) Decision {
	log.Debug("Skipping flight", logger.String("reason", d.Reason))
	return d
}

func (e *Engine) payload(f flightradar.Flight, entry schedule.Entry, minutes int) []string {
	if minutes < 0 {
		minutes = 0
	}

	lines := make([]string, 0, 7)
	if entry.Owner != "" {
		lines = append(lines, fmt.Sprintf("Owner: *%s*", escapeMarkdown(entry.Owner)))
	}
	lines = append(lines,
		fmt.Sprintf("Flight *%s*", escapeMarkdown(f.Callsign)),
		fmt.Sprintf("Flight number *%s*", escapeMarkdown(f.FlightNumber)),
		fmt.Sprintf("Registration *%s*", escapeMarkdown(f.Registration)),
		fmt.Sprintf("From: *%s*, To: *%s*",
			escapeMarkdown(orCode(f.OriginName, f.OriginIATA)),
			escapeMarkdown(orCode(f.DestinationName, f.DestinationIATA))),
		fmt.Sprintf("Altitude: *%d ft*, Speed: *%d kts*", f.Altitude, f.GroundSpeed),
		fmt.Sprintf("ETA: *%s*, Time remaining: *%d mins*", f.EstimatedArrival.In(e.location).Format("15:04"), minutes),
	)
	return lines
}

// markdownEscaper neutralises the Telegram Markdown entity characters so
// spreadsheet and feed text cannot break the message formatting.
var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func orCode(name, code string) string {
	if name != "" {
		return name
	}
	return code
}
