package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yegors/arrival-watch/pkg/logger"
)

const ledgerVersion = 1

// ledgerRecord is the on-disk form of the ledger:
//
//	{"version":1,"updated_at":"2024-01-02T15:04:05Z","registrations":["VN-A323"]}
//
// Files written by older builds hold a single comma-joined line instead and are
// still accepted on read.
type ledgerRecord struct {
	Version       int       `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
	Registrations []string  `json:"registrations"`
}

// Ledger is the persisted set of registrations that were already notified.
// An entry stays until the registration drops out of the live feed.
type Ledger struct {
	path   string
	mu     sync.Mutex
	now    func() time.Time
	logger *logger.Logger
}

// NewLedger creates a ledger backed by the file at path
func NewLedger(path string, logger *logger.Logger) *Ledger {
	return &Ledger{
		path:   path,
		now:    time.Now,
		logger: logger.Named("ledger"),
	}
}

// WithClock overrides the time source; used by tests
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Get returns the persisted set. A missing or unreadable file yields an empty set.
func (l *Ledger) Get() map[string]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Contains reports whether registration is in the ledger
func (l *Ledger) Contains(registration string) bool {
	_, ok := l.Get()[registration]
	return ok
}

// Sync prunes every entry that is not in visible. A nil visible set is a no-op.
func (l *Ledger) Sync(visible map[string]struct{}) error {
	if visible == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.load()
	var pruned []string
	for reg := range current {
		if _, ok := visible[reg]; !ok {
			delete(current, reg)
			pruned = append(pruned, reg)
		}
	}
	if len(pruned) == 0 {
		return nil
	}

	sort.Strings(pruned)
	l.logger.Info("Pruned registrations no longer visible", logger.Strings("registrations", pruned))
	return l.save(current)
}

// Track adds newly notified registrations. Only the registrations that were not
// already present are logged; tracking the same set twice changes nothing.
func (l *Ledger) Track(newly map[string]struct{}) error {
	if len(newly) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.load()
	var added []string
	for reg := range newly {
		if !validEntry(reg) {
			l.logger.Warn("Refusing to track malformed registration", logger.String("registration", reg))
			continue
		}
		if _, ok := current[reg]; ok {
			continue
		}
		current[reg] = struct{}{}
		added = append(added, reg)
	}
	if len(added) == 0 {
		return nil
	}

	if err := l.save(current); err != nil {
		return err
	}
	sort.Strings(added)
	l.logger.Info("Tracked newly notified registrations", logger.Strings("registrations", added))
	return nil
}

func (l *Ledger) load() map[string]struct{} {
	set := make(map[string]struct{})

	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("Failed to read ledger, starting empty", logger.String("path", l.path), logger.Error(err))
		}
		return set
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return set
	}

	if data[0] != '{' {
		for _, reg := range strings.Split(string(data), ",") {
			if reg = strings.TrimSpace(reg); validEntry(reg) {
				set[reg] = struct{}{}
			}
		}
		return set
	}

	var rec ledgerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		l.logger.Warn("Corrupt ledger, starting empty", logger.String("path", l.path), logger.Error(err))
		return set
	}
	for _, reg := range rec.Registrations {
		if validEntry(reg) {
			set[reg] = struct{}{}
		}
	}
	return set
}

func (l *Ledger) save(set map[string]struct{}) error {
	regs := make([]string, 0, len(set))
	for reg := range set {
		regs = append(regs, reg)
	}
	sort.Strings(regs)

	data, err := json.Marshal(ledgerRecord{
		Version:       ledgerVersion,
		UpdatedAt:     l.now().UTC(),
		Registrations: regs,
	})
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := writeFileAtomic(l.path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return nil
}

// validEntry rejects values that would not survive the legacy comma-joined format
func validEntry(reg string) bool {
	return reg != "" && !strings.ContainsAny(reg, ", \t\r\n")
}
