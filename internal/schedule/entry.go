package schedule

import (
	"regexp"
	"strings"
)

// Entry is one monitored aircraft from the schedule file
type Entry struct {
	Registration string `json:"registration"`
	FlightNumber string `json:"flight_number,omitempty"`
	Owner        string `json:"owner,omitempty"`
}

var (
	hyphenatedRegistration = regexp.MustCompile(`^[A-Z0-9]{1,3}-[A-Z0-9]{1,6}$`)
	bareRegistration       = regexp.MustCompile(`^[A-Z0-9]{2,7}$`)
)

// Normalizer rewrites raw registration strings into the tracker's canonical
// hyphenated form ("VNA323" -> "VN-A323").
type Normalizer struct {
	prefixes []string
}

// NewNormalizer creates a normalizer for the given country prefixes
func NewNormalizer(prefixes []string) *Normalizer {
	n := &Normalizer{}
	for _, p := range prefixes {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			n.prefixes = append(n.prefixes, p)
		}
	}
	return n
}

// Registration returns the canonical form of raw. The result may still be
// malformed; check it with ValidRegistration.
func (n *Normalizer) Registration(raw string) string {
	reg := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if reg == "" || strings.Contains(reg, "-") {
		return reg
	}
	for _, prefix := range n.prefixes {
		if strings.HasPrefix(reg, prefix) && len(reg) > len(prefix) {
			return prefix + "-" + reg[len(prefix):]
		}
	}
	return reg
}

// ValidRegistration reports whether reg is a well-formed canonical registration.
// Valid registrations never contain the ledger delimiter or whitespace. The
// unhyphenated form must carry a digit, which rules out bare country prefixes
// ("VN") and header words ("REG", "TBA").
func ValidRegistration(reg string) bool {
	if hyphenatedRegistration.MatchString(reg) {
		return true
	}
	return bareRegistration.MatchString(reg) && strings.ContainsAny(reg, "0123456789")
}

// NormalizeFlightNumber upper-cases and strips whitespace ("vn 123" -> "VN123")
func NormalizeFlightNumber(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), ""))
}

// joinOwner collapses a semicolon-delimited owner cell into one display value
func joinOwner(raw string) string {
	parts := strings.Split(raw, ";")
	owners := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			owners = append(owners, p)
		}
	}
	return strings.Join(owners, ", ")
}

// Registrations returns the set of registrations present in entries
func Registrations(entries []Entry) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		set[e.Registration] = struct{}{}
	}
	return set
}

// Match finds the entry for registration whose flight number (when the entry
// has one) equals flightNumber.
func Match(entries []Entry, registration, flightNumber string) (Entry, bool) {
	flightNumber = NormalizeFlightNumber(flightNumber)
	for _, e := range entries {
		if e.Registration != registration {
			continue
		}
		if e.FlightNumber != "" && e.FlightNumber != flightNumber {
			continue
		}
		return e, true
	}
	return Entry{}, false
}
