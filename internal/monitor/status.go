package monitor

import "time"

// Phase is the poll loop state
type Phase string

const (
	PhaseAwaitWindow      Phase = "await_window"
	PhaseFetchAndEvaluate Phase = "fetch_and_evaluate"
	PhaseSleep            Phase = "sleep"
)

// CycleSummary describes the last full cycle
type CycleSummary struct {
	At       time.Time `json:"at"`
	Tracked  int       `json:"tracked"`
	Notified int       `json:"notified"`
	Skipped  int       `json:"skipped"`
	NextPoll time.Time `json:"next_poll,omitempty"`
	Err      string    `json:"error,omitempty"`
}

// Status is a point-in-time view of the loop
type Status struct {
	Phase     Phase         `json:"phase"`
	LastCycle *CycleSummary `json:"last_cycle,omitempty"`
}

// Status returns the current loop status
func (s *Service) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st := s.status
	if st.LastCycle != nil {
		c := *st.LastCycle
		st.LastCycle = &c
	}
	return st
}

func (s *Service) setPhase(p Phase) {
	s.statusMu.Lock()
	s.status.Phase = p
	s.statusMu.Unlock()
}

func (s *Service) recordCycle(c CycleSummary) {
	s.statusMu.Lock()
	s.status.LastCycle = &c
	s.statusMu.Unlock()
}
