package sqlite

import "time"

// NotificationRecord is one delivery attempt of an arrival notification
type NotificationRecord struct {
	ID           string    `json:"id"`
	Registration string    `json:"registration"`
	Callsign     string    `json:"callsign,omitempty"`
	FlightNumber string    `json:"flight_number,omitempty"`
	Owner        string    `json:"owner,omitempty"`
	Target       string    `json:"target"`
	Degraded     bool      `json:"degraded"`
	Committed    bool      `json:"committed"`
	Delivered    bool      `json:"delivered"`
	Error        string    `json:"error,omitempty"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}
