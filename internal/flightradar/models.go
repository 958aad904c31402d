package flightradar

import (
	"context"
	"time"
)

// Flight is one live flight as reported by the tracker
type Flight struct {
	ID               string     `json:"id"`
	Registration     string     `json:"registration"`
	Callsign         string     `json:"callsign"`
	FlightNumber     string     `json:"flight_number"`
	AircraftCode     string     `json:"aircraft_code,omitempty"`
	OriginIATA       string     `json:"origin_iata"`
	OriginName       string     `json:"origin_name,omitempty"`
	DestinationIATA  string     `json:"destination_iata"`
	DestinationName  string     `json:"destination_name,omitempty"`
	Altitude         int        `json:"altitude"`     // feet
	GroundSpeed      int        `json:"ground_speed"` // knots
	OnGround         bool       `json:"on_ground"`
	RealDeparture    *time.Time `json:"real_departure,omitempty"`
	EstimatedArrival *time.Time `json:"estimated_arrival,omitempty"`
}

// Query selects flights from the live feed
type Query struct {
	Airline      string // ICAO airline code, e.g. HVN
	Registration string // optional; narrows the feed to one aircraft
	Details      bool   // fetch per-flight detail (airport names, times)
}

// Source lists live flights. Implementations own their timeouts.
type Source interface {
	ListFlights(ctx context.Context, q Query) ([]Flight, error)
}
