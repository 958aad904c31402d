package flightradar

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"github.com/yegors/arrival-watch/internal/config"
	"github.com/yegors/arrival-watch/pkg/logger"
)

// Positions in a feed.js flight array
const (
	fieldAircraftCode = 8
	fieldRegistration = 9
	fieldAltitude     = 4
	fieldGroundSpeed  = 5
	fieldOrigin       = 11
	fieldDestination  = 12
	fieldNumber       = 13
	fieldOnGround     = 14
	fieldCallsign     = 16
	minFeedFields     = 17
)

// feedParams mirrors what the public web map asks for
var feedParams = map[string]string{
	"faa":       "1",
	"satellite": "1",
	"mlat":      "1",
	"flarm":     "1",
	"adsb":      "1",
	"gnd":       "1",
	"air":       "1",
	"vehicles":  "1",
	"estimated": "1",
	"maxage":    "14400",
	"gliders":   "1",
	"stats":     "1",
	"limit":     "5000",
}

// Client fetches live flights from the FlightRadar24 public endpoints
type Client struct {
	httpClient *http.Client
	feedURL    string
	detailsURL string
	userAgent  string
	logger     *logger.Logger
}

// NewClient creates a new flight-data client
func NewClient(cfg config.FlightRadarConfig, logger *logger.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout(),
			Transport: transport,
		},
		feedURL:    cfg.FeedURL,
		detailsURL: cfg.DetailsURL,
		userAgent:  cfg.UserAgent,
		logger:     logger.Named("flightradar"),
	}
}

// ListFlights returns the flights matching q. With q.Details set, every flight
// is enriched with a second request to the detail endpoint.
func (c *Client) ListFlights(ctx context.Context, q Query) ([]Flight, error) {
	params := url.Values{}
	for k, v := range feedParams {
		params.Set(k, v)
	}
	if q.Airline != "" {
		params.Set("airline", q.Airline)
	}
	if q.Registration != "" {
		params.Set("reg", q.Registration)
	}

	body, err := c.get(ctx, c.feedURL, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch flight feed: %w", err)
	}

	flights, err := parseFeed(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Fetched flight feed",
		logger.String("airline", q.Airline),
		logger.String("registration", q.Registration),
		logger.Int("flight_count", len(flights)),
	)

	if !q.Details {
		return flights, nil
	}

	for i := range flights {
		if err := c.fetchDetails(ctx, &flights[i]); err != nil {
			return nil, fmt.Errorf("failed to fetch details for flight %s: %w", flights[i].ID, err)
		}
	}
	return flights, nil
}

func (c *Client) fetchDetails(ctx context.Context, f *Flight) error {
	params := url.Values{}
	params.Set("version", "1.5")
	params.Set("flight", f.ID)

	body, err := c.get(ctx, c.detailsURL, params)
	if err != nil {
		return err
	}
	return applyDetails(f, body)
}

func (c *Client) get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Unexpected status code",
			logger.Int("status_code", resp.StatusCode),
			logger.String("url", u.Path),
		)
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// parseFeed decodes feed.js: an object keyed by flight id whose array values
// describe one flight each. Non-array members (full_count, version, stats) are skipped.
func parseFeed(body []byte) ([]Flight, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to parse flight feed: invalid JSON")
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("failed to parse flight feed: expected object, got %s", parsed.Type)
	}

	flights := []Flight{}
	parsed.ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			return true
		}
		fields := value.Array()
		if len(fields) < minFeedFields {
			return true
		}
		flights = append(flights, Flight{
			ID:              key.String(),
			Registration:    fields[fieldRegistration].String(),
			Callsign:        fields[fieldCallsign].String(),
			FlightNumber:    fields[fieldNumber].String(),
			AircraftCode:    fields[fieldAircraftCode].String(),
			OriginIATA:      fields[fieldOrigin].String(),
			DestinationIATA: fields[fieldDestination].String(),
			Altitude:        int(fields[fieldAltitude].Int()),
			GroundSpeed:     int(fields[fieldGroundSpeed].Int()),
			OnGround:        fields[fieldOnGround].Int() == 1,
		})
		return true
	})
	return flights, nil
}

// applyDetails merges a clickhandler response into f
func applyDetails(f *Flight, body []byte) error {
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("failed to parse flight details: invalid JSON")
	}
	d := gjson.ParseBytes(body)

	if v := d.Get("airport.origin.name"); v.Exists() {
		f.OriginName = v.String()
	}
	if v := d.Get("airport.destination.name"); v.Exists() {
		f.DestinationName = v.String()
	}
	if f.OriginIATA == "" {
		f.OriginIATA = d.Get("airport.origin.code.iata").String()
	}
	if f.DestinationIATA == "" {
		f.DestinationIATA = d.Get("airport.destination.code.iata").String()
	}
	if f.Registration == "" {
		f.Registration = d.Get("aircraft.registration").String()
	}
	if f.Callsign == "" {
		f.Callsign = d.Get("identification.callsign").String()
	}
	if f.FlightNumber == "" {
		f.FlightNumber = d.Get("identification.number.default").String()
	}

	f.RealDeparture = unixTime(d.Get("time.real.departure"))
	f.EstimatedArrival = unixTime(d.Get("time.estimated.arrival"))
	return nil
}

func unixTime(v gjson.Result) *time.Time {
	if v.Type != gjson.Number || v.Int() <= 0 {
		return nil
	}
	t := time.Unix(v.Int(), 0).UTC()
	return &t
}
