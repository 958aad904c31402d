package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
	"github.com/yegors/arrival-watch/pkg/logger"
)

// Schedule reload modes
const (
	ReloadStartup = "startup"
	ReloadCycle   = "cycle"
	ReloadWatch   = "watch"
)

// Delivery drivers
const (
	DriverLog      = "log"
	DriverTelegram = "telegram"
)

// Config is the root of the TOML configuration file
type Config struct {
	Logging     logger.Config     `toml:"logging"`
	FlightRadar FlightRadarConfig `toml:"flightradar"`
	Schedule    ScheduleConfig    `toml:"schedule"`
	Tracking    TrackingConfig    `toml:"tracking"`
	Policy      PolicyConfig      `toml:"policy"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	State       StateConfig       `toml:"state"`
	Delivery    DeliveryConfig    `toml:"delivery"`
	Storage     StorageConfig     `toml:"storage"`
	Server      ServerConfig      `toml:"server"`
}

// FlightRadarConfig configures the flight-data client
type FlightRadarConfig struct {
	FeedURL               string `toml:"feed_url"`
	DetailsURL            string `toml:"details_url"`
	Airline               string `toml:"airline"`
	UserAgent             string `toml:"user_agent"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// ScheduleConfig describes where the schedule file lives and how to read it.
// Columns are 1-based (A = 1); zero means the column is not present.
type ScheduleConfig struct {
	Path                 string   `toml:"path"`
	Sheet                string   `toml:"sheet"`
	HeaderRows           int      `toml:"header_rows"`
	RegistrationColumn   int      `toml:"registration_column"`
	FlightNumberColumn   int      `toml:"flight_number_column"`
	OwnerColumn          int      `toml:"owner_column"`
	RegistrationPrefixes []string `toml:"registration_prefixes"`
	Reload               string   `toml:"reload"`
}

// TrackingConfig configures the flight data cache and its pre-filter
type TrackingConfig struct {
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
	MaxAltitudeFt   int    `toml:"max_altitude_ft"`
	ArrivalAirport  string `toml:"arrival_airport"`
}

// PolicyConfig holds the notification gate thresholds
type PolicyConfig struct {
	AfterDepartureMinutes int    `toml:"after_departure_minutes"`
	BeforeArrivalMinutes  int    `toml:"before_arrival_minutes"`
	Timezone              string `toml:"timezone"`
}

// SchedulerConfig drives the poll loop timing
type SchedulerConfig struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	LookaheadMinutes    int `toml:"lookahead_minutes"`
	DefaultHorizonHours int `toml:"default_horizon_hours"`
	JitterMinSeconds    int `toml:"jitter_min_seconds"`
	JitterMaxSeconds    int `toml:"jitter_max_seconds"`
}

// StateConfig locates the persisted ledger and arrival marker
type StateConfig struct {
	Dir        string `toml:"dir"`
	LedgerFile string `toml:"ledger_file"`
	MarkerFile string `toml:"marker_file"`
}

// DeliveryConfig configures outbound notifications
type DeliveryConfig struct {
	Driver        string   `toml:"driver"`
	Targets       []string `toml:"targets"`
	Commit        bool     `toml:"commit"`
	TelegramToken string   `toml:"telegram_token"`
	RatePerSecond int      `toml:"rate_per_second"`
}

// StorageConfig configures the notification history database
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"`
}

// ServerConfig configures the read-only status API
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	ListenAddr         string   `toml:"listen_addr"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults and validates the configuration file at path
func Load(path string) (*Config, error) {
	cfg := &Config{}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.FlightRadar.FeedURL == "" {
		c.FlightRadar.FeedURL = "https://data-cloud.flightradar24.com/zones/fcgi/feed.js"
	}
	if c.FlightRadar.DetailsURL == "" {
		c.FlightRadar.DetailsURL = "https://data-live.flightradar24.com/clickhandler/"
	}
	if c.FlightRadar.Airline == "" {
		c.FlightRadar.Airline = "HVN"
	}
	if c.FlightRadar.UserAgent == "" {
		c.FlightRadar.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	}
	if c.FlightRadar.RequestTimeoutSeconds <= 0 {
		c.FlightRadar.RequestTimeoutSeconds = 15
	}

	if c.Schedule.HeaderRows < 0 {
		c.Schedule.HeaderRows = 0
	}
	if c.Schedule.RegistrationColumn == 0 {
		c.Schedule.RegistrationColumn = 1
	}
	if len(c.Schedule.RegistrationPrefixes) == 0 {
		c.Schedule.RegistrationPrefixes = []string{"VN"}
	}
	if c.Schedule.Reload == "" {
		c.Schedule.Reload = ReloadCycle
	}

	if c.Tracking.CacheTTLSeconds <= 0 {
		c.Tracking.CacheTTLSeconds = 120
	}
	if c.Tracking.MaxAltitudeFt <= 0 {
		c.Tracking.MaxAltitudeFt = 10000
	}

	if c.Policy.AfterDepartureMinutes <= 0 {
		c.Policy.AfterDepartureMinutes = 30
	}
	if c.Policy.BeforeArrivalMinutes <= 0 {
		c.Policy.BeforeArrivalMinutes = 15
	}
	if c.Policy.Timezone == "" {
		c.Policy.Timezone = "Asia/Ho_Chi_Minh"
	}

	if c.Scheduler.PollIntervalSeconds <= 0 {
		c.Scheduler.PollIntervalSeconds = 60
	}
	if c.Scheduler.LookaheadMinutes <= 0 {
		c.Scheduler.LookaheadMinutes = c.Policy.BeforeArrivalMinutes
	}
	if c.Scheduler.DefaultHorizonHours <= 0 {
		c.Scheduler.DefaultHorizonHours = 12
	}
	if c.Scheduler.JitterMinSeconds <= 0 {
		c.Scheduler.JitterMinSeconds = 10
	}
	if c.Scheduler.JitterMaxSeconds <= 0 {
		c.Scheduler.JitterMaxSeconds = 15
	}

	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.State.LedgerFile == "" {
		c.State.LedgerFile = "notified.json"
	}
	if c.State.MarkerFile == "" {
		c.State.MarkerFile = "next_poll.txt"
	}

	if c.Delivery.Driver == "" {
		c.Delivery.Driver = DriverLog
	}
	if c.Delivery.RatePerSecond <= 0 {
		c.Delivery.RatePerSecond = 1
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "127.0.0.1:8089"
	}
}

// Validate reports the first configuration problem found
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Schedule.Path) == "" {
		return errors.New("schedule.path is required")
	}
	if c.Schedule.RegistrationColumn < 1 {
		return errors.New("schedule.registration_column must be >= 1")
	}
	if c.Schedule.FlightNumberColumn < 0 || c.Schedule.OwnerColumn < 0 {
		return errors.New("schedule columns must be >= 0")
	}
	switch c.Schedule.Reload {
	case ReloadStartup, ReloadCycle, ReloadWatch:
	default:
		return fmt.Errorf("schedule.reload: unsupported mode %q", c.Schedule.Reload)
	}
	if c.Scheduler.JitterMaxSeconds < c.Scheduler.JitterMinSeconds {
		return fmt.Errorf("scheduler.jitter_max_seconds (%d) must be >= jitter_min_seconds (%d)",
			c.Scheduler.JitterMaxSeconds, c.Scheduler.JitterMinSeconds)
	}
	if _, err := time.LoadLocation(c.Policy.Timezone); err != nil {
		return fmt.Errorf("policy.timezone: %w", err)
	}
	switch c.Delivery.Driver {
	case DriverLog:
	case DriverTelegram:
		if strings.TrimSpace(c.Delivery.TelegramToken) == "" {
			return errors.New("delivery.telegram_token is required for the telegram driver")
		}
	default:
		return fmt.Errorf("delivery.driver: unsupported driver %q", c.Delivery.Driver)
	}
	if len(c.Delivery.Targets) == 0 {
		return errors.New("delivery.targets must name at least one target")
	}
	return nil
}

// RequestTimeout returns the flight-data HTTP timeout
func (c FlightRadarConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// CacheTTL returns the flight cache time-to-live
func (c TrackingConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// AfterDeparture returns the departure-recency threshold
func (c PolicyConfig) AfterDeparture() time.Duration {
	return time.Duration(c.AfterDepartureMinutes) * time.Minute
}

// BeforeArrival returns the arrival-window threshold
func (c PolicyConfig) BeforeArrival() time.Duration {
	return time.Duration(c.BeforeArrivalMinutes) * time.Minute
}

// Location resolves the display timezone, falling back to UTC
func (c PolicyConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PollInterval returns the fixed sleep between full cycles
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Lookahead returns how long before the earliest ETA polling resumes
func (c SchedulerConfig) Lookahead() time.Duration {
	return time.Duration(c.LookaheadMinutes) * time.Minute
}

// DefaultHorizon returns the marker fallback when none is persisted
func (c SchedulerConfig) DefaultHorizon() time.Duration {
	return time.Duration(c.DefaultHorizonHours) * time.Hour
}

// JitterRange returns the bounds of the quiet-window sleep
func (c SchedulerConfig) JitterRange() (time.Duration, time.Duration) {
	return time.Duration(c.JitterMinSeconds) * time.Second, time.Duration(c.JitterMaxSeconds) * time.Second
}
