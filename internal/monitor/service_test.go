package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yegors/arrival-watch/internal/config"
	"github.com/yegors/arrival-watch/internal/flightradar"
	"github.com/yegors/arrival-watch/internal/policy"
	"github.com/yegors/arrival-watch/internal/schedule"
	"github.com/yegors/arrival-watch/internal/state"
	"github.com/yegors/arrival-watch/internal/storage/sqlite"
	"github.com/yegors/arrival-watch/internal/tracking"
	"github.com/yegors/arrival-watch/pkg/logger"
)

var start = time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// feed answers list queries with list and detail queries with detail
type feed struct {
	mu          sync.Mutex
	list        []flightradar.Flight
	detail      []flightradar.Flight
	listCalls   int
	detailCalls int
	err         error
}

func (f *feed) ListFlights(_ context.Context, q flightradar.Query) ([]flightradar.Flight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if q.Details {
		f.detailCalls++
		return f.detail, nil
	}
	f.listCalls++
	return f.list, nil
}

type staticSchedule struct {
	entries []schedule.Entry
	err     error
	calls   int
}

func (s *staticSchedule) Load(context.Context) ([]schedule.Entry, error) {
	s.calls++
	return s.entries, s.err
}

type sent struct {
	target    string
	lines     []string
	committed bool
}

type recordingDeliverer struct {
	sent      []sent
	err       error
	onDeliver func()
}

func (d *recordingDeliverer) Deliver(_ context.Context, target string, lines []string, committed bool) error {
	d.sent = append(d.sent, sent{target: target, lines: lines, committed: committed})
	if d.onDeliver != nil {
		d.onDeliver()
	}
	return d.err
}

type memoryHistory struct {
	records []*sqlite.NotificationRecord
}

func (h *memoryHistory) StoreNotification(_ context.Context, r *sqlite.NotificationRecord) error {
	h.records = append(h.records, r)
	return nil
}

type harness struct {
	clock     *clock
	feed      *feed
	schedule  *staticSchedule
	ledger    *state.Ledger
	marker    *state.ArrivalMarker
	cache     *tracking.Cache
	deliverer *recordingDeliverer
	history   *memoryHistory
	service   *Service
}

func at(d time.Duration) *time.Time {
	t := start.Add(d)
	return &t
}

func listedFlight() flightradar.Flight {
	return flightradar.Flight{
		ID:              "3a1b2c3d",
		Registration:    "VNA323",
		Callsign:        "HVN240",
		FlightNumber:    "VN240",
		DestinationIATA: "HAN",
		Altitude:        4000,
		GroundSpeed:     220,
	}
}

func detailedFlight(eta time.Duration) flightradar.Flight {
	f := listedFlight()
	f.Registration = "VN-A323"
	f.RealDeparture = at(-90 * time.Minute)
	f.EstimatedArrival = at(eta)
	return f
}

func newHarness(t *testing.T, mode string) *harness {
	t.Helper()
	dir := t.TempDir()
	log := logger.NewNop()
	clk := &clock{now: start}

	h := &harness{
		clock: clk,
		feed: &feed{
			list:   []flightradar.Flight{listedFlight()},
			detail: []flightradar.Flight{detailedFlight(10 * time.Minute)},
		},
		schedule:  &staticSchedule{entries: []schedule.Entry{{Registration: "VN-A323", FlightNumber: "VN240", Owner: "Ops"}}},
		deliverer: &recordingDeliverer{},
		history:   &memoryHistory{},
	}

	normalizer := schedule.NewNormalizer([]string{"VN"})
	h.ledger = state.NewLedger(filepath.Join(dir, "notified.json"), log).WithClock(clk.Now)
	h.marker = state.NewArrivalMarker(filepath.Join(dir, "next_poll.txt"), 12*time.Hour, log).WithClock(clk.Now)
	h.cache = tracking.NewCache(h.feed, normalizer, "HVN", config.TrackingConfig{CacheTTLSeconds: 120, MaxAltitudeFt: 10000}, log).WithClock(clk.Now)
	engine := policy.NewEngine(h.ledger, h.feed, normalizer, "HVN", config.PolicyConfig{
		AfterDepartureMinutes: 30,
		BeforeArrivalMinutes:  15,
		Timezone:              "Asia/Ho_Chi_Minh",
	}, log).WithClock(clk.Now)

	h.service = NewService(Dependencies{
		Schedule:  h.schedule,
		Watcher:   schedule.NewWatcher(filepath.Join(dir, "schedule.csv"), log),
		Cache:     h.cache,
		Engine:    engine,
		Ledger:    h.ledger,
		Marker:    h.marker,
		Deliverer: h.deliverer,
		History:   h.history,
	}, Options{
		Targets:      []string{"Ops group", "Duty phone"},
		Commit:       true,
		ReloadMode:   mode,
		PollInterval: time.Minute,
		Lookahead:    15 * time.Minute,
		JitterMin:    10 * time.Second,
		JitterMax:    15 * time.Second,
	}, log).WithClock(clk.Now)
	return h
}

func TestRunCycleNotifiesOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.ReloadCycle)
	ctx := context.Background()

	wait, err := h.service.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if wait != time.Minute {
		t.Fatalf("wait = %v, want poll interval", wait)
	}
	if len(h.deliverer.sent) != 2 {
		t.Fatalf("sent %d messages, want one per target", len(h.deliverer.sent))
	}
	if !h.deliverer.sent[0].committed {
		t.Fatal("delivery not committed")
	}
	if !h.ledger.Contains("VN-A323") {
		t.Fatal("ledger missing VN-A323 after notify")
	}
	// ETA 10m minus 15m lookahead is in the past, so the marker clamps to now
	if got := h.marker.Get(); !got.Equal(start) {
		t.Fatalf("marker = %v, want %v", got, start)
	}
	if len(h.history.records) != 2 || !h.history.records[0].Delivered {
		t.Fatalf("history = %+v", h.history.records)
	}

	h.clock.Advance(time.Minute)
	if _, err := h.service.RunCycle(ctx); err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if len(h.deliverer.sent) != 2 {
		t.Fatalf("duplicate notification: %d sends", len(h.deliverer.sent))
	}
	if h.feed.detailCalls != 1 {
		t.Fatalf("detail lookups = %d, ledger gate should short-circuit", h.feed.detailCalls)
	}
	if h.feed.listCalls != 1 {
		t.Fatalf("list calls = %d, cache should serve within TTL", h.feed.listCalls)
	}

	st := h.service.Status()
	if st.LastCycle == nil || st.LastCycle.Skipped != 1 || st.LastCycle.Tracked != 1 {
		t.Fatalf("status = %+v", st.LastCycle)
	}
}

func TestRunCycleQuietWindow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.ReloadCycle)
	ctx := context.Background()

	// ETA far out: nothing sent, marker moves to ETA minus lookahead
	h.feed.detail = []flightradar.Flight{detailedFlight(2 * time.Hour)}
	if _, err := h.service.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(h.deliverer.sent) != 0 {
		t.Fatalf("sent %d messages for a far-out flight", len(h.deliverer.sent))
	}
	want := start.Add(2*time.Hour - 15*time.Minute)
	if got := h.marker.Get(); !got.Equal(want) {
		t.Fatalf("marker = %v, want %v", got, want)
	}

	h.clock.Advance(5 * time.Minute)
	wait, err := h.service.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle in window: %v", err)
	}
	if wait < 10*time.Second || wait > 15*time.Second {
		t.Fatalf("wait = %v, want jitter within 10s..15s", wait)
	}
	if h.feed.listCalls != 1 || h.schedule.calls != 1 {
		t.Fatalf("quiet window fetched: list=%d schedule=%d", h.feed.listCalls, h.schedule.calls)
	}
}

func TestRunCycleColdCacheIgnoresMarker(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.ReloadCycle)

	if _, err := h.marker.Save(start.Add(3 * time.Hour)); err != nil {
		t.Fatalf("seed marker: %v", err)
	}
	if _, err := h.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if h.feed.listCalls != 1 {
		t.Fatalf("list calls = %d, empty cache must fetch", h.feed.listCalls)
	}
}

func TestRunCycleDeliveryFailureStillTracked(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.ReloadCycle)
	h.deliverer.err = errors.New("chat not found")

	if _, err := h.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !h.ledger.Contains("VN-A323") {
		t.Fatal("failed delivery must still be recorded in the ledger")
	}
	for _, r := range h.history.records {
		if r.Delivered || r.Error == "" {
			t.Fatalf("history record = %+v", r)
		}
	}
}

func TestRunCycleCancelledMidBatchKeepsLedger(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.ReloadCycle)

	second := listedFlight()
	second.ID = "3a1b2c3e"
	second.Registration = "VNA331"
	second.Callsign = "HVN250"
	second.FlightNumber = "VN250"
	h.feed.list = append(h.feed.list, second)
	h.schedule.entries = append(h.schedule.entries, schedule.Entry{Registration: "VN-A331"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.deliverer.onDeliver = cancel

	_, err := h.service.RunCycle(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunCycle err = %v, want context.Canceled", err)
	}
	if len(h.deliverer.sent) == 0 {
		t.Fatal("nothing was delivered before cancellation")
	}
	if !h.ledger.Contains("VN-A323") {
		t.Fatal("VN-A323 was delivered but not recorded; a restart would notify it again")
	}
	if h.ledger.Contains("VN-A331") {
		t.Fatal("VN-A331 was never evaluated but got recorded")
	}
}

func TestRunCycleFetchFailureSkips(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.ReloadCycle)
	h.feed.err = errors.New("503")

	wait, err := h.service.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("fetch failure must not be fatal: %v", err)
	}
	if wait != time.Minute {
		t.Fatalf("wait = %v", wait)
	}
	st := h.service.Status()
	if st.LastCycle == nil || st.LastCycle.Err == "" {
		t.Fatalf("status = %+v", st.LastCycle)
	}
}

func TestRunCyclePrunesLedger(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.ReloadCycle)
	if err := h.ledger.Track(map[string]struct{}{"VN-A100": {}}); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	if _, err := h.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if h.ledger.Contains("VN-A100") {
		t.Fatal("VN-A100 left the feed but stayed in the ledger")
	}
}

func TestScheduleReloadModes(t *testing.T) {
	t.Parallel()

	t.Run("watch reloads only when dirty", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, config.ReloadWatch)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			if _, err := h.service.RunCycle(ctx); err != nil {
				t.Fatalf("RunCycle: %v", err)
			}
			h.clock.Advance(time.Minute)
		}
		if h.schedule.calls != 1 {
			t.Fatalf("schedule loads = %d, want 1", h.schedule.calls)
		}

		h.service.deps.Watcher.MarkDirty()
		if _, err := h.service.RunCycle(ctx); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
		if h.schedule.calls != 2 {
			t.Fatalf("schedule loads = %d, want 2", h.schedule.calls)
		}
	})

	t.Run("watch retries after failure", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, config.ReloadWatch)
		h.schedule.err = errors.New("locked by another process")

		if _, err := h.service.RunCycle(context.Background()); err != nil {
			t.Fatalf("schedule failure must not be fatal: %v", err)
		}
		if h.feed.listCalls != 0 {
			t.Fatal("cycle continued without a schedule")
		}

		h.schedule.err = nil
		if _, err := h.service.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
		if h.schedule.calls != 2 || h.feed.listCalls != 1 {
			t.Fatalf("schedule=%d list=%d", h.schedule.calls, h.feed.listCalls)
		}
	})

	t.Run("startup failure is fatal", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, config.ReloadStartup)
		h.schedule.err = errors.New("missing")

		if err := h.service.Run(context.Background()); err == nil {
			t.Fatal("expected Run to fail on initial schedule load")
		}
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.ReloadStartup)
	ctx, cancel := context.WithCancel(context.Background())

	cycles := 0
	h.service.sleep = func(ctx context.Context, d time.Duration) error {
		cycles++
		if cycles == 2 {
			cancel()
		}
		return sleepContext(ctx, time.Millisecond)
	}

	if err := h.service.Run(ctx); err != nil {
		t.Fatalf("Run returned %v after cancellation", err)
	}
	if cycles != 2 {
		t.Fatalf("cycles = %d", cycles)
	}
	if h.schedule.calls != 1 {
		t.Fatalf("startup mode loaded schedule %d times", h.schedule.calls)
	}
}

func TestJitterBounds(t *testing.T) {
	t.Parallel()
	s := &Service{opts: Options{JitterMin: 10 * time.Second, JitterMax: 15 * time.Second}}
	for i := 0; i < 200; i++ {
		if d := s.jitter(); d < 10*time.Second || d > 15*time.Second {
			t.Fatalf("jitter %v out of range", d)
		}
	}

	s.opts.JitterMax = s.opts.JitterMin
	if d := s.jitter(); d != 10*time.Second {
		t.Fatalf("degenerate jitter = %v", d)
	}
}
