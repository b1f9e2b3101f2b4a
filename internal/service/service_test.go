package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"flight-deal-alerts/internal/config"
	"flight-deal-alerts/internal/engine"
	"flight-deal-alerts/internal/fetcher"
	"flight-deal-alerts/internal/governor"
	"flight-deal-alerts/internal/offer"
	"flight-deal-alerts/internal/queue"
	"flight-deal-alerts/internal/storage"
)

type markCall struct {
	key    storage.RouteDateKey
	status string
	price  int
}

type fakeStore struct {
	lockHeld    bool
	blocked     map[storage.RouteDateKey]bool
	lastEnabled bool
	marks       []markCall
	announced   []string
	groupSends  []string
}

func (f *fakeStore) TryAdvisoryLock(_ context.Context, _ int64) (func(), bool, error) {
	if f.lockHeld {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func (f *fakeStore) ShouldCheck(_ context.Context, key storage.RouteDateKey, enabled bool) (bool, error) {
	f.lastEnabled = enabled
	if !enabled {
		return true, nil
	}
	return !f.blocked[key], nil
}

func (f *fakeStore) MarkGood(_ context.Context, key storage.RouteDateKey, price int, _ string, _ time.Duration) error {
	f.marks = append(f.marks, markCall{key: key, status: storage.StateGood, price: price})
	return nil
}

func (f *fakeStore) MarkBad(_ context.Context, key storage.RouteDateKey, price *int, _ time.Duration) error {
	call := markCall{key: key, status: storage.StateBad}
	if price != nil {
		call.price = *price
	}
	f.marks = append(f.marks, call)
	return nil
}

func (f *fakeStore) MarkNoData(_ context.Context, key storage.RouteDateKey, _ time.Duration) error {
	f.marks = append(f.marks, markCall{key: key, status: storage.StateNoData})
	return nil
}

func (f *fakeStore) MarkAnnounced(_ context.Context, key string) error {
	f.announced = append(f.announced, key)
	return nil
}

func (f *fakeStore) RecordGroupSend(_ context.Context, group string, _ time.Time) error {
	f.groupSends = append(f.groupSends, group)
	return nil
}

func (f *fakeStore) PruneAnnouncementsBefore(context.Context, time.Time) error { return nil }
func (f *fakeStore) PruneGroupSendsBefore(context.Context, time.Time) error    { return nil }

type fakeSource struct {
	offers   []offer.Offer
	err      error
	requests []fetcher.Request
}

func (f *fakeSource) Fetch(_ context.Context, req fetcher.Request) ([]offer.Offer, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.offers, nil
}

type fakeGate struct {
	verdict governor.Verdict
	allow   bool
}

func (f *fakeGate) CanSendNow(context.Context, string) (bool, governor.Verdict, error) {
	return f.allow, f.verdict, nil
}

type fakeDeliverer struct {
	delivered []queue.Item
	err       error
}

func (f *fakeDeliverer) Deliver(_ context.Context, item queue.Item) error {
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, item)
	return nil
}

type memSnapshot struct {
	items []queue.Item
	saved bool
}

func (m *memSnapshot) Load() ([]queue.Item, error) { return m.items, nil }
func (m *memSnapshot) Save(items []queue.Item) error {
	m.items = items
	m.saved = true
	return nil
}

type stubStats struct{}

func (stubStats) GetStats(context.Context, string, string) (storage.RouteStats, bool, error) {
	return storage.RouteStats{}, false, nil
}
func (stubStats) RecordSample(context.Context, string, string, int) error { return nil }

type stubSeen struct{}

func (stubSeen) WasAnnouncedRecently(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{AdvisoryLockKey: 42},
		Routes: config.RoutesConfig{
			Origin:           "REC",
			DailyDests:       []string{"GRU"},
			DateWindowDays:   1,
			CeilingsOW:       map[string]int{"GRU": 650},
			DefaultCeilingOW: 800,
		},
		Cooldown: config.CooldownConfig{Enabled: true, GoodDays: 1, BadHours: 6, NoDataHours: 12},
		Queue:    config.QueueConfig{Capacity: 10, DropPolicy: "drop_lowest", SentRetention: 24 * time.Hour},
		Sending:  config.SendingConfig{Channel: "TELEGRAM", DefaultGroup: "deals-general", MaxPerCycle: 5},
		Engine:   config.EngineConfig{ConfidenceThreshold: 60, AlertKind: "ALERT", DedupeTTL: 24 * time.Hour},
	}
}

func goodOffers() []offer.Offer {
	p := 550
	return []offer.Offer{{
		Provider:    "gflights",
		Origin:      "REC",
		Dest:        "GRU",
		DepartDate:  "2026-02-15",
		DepTime:     "08:05",
		ArrTime:     "11:20",
		DurationMin: 195,
		Airline:     "LATAM",
		Price:       &p,
		Link:        "https://example.test/deal",
	}}
}

func newTestService(store *fakeStore, source *fakeSource, gate *fakeGate, deliverer *fakeDeliverer, snap *memSnapshot) *Service {
	cfg := testConfig()
	eng := engine.New(engine.Options{
		Stats:               stubStats{},
		Seen:                stubSeen{},
		Channel:             cfg.Sending.Channel,
		AlertKind:           cfg.Engine.AlertKind,
		ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
		DedupeTTL:           cfg.Engine.DedupeTTL,
		Logger:              zerolog.Nop(),
	})
	return New(Options{
		Config:    cfg,
		Store:     store,
		Source:    source,
		Engine:    eng,
		Governor:  gate,
		Deliverer: deliverer,
		Snapshot:  snap,
		Logger:    zerolog.Nop(),
	})
}

func TestRunCycleEndToEnd(t *testing.T) {
	store := &fakeStore{}
	source := &fakeSource{offers: goodOffers()}
	gate := &fakeGate{allow: true, verdict: governor.Verdict{Reason: governor.ReasonOK}}
	deliverer := &fakeDeliverer{}
	snap := &memSnapshot{}

	svc := newTestService(store, source, gate, deliverer, snap)

	report, err := svc.RunCycle(context.Background(), false)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if report.Attempts != 1 || report.Enqueued != 1 || report.Sent != 1 {
		t.Errorf("report = %+v, want 1 attempt, 1 enqueued, 1 sent", report)
	}
	if report.Reasons[engine.ReasonOK] != 1 {
		t.Errorf("Reasons = %v, want one OK", report.Reasons)
	}

	if len(store.marks) != 1 || store.marks[0].status != storage.StateGood || store.marks[0].price != 550 {
		t.Errorf("marks = %+v, want one GOOD at 550", store.marks)
	}
	if len(store.announced) != 1 || len(store.groupSends) != 1 {
		t.Errorf("announced = %v, groupSends = %v, want one each", store.announced, store.groupSends)
	}
	if store.groupSends[0] != "deals-general" {
		t.Errorf("group = %q, want deals-general", store.groupSends[0])
	}

	if len(deliverer.delivered) != 1 {
		t.Fatalf("delivered = %d items, want 1", len(deliverer.delivered))
	}

	if !snap.saved {
		t.Error("queue snapshot was not saved")
	}
	if len(snap.items) != 1 || snap.items[0].Status != queue.StatusSent {
		t.Errorf("snapshot = %+v, want one SENT item", snap.items)
	}
}

func TestRunCycleLockHeld(t *testing.T) {
	store := &fakeStore{lockHeld: true}
	svc := newTestService(store, &fakeSource{}, &fakeGate{}, &fakeDeliverer{}, &memSnapshot{})

	_, err := svc.RunCycle(context.Background(), false)
	if !errors.Is(err, ErrCycleLocked) {
		t.Fatalf("RunCycle() error = %v, want ErrCycleLocked", err)
	}
}

func TestRunAttemptLockHeld(t *testing.T) {
	store := &fakeStore{lockHeld: true}
	snap := &memSnapshot{}
	svc := newTestService(store, &fakeSource{}, &fakeGate{}, &fakeDeliverer{}, snap)

	cfg := testConfig()
	attempt := BuildAttempt(cfg.Routes, cfg.Sending, "REC", "GRU", "2026-02-15", "")

	_, err := svc.RunAttempt(context.Background(), attempt, false)
	if !errors.Is(err, ErrCycleLocked) {
		t.Fatalf("RunAttempt() error = %v, want ErrCycleLocked", err)
	}
	if snap.saved {
		t.Error("queue snapshot written while the cycle lock was held")
	}
}

func TestRunAttemptSingleKey(t *testing.T) {
	store := &fakeStore{}
	source := &fakeSource{offers: goodOffers()}
	snap := &memSnapshot{}
	svc := newTestService(store, source, &fakeGate{allow: true}, &fakeDeliverer{}, snap)

	cfg := testConfig()
	attempt := BuildAttempt(cfg.Routes, cfg.Sending, "REC", "GRU", "2026-02-15", "")

	report, err := svc.RunAttempt(context.Background(), attempt, false)
	if err != nil {
		t.Fatalf("RunAttempt() error = %v", err)
	}
	if report.Enqueued != 1 {
		t.Errorf("Enqueued = %d, want 1", report.Enqueued)
	}
	if !snap.saved || len(snap.items) != 1 {
		t.Errorf("snapshot saved = %v with %d items, want the enqueued item persisted", snap.saved, len(snap.items))
	}
}

func TestRunCycleAboveCeilingMarksBadWithPrice(t *testing.T) {
	store := &fakeStore{}
	expensive := goodOffers()
	*expensive[0].Price = 700
	source := &fakeSource{offers: expensive}
	svc := newTestService(store, source, &fakeGate{allow: true}, &fakeDeliverer{}, &memSnapshot{})

	report, err := svc.RunCycle(context.Background(), false)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if report.Reasons[engine.ReasonAboveCeiling] != 1 {
		t.Fatalf("Reasons = %v, want ABOVE_CEILING", report.Reasons)
	}
	if len(store.marks) != 1 || store.marks[0].status != storage.StateBad {
		t.Fatalf("marks = %+v, want one BAD", store.marks)
	}
	if store.marks[0].price != 700 {
		t.Errorf("marked price = %d, want the observed 700", store.marks[0].price)
	}
}

func TestRunCycleCooldownSkip(t *testing.T) {
	store := &fakeStore{blocked: map[storage.RouteDateKey]bool{}}
	source := &fakeSource{offers: goodOffers()}
	svc := newTestService(store, source, &fakeGate{allow: true}, &fakeDeliverer{}, &memSnapshot{})

	// Block every planned key.
	for _, a := range PlanAttempts(time.Now(), testConfig().Routes, testConfig().Sending) {
		store.blocked[a.Key] = true
	}

	report, err := svc.RunCycle(context.Background(), false)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if report.SkippedCooldown != 1 {
		t.Errorf("SkippedCooldown = %d, want 1", report.SkippedCooldown)
	}
	if len(source.requests) != 0 {
		t.Errorf("fetches = %d, want 0 for cooldown-skipped attempt", len(source.requests))
	}
}

func TestRunCycleForceBypassesCooldown(t *testing.T) {
	store := &fakeStore{blocked: map[storage.RouteDateKey]bool{}}
	for _, a := range PlanAttempts(time.Now(), testConfig().Routes, testConfig().Sending) {
		store.blocked[a.Key] = true
	}
	source := &fakeSource{offers: goodOffers()}
	svc := newTestService(store, source, &fakeGate{allow: true}, &fakeDeliverer{}, &memSnapshot{})

	report, err := svc.RunCycle(context.Background(), true)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if store.lastEnabled {
		t.Error("force run should disable cooldown checks")
	}
	if report.SkippedCooldown != 0 || len(source.requests) != 1 {
		t.Errorf("report = %+v, fetches = %d, want attempt executed", report, len(source.requests))
	}
}

func TestRunCycleFetchFailure(t *testing.T) {
	store := &fakeStore{}
	source := &fakeSource{err: errors.New("scrape timeout")}
	svc := newTestService(store, source, &fakeGate{allow: true}, &fakeDeliverer{}, &memSnapshot{})

	report, err := svc.RunCycle(context.Background(), false)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if report.FetchFailures != 1 {
		t.Errorf("FetchFailures = %d, want 1", report.FetchFailures)
	}
	if report.Reasons[engine.ReasonNoFlights] != 1 {
		t.Errorf("Reasons = %v, want NO_FLIGHTS", report.Reasons)
	}
	if len(store.marks) != 1 || store.marks[0].status != storage.StateNoData {
		t.Errorf("marks = %+v, want one NO_DATA", store.marks)
	}
}

func TestDispatchOutsideWindow(t *testing.T) {
	store := &fakeStore{}
	source := &fakeSource{offers: goodOffers()}
	gate := &fakeGate{allow: false, verdict: governor.Verdict{Reason: governor.ReasonOutsideWindow}}
	deliverer := &fakeDeliverer{}
	snap := &memSnapshot{}
	svc := newTestService(store, source, gate, deliverer, snap)

	report, err := svc.RunCycle(context.Background(), false)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if report.Sent != 0 || len(deliverer.delivered) != 0 {
		t.Errorf("sent = %d, want 0 outside window", report.Sent)
	}
	if len(snap.items) != 1 || snap.items[0].Status != queue.StatusApproved {
		t.Errorf("snapshot = %+v, want item held APPROVED", snap.items)
	}
}

func TestDispatchDeliveryFailureKeepsApproved(t *testing.T) {
	store := &fakeStore{}
	source := &fakeSource{offers: goodOffers()}
	gate := &fakeGate{allow: true, verdict: governor.Verdict{Reason: governor.ReasonOK}}
	deliverer := &fakeDeliverer{err: errors.New("telegram down")}
	snap := &memSnapshot{}
	svc := newTestService(store, source, gate, deliverer, snap)

	report, err := svc.RunCycle(context.Background(), false)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if report.Sent != 0 {
		t.Errorf("Sent = %d, want 0 on delivery failure", report.Sent)
	}
	if len(store.announced) != 0 {
		t.Errorf("announced = %v, want none on delivery failure", store.announced)
	}
	if len(snap.items) != 1 || snap.items[0].Status != queue.StatusApproved {
		t.Errorf("snapshot = %+v, want item held APPROVED for retry", snap.items)
	}
}
