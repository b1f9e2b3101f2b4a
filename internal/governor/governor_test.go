package governor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSendLog struct {
	sends map[string][]time.Time
}

func (f *fakeSendLog) CountGroupSendsSince(_ context.Context, group string, since time.Time) (int, error) {
	count := 0
	for _, ts := range f.sends[group] {
		if !ts.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeSendLog) LastGroupSend(_ context.Context, group string) (time.Time, bool, error) {
	sends := f.sends[group]
	if len(sends) == 0 {
		return time.Time{}, false, nil
	}
	last := sends[0]
	for _, ts := range sends[1:] {
		if ts.After(last) {
			last = ts
		}
	}
	return last, true, nil
}

func newTestGovernor(t *testing.T, log *fakeSendLog, at time.Time) *Governor {
	t.Helper()
	windows, err := ParseWindows("08:00-09:00,11:00-12:00,14:00-15:00,17:00-18:00,20:00-21:00")
	if err != nil {
		t.Fatalf("parse windows: %v", err)
	}
	g := New(Options{
		Windows:    windows,
		Location:   time.UTC,
		MaxPerHour: 4,
		MinSpacing: 180 * time.Second,
	}, log, zerolog.Nop())
	g.SetClock(func() time.Time { return at })
	return g
}

func TestParseWindows(t *testing.T) {
	windows, err := ParseWindows("08:00-09:30, 20:15-21:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	if windows[0].Start != 8*60 || windows[0].End != 9*60+30 {
		t.Fatalf("first window wrong: %+v", windows[0])
	}

	for _, bad := range []string{"", "08:00", "09:00-08:00", "8-9", "08:00-24:30"} {
		if _, err := ParseWindows(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestOutsideWindow(t *testing.T) {
	log := &fakeSendLog{sends: map[string][]time.Time{}}
	g := newTestGovernor(t, log, time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))

	ok, verdict, err := g.CanSendNow(context.Background(), "deals")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || verdict.Reason != ReasonOutsideWindow {
		t.Fatalf("expected OUTSIDE_WINDOW, got ok=%v reason=%s", ok, verdict.Reason)
	}
}

func TestHourlyLimit(t *testing.T) {
	now := time.Date(2026, 2, 15, 8, 30, 0, 0, time.UTC)
	log := &fakeSendLog{sends: map[string][]time.Time{
		"deals": {
			now.Add(-50 * time.Minute),
			now.Add(-40 * time.Minute),
			now.Add(-30 * time.Minute),
			now.Add(-20 * time.Minute),
		},
	}}
	g := newTestGovernor(t, log, now)

	ok, verdict, err := g.CanSendNow(context.Background(), "deals")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || verdict.Reason != ReasonHourlyLimit {
		t.Fatalf("expected GROUP_HOURLY_LIMIT, got ok=%v reason=%s", ok, verdict.Reason)
	}

	// One simulated hour later (inside a window) the trailing-hour count is
	// clear again and only spacing applies.
	later := time.Date(2026, 2, 15, 11, 30, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return later })
	ok, verdict, err = g.CanSendNow(context.Background(), "deals")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected send allowed after an hour, got reason=%s", verdict.Reason)
	}
}

func TestSpacingReportsWait(t *testing.T) {
	now := time.Date(2026, 2, 15, 8, 30, 0, 0, time.UTC)
	log := &fakeSendLog{sends: map[string][]time.Time{
		"deals": {now.Add(-60 * time.Second)},
	}}
	g := newTestGovernor(t, log, now)

	ok, verdict, err := g.CanSendNow(context.Background(), "deals")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || verdict.Reason != ReasonSpacing {
		t.Fatalf("expected GROUP_SPACING, got ok=%v reason=%s", ok, verdict.Reason)
	}
	if verdict.Wait != 120*time.Second {
		t.Fatalf("expected 120s remaining wait, got %s", verdict.Wait)
	}
}

func TestGroupsIndependent(t *testing.T) {
	now := time.Date(2026, 2, 15, 8, 30, 0, 0, time.UTC)
	log := &fakeSendLog{sends: map[string][]time.Time{
		"busy": {now.Add(-10 * time.Second)},
	}}
	g := newTestGovernor(t, log, now)

	ok, verdict, err := g.CanSendNow(context.Background(), "quiet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || verdict.Reason != ReasonOK {
		t.Fatalf("other groups must be unaffected, got ok=%v reason=%s", ok, verdict.Reason)
	}
}
