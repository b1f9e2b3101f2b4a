// Package governor enforces delivery pacing: send windows, per-group hourly
// caps, and minimum spacing between messages to the same group. It is
// advisory; callers re-check immediately before each send attempt.
package governor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Reason explains a negative CanSendNow verdict.
type Reason string

const (
	ReasonOK            Reason = "OK"
	ReasonOutsideWindow Reason = "OUTSIDE_WINDOW"
	ReasonHourlyLimit   Reason = "GROUP_HOURLY_LIMIT"
	ReasonSpacing       Reason = "GROUP_SPACING"
)

// Verdict carries the decision detail, including the remaining wait for
// spacing rejections.
type Verdict struct {
	Reason Reason
	Wait   time.Duration
}

// Window is a daily HH:MM-HH:MM send range, start inclusive, end exclusive.
type Window struct {
	Start int // minutes since midnight
	End   int
}

// ParseWindows parses a comma-separated list of HH:MM-HH:MM ranges.
func ParseWindows(spec string) ([]Window, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("empty send windows")
	}
	var windows []Window
	for _, raw := range strings.Split(spec, ",") {
		parts := strings.SplitN(strings.TrimSpace(raw), "-", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed send window %q", raw)
		}
		start, err := parseHHMM(parts[0])
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", raw, err)
		}
		end, err := parseHHMM(parts[1])
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", raw, err)
		}
		if end <= start {
			return nil, fmt.Errorf("window %q: end must be after start", raw)
		}
		windows = append(windows, Window{Start: start, End: end})
	}
	return windows, nil
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

// SendLog exposes the per-group delivery history the governor consults.
type SendLog interface {
	CountGroupSendsSince(ctx context.Context, group string, since time.Time) (int, error)
	LastGroupSend(ctx context.Context, group string) (time.Time, bool, error)
}

// Options configure a Governor.
type Options struct {
	Windows    []Window
	Location   *time.Location
	MaxPerHour int
	MinSpacing time.Duration
}

// Governor answers "may I send to this group now".
type Governor struct {
	opts   Options
	log    SendLog
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Governor over a send log.
func New(opts Options, log SendLog, logger zerolog.Logger) *Governor {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Governor{
		opts:   opts,
		log:    log,
		logger: logger.With().Str("component", "governor").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (g *Governor) SetClock(now func() time.Time) { g.now = now }

// CanSendNow checks the send windows, the trailing-hour group cap, and the
// minimum spacing since the group's last send, in that order.
func (g *Governor) CanSendNow(ctx context.Context, group string) (bool, Verdict, error) {
	now := g.now().In(g.opts.Location)

	if !g.withinAnyWindow(now) {
		return false, Verdict{Reason: ReasonOutsideWindow}, nil
	}

	if g.opts.MaxPerHour > 0 {
		count, err := g.log.CountGroupSendsSince(ctx, group, now.Add(-time.Hour))
		if err != nil {
			return false, Verdict{}, fmt.Errorf("count group sends: %w", err)
		}
		if count >= g.opts.MaxPerHour {
			g.logger.Debug().Str("group", group).Int("sent_last_hour", count).Msg("hourly limit reached")
			return false, Verdict{Reason: ReasonHourlyLimit}, nil
		}
	}

	if g.opts.MinSpacing > 0 {
		last, ok, err := g.log.LastGroupSend(ctx, group)
		if err != nil {
			return false, Verdict{}, fmt.Errorf("last group send: %w", err)
		}
		if ok {
			elapsed := now.Sub(last)
			if elapsed < g.opts.MinSpacing {
				wait := g.opts.MinSpacing - elapsed
				g.logger.Debug().Str("group", group).Dur("wait", wait).Msg("spacing not elapsed")
				return false, Verdict{Reason: ReasonSpacing, Wait: wait}, nil
			}
		}
	}

	return true, Verdict{Reason: ReasonOK}, nil
}

func (g *Governor) withinAnyWindow(now time.Time) bool {
	if len(g.opts.Windows) == 0 {
		return true
	}
	mins := now.Hour()*60 + now.Minute()
	for _, w := range g.opts.Windows {
		if mins >= w.Start && mins < w.End {
			return true
		}
	}
	return false
}
