// Package service orchestrates one watch cycle: plan attempts, fetch and
// evaluate offers, maintain cooldowns, and dispatch approved alerts under
// the rate governor.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

// ErrCycleLocked signals that another process holds the cycle lock.
var ErrCycleLocked = errors.New("cycle lock held by another process")

// Evaluator runs the decision pipeline for one attempt's offers.
type Evaluator interface {
	EvaluateBatch(ctx context.Context, batch engine.Batch, inQueue engine.QueueChecker) (engine.Decision, error)
}

// Gate answers "may I send to this group now".
type Gate interface {
	CanSendNow(ctx context.Context, group string) (bool, governor.Verdict, error)
}

// SnapshotStore persists the dispatch queue between cycles.
type SnapshotStore interface {
	Load() ([]queue.Item, error)
	Save(items []queue.Item) error
}

// StateStore is the persistence surface the cycle needs: cooldown state,
// announcement records, the group send log, and the cycle lock.
type StateStore interface {
	storage.CooldownStore
	storage.AdvisoryLocker
	MarkAnnounced(ctx context.Context, dedupeKey string) error
	RecordGroupSend(ctx context.Context, group string, at time.Time) error
	PruneAnnouncementsBefore(ctx context.Context, olderThan time.Time) error
	PruneGroupSendsBefore(ctx context.Context, olderThan time.Time) error
}

// Deliverer sends one queue item. delivery.Deliverer satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, item queue.Item) error
}

// Options wire the cycle service.
type Options struct {
	Config    *config.Config
	Store     StateStore
	Source    fetcher.OfferSource
	Engine    Evaluator
	Governor  Gate
	Deliverer Deliverer
	Snapshot  SnapshotStore
	Logger    zerolog.Logger
}

// Service runs watch cycles.
type Service struct {
	cfg       *config.Config
	store     StateStore
	source    fetcher.OfferSource
	engine    Evaluator
	gate      Gate
	deliverer Deliverer
	snapshot  SnapshotStore
	logger    zerolog.Logger
	now       func() time.Time
}

// New constructs the cycle service.
func New(opts Options) *Service {
	return &Service{
		cfg:       opts.Config,
		store:     opts.Store,
		source:    opts.Source,
		engine:    opts.Engine,
		gate:      opts.Governor,
		deliverer: opts.Deliverer,
		snapshot:  opts.Snapshot,
		logger:    opts.Logger.With().Str("component", "service").Logger(),
		now:       time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CycleReport summarises one cycle.
type CycleReport struct {
	StartedAt       time.Time
	Duration        time.Duration
	Attempts        int
	SkippedCooldown int
	FetchFailures   int
	Enqueued        int
	Sent            int
	PrunedSent      int
	Reasons         map[engine.Reason]int
}

// RunCycle executes one full cycle under the advisory lock. force bypasses
// cooldown checks for every attempt. Business rejections are counted and
// logged; persistence failures abort the cycle.
func (s *Service) RunCycle(ctx context.Context, force bool) (CycleReport, error) {
	report := CycleReport{
		StartedAt: s.now().UTC(),
		Reasons:   map[engine.Reason]int{},
	}

	unlock, acquired, err := s.store.TryAdvisoryLock(ctx, s.cfg.Scheduler.AdvisoryLockKey)
	if err != nil {
		return report, fmt.Errorf("acquire cycle lock: %w", err)
	}
	if !acquired {
		return report, ErrCycleLocked
	}
	defer unlock()

	items, err := s.snapshot.Load()
	if err != nil {
		return report, fmt.Errorf("load queue snapshot: %w", err)
	}
	q := queue.New(queue.Options{
		Capacity:            s.cfg.Queue.Capacity,
		Policy:              queue.DropPolicy(s.cfg.Queue.DropPolicy),
		ModerationEnabled:   s.cfg.Queue.ModerationEnabled,
		AutoApprovePriority: s.cfg.Queue.AutoApprovePriority,
	}, items)

	attempts := PlanAttempts(s.now(), s.cfg.Routes, s.cfg.Sending)
	report.Attempts = len(attempts)

	for _, attempt := range attempts {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := s.runAttempt(ctx, attempt, q, force, &report); err != nil {
			return report, err
		}
	}

	if err := s.dispatch(ctx, q, &report); err != nil {
		return report, err
	}

	report.PrunedSent = q.PruneSent(s.cfg.Queue.SentRetention)
	if err := s.store.PruneAnnouncementsBefore(ctx, s.now().Add(-2*s.cfg.Engine.DedupeTTL)); err != nil {
		return report, err
	}
	if err := s.store.PruneGroupSendsBefore(ctx, s.now().Add(-24*time.Hour)); err != nil {
		return report, err
	}

	if err := s.snapshot.Save(q.Items()); err != nil {
		return report, fmt.Errorf("save queue snapshot: %w", err)
	}

	report.Duration = s.now().UTC().Sub(report.StartedAt)
	s.logger.Info().
		Int("attempts", report.Attempts).
		Int("skipped_cooldown", report.SkippedCooldown).
		Int("enqueued", report.Enqueued).
		Int("sent", report.Sent).
		Dur("duration", report.Duration).
		Msg("cycle complete")

	return report, nil
}

// RunAttempt evaluates a single explicit attempt against the live queue.
// Used by the one-shot cycle command. The queue snapshot and cooldown rows
// are shared with scheduler-driven cycles, so the same advisory lock
// applies.
func (s *Service) RunAttempt(ctx context.Context, attempt Attempt, force bool) (CycleReport, error) {
	report := CycleReport{
		StartedAt: s.now().UTC(),
		Attempts:  1,
		Reasons:   map[engine.Reason]int{},
	}

	unlock, acquired, err := s.store.TryAdvisoryLock(ctx, s.cfg.Scheduler.AdvisoryLockKey)
	if err != nil {
		return report, fmt.Errorf("acquire cycle lock: %w", err)
	}
	if !acquired {
		return report, ErrCycleLocked
	}
	defer unlock()

	items, err := s.snapshot.Load()
	if err != nil {
		return report, fmt.Errorf("load queue snapshot: %w", err)
	}
	q := queue.New(queue.Options{
		Capacity:            s.cfg.Queue.Capacity,
		Policy:              queue.DropPolicy(s.cfg.Queue.DropPolicy),
		ModerationEnabled:   s.cfg.Queue.ModerationEnabled,
		AutoApprovePriority: s.cfg.Queue.AutoApprovePriority,
	}, items)

	if err := s.runAttempt(ctx, attempt, q, force, &report); err != nil {
		return report, err
	}

	if err := s.snapshot.Save(q.Items()); err != nil {
		return report, fmt.Errorf("save queue snapshot: %w", err)
	}

	report.Duration = s.now().UTC().Sub(report.StartedAt)
	return report, nil
}

func (s *Service) runAttempt(ctx context.Context, attempt Attempt, q *queue.Queue, force bool, report *CycleReport) error {
	logger := s.logger.With().
		Str("route", attempt.Key.Origin+"-"+attempt.Key.Dest).
		Str("depart", attempt.Key.DepartDate).
		Logger()

	check, err := s.store.ShouldCheck(ctx, attempt.Key, s.cfg.Cooldown.Enabled && !force)
	if err != nil {
		return fmt.Errorf("cooldown check: %w", err)
	}
	if !check {
		report.SkippedCooldown++
		return nil
	}

	offers, fetchErr := s.source.Fetch(ctx, fetcher.Request{
		Origin:     attempt.Key.Origin,
		Dest:       attempt.Key.Dest,
		DepartDate: attempt.Key.DepartDate,
		ReturnDate: attempt.Key.ReturnDate,
	})
	if fetchErr != nil {
		// Collaborator failure: treated as a NO_DATA outcome, cycle
		// continues.
		logger.Warn().Err(fetchErr).Msg("fetch failed")
		report.FetchFailures++
		offers = nil
	}

	decision, err := s.engine.EvaluateBatch(ctx, engine.Batch{
		Origin:     attempt.Key.Origin,
		Dest:       attempt.Key.Dest,
		TripType:   tripTypeOf(attempt.Key),
		DepartDate: attempt.Key.DepartDate,
		ReturnDate: attempt.Key.ReturnDate,
		Ceiling:    attempt.Ceiling,
		Marquee:    attempt.Marquee,
		Offers:     offers,
	}, q)
	if err != nil {
		return fmt.Errorf("evaluate batch: %w", err)
	}

	report.Reasons[decision.Reason]++

	if err := s.markOutcome(ctx, attempt.Key, decision); err != nil {
		return err
	}

	if !decision.ShouldEnqueue {
		logger.Debug().Str("reason", string(decision.Reason)).Msg("attempt rejected")
		return nil
	}

	result := q.Enqueue(decision.DedupeKey, decision.Message, s.cfg.Sending.Channel, attempt.Group, decision.Priority, map[string]string{
		"route":  attempt.Key.Origin + "-" + attempt.Key.Dest,
		"depart": attempt.Key.DepartDate,
	})
	if result == queue.Enqueued || result == queue.DroppedLowest {
		report.Enqueued++
	}
	logger.Info().
		Str("result", string(result)).
		Int("priority", decision.Priority).
		Int("price", decision.BestPrice).
		Msg("decision enqueued")
	return nil
}

// markOutcome updates the cooldown state machine from a decision.
func (s *Service) markOutcome(ctx context.Context, key storage.RouteDateKey, decision engine.Decision) error {
	switch decision.Reason {
	case engine.ReasonOK, engine.ReasonDuplicateQueue, engine.ReasonDuplicateTTL:
		return s.store.MarkGood(ctx, key, decision.BestPrice, fingerprintOf(decision.DedupeKey), s.cfg.Cooldown.GoodDuration())
	case engine.ReasonNoFlights:
		return s.store.MarkNoData(ctx, key, s.cfg.Cooldown.NoDataDuration())
	default:
		var price *int
		if decision.BestPrice > 0 {
			p := decision.BestPrice
			price = &p
		}
		return s.store.MarkBad(ctx, key, price, s.cfg.Cooldown.BadDuration())
	}
}

// dispatch delivers approved items under the governor, up to the per-cycle
// cap. Delivery failures leave the item APPROVED for the next cycle.
func (s *Service) dispatch(ctx context.Context, q *queue.Queue, report *CycleReport) error {
	for _, item := range q.DequeueSendable(s.cfg.Sending.MaxPerCycle) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ok, verdict, err := s.gate.CanSendNow(ctx, item.Group)
		if err != nil {
			return fmt.Errorf("governor: %w", err)
		}
		if !ok {
			if verdict.Reason == governor.ReasonOutsideWindow {
				s.logger.Debug().Msg("outside send window, dispatch pass over")
				return nil
			}
			s.logger.Debug().
				Str("group", item.Group).
				Str("reason", string(verdict.Reason)).
				Dur("wait", verdict.Wait).
				Msg("send deferred")
			continue
		}

		if err := s.deliverer.Deliver(ctx, item); err != nil {
			s.logger.Warn().Err(err).Str("id", item.ID).Msg("delivery failed, will retry next cycle")
			continue
		}

		q.MarkSent(item.ID)
		if err := s.store.RecordGroupSend(ctx, item.Group, s.now().UTC()); err != nil {
			return err
		}
		if err := s.store.MarkAnnounced(ctx, item.ID); err != nil {
			return err
		}
		report.Sent++
	}
	return nil
}

func tripTypeOf(key storage.RouteDateKey) offer.TripType {
	if key.ReturnDate != "" {
		return offer.TripRoundTrip
	}
	return offer.TripOneWay
}

// fingerprintOf extracts the F_<sha1> core from a KIND|CHANNEL|id dedupe key.
func fingerprintOf(dedupeKey string) string {
	parts := strings.Split(dedupeKey, "|")
	id := parts[len(parts)-1]
	return strings.TrimPrefix(id, "F_")
}
