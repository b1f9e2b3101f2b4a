// Package engine turns a raw offer batch into a single enqueue/reject
// decision with a typed reason.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"flight-deal-alerts/internal/offer"
	"flight-deal-alerts/internal/rank"
	"flight-deal-alerts/internal/storage"
)

// Reason classifies the outcome of a batch evaluation. Rejections are
// expected, frequent conditions and are never surfaced as errors.
type Reason string

const (
	ReasonOK             Reason = "OK"
	ReasonNoFlights      Reason = "NO_FLIGHTS"
	ReasonNoPrice        Reason = "NO_PRICE"
	ReasonAboveCeiling   Reason = "ABOVE_CEILING"
	ReasonNoBestBuckets  Reason = "NO_BEST_BUCKETS"
	ReasonDuplicateQueue Reason = "DUPLICATE_QUEUE"
	ReasonDuplicateTTL   Reason = "DUPLICATE_TTL"
)

// Decision is the outcome of evaluating one offer batch.
type Decision struct {
	ShouldEnqueue bool
	Reason        Reason
	DedupeKey     string
	Priority      int
	BestPrice     int
	Message       string
}

// Batch describes one route/date attempt together with its raw offers.
type Batch struct {
	Origin     string
	Dest       string
	TripType   offer.TripType
	DepartDate string
	ReturnDate string
	Ceiling    int
	Marquee    bool
	Offers     []offer.Offer
}

// StatsReader provides the rolling price history consulted for ranking and
// priority, and updated on acceptance. *storage.Store satisfies it.
type StatsReader interface {
	GetStats(ctx context.Context, routeKey, tripType string) (storage.RouteStats, bool, error)
	RecordSample(ctx context.Context, routeKey, tripType string, price int) error
}

// QueueChecker reports live-queue membership for a dedupe key. The dispatch
// queue working copy satisfies it.
type QueueChecker interface {
	Contains(id string) bool
}

// SeenStore is the TTL-based recently-announced record behind the second
// dedupe layer.
type SeenStore interface {
	WasAnnouncedRecently(ctx context.Context, dedupeKey string, ttl time.Duration) (bool, error)
}

// minSamplesForAvg gates use of the historical average in ranking and
// priority.
const minSamplesForAvg = 10

// Options configure the decision engine.
type Options struct {
	Stats               StatsReader
	Seen                SeenStore
	Channel             string
	AlertKind           string
	ConfidenceThreshold int
	DedupeTTL           time.Duration
	Logger              zerolog.Logger
}

// Engine evaluates offer batches against history, ceilings, and the dedupe
// layers.
type Engine struct {
	stats     StatsReader
	seen      SeenStore
	channel   string
	kind      string
	threshold int
	dedupeTTL time.Duration
	logger    zerolog.Logger
}

// New constructs a decision engine.
func New(opts Options) *Engine {
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = 24 * time.Hour
	}
	if opts.AlertKind == "" {
		opts.AlertKind = "ALERT"
	}
	if opts.Channel == "" {
		opts.Channel = "TELEGRAM"
	}
	return &Engine{
		stats:     opts.Stats,
		seen:      opts.Seen,
		channel:   opts.Channel,
		kind:      opts.AlertKind,
		threshold: opts.ConfidenceThreshold,
		dedupeTTL: opts.DedupeTTL,
		logger:    opts.Logger.With().Str("component", "engine").Logger(),
	}
}

// EvaluateBatch runs the decision pipeline over one attempt's offers. Steps
// short-circuit on the first rejection; only persistence failures return an
// error. On acceptance a price sample is recorded for the route history.
func (e *Engine) EvaluateBatch(ctx context.Context, batch Batch, inQueue QueueChecker) (Decision, error) {
	if len(batch.Offers) == 0 {
		return reject(ReasonNoFlights), nil
	}

	routeKey := offer.RouteKey(batch.Origin, batch.Dest)
	tripType := string(batch.TripType)

	stats, _, err := e.stats.GetStats(ctx, routeKey, tripType)
	if err != nil {
		return Decision{}, err
	}

	avgForRank := 0.0
	if stats.Samples >= minSamplesForAvg && stats.Avg.IsPositive() {
		avgForRank, _ = stats.Avg.Float64()
	}

	ranked := rank.DedupeAndRank(batch.Offers, avgForRank)
	ranked = e.filterConfident(ranked)
	if len(ranked) == 0 {
		return reject(ReasonNoFlights), nil
	}

	best := ranked[0]
	if !best.PriceOK() {
		return reject(ReasonNoPrice), nil
	}
	if *best.Price > batch.Ceiling {
		e.logger.Debug().
			Str("route", routeKey).
			Int("price", *best.Price).
			Int("ceiling", batch.Ceiling).
			Msg("best price above ceiling")
		// The observed price still matters to the caller's cooldown
		// bookkeeping even though nothing gets enqueued.
		return Decision{Reason: ReasonAboveCeiling, BestPrice: *best.Price}, nil
	}

	picks := rank.PickBestBuckets(ranked, batch.Ceiling)
	if len(picks) == 0 {
		return reject(ReasonNoBestBuckets), nil
	}

	top := picks[0]
	for _, p := range picks[1:] {
		if *p.Price < *top.Price {
			top = p
		}
	}
	bestPrice := *top.Price

	dedupeKey := offer.DedupeKey(offer.ID(top), e.channel, e.kind)

	// Duplicate rejections still carry the price so the caller can record
	// a GOOD outcome for the route.
	if inQueue != nil && inQueue.Contains(dedupeKey) {
		return rejectKeyed(ReasonDuplicateQueue, dedupeKey, bestPrice), nil
	}

	seen, err := e.seen.WasAnnouncedRecently(ctx, dedupeKey, e.dedupeTTL)
	if err != nil {
		return Decision{}, err
	}
	if seen {
		return rejectKeyed(ReasonDuplicateTTL, dedupeKey, bestPrice), nil
	}

	priority, meta := rank.PriorityScore(bestPrice, batch.Ceiling, batch.Marquee, int(stats.Samples), stats.Avg)
	msg := BuildMessage(batch, picks, bestPrice, meta)

	if err := e.stats.RecordSample(ctx, routeKey, tripType, bestPrice); err != nil {
		return Decision{}, err
	}

	e.logger.Info().
		Str("route", routeKey).
		Str("depart", batch.DepartDate).
		Int("price", bestPrice).
		Int("priority", priority).
		Msg("offer batch accepted")

	return Decision{
		ShouldEnqueue: true,
		Reason:        ReasonOK,
		DedupeKey:     dedupeKey,
		Priority:      priority,
		BestPrice:     bestPrice,
		Message:       msg,
	}, nil
}

// filterConfident drops merged offers below the confidence threshold.
func (e *Engine) filterConfident(offers []offer.Offer) []offer.Offer {
	if e.threshold <= 0 {
		return offers
	}
	kept := offers[:0]
	for _, o := range offers {
		if o.Confidence >= e.threshold {
			kept = append(kept, o)
		}
	}
	return kept
}

func reject(reason Reason) Decision {
	return Decision{Reason: reason}
}

func rejectKeyed(reason Reason, key string, bestPrice int) Decision {
	return Decision{Reason: reason, DedupeKey: key, BestPrice: bestPrice}
}
