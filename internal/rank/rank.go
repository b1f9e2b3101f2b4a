// Package rank orders deduplicated offers, partitions them into time-of-day
// buckets, and computes the dispatch priority of the winning candidate.
package rank

import (
	"sort"

	"flight-deal-alerts/internal/offer"
)

// Weights for the in-batch rank score. Lower score ranks earlier.
const (
	weightPrice       = 1.0
	weightDuration    = 0.5
	weightStops       = 180.0
	weightNextDay     = 120.0
	weightBelowAvg    = 300.0
	weightExtraOffers = 2.0
	maxExtraOffers    = 10
)

// Score computes the in-batch ordering value for a priced offer. avgPrice
// is the historical route average, or 0 when unavailable.
func Score(o offer.Offer, avgPrice float64) float64 {
	price := float64(*o.Price)
	belowAvg := 0.0
	if avgPrice > 0 {
		belowAvg = (avgPrice - price) / avgPrice
		if belowAvg < 0 {
			belowAvg = 0
		}
	}
	extra := o.ExtraOffers
	if extra > maxExtraOffers {
		extra = maxExtraOffers
	}
	nextDay := 0.0
	if o.NextDay {
		nextDay = 1.0
	}
	return weightPrice*price +
		weightDuration*float64(o.DurationMin) +
		weightStops*float64(o.Stops) -
		weightBelowAvg*belowAvg +
		weightNextDay*nextDay -
		weightExtraOffers*float64(extra)
}

// DedupeAndRank merges offers sharing a fingerprint and orders the result
// from cheapest/most attractive to least. Priced offers come first, ordered
// by Score; unpriced offers follow, by descending confidence then ascending
// duration. The sort is stable: ties keep batch order.
func DedupeAndRank(offers []offer.Offer, avgPrice float64) []offer.Offer {
	merged := make([]offer.Offer, 0, len(offers))
	index := make(map[string]int, len(offers))

	for _, o := range offers {
		o.Confidence = offer.Confidence(o)
		key := offer.Fingerprint(o)
		if at, ok := index[key]; ok {
			merged[at] = offer.Merge(merged[at], o)
			merged[at].Confidence = offer.Confidence(merged[at])
			continue
		}
		index[key] = len(merged)
		merged = append(merged, o)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		switch {
		case a.PriceOK() && !b.PriceOK():
			return true
		case !a.PriceOK() && b.PriceOK():
			return false
		case a.PriceOK():
			return Score(a, avgPrice) < Score(b, avgPrice)
		default:
			if a.Confidence != b.Confidence {
				return a.Confidence > b.Confidence
			}
			return a.DurationMin < b.DurationMin
		}
	})

	return merged
}
