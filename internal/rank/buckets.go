package rank

import (
	"strconv"
	"strings"

	"flight-deal-alerts/internal/offer"
)

// DayBucket classifies a departure time-of-day slot.
type DayBucket int

const (
	BucketNone DayBucket = iota
	BucketMorning
	BucketAfternoon
	BucketEvening
)

// String returns the bucket label used in logs.
func (b DayBucket) String() string {
	switch b {
	case BucketMorning:
		return "morning"
	case BucketAfternoon:
		return "afternoon"
	case BucketEvening:
		return "evening"
	default:
		return "none"
	}
}

// ClassifyDayBucket maps an HH:MM departure time to its time-of-day bucket.
// Unparseable times yield BucketNone and the offer is excluded from
// bucketing.
func ClassifyDayBucket(depTime string) DayBucket {
	parts := strings.SplitN(strings.TrimSpace(depTime), ":", 2)
	if len(parts) != 2 {
		return BucketNone
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return BucketNone
	}
	mins := h*60 + m
	switch {
	case mins < 12*60:
		return BucketMorning
	case mins < 18*60:
		return BucketAfternoon
	default:
		return BucketEvening
	}
}

// PickBestBuckets selects up to three representatives from a ranked,
// deduplicated list: the cheapest priced offer at or under ceiling per
// time-of-day bucket, returned in morning/afternoon/evening order. When no
// bucket fills, the single overall cheapest surviving offer is returned.
func PickBestBuckets(ranked []offer.Offer, ceiling int) []offer.Offer {
	picked := map[DayBucket]*offer.Offer{}
	var cheapest *offer.Offer

	for i := range ranked {
		o := ranked[i]
		if !o.PriceOK() || *o.Price > ceiling {
			continue
		}
		if cheapest == nil || *o.Price < *cheapest.Price {
			c := o
			cheapest = &c
		}
		b := ClassifyDayBucket(o.DepTime)
		if b == BucketNone {
			continue
		}
		if cur, ok := picked[b]; !ok || *o.Price < *cur.Price {
			c := o
			picked[b] = &c
		}
	}

	result := make([]offer.Offer, 0, 3)
	for _, b := range []DayBucket{BucketMorning, BucketAfternoon, BucketEvening} {
		if o, ok := picked[b]; ok {
			result = append(result, *o)
		}
	}
	if len(result) == 0 && cheapest != nil {
		result = append(result, *cheapest)
	}
	return result
}
