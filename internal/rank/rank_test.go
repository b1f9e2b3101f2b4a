package rank

import (
	"testing"

	"github.com/shopspring/decimal"

	"flight-deal-alerts/internal/offer"
)

func intPtr(v int) *int { return &v }

func priced(price, duration, stops int, dep string) offer.Offer {
	return offer.Offer{
		Provider:    "viajala",
		Origin:      "REC",
		Dest:        "GRU",
		DepartDate:  "2026-02-15",
		DepTime:     dep,
		ArrTime:     "12:00",
		DurationMin: duration,
		Stops:       stops,
		Airline:     "LATAM",
		Price:       intPtr(price),
		Link:        "https://example.com",
	}
}

func TestDedupeAndRankMergesDuplicates(t *testing.T) {
	a := priced(600, 190, 0, "08:00")
	b := priced(550, 190, 0, "08:00")

	ranked := DedupeAndRank([]offer.Offer{a, b}, 0)
	if len(ranked) != 1 {
		t.Fatalf("expected 1 merged offer, got %d", len(ranked))
	}
	if *ranked[0].Price != 550 {
		t.Fatalf("merged price should be 550, got %d", *ranked[0].Price)
	}
}

func TestDedupeAndRankOrdersByScore(t *testing.T) {
	cheapDirect := priced(400, 180, 0, "08:00")
	cheapOneStop := priced(400, 180, 1, "09:00")
	expensive := priced(900, 180, 0, "10:00")

	ranked := DedupeAndRank([]offer.Offer{expensive, cheapOneStop, cheapDirect}, 0)
	if *ranked[0].Price != 400 || ranked[0].Stops != 0 {
		t.Fatalf("cheapest direct should rank first, got %+v", ranked[0])
	}
	if ranked[1].Stops != 1 {
		t.Fatalf("one-stop should rank second, got %+v", ranked[1])
	}
}

func TestDedupeAndRankUnpricedLast(t *testing.T) {
	withPrice := priced(800, 180, 0, "08:00")
	noPriceHighConf := priced(0, 200, 0, "09:00")
	noPriceHighConf.Price = nil
	noPriceLowConf := offer.Offer{
		Provider: "viajala", Origin: "REC", Dest: "GRU",
		DepartDate: "2026-02-15", DepTime: "10:00",
	}

	ranked := DedupeAndRank([]offer.Offer{noPriceLowConf, withPrice, noPriceHighConf}, 0)
	if !ranked[0].PriceOK() {
		t.Fatalf("priced offer must rank first")
	}
	if ranked[1].Confidence < ranked[2].Confidence {
		t.Fatalf("unpriced offers must be ordered by descending confidence")
	}
}

func TestDedupeAndRankBelowAverageBonus(t *testing.T) {
	bargain := priced(500, 300, 1, "08:00")
	normal := priced(520, 180, 0, "09:00")

	// Without history the shorter direct flight wins despite costing more.
	ranked := DedupeAndRank([]offer.Offer{bargain, normal}, 0)
	if *ranked[0].Price != 520 {
		t.Fatalf("without history expected 520 first, got %d", *ranked[0].Price)
	}

	// A strong below-average discount flips the order.
	ranked = DedupeAndRank([]offer.Offer{bargain, normal}, 900)
	if *ranked[0].Price != 500 {
		t.Fatalf("with history expected 500 first, got %d", *ranked[0].Price)
	}
}

func TestClassifyDayBucket(t *testing.T) {
	cases := []struct {
		dep  string
		want DayBucket
	}{
		{"08:00", BucketMorning},
		{"11:59", BucketMorning},
		{"12:00", BucketAfternoon},
		{"15:00", BucketAfternoon},
		{"18:00", BucketEvening},
		{"22:00", BucketEvening},
		{"", BucketNone},
		{"25:00", BucketNone},
		{"soon", BucketNone},
	}
	for _, tc := range cases {
		if got := ClassifyDayBucket(tc.dep); got != tc.want {
			t.Errorf("ClassifyDayBucket(%q) = %v, want %v", tc.dep, got, tc.want)
		}
	}
}

func TestPickBestBucketsOnePerSlot(t *testing.T) {
	morning := priced(500, 180, 0, "08:00")
	afternoon := priced(520, 180, 0, "15:00")
	evening := priced(540, 180, 0, "22:00")

	best := PickBestBuckets([]offer.Offer{evening, morning, afternoon}, 650)
	if len(best) != 3 {
		t.Fatalf("expected 3 representatives, got %d", len(best))
	}
	if best[0].DepTime != "08:00" || best[1].DepTime != "15:00" || best[2].DepTime != "22:00" {
		t.Fatalf("expected morning/afternoon/evening order, got %v %v %v",
			best[0].DepTime, best[1].DepTime, best[2].DepTime)
	}
}

func TestPickBestBucketsCheapestWithinBucket(t *testing.T) {
	cheap := priced(480, 180, 0, "07:30")
	dear := priced(600, 180, 0, "09:00")

	best := PickBestBuckets([]offer.Offer{dear, cheap}, 650)
	if len(best) != 1 || *best[0].Price != 480 {
		t.Fatalf("expected single morning pick at 480, got %+v", best)
	}
}

func TestPickBestBucketsCeilingFilter(t *testing.T) {
	over := priced(700, 180, 0, "08:00")
	best := PickBestBuckets([]offer.Offer{over}, 650)
	if len(best) != 0 {
		t.Fatalf("offers above ceiling must not be selected, got %+v", best)
	}
}

func TestPickBestBucketsFallbackToCheapest(t *testing.T) {
	noTime := priced(500, 180, 0, "")
	best := PickBestBuckets([]offer.Offer{noTime}, 650)
	if len(best) != 1 || *best[0].Price != 500 {
		t.Fatalf("expected fallback to overall cheapest, got %+v", best)
	}
}

func TestPriorityScoreInvalid(t *testing.T) {
	if score, meta := PriorityScore(0, 650, false, 0, decimal.Zero); score != 0 || !meta.Invalid {
		t.Fatalf("zero price must be invalid, got %d", score)
	}
	if score, meta := PriorityScore(500, 0, false, 0, decimal.Zero); score != 0 || !meta.Invalid {
		t.Fatalf("zero ceiling must be invalid, got %d", score)
	}
}

func TestPriorityScoreNoDiscountNoBonus(t *testing.T) {
	score, meta := PriorityScore(650, 650, true, 0, decimal.Zero)
	if score != 0 {
		t.Fatalf("price at ceiling with no history must score 0, got %d (meta %+v)", score, meta)
	}
}

func TestPriorityScoreDecreasingInPrice(t *testing.T) {
	prev := -1
	for price := 650; price >= 50; price -= 50 {
		score, _ := PriorityScore(price, 650, false, 0, decimal.Zero)
		if score <= prev && price != 650 {
			t.Fatalf("score must strictly increase as price drops: price=%d score=%d prev=%d", price, score, prev)
		}
		prev = score
	}
}

func TestPriorityScoreMarqueeBonus(t *testing.T) {
	avg := decimal.NewFromInt(3000)

	// 20% below average on a marquee route: fixed +300.
	score, meta := PriorityScore(2400, 3500, true, 12, avg)
	if meta.Bonus != 300 || !meta.AlertBelowAvg {
		t.Fatalf("expected fixed +300 bonus, got %+v", meta)
	}
	if score != meta.Base+300 {
		t.Fatalf("score must be base+bonus, got %d", score)
	}

	// 10% below average: linear bonus, 150 * 0.10/0.15 = 100.
	_, meta = PriorityScore(2700, 3500, true, 12, avg)
	if meta.Bonus != 100 {
		t.Fatalf("expected linear bonus 100, got %d", meta.Bonus)
	}

	// Same discount outside the marquee subset: no bonus.
	_, meta = PriorityScore(2400, 3500, false, 12, avg)
	if meta.Bonus != 0 {
		t.Fatalf("non-marquee routes receive no bonus, got %d", meta.Bonus)
	}

	// Too few samples: no bonus either.
	_, meta = PriorityScore(2400, 3500, true, 9, avg)
	if meta.Bonus != 0 {
		t.Fatalf("bonus requires >=10 samples, got %d", meta.Bonus)
	}
}
