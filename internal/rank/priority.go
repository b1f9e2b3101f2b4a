package rank

import (
	"github.com/shopspring/decimal"
)

// minSamplesForHistory is the number of recorded price samples a route needs
// before the historical bonus applies.
const minSamplesForHistory = 10

// PriorityMeta exposes the intermediate ratios behind a priority score.
type PriorityMeta struct {
	Invalid           bool
	DiscountVsCeiling decimal.Decimal
	Base              int
	BelowAvg          decimal.Decimal
	Avg               decimal.Decimal
	Samples           int
	Bonus             int
	AlertBelowAvg     bool
}

// PriorityScore combines the discount against the route ceiling with a
// historical below-average bonus into a single dispatch-ordering value.
//
// The base component rewards the discount linearly up to 600 points. The
// historical bonus applies only with at least minSamplesForHistory samples,
// and only to marquee round-trip routes: a drop of >=15% below the average
// is worth a fixed +300, smaller drops scale linearly up to +150.
func PriorityScore(price, ceiling int, marquee bool, samples int, avg decimal.Decimal) (int, PriorityMeta) {
	meta := PriorityMeta{}
	if ceiling <= 0 || price <= 0 {
		meta.Invalid = true
		return 0, meta
	}

	discount := decimal.NewFromInt(int64(ceiling - price)).
		Div(decimal.NewFromInt(int64(ceiling)))
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	meta.DiscountVsCeiling = discount
	meta.Base = int(discount.Mul(decimal.NewFromInt(600)).IntPart())

	if samples >= minSamplesForHistory && avg.IsPositive() {
		belowAvg := avg.Sub(decimal.NewFromInt(int64(price))).Div(avg)
		if belowAvg.IsNegative() {
			belowAvg = decimal.Zero
		}
		meta.BelowAvg = belowAvg
		meta.Avg = avg
		meta.Samples = samples

		threshold := decimal.NewFromFloat(0.15)
		if marquee {
			if belowAvg.GreaterThanOrEqual(threshold) {
				meta.Bonus = 300
				meta.AlertBelowAvg = true
			} else {
				meta.Bonus = int(decimal.NewFromInt(150).Mul(belowAvg).Div(threshold).IntPart())
			}
		}
	}

	return meta.Base + meta.Bonus, meta
}
