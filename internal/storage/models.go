package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Route-date status values. Absence of a row means the route/date was never
// checked.
const (
	StateGood   = "GOOD"
	StateBad    = "BAD"
	StateNoData = "NO_DATA"
)

// RouteDateKey identifies one row of the cooldown state machine. ReturnDate
// is empty for one-way itineraries.
type RouteDateKey struct {
	Origin     string
	Dest       string
	TripType   string
	DepartDate string
	ReturnDate string
}

// RouteDateState is the persisted cooldown row for a route/date.
type RouteDateState struct {
	Key             RouteDateKey
	Status          string
	BestPrice       *int
	LastCheckedAt   time.Time
	CooldownUntil   time.Time
	LastFingerprint string
}

// RouteStats is the rolling (count, average) of recorded minimum prices for
// a (route, trip type).
type RouteStats struct {
	RouteKey  string
	TripType  string
	Samples   int64
	Avg       decimal.Decimal
	UpdatedAt time.Time
}

// PriceSample is one recorded minimum-price observation, kept for the
// export command.
type PriceSample struct {
	RouteKey   string
	TripType   string
	Price      int
	ObservedAt time.Time
}
