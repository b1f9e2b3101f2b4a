package storage

import (
	"testing"
	"time"
)

func TestMarkGoodCooldownBoundary(t *testing.T) {
	key := RouteDateKey{
		Origin:     "REC",
		Dest:       "GRU",
		TripType:   "OW",
		DepartDate: "2026-02-15",
	}
	markedAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	cooldown := 5 * 24 * time.Hour
	price := 550

	row := newStateRow(key, StateGood, &price, "abc123", markedAt, cooldown)

	if row.Status != StateGood {
		t.Fatalf("status = %q, want %q", row.Status, StateGood)
	}
	if row.BestPrice == nil || *row.BestPrice != price {
		t.Fatalf("best price = %v, want %d", row.BestPrice, price)
	}
	if !row.LastCheckedAt.Equal(markedAt) {
		t.Fatalf("last checked at = %v, want %v", row.LastCheckedAt, markedAt)
	}
	wantUntil := markedAt.Add(cooldown)
	if !row.CooldownUntil.Equal(wantUntil) {
		t.Fatalf("cooldown until = %v, want %v", row.CooldownUntil, wantUntil)
	}

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"immediately after mark", markedAt, false},
		{"mid cooldown", markedAt.Add(cooldown / 2), false},
		{"one second before expiry", row.CooldownUntil.Add(-time.Second), false},
		{"exactly at expiry", row.CooldownUntil, true},
		{"after expiry", row.CooldownUntil.Add(time.Second), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := eligibleAt(row.CooldownUntil, tc.now); got != tc.want {
				t.Fatalf("eligibleAt(%v, %v) = %v, want %v", row.CooldownUntil, tc.now, got, tc.want)
			}
		})
	}
}

func TestNewStateRowNormalisesToUTC(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	markedAt := time.Date(2026, 2, 1, 7, 0, 0, 0, loc)

	row := newStateRow(RouteDateKey{Origin: "REC", Dest: "GIG", TripType: "OW", DepartDate: "2026-03-01"}, StateNoData, nil, "", markedAt, 6*time.Hour)

	if row.LastCheckedAt.Location() != time.UTC {
		t.Fatalf("last checked at location = %v, want UTC", row.LastCheckedAt.Location())
	}
	if got, want := row.LastCheckedAt, markedAt.UTC(); !got.Equal(want) {
		t.Fatalf("last checked at = %v, want %v", got, want)
	}
}

func TestNewStateRowBadWithoutPrice(t *testing.T) {
	markedAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	row := newStateRow(RouteDateKey{Origin: "REC", Dest: "BSB", TripType: "OW", DepartDate: "2026-03-01"}, StateBad, nil, "", markedAt, 12*time.Hour)

	if row.Status != StateBad {
		t.Fatalf("status = %q, want %q", row.Status, StateBad)
	}
	if row.BestPrice != nil {
		t.Fatalf("best price = %v, want nil", row.BestPrice)
	}
	if row.LastFingerprint != "" {
		t.Fatalf("fingerprint = %q, want empty", row.LastFingerprint)
	}
}
