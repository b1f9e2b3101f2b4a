package service

import (
	"time"

	"flight-deal-alerts/internal/config"
	"flight-deal-alerts/internal/offer"
	"flight-deal-alerts/internal/storage"
)

// Attempt is one planned route/date check within a cycle.
type Attempt struct {
	Key     storage.RouteDateKey
	Ceiling int
	Marquee bool
	Group   string
}

// PlanAttempts expands the configured destination list across the date
// window, starting tomorrow. With WeekdaysOnly set, weekend departures are
// skipped. Cooldown filtering happens later, against the store.
func PlanAttempts(now time.Time, routes config.RoutesConfig, sending config.SendingConfig) []Attempt {
	attempts := make([]Attempt, 0, len(routes.DailyDests)*routes.DateWindowDays)

	for _, dest := range routes.DailyDests {
		for day := 1; day <= routes.DateWindowDays; day++ {
			date := now.AddDate(0, 0, day)
			if routes.WeekdaysOnly && isWeekend(date) {
				continue
			}
			attempts = append(attempts, Attempt{
				Key: storage.RouteDateKey{
					Origin:     routes.Origin,
					Dest:       dest,
					TripType:   string(offer.TripOneWay),
					DepartDate: date.Format("2006-01-02"),
				},
				Ceiling: routes.CeilingOW(dest),
				Marquee: false,
				Group:   sending.GroupForDest(dest),
			})
		}
	}

	return attempts
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// BuildAttempt assembles a single explicit attempt, as used by the one-shot
// cycle command. A non-empty return date makes it a round-trip check with
// the round-trip ceiling and marquee eligibility.
func BuildAttempt(routes config.RoutesConfig, sending config.SendingConfig, origin, dest, depart, ret string) Attempt {
	tripType := string(offer.TripOneWay)
	ceiling := routes.CeilingOW(dest)
	marquee := false
	if ret != "" {
		tripType = string(offer.TripRoundTrip)
		ceiling = routes.CeilingRT(dest)
		marquee = routes.IsMarqueeRT(dest)
	}
	return Attempt{
		Key: storage.RouteDateKey{
			Origin:     origin,
			Dest:       dest,
			TripType:   tripType,
			DepartDate: depart,
			ReturnDate: ret,
		},
		Ceiling: ceiling,
		Marquee: marquee,
		Group:   sending.GroupForDest(dest),
	}
}
