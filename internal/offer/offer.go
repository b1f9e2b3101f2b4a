// Package offer defines the raw flight offer record together with the
// fingerprinting, merging, and confidence rules that turn noisy scrape
// output into stable, deduplicated candidates.
package offer

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// TripType classifies an itinerary as one-way or round-trip.
type TripType string

const (
	TripOneWay    TripType = "OW"
	TripRoundTrip TripType = "RT"
)

// Offer is one observed itinerary instance. Optional fields are pointers;
// absence means the scraper could not extract the value.
type Offer struct {
	Provider    string
	Origin      string
	Dest        string
	DepartDate  string // ISO YYYY-MM-DD
	ReturnDate  string // ISO YYYY-MM-DD, empty for one-way
	DepTime     string // HH:MM
	ArrTime     string // HH:MM
	DurationMin int
	Stops       int
	Airline     string
	Price       *int // minor-currency-free units; nil when not extractable
	Link        string
	Partner     string
	RawText     string
	ExtraOffers int
	NextDay     bool
	Confidence  int
}

// PriceOK reports whether the offer carries a usable price.
func (o *Offer) PriceOK() bool {
	return o.Price != nil && *o.Price > 0
}

// RouteKey returns the canonical "ORIGIN-DEST" key for stats lookups.
func (o *Offer) RouteKey() string {
	return RouteKey(o.Origin, o.Dest)
}

// RouteKey builds the canonical route key used by stats and rate tracking.
func RouteKey(origin, dest string) string {
	return strings.ToUpper(origin) + "-" + strings.ToUpper(dest)
}

var hhmmRe = regexp.MustCompile(`^\d{2}:\d{2}$`)

// IsTimeHHMM reports whether value is a well-formed HH:MM time string.
func IsTimeHHMM(value string) bool {
	return hhmmRe.MatchString(strings.TrimSpace(value))
}

// durationBucket rounds minutes to the nearest 5-minute bucket so jittery
// scrape timings do not inflate near-duplicates.
func durationBucket(minutes int) int {
	if minutes <= 0 {
		return 0
	}
	return (minutes + 2) / 5 * 5
}

// Fingerprint derives the stable identity key for an offer. Two offers
// sharing a fingerprint are merge candidates.
//
// Field order: provider|origin|dest|depart|dep|arr|next_day|dur5|stops|AIRLINE
func Fingerprint(o Offer) string {
	dur := ""
	if o.DurationMin > 0 {
		dur = fmt.Sprintf("%d", durationBucket(o.DurationMin))
	}
	nextDay := "0"
	if o.NextDay {
		nextDay = "1"
	}
	parts := []string{
		strings.ToUpper(o.Provider),
		strings.ToUpper(o.Origin),
		strings.ToUpper(o.Dest),
		o.DepartDate,
		o.DepTime,
		o.ArrTime,
		nextDay,
		dur,
		fmt.Sprintf("%d", o.Stops),
		strings.ToUpper(strings.TrimSpace(o.Airline)),
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ID returns the strong offer identity used as the dedupe-key core.
func ID(o Offer) string {
	return "F_" + Fingerprint(o)
}

// DedupeKey scopes an offer id by alert kind and delivery channel:
// KIND|CHANNEL|F_<sha1>.
func DedupeKey(offerID, channel, kind string) string {
	return strings.ToUpper(kind) + "|" + strings.ToUpper(channel) + "|" + offerID
}

// Merge combines two observations of the same itinerary. The result keeps
// the minimum price (a missing price yields the other's), a's link on ties,
// an "official" partner label over a non-official one, the maximum extra
// offers count, and the longer raw capture.
func Merge(a, b Offer) Offer {
	out := a

	switch {
	case !a.PriceOK() && b.PriceOK():
		out.Price = b.Price
	case a.PriceOK() && b.PriceOK():
		if *b.Price < *a.Price {
			out.Price = b.Price
		}
	}

	if out.Link == "" && b.Link != "" {
		out.Link = b.Link
	}

	if out.Partner == "" && b.Partner != "" {
		out.Partner = b.Partner
	} else if out.Partner != "" && b.Partner != "" {
		if !isOfficialPartner(out.Partner) && isOfficialPartner(b.Partner) {
			out.Partner = b.Partner
		}
	}

	if b.ExtraOffers > out.ExtraOffers {
		out.ExtraOffers = b.ExtraOffers
	}

	if len(b.RawText) > len(out.RawText) {
		out.RawText = b.RawText
	}

	return out
}

func isOfficialPartner(partner string) bool {
	return strings.Contains(strings.ToLower(partner), "official")
}

// Confidence rates how trustworthy an extracted offer is, in [0,100].
// Additive scheme: each independently-validated field contributes a fixed
// number of points, so adding a valid field never lowers the score.
func Confidence(o Offer) int {
	score := 0
	if o.PriceOK() {
		score += 30
	}
	if IsTimeHHMM(o.DepTime) && IsTimeHHMM(o.ArrTime) {
		score += 20
	}
	if o.DurationMin > 0 {
		score += 20
	}
	if strings.TrimSpace(o.Airline) != "" {
		score += 20
	}
	if o.Link != "" {
		score += 10
	}
	return score
}
