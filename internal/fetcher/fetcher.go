// Package fetcher retrieves raw offer batches for a route/date attempt.
package fetcher

import (
	"context"
	"strings"

	"flight-deal-alerts/internal/offer"
)

// Request identifies one route/date search. ReturnDate is empty for
// one-way itineraries.
type Request struct {
	Origin     string
	Dest       string
	TripType   offer.TripType
	DepartDate string
	ReturnDate string
}

// OfferSource retrieves the raw offers for one request. A failed fetch is
// reported as an error; the orchestration layer converts it into a zero-offer
// outcome for the attempt.
type OfferSource interface {
	Fetch(ctx context.Context, req Request) ([]offer.Offer, error)
}

// rawOffer is the wire shape of one scraped offer.
type rawOffer struct {
	Provider    string `json:"provider"`
	Origin      string `json:"origin"`
	Dest        string `json:"dest"`
	DepartDate  string `json:"depart_date"`
	ReturnDate  string `json:"return_date,omitempty"`
	DepTime     string `json:"dep_time"`
	ArrTime     string `json:"arr_time"`
	DurationMin int    `json:"duration_min"`
	Stops       int    `json:"stops"`
	Airline     string `json:"airline"`
	Price       *int   `json:"price"`
	Link        string `json:"link"`
	Partner     string `json:"partner"`
	RawText     string `json:"raw_text"`
	ExtraOffers int    `json:"extra_offers"`
	NextDay     bool   `json:"next_day"`
}

// normalize converts a wire record into a domain offer, filling request
// context and scrubbing fields that fail validation. Malformed times are
// cleared rather than rejected; the confidence score absorbs the loss.
func normalize(raw rawOffer, req Request) offer.Offer {
	o := offer.Offer{
		Provider:    strings.TrimSpace(raw.Provider),
		Origin:      strings.ToUpper(strings.TrimSpace(firstNonEmpty(raw.Origin, req.Origin))),
		Dest:        strings.ToUpper(strings.TrimSpace(firstNonEmpty(raw.Dest, req.Dest))),
		DepartDate:  firstNonEmpty(raw.DepartDate, req.DepartDate),
		ReturnDate:  firstNonEmpty(raw.ReturnDate, req.ReturnDate),
		DepTime:     strings.TrimSpace(raw.DepTime),
		ArrTime:     strings.TrimSpace(raw.ArrTime),
		DurationMin: raw.DurationMin,
		Stops:       raw.Stops,
		Airline:     strings.TrimSpace(raw.Airline),
		Price:       raw.Price,
		Link:        strings.TrimSpace(raw.Link),
		Partner:     strings.TrimSpace(raw.Partner),
		RawText:     raw.RawText,
		ExtraOffers: raw.ExtraOffers,
		NextDay:     raw.NextDay,
	}

	if !offer.IsTimeHHMM(o.DepTime) {
		o.DepTime = ""
	}
	if !offer.IsTimeHHMM(o.ArrTime) {
		o.ArrTime = ""
	}
	if o.DurationMin < 0 {
		o.DurationMin = 0
	}
	if o.Stops < 0 {
		o.Stops = 0
	}
	if o.Price != nil && *o.Price <= 0 {
		o.Price = nil
	}

	o.Confidence = offer.Confidence(o)
	return o
}

// usable rejects records that cannot belong to the requested route.
func usable(o offer.Offer, req Request) bool {
	if o.Origin == "" || o.Dest == "" || o.DepartDate == "" {
		return false
	}
	if o.Origin != strings.ToUpper(req.Origin) || o.Dest != strings.ToUpper(req.Dest) {
		return false
	}
	return true
}

func normalizeBatch(raws []rawOffer, req Request) []offer.Offer {
	out := make([]offer.Offer, 0, len(raws))
	for _, raw := range raws {
		o := normalize(raw, req)
		if !usable(o, req) {
			continue
		}
		out = append(out, o)
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
