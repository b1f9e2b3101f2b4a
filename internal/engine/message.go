package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"flight-deal-alerts/internal/offer"
	"flight-deal-alerts/internal/rank"
)

// BuildMessage renders the alert text for one accepted batch: route header,
// best price against the ceiling, an optional historical-reference line, and
// one numbered line per bucketed representative.
func BuildMessage(batch Batch, picks []offer.Offer, bestPrice int, meta rank.PriorityMeta) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s -> %s | %s", strings.ToUpper(batch.Origin), strings.ToUpper(batch.Dest), formatDate(batch.DepartDate))
	if batch.ReturnDate != "" {
		fmt.Fprintf(&b, " / %s", formatDate(batch.ReturnDate))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Best price R$ %d (ceiling R$ %d)\n", bestPrice, batch.Ceiling)

	if meta.AlertBelowAvg {
		pct := meta.BelowAvg.Mul(decimal.NewFromInt(100)).Round(0)
		fmt.Fprintf(&b, "%s%% below the %d-sample average of R$ %s\n",
			pct.String(), meta.Samples, meta.Avg.Round(0).String())
	}

	for i, p := range picks {
		fmt.Fprintf(&b, "%d. %s", i+1, formatLeg(p))
		if p.Link != "" {
			fmt.Fprintf(&b, "\n   %s", p.Link)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// formatLeg renders one representative line: times, duration, stops,
// airline, price.
func formatLeg(o offer.Offer) string {
	var parts []string

	if o.DepTime != "" && o.ArrTime != "" {
		times := o.DepTime + " -> " + o.ArrTime
		if o.NextDay {
			times += " (+1)"
		}
		parts = append(parts, times)
	}
	if o.DurationMin > 0 {
		parts = append(parts, formatDuration(o.DurationMin))
	}
	parts = append(parts, formatStops(o.Stops))
	if a := strings.TrimSpace(o.Airline); a != "" {
		parts = append(parts, a)
	}
	if o.PriceOK() {
		parts = append(parts, fmt.Sprintf("R$ %d", *o.Price))
	}

	return strings.Join(parts, ", ")
}

// formatDate converts ISO YYYY-MM-DD to DD/MM/YYYY, passing through values
// that do not match.
func formatDate(iso string) string {
	parts := strings.Split(iso, "-")
	if len(parts) != 3 {
		return iso
	}
	return parts[2] + "/" + parts[1] + "/" + parts[0]
}

func formatDuration(minutes int) string {
	h := minutes / 60
	m := minutes % 60
	if h == 0 {
		return fmt.Sprintf("%dmin", m)
	}
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%02dmin", h, m)
}

func formatStops(stops int) string {
	switch stops {
	case 0:
		return "direct"
	case 1:
		return "1 stop"
	default:
		return fmt.Sprintf("%d stops", stops)
	}
}
