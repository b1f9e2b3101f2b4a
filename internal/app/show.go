package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"flight-deal-alerts/internal/queue"
)

// Show prints the dispatch queue and the active cooldowns.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	snapshot := queue.NewFileStore(a.Config.Queue.Path)
	items, err := snapshot.Load()
	if err != nil {
		return err
	}

	q := queue.New(queue.Options{Capacity: a.Config.Queue.Capacity}, items)
	stats := q.Summary()
	fmt.Fprintf(os.Stdout, "queue: %d total (%d approved, %d pending, %d sent, %d dropped)\n\n",
		stats.Total, stats.Approved, stats.Pending, stats.Sent, stats.Dropped)

	if stats.Total > 0 {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Status\tPriority\tGroup\tCreated (UTC)\tID")
		for i, item := range q.Sorted() {
			if opts.Limit > 0 && i >= opts.Limit {
				break
			}
			fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\n",
				item.Status,
				item.Priority,
				item.Group,
				item.CreatedAt.UTC().Format(time.RFC3339),
				sanitizeInline(item.ID),
			)
		}
		writer.Flush()
		fmt.Fprintln(os.Stdout)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	cooldowns, err := store.ListCooldowns(ctx, limit)
	if err != nil {
		return err
	}
	if len(cooldowns) == 0 {
		fmt.Fprintln(os.Stdout, "no active cooldowns")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Route\tTrip\tDepart\tStatus\tBest\tUntil (UTC)")
	for _, state := range cooldowns {
		best := "-"
		if state.BestPrice != nil {
			best = fmt.Sprintf("%d", *state.BestPrice)
		}
		fmt.Fprintf(writer, "%s-%s\t%s\t%s\t%s\t%s\t%s\n",
			state.Key.Origin,
			state.Key.Dest,
			state.Key.TripType,
			state.Key.DepartDate,
			state.Status,
			best,
			state.CooldownUntil.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
