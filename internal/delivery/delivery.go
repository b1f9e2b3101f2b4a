// Package delivery pushes approved queue items to their recipient groups.
package delivery

import (
	"context"

	"flight-deal-alerts/internal/queue"
)

// Deliverer sends one queue item to its group's channel.
type Deliverer interface {
	Deliver(ctx context.Context, item queue.Item) error
}
