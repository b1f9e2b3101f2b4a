// Package queue implements the bounded, priority-ordered dispatch queue
// holding pending alerts between decision and delivery.
package queue

import (
	"sort"
	"time"
)

// Status is the lifecycle state of a queue item. Transitions are monotone:
// PENDING -> APPROVED -> SENT, with DROPPED terminal from any non-SENT state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusSent     Status = "SENT"
	StatusDropped  Status = "DROPPED"
)

var statusRank = map[Status]int{
	StatusApproved: 0,
	StatusPending:  1,
	StatusSent:     2,
	StatusDropped:  3,
}

// DropPolicy selects the behaviour of Enqueue when the queue is full.
type DropPolicy string

const (
	// DropLowest replaces the lowest-priority item when the newcomer has a
	// strictly greater priority.
	DropLowest DropPolicy = "drop_lowest"
	// DropNew always rejects the newcomer when the queue is full.
	DropNew DropPolicy = "drop_new"
)

// EnqueueResult reports the outcome of an Enqueue call.
type EnqueueResult string

const (
	Enqueued      EnqueueResult = "ENQUEUED"
	Duplicate     EnqueueResult = "DUPLICATE"
	DroppedLowest EnqueueResult = "DROPPED_LOWEST"
	DroppedNew    EnqueueResult = "DROP_NEW"
)

// Item is one pending or sent alert. ID doubles as the dedupe key.
type Item struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Priority  int               `json:"priority"`
	Channel   string            `json:"channel"`
	Text      string            `json:"text"`
	Status    Status            `json:"status"`
	Group     string            `json:"group"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Options configure queue governance.
type Options struct {
	Capacity            int
	Policy              DropPolicy
	ModerationEnabled   bool
	AutoApprovePriority int
}

// Queue is the in-memory working copy of the dispatch queue. It is not safe
// for concurrent use; the cycle runs single-writer (see service package).
type Queue struct {
	opts  Options
	items []Item
	now   func() time.Time
}

// New builds a queue around an existing snapshot of items.
func New(opts Options, items []Item) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = 50
	}
	if opts.Policy == "" {
		opts.Policy = DropLowest
	}
	return &Queue{opts: opts, items: items, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// Items returns the current snapshot in storage order.
func (q *Queue) Items() []Item { return q.items }

// Len returns the number of items, all statuses included.
func (q *Queue) Len() int { return len(q.items) }

// Contains reports whether an item with the given dedupe key is present.
func (q *Queue) Contains(id string) bool {
	for i := range q.items {
		if q.items[i].ID == id {
			return true
		}
	}
	return false
}

// Enqueue admits a new alert under the capacity and drop policy. The initial
// status is APPROVED, or PENDING when moderation is on and the priority falls
// below the auto-approve threshold.
func (q *Queue) Enqueue(id, text, channel, group string, priority int, meta map[string]string) EnqueueResult {
	if q.Contains(id) {
		return Duplicate
	}

	status := StatusApproved
	if q.opts.ModerationEnabled && priority < q.opts.AutoApprovePriority {
		status = StatusPending
	}

	item := Item{
		ID:        id,
		CreatedAt: q.now().UTC(),
		Priority:  priority,
		Channel:   channel,
		Text:      text,
		Status:    status,
		Group:     group,
		Meta:      meta,
	}

	if len(q.items) < q.opts.Capacity {
		q.items = append(q.items, item)
		return Enqueued
	}

	if q.opts.Policy == DropLowest {
		lowest := q.lowestIndex()
		if lowest >= 0 && item.Priority > q.items[lowest].Priority {
			q.items = append(q.items[:lowest], q.items[lowest+1:]...)
			q.items = append(q.items, item)
			return DroppedLowest
		}
	}
	return DroppedNew
}

// lowestIndex locates the eviction candidate: the item that sorts last under
// the delivery order.
func (q *Queue) lowestIndex() int {
	if len(q.items) == 0 {
		return -1
	}
	idx := 0
	for i := 1; i < len(q.items); i++ {
		if less(q.items[idx], q.items[i]) {
			idx = i
		}
	}
	return idx
}

// less implements the sort contract: status rank, then descending priority,
// then ascending creation time.
func less(a, b Item) bool {
	ra, rb := rankOf(a.Status), rankOf(b.Status)
	if ra != rb {
		return ra < rb
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func rankOf(s Status) int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return 99
}

// Sorted returns the items ordered by the delivery order.
func (q *Queue) Sorted() []Item {
	out := make([]Item, len(q.items))
	copy(out, q.items)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// DequeueSendable returns up to limit APPROVED items in delivery order.
func (q *Queue) DequeueSendable(limit int) []Item {
	out := make([]Item, 0, limit)
	for _, item := range q.Sorted() {
		if item.Status != StatusApproved {
			continue
		}
		out = append(out, item)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// MarkApproved promotes a PENDING item. Other states are left untouched.
func (q *Queue) MarkApproved(id string) bool {
	for i := range q.items {
		if q.items[i].ID == id && q.items[i].Status == StatusPending {
			q.items[i].Status = StatusApproved
			return true
		}
	}
	return false
}

// MarkSent records a successful delivery for an APPROVED item.
func (q *Queue) MarkSent(id string) bool {
	for i := range q.items {
		if q.items[i].ID == id && q.items[i].Status == StatusApproved {
			q.items[i].Status = StatusSent
			return true
		}
	}
	return false
}

// MarkDropped drops a non-SENT item, recording the reason in its metadata.
func (q *Queue) MarkDropped(id, reason string) bool {
	for i := range q.items {
		if q.items[i].ID == id && q.items[i].Status != StatusSent && q.items[i].Status != StatusDropped {
			q.items[i].Status = StatusDropped
			if q.items[i].Meta == nil {
				q.items[i].Meta = map[string]string{}
			}
			q.items[i].Meta["drop_reason"] = reason
			return true
		}
	}
	return false
}

// PruneSent removes SENT items older than the retention window and returns
// how many were removed.
func (q *Queue) PruneSent(olderThan time.Duration) int {
	cutoff := q.now().Add(-olderThan)
	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if item.Status == StatusSent && item.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}

// Stats summarises queue occupancy per status.
type Stats struct {
	Total    int
	Approved int
	Pending  int
	Sent     int
	Dropped  int
}

// Summary counts items per status.
func (q *Queue) Summary() Stats {
	s := Stats{Total: len(q.items)}
	for _, item := range q.items {
		switch item.Status {
		case StatusApproved:
			s.Approved++
		case StatusPending:
			s.Pending++
		case StatusSent:
			s.Sent++
		case StatusDropped:
			s.Dropped++
		}
	}
	return s
}
