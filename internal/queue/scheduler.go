package queue

import (
	"time"

	"github.com/offsync/opqueue/internal/domain"
)

// nextEligibleLocked returns the next item to dispatch: the
// highest-priority pending item whose scheduled time has passed and
// whose dependencies are all completed. Ties within a priority class
// break on scheduled time, then admission order. Callers hold q.mu.
func (q *Queue) nextEligibleLocked(now time.Time) *domain.Item {
	var best *domain.Item
	for _, item := range q.items {
		if !q.eligibleLocked(item, now) {
			continue
		}
		if best == nil || dispatchBefore(item, best) {
			best = item
		}
	}
	return best
}

// eligibleCountLocked counts the items that could dispatch right now,
// ignoring slot and throttle limits. Used by batch mode to decide on an
// early flush.
func (q *Queue) eligibleCountLocked(now time.Time) int {
	n := 0
	for _, item := range q.items {
		if q.eligibleLocked(item, now) {
			n++
		}
	}
	return n
}

func (q *Queue) eligibleLocked(item *domain.Item, now time.Time) bool {
	if item.Status != domain.StatusPending {
		return false
	}
	if item.ScheduledAt.After(now) {
		return false
	}
	return q.dependenciesMetLocked(item)
}

// dependenciesMetLocked reports whether every dependency of the item
// has completed. A dependency id with no backing item counts as
// satisfied: cleanup may have removed it, and blocking forever on a
// vanished item would deadlock its dependents.
func (q *Queue) dependenciesMetLocked(item *domain.Item) bool {
	for _, dep := range item.Dependencies {
		if other, ok := q.items[dep]; ok && other.Status != domain.StatusCompleted {
			return false
		}
	}
	return true
}

// dispatchBefore reports whether a should dispatch before b.
func dispatchBefore(a, b *domain.Item) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra < rb
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return a.Seq < b.Seq
}
