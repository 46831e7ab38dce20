// Package counter implements the ticket-count ratchet: compare the current
// count with the stored baseline and report how many new items appeared.
package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

type Tracker struct {
	store repo.CountStore
	now   func() time.Time
}

func NewTracker(store repo.CountStore) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Evaluate compares current against the stored baseline. Growth notifies
// and adds to the lifetime total; anything else stays quiet. The baseline is
// always overwritten with current, so a decrease resets it downwards.
func (t *Tracker) Evaluate(ctx context.Context, id domain.TargetID, current int) (domain.CountDelta, error) {
	if current < 0 {
		return domain.CountDelta{}, fmt.Errorf("count for %s is negative: %d", id, current)
	}

	prev, err := t.store.GetCount(ctx, id)
	if err != nil {
		return domain.CountDelta{}, fmt.Errorf("load count %s: %w", id, err)
	}
	st := domain.CountState{TargetID: id}
	if prev != nil {
		st = *prev
	}

	d := domain.CountDelta{
		TargetID:      id,
		Previous:      st.PreviousCount,
		Current:       current,
		LifetimeTotal: st.LifetimeTotal,
	}
	if current > st.PreviousCount {
		d.Delta = current - st.PreviousCount
		d.Notify = true
		d.LifetimeTotal += d.Delta
	}

	next := domain.CountState{
		TargetID:      id,
		PreviousCount: current,
		LifetimeTotal: d.LifetimeTotal,
		UpdatedAt:     t.now().UTC(),
	}
	if err := t.store.PutCount(ctx, next); err != nil {
		return d, fmt.Errorf("save count %s: %w", id, err)
	}
	return d, nil
}
