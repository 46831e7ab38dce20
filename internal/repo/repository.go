package repo

import (
	"context"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// AlertRecord holds the last notified verdict signature for a target and the
// last time we sent a notification (used for cooldown).
type AlertRecord struct {
	TargetID      string
	LastSignature string
	LastSentAt    *time.Time
}

// AlertStore is implemented by a persistence layer to store alert state.
type AlertStore interface {
	// Get returns nil, nil if there's no record yet.
	Get(ctx context.Context, targetID string) (*AlertRecord, error)
	// Set upserts the record. If sentAt.IsZero() we store NULL for last_sent_at.
	Set(ctx context.Context, targetID, signature string, sentAt time.Time) error
}

// CountStore persists the ticket-counter baseline between runs.
type CountStore interface {
	// GetCount returns nil, nil if the target was never counted.
	GetCount(ctx context.Context, id domain.TargetID) (*domain.CountState, error)
	PutCount(ctx context.Context, st domain.CountState) error
}

// ResultStore keeps verdicts so the status API can show the latest pass.
type ResultStore interface {
	Append(ctx context.Context, v domain.Verdict) error
	Latest(ctx context.Context) ([]domain.Verdict, error)
}
