package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

type Decision int

const (
	Suppress Decision = iota
	Alert
	Recover
)

func (d Decision) String() string {
	switch d {
	case Alert:
		return "alert"
	case Recover:
		return "recover"
	default:
		return "suppress"
	}
}

// Gate deduplicates failure notifications per target. A repeated signature
// is suppressed until Cooldown has passed since the last send; a changed
// signature always alerts. Cooldown 0 alerts on every run.
type Gate struct {
	Store           repo.AlertStore
	Cooldown        time.Duration
	AlertOnRecovery bool
	Logger          *zap.Logger

	now func() time.Time
}

func NewGate(store repo.AlertStore, cooldown time.Duration, onRecovery bool, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		Store:           store,
		Cooldown:        cooldown,
		AlertOnRecovery: onRecovery,
		Logger:          logger,
		now:             time.Now,
	}
}

// Decide returns what to do with v and the previously stored signature. The
// new state is recorded before returning.
func (g *Gate) Decide(ctx context.Context, v domain.Verdict) (Decision, string) {
	id := string(v.TargetID)
	now := g.now()

	rec, err := g.Store.Get(ctx, id)
	if err != nil {
		// fail open: a broken alert store must not hide an outage
		g.Logger.Warn("gate_lookup_failed", zap.String("target_id", id), zap.Error(err))
		rec = nil
	}

	prev := string(domain.Healthy)
	if rec != nil && rec.LastSignature != "" {
		prev = rec.LastSignature
	}
	sig := v.Signature()

	if v.Healthy() {
		if prev == string(domain.Healthy) {
			return Suppress, prev
		}
		if g.AlertOnRecovery {
			g.record(ctx, id, sig, now)
			return Recover, prev
		}
		g.record(ctx, id, sig, time.Time{})
		return Suppress, prev
	}

	changed := sig != prev
	cooled := true
	if rec != nil && rec.LastSentAt != nil && g.Cooldown > 0 {
		cooled = now.Sub(*rec.LastSentAt) >= g.Cooldown
	}
	if changed || cooled {
		g.record(ctx, id, sig, now)
		return Alert, prev
	}
	return Suppress, prev
}

func (g *Gate) record(ctx context.Context, id, sig string, sentAt time.Time) {
	if err := g.Store.Set(ctx, id, sig, sentAt); err != nil {
		g.Logger.Warn("gate_record_failed", zap.String("target_id", id), zap.Error(err))
	}
}
