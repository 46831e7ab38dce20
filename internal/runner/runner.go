// Package runner drives every configured target through login, fetch,
// evaluation and notification, one target at a time.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/auth"
	"github.com/hamed0406/sitewatch/internal/counter"
	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/evaluate"
	"github.com/hamed0406/sitewatch/internal/notify"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo"
)

type Runner struct {
	Logger     *zap.Logger
	Auth       auth.Authenticator
	Fetcher    probe.Fetcher
	Tracker    *counter.Tracker
	Dispatcher *notify.Dispatcher
	Gate       *Gate
	Results    repo.ResultStore
	Interval   time.Duration

	// DNS explains unreachable targets. Nil disables the lookup.
	DNS func(ctx context.Context, host string) probe.DNSStatus

	sleep   func(ctx context.Context, d time.Duration) error
	trigger chan struct{}

	mu      sync.RWMutex
	targets []domain.Target
	last    *Report
}

func New(logger *zap.Logger, targets []domain.Target, a auth.Authenticator, f probe.Fetcher, d *notify.Dispatcher) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Logger:     logger,
		Auth:       a,
		Fetcher:    f,
		Dispatcher: d,
		DNS:        probe.CheckDNS,
		sleep:      sleepCtx,
		trigger:    make(chan struct{}, 1),
		targets:    append([]domain.Target(nil), targets...),
	}
}

// SetTargets swaps the target list. A pass already in progress keeps the
// list it started with.
func (r *Runner) SetTargets(ts []domain.Target) {
	r.mu.Lock()
	r.targets = append([]domain.Target(nil), ts...)
	r.mu.Unlock()
	r.Logger.Info("targets_updated", zap.Int("count", len(ts)))
}

func (r *Runner) Targets() []domain.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Target(nil), r.targets...)
}

// LastReport returns the most recent completed pass, or nil before the first.
func (r *Runner) LastReport() *Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	cp := *r.last
	return &cp
}

// Trigger asks a running Loop for an extra pass as soon as the current one
// ends. It returns false when a pass is already pending.
func (r *Runner) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Loop does an immediate pass, then one per Interval until ctx is
// cancelled. Interval <= 0 runs a single pass.
func (r *Runner) Loop(ctx context.Context) error {
	r.RunOnce(ctx)
	if r.Interval <= 0 {
		r.Logger.Info("runner_interval_disabled")
		return nil
	}

	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Logger.Info("runner_stopped")
			return nil
		case <-t.C:
			r.RunOnce(ctx)
		case <-r.trigger:
			r.Logger.Info("run_triggered")
			r.RunOnce(ctx)
		}
	}
}

// RunOnce checks every target in order. A failure in one target never stops
// the others.
func (r *Runner) RunOnce(ctx context.Context) Report {
	rep := Report{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := r.Logger.With(zap.String("run_id", rep.RunID))

	targets := r.Targets()
	for _, t := range targets {
		if ctx.Err() != nil {
			log.Warn("run_cancelled", zap.Int("remaining", len(targets)-len(rep.Entries)))
			break
		}
		rep.Entries = append(rep.Entries, r.process(ctx, log, t))
	}

	rep.FinishedAt = time.Now().UTC()
	log.Info("run_finished",
		zap.Int("targets", len(rep.Entries)),
		zap.Int("failing", rep.Failing()),
		zap.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
	)

	r.mu.Lock()
	r.last = &rep
	r.mu.Unlock()
	return rep
}

func (r *Runner) process(ctx context.Context, log *zap.Logger, t domain.Target) Entry {
	v := r.check(ctx, log, t)
	e := Entry{TargetID: t.ID, Name: t.Name, Verdict: v}

	if r.Results != nil {
		if err := r.Results.Append(ctx, v); err != nil {
			log.Warn("result_append_failed", zap.String("target_id", string(t.ID)), zap.Error(err))
		}
	}

	p := v.Primary()
	log.Info("target_checked",
		zap.String("target_id", string(t.ID)),
		zap.String("url", t.URL),
		zap.String("outcome", string(p.Kind)),
		zap.String("signature", v.Signature()),
		zap.Int("status", v.Result.Status()),
		zap.Duration("latency", v.Result.Latency),
	)

	if r.Dispatcher == nil {
		e.Decision = Suppress.String()
		return e
	}

	// ticket growth is news every time; only the remaining findings go
	// through the gate
	countSent := false
	if v.Has(domain.CountChanged) {
		news := v
		news.Outcomes = nil
		for _, o := range v.Outcomes {
			if o.Kind == domain.CountChanged {
				news.Outcomes = append(news.Outcomes, o)
			}
		}
		e.Delivery = r.Dispatcher.Notify(ctx, news, t)
		countSent = true
		v = v.Without(domain.CountChanged)
	}

	decision, prev := Alert, ""
	if r.Gate != nil {
		decision, prev = r.Gate.Decide(ctx, v)
	} else if v.Healthy() {
		decision = Suppress
	}
	e.Decision = decision.String()
	if decision == Suppress && countSent {
		e.Decision = Alert.String()
	}

	switch decision {
	case Alert:
		e.Delivery = r.Dispatcher.Notify(ctx, v, t)
	case Recover:
		e.Delivery = r.Dispatcher.NotifyRecovery(ctx, t, prev)
	default:
		if !v.Healthy() {
			log.Debug("alert_suppressed", zap.String("target_id", string(t.ID)), zap.String("signature", v.Signature()))
		}
	}
	return e
}

// check logs in when needed, fetches and classifies one target. The session
// is released on every path before returning.
func (r *Runner) check(ctx context.Context, log *zap.Logger, t domain.Target) domain.Verdict {
	var sess *auth.Session
	if t.RequiresAuth() {
		if r.Auth == nil {
			return evaluate.AuthFailure(t, "no authenticator configured")
		}
		s, f := r.Auth.Authenticate(ctx, *t.Auth)
		if f != nil {
			log.Warn("auth_failed",
				zap.String("target_id", string(t.ID)),
				zap.String("reason", f.Reason),
				zap.Bool("transport", auth.IsTransport(f)),
				zap.Stringer("credentials", t.Auth.Credentials),
			)
			if f.Snippet != "" {
				log.Debug("auth_failed_response",
					zap.String("target_id", string(t.ID)),
					zap.String("snippet", f.Snippet),
				)
			}
			return evaluate.AuthFailure(t, f.Reason)
		}
		sess = s
		defer sess.Close()
	}

	v := r.evaluate(ctx, log, sess, t)

	// a recheck would re-count the board and lose the growth already seen
	if t.Recheck > 0 && v.Failing() && !v.Has(domain.CountChanged) {
		log.Info("recheck_scheduled",
			zap.String("target_id", string(t.ID)),
			zap.String("signature", v.Signature()),
			zap.Duration("delay", t.Recheck),
		)
		if err := r.sleep(ctx, t.Recheck); err == nil {
			v = r.evaluate(ctx, log, sess, t)
		}
	}

	if v.Primary().Kind == domain.Unreachable && r.DNS != nil {
		st := r.DNS(ctx, probe.Host(t.URL))
		v.Outcomes[0].Detail += " (dns: " + st.Class + ")"
	}
	return v
}

func (r *Runner) evaluate(ctx context.Context, log *zap.Logger, sess *auth.Session, t domain.Target) domain.Verdict {
	res := r.Fetcher.Fetch(ctx, sess, t.URL, t.Timeout)
	v := evaluate.Evaluate(t, res)
	if t.Kind != domain.KindTicketCount {
		return v
	}
	if k := v.Primary().Kind; k == domain.Unreachable || k == domain.HTTPError {
		return v
	}
	return r.count(ctx, log, t, v)
}

// count adds a CountChanged finding when the number of tickets grew since
// the last run. Findings already on v are kept ahead of it.
func (r *Runner) count(ctx context.Context, log *zap.Logger, t domain.Target, v domain.Verdict) domain.Verdict {
	n, err := probe.CountMatches(v.Result.Text(), t.CountPattern)
	if err != nil {
		v.Outcomes = addFinding(v.Outcomes, domain.Outcome{Kind: domain.ContentError, Detail: err.Error()})
		return v
	}
	if r.Tracker == nil {
		log.Warn("counter_disabled", zap.String("target_id", string(t.ID)), zap.Int("count", n))
		return v
	}

	d, err := r.Tracker.Evaluate(ctx, t.ID, n)
	if err != nil {
		log.Warn("counter_store_failed", zap.String("target_id", string(t.ID)), zap.Error(err))
	}
	log.Debug("ticket_count",
		zap.String("target_id", string(t.ID)),
		zap.Int("previous", d.Previous),
		zap.Int("current", n),
		zap.Int("lifetime_total", d.LifetimeTotal),
	)
	if d.Notify {
		v.Outcomes = addFinding(v.Outcomes, domain.Outcome{Kind: domain.CountChanged, Count: &d})
	}
	return v
}

// addFinding appends o, replacing a lone Healthy placeholder.
func addFinding(outs []domain.Outcome, o domain.Outcome) []domain.Outcome {
	if len(outs) == 1 && outs[0].Kind == domain.Healthy {
		return []domain.Outcome{o}
	}
	return append(outs, o)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
