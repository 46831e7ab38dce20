package runner

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hamed0406/sitewatch/internal/auth"
	"github.com/hamed0406/sitewatch/internal/counter"
	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/notify"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo/memory"
)

// ---- fakes ----

// idleCounter counts how often the session's pooled connections are
// released.
type idleCounter struct{ closed int }

func (c *idleCounter) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("no network in tests")
}

func (c *idleCounter) CloseIdleConnections() { c.closed++ }

type fakeAuth struct {
	fail  *auth.Failure
	calls int
	idle  idleCounter
}

func (f *fakeAuth) Authenticate(ctx context.Context, spec domain.AuthSpec) (*auth.Session, *auth.Failure) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return &auth.Session{Client: &http.Client{Transport: &f.idle}}, nil
}

type fakeFetcher struct {
	results []domain.FetchResult
	calls   int
	onFetch func(sess *auth.Session)
}

func (f *fakeFetcher) Fetch(ctx context.Context, sess *auth.Session, url string, timeout time.Duration) domain.FetchResult {
	if f.onFetch != nil {
		f.onFetch(sess)
	}
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i]
}

type memChannel struct{ sent []domain.Notification }

func (m *memChannel) Send(ctx context.Context, n domain.Notification) error {
	m.sent = append(m.sent, n)
	return nil
}

func page(code int, body string) domain.FetchResult {
	return domain.FetchResult{StatusCode: &code, Body: &body, Latency: 100 * time.Millisecond, FetchedAt: time.Now()}
}

func site(id string) domain.Target {
	return domain.Target{ID: domain.TargetID(id), Name: id, Kind: domain.KindSite, URL: "https://" + id + ".example.com"}
}

func newRunner(targets []domain.Target, a auth.Authenticator, f probe.Fetcher) (*Runner, *memChannel, *memory.Store) {
	ch := &memChannel{}
	store := memory.New()
	d := notify.NewDispatcher(zap.NewNop(), ch, []string{"ops@example.com"}, []string{"support@example.com"})
	r := New(zap.NewNop(), targets, a, f, d)
	r.Gate = NewGate(store, time.Hour, true, zap.NewNop())
	r.Results = store
	r.Tracker = counter.NewTracker(store)
	r.DNS = nil
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return r, ch, store
}

// ---- tests ----

func TestRunOnce_AuthFailureNotifiesWithoutFetching(t *testing.T) {
	tgt := site("console")
	tgt.Auth = &domain.AuthSpec{
		LoginURL:    "https://console.example.com/login",
		Mode:        domain.AuthForm,
		Credentials: domain.Credentials{Username: "u", Password: "p"},
	}
	fa := &fakeAuth{fail: &auth.Failure{Reason: "success marker not found"}}
	ff := &fakeFetcher{results: []domain.FetchResult{page(200, "ok")}}
	r, ch, _ := newRunner([]domain.Target{tgt}, fa, ff)

	rep := r.RunOnce(context.Background())

	if ff.calls != 0 {
		t.Fatalf("fetcher must not be called after failed login, got %d calls", ff.calls)
	}
	if len(ch.sent) != 1 || !strings.Contains(ch.sent[0].Subject, "Login Failed") {
		t.Fatalf("expected login failure notification, got %+v", ch.sent)
	}
	if rep.Entries[0].Verdict.Primary().Kind != domain.AuthFailed {
		t.Fatalf("unexpected verdict %+v", rep.Entries[0].Verdict)
	}
	if rep.ExitCode() != 1 {
		t.Fatalf("exit code should be 1")
	}
}

func TestRunOnce_HealthyIsQuiet(t *testing.T) {
	ff := &fakeFetcher{results: []domain.FetchResult{page(200, "welcome")}}
	r, ch, store := newRunner([]domain.Target{site("a")}, nil, ff)

	rep := r.RunOnce(context.Background())
	if len(ch.sent) != 0 || rep.ExitCode() != 0 {
		t.Fatalf("healthy run should be quiet: sent=%d exit=%d", len(ch.sent), rep.ExitCode())
	}
	if rep.RunID == "" {
		t.Fatalf("run id missing")
	}
	latest, _ := store.Latest(context.Background())
	if len(latest) != 1 {
		t.Fatalf("verdict should be stored, got %d", len(latest))
	}
	if r.LastReport() == nil {
		t.Fatalf("last report not kept")
	}
}

func TestRunOnce_OneTargetFailingDoesNotStopOthers(t *testing.T) {
	tgt := site("a")
	tgt.Auth = &domain.AuthSpec{Mode: domain.AuthBearer}
	fa := &fakeAuth{fail: &auth.Failure{Reason: "missing credentials"}}
	ff := &fakeFetcher{results: []domain.FetchResult{page(200, "fine")}}
	r, _, _ := newRunner([]domain.Target{tgt, site("b")}, fa, ff)

	rep := r.RunOnce(context.Background())
	if len(rep.Entries) != 2 || !rep.Entries[1].Verdict.Healthy() {
		t.Fatalf("second target should be checked: %+v", rep.Entries)
	}
}

func TestRunOnce_DedupWithinCooldown(t *testing.T) {
	ff := &fakeFetcher{results: []domain.FetchResult{page(503, "down")}}
	r, ch, _ := newRunner([]domain.Target{site("a")}, nil, ff)

	r.RunOnce(context.Background())
	rep := r.RunOnce(context.Background())
	if len(ch.sent) != 1 {
		t.Fatalf("repeat failure should be suppressed, sent=%d", len(ch.sent))
	}
	if rep.Entries[0].Decision != "suppress" || rep.ExitCode() != 1 {
		t.Fatalf("suppressed failure still fails the run: %+v", rep.Entries[0])
	}

	// a different failure is news
	ff.results = []domain.FetchResult{page(502, "bad gateway")}
	r.RunOnce(context.Background())
	if len(ch.sent) != 2 {
		t.Fatalf("changed signature should alert, sent=%d", len(ch.sent))
	}
}

func TestRunOnce_ZeroCooldownAlertsEveryRun(t *testing.T) {
	ff := &fakeFetcher{results: []domain.FetchResult{page(500, "oops")}}
	r, ch, _ := newRunner([]domain.Target{site("a")}, nil, ff)
	r.Gate.Cooldown = 0

	r.RunOnce(context.Background())
	r.RunOnce(context.Background())
	if len(ch.sent) != 2 {
		t.Fatalf("cooldown 0 should alert every run, sent=%d", len(ch.sent))
	}
}

func TestRunOnce_RecoveryNotification(t *testing.T) {
	ff := &fakeFetcher{results: []domain.FetchResult{page(500, "oops"), page(200, "fine")}}
	r, ch, _ := newRunner([]domain.Target{site("a")}, nil, ff)

	r.RunOnce(context.Background())
	r.RunOnce(context.Background())
	if len(ch.sent) != 2 || !strings.Contains(ch.sent[1].Subject, "Recovered") {
		t.Fatalf("expected recovery notification, got %+v", ch.sent)
	}
}

func TestRunOnce_RecheckSecondVerdictWins(t *testing.T) {
	tgt := site("a")
	tgt.Recheck = 20 * time.Second
	ff := &fakeFetcher{results: []domain.FetchResult{page(500, "oops"), page(200, "fine")}}
	r, ch, _ := newRunner([]domain.Target{tgt}, nil, ff)

	var slept time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error { slept = d; return nil }

	rep := r.RunOnce(context.Background())
	if ff.calls != 2 || slept != 20*time.Second {
		t.Fatalf("expected one recheck after delay, calls=%d slept=%s", ff.calls, slept)
	}
	if !rep.Entries[0].Verdict.Healthy() || len(ch.sent) != 0 {
		t.Fatalf("recheck result should win: %+v", rep.Entries[0].Verdict)
	}
}

func TestRunOnce_RecheckAbortedKeepsFirstVerdict(t *testing.T) {
	tgt := site("a")
	tgt.Recheck = time.Minute
	ff := &fakeFetcher{results: []domain.FetchResult{page(500, "oops"), page(200, "fine")}}
	r, _, _ := newRunner([]domain.Target{tgt}, nil, ff)
	r.sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }

	rep := r.RunOnce(context.Background())
	if ff.calls != 1 || rep.Entries[0].Verdict.Primary().Kind != domain.HTTPError {
		t.Fatalf("aborted recheck should keep the first verdict: calls=%d %+v", ff.calls, rep.Entries[0].Verdict)
	}
}

func TestRunOnce_UnreachableGetsDNSClass(t *testing.T) {
	ff := &fakeFetcher{results: []domain.FetchResult{{TransportError: errors.New("dial tcp: no such host")}}}
	r, _, _ := newRunner([]domain.Target{site("gone")}, nil, ff)
	var host string
	r.DNS = func(ctx context.Context, h string) probe.DNSStatus {
		host = h
		return probe.DNSStatus{Class: "NXDOMAIN"}
	}

	rep := r.RunOnce(context.Background())
	o := rep.Entries[0].Verdict.Primary()
	if o.Kind != domain.Unreachable || !strings.HasSuffix(o.Detail, "(dns: NXDOMAIN)") {
		t.Fatalf("unexpected outcome %+v", o)
	}
	if host != "gone.example.com" {
		t.Fatalf("dns looked up %q", host)
	}
}

func TestRunOnce_TicketCounter(t *testing.T) {
	board := domain.Target{
		ID: "board", Name: "Support Board", Kind: domain.KindTicketCount,
		URL: "https://tickets.example.com", CountPattern: `class="ticket"`,
	}
	rows := func(n int) domain.FetchResult {
		return page(200, strings.Repeat(`<tr class="ticket"></tr>`, n))
	}
	ff := &fakeFetcher{results: []domain.FetchResult{rows(3)}}
	r, ch, store := newRunner([]domain.Target{board}, nil, ff)

	rep := r.RunOnce(context.Background())
	if len(ch.sent) != 1 || ch.sent[0].Channel != domain.ChannelTicket || ch.sent[0].Recipients[0] != "support@example.com" {
		t.Fatalf("first growth should notify ticket recipients: %+v", ch.sent)
	}
	if rep.ExitCode() != 0 {
		t.Fatalf("ticket growth is not a failure")
	}

	r.RunOnce(context.Background())
	if len(ch.sent) != 1 {
		t.Fatalf("unchanged count must stay quiet")
	}

	ff.results = []domain.FetchResult{rows(5)}
	r.RunOnce(context.Background())
	if len(ch.sent) != 2 || !strings.HasPrefix(ch.sent[1].Subject, "2 New Tickets") {
		t.Fatalf("expected delta of 2, got %+v", ch.sent)
	}

	// decrease resets the baseline quietly
	ff.results = []domain.FetchResult{rows(1)}
	r.RunOnce(context.Background())
	st, _ := store.GetCount(context.Background(), "board")
	if len(ch.sent) != 2 || st.PreviousCount != 1 || st.LifetimeTotal != 5 {
		t.Fatalf("decrease: sent=%d state=%+v", len(ch.sent), st)
	}
}

func TestRunOnce_SlowBoardKeepsLatencyFinding(t *testing.T) {
	board := domain.Target{
		ID: "board", Name: "board", Kind: domain.KindTicketCount,
		URL: "https://tickets.example.com", CountPattern: `class="ticket"`,
		LatencyThreshold: 60 * time.Second,
	}
	slow := page(200, strings.Repeat(`<tr class="ticket"></tr>`, 3))
	slow.Latency = 65 * time.Second
	ff := &fakeFetcher{results: []domain.FetchResult{slow}}
	r, ch, _ := newRunner([]domain.Target{board}, nil, ff)

	rep := r.RunOnce(context.Background())
	v := rep.Entries[0].Verdict
	if len(v.Outcomes) != 2 || v.Outcomes[0].Kind != domain.Slow || v.Outcomes[1].Kind != domain.CountChanged {
		t.Fatalf("want slow then count_changed, got %+v", v.Outcomes)
	}
	if rep.ExitCode() != 1 {
		t.Fatalf("a slow board must fail the run")
	}
	if len(ch.sent) != 2 {
		t.Fatalf("want ticket news and slow alert, got %+v", ch.sent)
	}
	if ch.sent[0].Channel != domain.ChannelTicket || ch.sent[0].Subject != "3 New Tickets on board" {
		t.Fatalf("ticket news wrong: %+v", ch.sent[0])
	}
	if ch.sent[1].Channel != domain.ChannelSite || !strings.Contains(ch.sent[1].Subject, "Slow Response") {
		t.Fatalf("slow alert wrong: %+v", ch.sent[1])
	}

	// same count, still slow: the slow alert is deduplicated on its own
	rep = r.RunOnce(context.Background())
	if len(ch.sent) != 2 || rep.ExitCode() != 1 {
		t.Fatalf("repeat run: sent=%d exit=%d", len(ch.sent), rep.ExitCode())
	}
}

func TestRunOnce_TicketPatternMissing(t *testing.T) {
	board := domain.Target{
		ID: "board", Kind: domain.KindTicketCount, URL: "https://tickets.example.com",
		CountPattern: `(\d+) open tickets`,
	}
	ff := &fakeFetcher{results: []domain.FetchResult{page(200, "maintenance")}}
	r, ch, _ := newRunner([]domain.Target{board}, nil, ff)

	rep := r.RunOnce(context.Background())
	if rep.Entries[0].Verdict.Primary().Kind != domain.ContentError || len(ch.sent) != 1 {
		t.Fatalf("missing count should be reported: %+v", rep.Entries[0].Verdict)
	}
}

func TestRunOnce_SessionReleasedOnEveryPath(t *testing.T) {
	protected := func() domain.Target {
		tgt := site("console")
		tgt.Auth = &domain.AuthSpec{Mode: domain.AuthBearer, Credentials: domain.Credentials{Token: "t"}}
		return tgt
	}

	t.Run("healthy", func(t *testing.T) {
		fa := &fakeAuth{}
		ff := &fakeFetcher{results: []domain.FetchResult{page(200, "fine")}}
		r, _, _ := newRunner([]domain.Target{protected()}, fa, ff)
		r.RunOnce(context.Background())
		if fa.idle.closed != 1 {
			t.Fatalf("session closed %d times", fa.idle.closed)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		fa := &fakeAuth{}
		ff := &fakeFetcher{results: []domain.FetchResult{{TransportError: errors.New("connection refused")}}}
		r, _, _ := newRunner([]domain.Target{protected()}, fa, ff)
		rep := r.RunOnce(context.Background())
		if rep.Entries[0].Verdict.Primary().Kind != domain.Unreachable || fa.idle.closed != 1 {
			t.Fatalf("closed=%d verdict=%+v", fa.idle.closed, rep.Entries[0].Verdict)
		}
	})

	t.Run("recheck", func(t *testing.T) {
		tgt := protected()
		tgt.Recheck = time.Second
		fa := &fakeAuth{}
		ff := &fakeFetcher{results: []domain.FetchResult{page(500, "oops"), page(200, "fine")}}
		var openDuringFetch []bool
		ff.onFetch = func(sess *auth.Session) {
			openDuringFetch = append(openDuringFetch, sess != nil && fa.idle.closed == 0)
		}
		r, _, _ := newRunner([]domain.Target{tgt}, fa, ff)
		r.RunOnce(context.Background())
		if fa.calls != 1 || ff.calls != 2 {
			t.Fatalf("want one login and two fetches, got %d and %d", fa.calls, ff.calls)
		}
		if len(openDuringFetch) != 2 || !openDuringFetch[0] || !openDuringFetch[1] {
			t.Fatalf("session must stay open across the recheck: %v", openDuringFetch)
		}
		if fa.idle.closed != 1 {
			t.Fatalf("session closed %d times", fa.idle.closed)
		}
	})
}

func TestRunOnce_AuthFailureLogsResponseSnippet(t *testing.T) {
	tgt := site("console")
	tgt.Auth = &domain.AuthSpec{Mode: domain.AuthForm, Credentials: domain.Credentials{Username: "u", Password: "p"}}
	fa := &fakeAuth{fail: &auth.Failure{Reason: "failure marker found", Snippet: "<p>Invalid login attempt.</p>"}}
	r, _, _ := newRunner([]domain.Target{tgt}, fa, &fakeFetcher{results: []domain.FetchResult{page(200, "ok")}})
	core, logs := observer.New(zap.DebugLevel)
	r.Logger = zap.New(core)

	r.RunOnce(context.Background())

	entries := logs.FilterMessage("auth_failed_response").All()
	if len(entries) != 1 {
		t.Fatalf("want one response log, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["snippet"]; got != "<p>Invalid login attempt.</p>" {
		t.Fatalf("snippet=%v", got)
	}
	if entries[0].Level != zap.DebugLevel {
		t.Fatalf("snippet should log at debug, got %s", entries[0].Level)
	}
}

func TestLoop_StopsOnCancel(t *testing.T) {
	ff := &fakeFetcher{results: []domain.FetchResult{page(200, "ok")}}
	r, _, _ := newRunner([]domain.Target{site("a")}, nil, ff)
	r.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	if err := r.Loop(ctx); err != nil {
		t.Fatalf("loop: %v", err)
	}
	if ff.calls < 2 {
		t.Fatalf("expected several passes, got %d", ff.calls)
	}
}

func TestLoop_ZeroIntervalRunsOnce(t *testing.T) {
	ff := &fakeFetcher{results: []domain.FetchResult{page(200, "ok")}}
	r, _, _ := newRunner([]domain.Target{site("a")}, nil, ff)

	_ = r.Loop(context.Background())
	if ff.calls != 1 {
		t.Fatalf("want exactly one pass, got %d", ff.calls)
	}
}

func TestSetTargets(t *testing.T) {
	ff := &fakeFetcher{results: []domain.FetchResult{page(200, "ok")}}
	r, _, _ := newRunner(nil, nil, ff)
	r.SetTargets([]domain.Target{site("a"), site("b")})

	rep := r.RunOnce(context.Background())
	if len(rep.Entries) != 2 || len(r.Targets()) != 2 {
		t.Fatalf("targets not swapped: %+v", rep.Entries)
	}
}

func TestTrigger_RunsExtraPass(t *testing.T) {
	ff := &fakeFetcher{results: []domain.FetchResult{page(200, "ok")}}
	r, _, _ := newRunner([]domain.Target{site("a")}, nil, ff)
	r.Interval = time.Hour

	if !r.Trigger() {
		t.Fatalf("first trigger should be accepted")
	}
	if r.Trigger() {
		t.Fatalf("second trigger should report already pending")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = r.Loop(ctx)
	if ff.calls != 2 {
		t.Fatalf("want immediate pass plus triggered pass, got %d", ff.calls)
	}
}
