package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

var console = domain.Target{
	ID:   "console",
	Name: "VST Console",
	URL:  "https://console.example.com/Home/About",
	Auth: &domain.AuthSpec{LoginURL: "https://console.example.com/Home/Login"},
}

func TestRender_HealthyProducesNothing(t *testing.T) {
	v := domain.Verdict{Outcomes: []domain.Outcome{{Kind: domain.Healthy}}}
	if _, _, ok := Render(v, console); ok {
		t.Fatalf("healthy verdict must not render")
	}
}

func TestRender_Subjects(t *testing.T) {
	cases := []struct {
		o       domain.Outcome
		subject string
		body    string
	}{
		{domain.Outcome{Kind: domain.ContentError, Keyword: "exception"}, "Website Error Detected ❌", "Keyword 'exception' found in https://console.example.com/Home/About content."},
		{domain.Outcome{Kind: domain.AuthFailed, Detail: "success marker not found"}, "VST Console Login Failed ❌", "Login failed for https://console.example.com/Home/Login"},
		{domain.Outcome{Kind: domain.HTTPError, StatusCode: 502}, "VST Console Returned HTTP 502 ❌", "returned HTTP 502"},
		{domain.Outcome{Kind: domain.Unreachable, Detail: "connection refused"}, "VST Console Unreachable ❌", "connection refused"},
		{domain.Outcome{Kind: domain.Slow, Latency: 65 * time.Second}, "VST Console Slow Response ⚠️", "responded in 1m5s (threshold 1m0s)"},
	}
	for _, c := range cases {
		subj, body, ok := Render(domain.Verdict{Outcomes: []domain.Outcome{c.o}}, console)
		if !ok {
			t.Fatalf("%s: expected notification", c.o.Kind)
		}
		if subj != c.subject {
			t.Fatalf("%s: subject %q want %q", c.o.Kind, subj, c.subject)
		}
		if !strings.Contains(body, c.body) {
			t.Fatalf("%s: body %q missing %q", c.o.Kind, body, c.body)
		}
	}
}

func TestRender_SlowAndContentInOneMessage(t *testing.T) {
	v := domain.Verdict{Outcomes: []domain.Outcome{
		{Kind: domain.Slow, Latency: 65 * time.Second},
		{Kind: domain.ContentError, Keyword: "exception"},
	}}
	subj, body, _ := Render(v, console)
	if !strings.Contains(subj, "Slow") {
		t.Fatalf("subject follows primary outcome, got %q", subj)
	}
	if !strings.Contains(body, "responded in") || !strings.Contains(body, "Keyword 'exception'") {
		t.Fatalf("body should list both findings:\n%s", body)
	}
}

func TestRender_TicketDelta(t *testing.T) {
	board := domain.Target{Name: "Support Board", URL: "https://tickets.example.com"}
	v := domain.Verdict{Outcomes: []domain.Outcome{{
		Kind:  domain.CountChanged,
		Count: &domain.CountDelta{Previous: 5, Current: 8, Delta: 3, LifetimeTotal: 12},
	}}}
	subj, body, ok := Render(v, board)
	if !ok || subj != "3 New Tickets on Support Board" {
		t.Fatalf("subject %q ok=%v", subj, ok)
	}
	for _, want := range []string{"New tickets: 3", "Current count: 8", "Previous count: 5", "Total new since tracking began: 12"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}

	v.Outcomes[0].Count.Delta = 1
	if subj, _, _ := Render(v, board); subj != "1 New Ticket on Support Board" {
		t.Fatalf("singular subject wrong: %q", subj)
	}
}

func TestRenderRecovery(t *testing.T) {
	subj, body := RenderRecovery(console, "http_error:502")
	if subj != "VST Console Recovered ✅" || !strings.Contains(body, "http_error:502") {
		t.Fatalf("unexpected recovery %q / %q", subj, body)
	}
}
