package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Render builds the subject and body for a verdict. ok is false for healthy
// verdicts, which never notify.
func Render(v domain.Verdict, t domain.Target) (subject, body string, ok bool) {
	if v.Healthy() || len(v.Outcomes) == 0 {
		return "", "", false
	}

	lines := make([]string, 0, len(v.Outcomes)+2)
	for _, o := range v.Outcomes {
		if l := describe(o, t); l != "" {
			lines = append(lines, l)
		}
	}
	lines = append(lines, "", "Checked: "+v.CheckedAt.Format(time.RFC3339))

	return subjectFor(v.Primary(), t), strings.Join(lines, "\n"), true
}

// RenderRecovery is sent when a failing target returns to healthy.
func RenderRecovery(t domain.Target, previous string) (subject, body string) {
	return fmt.Sprintf("%s Recovered ✅", label(t)),
		fmt.Sprintf("%s is healthy again.\nPrevious state: %s", t.URL, previous)
}

func subjectFor(o domain.Outcome, t domain.Target) string {
	name := label(t)
	switch o.Kind {
	case domain.Unreachable:
		return name + " Unreachable ❌"
	case domain.HTTPError:
		return fmt.Sprintf("%s Returned HTTP %d ❌", name, o.StatusCode)
	case domain.Slow:
		return name + " Slow Response ⚠️"
	case domain.ContentError:
		return "Website Error Detected ❌"
	case domain.AuthFailed:
		return name + " Login Failed ❌"
	case domain.CountChanged:
		n := 0
		if o.Count != nil {
			n = o.Count.Delta
		}
		return fmt.Sprintf("%d New %s on %s", n, plural(n, "Ticket", "Tickets"), name)
	default:
		return name + " Check Failed ❌"
	}
}

func describe(o domain.Outcome, t domain.Target) string {
	switch o.Kind {
	case domain.Unreachable:
		return fmt.Sprintf("Could not reach %s: %s", t.URL, o.Detail)
	case domain.HTTPError:
		return fmt.Sprintf("%s returned HTTP %d.", t.URL, o.StatusCode)
	case domain.Slow:
		threshold := t.LatencyThreshold
		if threshold <= 0 {
			threshold = domain.DefaultLatencyThreshold
		}
		return fmt.Sprintf("%s responded in %s (threshold %s).",
			t.URL, o.Latency.Round(time.Millisecond), threshold)
	case domain.ContentError:
		if o.Keyword == "" {
			return fmt.Sprintf("Unexpected content at %s: %s", t.URL, o.Detail)
		}
		return fmt.Sprintf("Keyword '%s' found in %s content.", o.Keyword, t.URL)
	case domain.AuthFailed:
		login := t.URL
		if t.Auth != nil && t.Auth.LoginURL != "" {
			login = t.Auth.LoginURL
		}
		return fmt.Sprintf("Login failed for %s. Please verify credentials.\nReason: %s", login, o.Detail)
	case domain.CountChanged:
		if o.Count == nil {
			return ""
		}
		return fmt.Sprintf("New tickets: %d\nCurrent count: %d\nPrevious count: %d\nTotal new since tracking began: %d\nBoard: %s",
			o.Count.Delta, o.Count.Current, o.Count.Previous, o.Count.LifetimeTotal, t.URL)
	default:
		return o.Detail
	}
}

func label(t domain.Target) string {
	if t.Name != "" {
		return t.Name
	}
	return t.URL
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
