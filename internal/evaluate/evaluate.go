// Package evaluate turns a fetch result into classified outcomes.
package evaluate

import (
	"strings"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Evaluate classifies r against the rules of t.
//
// Order: transport error, then status allowlist; both end evaluation. Latency
// and keyword checks are independent and may both report.
func Evaluate(t domain.Target, r domain.FetchResult) domain.Verdict {
	v := domain.Verdict{TargetID: t.ID, Result: r, CheckedAt: checkedAt(r)}

	if r.TransportError != nil {
		v.Outcomes = []domain.Outcome{{
			Kind:   domain.Unreachable,
			Detail: r.TransportError.Error(),
		}}
		return v
	}

	code := r.Status()
	if !t.StatusAllowed(code) {
		v.Outcomes = []domain.Outcome{{Kind: domain.HTTPError, StatusCode: code}}
		return v
	}

	threshold := t.LatencyThreshold
	if threshold <= 0 {
		threshold = domain.DefaultLatencyThreshold
	}
	if r.Latency > threshold {
		v.Outcomes = append(v.Outcomes, domain.Outcome{Kind: domain.Slow, Latency: r.Latency})
	}

	if t.CheckKeywords && code == 200 {
		if kw, ok := MatchKeyword(r.Text(), t.ErrorKeywords); ok {
			v.Outcomes = append(v.Outcomes, domain.Outcome{Kind: domain.ContentError, Keyword: kw})
		}
	}

	if len(v.Outcomes) == 0 {
		v.Outcomes = []domain.Outcome{{Kind: domain.Healthy}}
	}
	return v
}

// AuthFailure builds the verdict for a target whose login did not succeed.
func AuthFailure(t domain.Target, reason string) domain.Verdict {
	return domain.Verdict{
		TargetID:  t.ID,
		Outcomes:  []domain.Outcome{{Kind: domain.AuthFailed, Detail: reason}},
		CheckedAt: time.Now().UTC(),
	}
}

// MatchKeyword returns the first keyword contained in body. Both sides are
// lower-cased and surrounding spaces in a keyword are significant. Blank
// keywords never match.
func MatchKeyword(body string, keywords []string) (string, bool) {
	if len(keywords) == 0 || body == "" {
		return "", false
	}
	lower := strings.ToLower(body)
	for _, kw := range keywords {
		if strings.TrimSpace(kw) == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

func checkedAt(r domain.FetchResult) time.Time {
	if r.FetchedAt.IsZero() {
		return time.Now().UTC()
	}
	return r.FetchedAt
}
