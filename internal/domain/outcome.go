package domain

import (
	"fmt"
	"strings"
	"time"
)

type OutcomeKind string

const (
	Healthy      OutcomeKind = "healthy"
	Slow         OutcomeKind = "slow"
	ContentError OutcomeKind = "content_error"
	HTTPError    OutcomeKind = "http_error"
	Unreachable  OutcomeKind = "unreachable"
	AuthFailed   OutcomeKind = "auth_failed"
	CountChanged OutcomeKind = "count_changed"
)

// Outcome is one classified finding for a target. StatusCode is set for
// HTTPError, Keyword for ContentError, Latency for Slow.
type Outcome struct {
	Kind       OutcomeKind   `json:"kind"`
	StatusCode int           `json:"status_code,omitempty"`
	Keyword    string        `json:"keyword,omitempty"`
	Latency    time.Duration `json:"latency,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Count      *CountDelta   `json:"count,omitempty"`
}

func (o Outcome) String() string {
	switch o.Kind {
	case HTTPError:
		return fmt.Sprintf("%s(%d)", o.Kind, o.StatusCode)
	case ContentError:
		return fmt.Sprintf("%s(%q)", o.Kind, o.Keyword)
	case Slow:
		return fmt.Sprintf("%s(%s)", o.Kind, o.Latency.Round(time.Millisecond))
	default:
		return string(o.Kind)
	}
}

// Verdict collects every finding of one evaluation pass. Slow and
// ContentError may both be present, and a ticket board may add CountChanged
// after them. All other kinds appear alone.
type Verdict struct {
	TargetID  TargetID    `json:"target_id"`
	Outcomes  []Outcome   `json:"outcomes"`
	Result    FetchResult `json:"result"`
	CheckedAt time.Time   `json:"checked_at"`
}

func (v Verdict) Primary() Outcome {
	if len(v.Outcomes) == 0 {
		return Outcome{Kind: Healthy}
	}
	return v.Outcomes[0]
}

func (v Verdict) Healthy() bool {
	return v.Primary().Kind == Healthy
}

// Failing is true for verdicts that indicate a monitoring failure. A grown
// ticket count notifies but is not a failure.
func (v Verdict) Failing() bool {
	k := v.Primary().Kind
	return k != Healthy && k != CountChanged
}

func (v Verdict) Has(kind OutcomeKind) bool {
	for _, o := range v.Outcomes {
		if o.Kind == kind {
			return true
		}
	}
	return false
}

// Without returns a copy of v with every finding of kind removed. A verdict
// left with no findings is healthy.
func (v Verdict) Without(kind OutcomeKind) Verdict {
	out := make([]Outcome, 0, len(v.Outcomes))
	for _, o := range v.Outcomes {
		if o.Kind != kind {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = append(out, Outcome{Kind: Healthy})
	}
	v.Outcomes = out
	return v
}

// Signature identifies a verdict for deduplication: same kinds, codes and
// keywords produce the same signature regardless of latency jitter.
func (v Verdict) Signature() string {
	parts := make([]string, 0, len(v.Outcomes))
	for _, o := range v.Outcomes {
		switch o.Kind {
		case HTTPError:
			parts = append(parts, fmt.Sprintf("%s:%d", o.Kind, o.StatusCode))
		case ContentError:
			parts = append(parts, string(o.Kind)+":"+o.Keyword)
		case CountChanged:
			// every new count is worth a notification
			cur := 0
			if o.Count != nil {
				cur = o.Count.Current
			}
			parts = append(parts, fmt.Sprintf("%s:%d", o.Kind, cur))
		default:
			parts = append(parts, string(o.Kind))
		}
	}
	if len(parts) == 0 {
		return string(Healthy)
	}
	return strings.Join(parts, "+")
}

// CountState is the persisted ticket-counter record. PreviousCount is always
// the last observed count and never negative.
type CountState struct {
	TargetID      TargetID  `json:"target_id"`
	PreviousCount int       `json:"previous_count"`
	LifetimeTotal int       `json:"lifetime_total"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type CountDelta struct {
	TargetID      TargetID `json:"target_id"`
	Previous      int      `json:"previous"`
	Current       int      `json:"current"`
	Delta         int      `json:"delta"`
	LifetimeTotal int      `json:"lifetime_total"`
	Notify        bool     `json:"notify"`
}
