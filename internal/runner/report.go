package runner

import (
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/notify"
)

// Entry is the result of one target within a pass.
type Entry struct {
	TargetID domain.TargetID       `json:"target_id"`
	Name     string                `json:"name"`
	Verdict  domain.Verdict        `json:"verdict"`
	Decision string                `json:"decision"`
	Delivery notify.DeliveryResult `json:"-"`
}

type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Entries    []Entry   `json:"entries"`
}

func (r Report) Failing() int {
	n := 0
	for _, e := range r.Entries {
		if e.Verdict.Failing() {
			n++
		}
	}
	return n
}

// ExitCode is 1 when any target ended in a failing verdict.
func (r Report) ExitCode() int {
	if r.Failing() > 0 {
		return 1
	}
	return 0
}
