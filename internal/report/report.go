package report

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mwantia/assetsync/internal/plan"
	"github.com/mwantia/assetsync/internal/syncerr"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusPlanned Status = "planned"
)

// PermsStatus records the permission axis of an outcome, independent of
// the transfer result.
type PermsStatus string

const (
	PermsNone   PermsStatus = ""
	PermsFixed  PermsStatus = "fixed"
	PermsFailed PermsStatus = "failed"
)

// Outcome is the recorded result of one plan item.
type Outcome struct {
	Path      string       `json:"path"`
	Action    plan.Action  `json:"action"`
	Reason    plan.Reason  `json:"reason,omitempty"`
	Status    Status       `json:"status"`
	Kind      syncerr.Kind `json:"kind,omitempty"`
	Error     string       `json:"error,omitempty"`
	Attempts  int          `json:"attempts"`
	Size      int64        `json:"size,omitempty"`
	Hash      string       `json:"hash,omitempty"`
	ElapsedMs int64        `json:"elapsed_ms,omitempty"`

	Perms      PermsStatus `json:"perms,omitempty"`
	PermsError string      `json:"perms_error,omitempty"`

	Note string `json:"note,omitempty"`
}

// SetError marks the outcome failed with err's kind and message.
func (o *Outcome) SetError(err error) {
	o.Status = StatusFailed
	o.Kind = syncerr.KindOf(err)
	o.Error = err.Error()
}

// Failed reports whether the outcome counts as a failure.
func (o *Outcome) Failed() bool {
	return o.Status == StatusFailed
}

// Meta describes the run a report belongs to. It is enough to rebuild a
// retry run without any other input.
type Meta struct {
	RunID       string `json:"run_id"`
	Command     string `json:"command"`
	Manifest    string `json:"manifest"`
	Destination string `json:"destination"`
	BaseURL     string `json:"base_url,omitempty"`
	DryRun      bool   `json:"dry_run"`
}

type Summary struct {
	Found       int `json:"found"`
	Downloaded  int `json:"downloaded"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
	Cleaned     int `json:"cleaned"`
	PermsFixed  int `json:"perms_fixed"`
	PermsFailed int `json:"perms_failed"`
}

type Report struct {
	Meta
	GeneratedAt time.Time `json:"generated_at"`
	Summary     Summary   `json:"summary"`
	Items       []Outcome `json:"items"`
}

// HasFailures reports whether any outcome failed.
func (r *Report) HasFailures() bool {
	return r.Summary.Failed > 0
}

// FailedItems returns the failed outcomes in path order.
func (r *Report) FailedItems() []Outcome {
	var failed []Outcome
	for _, item := range r.Items {
		if item.Failed() {
			failed = append(failed, item)
		}
	}
	return failed
}

// Summarize computes the aggregate counts of outcomes. found is the number
// of manifest entries of the run.
func Summarize(found int, outcomes []Outcome) Summary {
	s := Summary{Found: found}
	for _, o := range outcomes {
		switch o.Status {
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusSuccess:
			switch o.Action {
			case plan.ActionCreate, plan.ActionUpdate:
				s.Downloaded++
			case plan.ActionDelete:
				s.Cleaned++
			case plan.ActionNoop:
				s.Skipped++
			}
		}

		switch o.Perms {
		case PermsFixed:
			s.PermsFixed++
		case PermsFailed:
			s.PermsFailed++
		}
	}
	return s
}

// Collector accumulates outcomes from concurrent workers.
type Collector struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	outcomes []Outcome
}

func NewCollector(clock clockwork.Clock) *Collector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collector{
		clock: clock,
	}
}

func (c *Collector) Add(outcomes ...Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcomes = append(c.outcomes, outcomes...)
}

// Outcomes returns a copy of everything collected so far.
func (c *Collector) Outcomes() []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Outcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}

// Build freezes the collected outcomes into a report ordered by path.
func (c *Collector) Build(meta Meta, found int) *Report {
	items := c.Outcomes()
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].Path < items[b].Path
	})

	return &Report{
		Meta:        meta,
		GeneratedAt: c.clock.Now().UTC(),
		Summary:     Summarize(found, items),
		Items:       items,
	}
}
