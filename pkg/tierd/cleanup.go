package tierd

import (
	"time"
)

// auditEntry records one step of an ordered teardown, adapted from the
// teacher's cleanup coordinator: each step is logged with its outcome so a
// failed step never hides the steps that ran around it.
type auditEntry struct {
	Timestamp time.Time
	Step      string
	Err       error
}

// shutdownAudit accumulates the ordered teardown steps spec.md §4.5's
// Shutdown performs, so Shutdown can log every step that failed once the
// whole sequence has run; the record is kept in Manager.lastAudit. Unlike
// the teacher's coordinator
// (which aggregates sidecar-destroy failures across many independent
// targets), tierd's teardown is a short fixed sequence — but the
// record-then-summarize shape is the same.
type shutdownAudit struct {
	entries []auditEntry
}

// run executes step, recording its outcome regardless of success. Steps
// always run in the order they are recorded — run never skips a later step
// because an earlier one failed, matching spec.md §7's "shutdown does not
// depend on success of any individual cleanup."
func (a *shutdownAudit) run(name string, step func() error) {
	err := step()
	a.entries = append(a.entries, auditEntry{Timestamp: time.Now(), Step: name, Err: err})
}

// failed returns the steps that reported an error.
func (a *shutdownAudit) failed() []auditEntry {
	var out []auditEntry
	for _, e := range a.entries {
		if e.Err != nil {
			out = append(out, e)
		}
	}
	return out
}
