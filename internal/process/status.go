package process

import "time"

// Status is one immutable entry in a process's audit trail. Entries are
// append-only: created on every state transition, never mutated or deleted.
type Status struct {
	ProcessID string    `json:"processId"`
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// StatusSink receives every status entry for durable audit storage. It is a
// write-only, fire-and-forget collaborator: failures to append must never
// influence in-memory decisions.
type StatusSink interface {
	Append(status Status)
}

// discardSink drops all entries. Used when no audit collaborator is wired.
type discardSink struct{}

func (discardSink) Append(Status) {}

// MultiSink fans every entry out to all given sinks.
func MultiSink(sinks ...StatusSink) StatusSink {
	return multiSink(sinks)
}

type multiSink []StatusSink

func (m multiSink) Append(status Status) {
	for _, sink := range m {
		sink.Append(status)
	}
}
