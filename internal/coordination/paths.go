package coordination

import "strings"

// CancelRequestPayload is the payload another orchestrator instance writes to
// a process's cancel node to request cooperative cancellation.
const CancelRequestPayload = "CANCEL_REQUEST"

// Paths builds node paths under a fixed namespace.
//
// Layout:
//
//	<ns>/process/<processId>/cancel     - cancellation signal ("CANCEL_REQUEST")
//	<ns>/process/<processId>/redeliver  - name of the instance that now owns the process
//	<ns>/task/<taskId>/retry            - decimal retry counter
type Paths struct {
	namespace string
}

// NewPaths creates a path builder for the given namespace (e.g. "/gateway").
func NewPaths(namespace string) Paths {
	return Paths{namespace: strings.TrimRight(namespace, "/")}
}

// Root returns the namespace root. Used by reachability checks.
func (p Paths) Root() string {
	return p.namespace
}

// ProcessCancel returns the cancellation signal path for a process.
func (p Paths) ProcessCancel(processID string) string {
	return p.namespace + "/process/" + processID + "/cancel"
}

// ProcessRedeliver returns the ownership handoff path for a process.
func (p Paths) ProcessRedeliver(processID string) string {
	return p.namespace + "/process/" + processID + "/redeliver"
}

// ProcessRoot returns the subtree root holding all nodes for a process.
// Deleted recursively when the process reaches a terminal state.
func (p Paths) ProcessRoot(processID string) string {
	return p.namespace + "/process/" + processID
}

// TaskRetry returns the retry counter path for a task.
func (p Paths) TaskRetry(taskID string) string {
	return p.namespace + "/task/" + taskID + "/retry"
}
