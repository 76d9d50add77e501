// Package injection implements dynamic prompt steering: a human may, while
// an agent call is in flight, queue text to be prepended as a leading user
// message to the *next* agent invocation. Unlike a reminder engine with
// per-turn caps and rate limiting, this is a single pending slot: at most one
// injection is ever queued at a time, and it is consumed (not re-emitted) at
// the next inter-agent boundary.
package injection

import "sync"

// Queue holds at most one pending injection per task, safe for concurrent
// use between the goroutine handling UI requests and the orchestrator
// goroutine consuming it between agent calls.
type Queue struct {
	mu      sync.Mutex
	pending map[string]string
	paused  map[string]bool
}

// NewQueue constructs an empty injection queue.
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[string]string),
		paused:  make(map[string]bool),
	}
}

// RequestPause records that a human has asked to steer the in-flight agent
// for taskID. It does not interrupt the current call; it only flags intent
// so the UI can open a text-entry modal. Callers typically emit
// hooks.InjectionPauseRequested alongside this call.
func (q *Queue) RequestPause(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused[taskID] = true
}

// PauseRequested reports whether a pause has been requested for taskID and
// not yet resolved by a Set call.
func (q *Queue) PauseRequested(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused[taskID]
}

// Set stores the submitted injection text for taskID, clearing any pending
// pause-request flag. The current agent call is not interrupted; the text
// is picked up by the next Consume call at an inter-agent boundary.
func (q *Queue) Set(taskID, text string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[taskID] = text
	delete(q.paused, taskID)
}

// Consume returns the pending injection text for taskID, if any, and clears
// it. It must be called only between agent invocations, never mid-call, so
// that provider-session atomicity for the call in flight is preserved.
func (q *Queue) Consume(taskID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	text, ok := q.pending[taskID]
	if !ok {
		return "", false
	}
	delete(q.pending, taskID)
	return text, true
}
