// Package command implements the typed FIFO channel that mediates between a
// running orchestrator and an interactive front-end waiting on human
// decisions. It is the one place in the engine where concurrency is real:
// the UI goroutine sends commands while the orchestrator goroutine blocks in
// awaitCommand.
package command

import (
	"context"
	"fmt"
	"sync"
)

// Type is the discriminated command-type tag the orchestrator awaits on.
type Type string

const (
	PlanApprove          Type = "plan:approve"
	PlanReject           Type = "plan:reject"
	RefinementApprove    Type = "refinement:approve"
	RefinementReject     Type = "refinement:reject"
	QuestionAnswer       Type = "question:answer"
	SuperReviewApprove   Type = "superreview:approve"
	SuperReviewRetry     Type = "superreview:retry"
	SuperReviewAbandon   Type = "superreview:abandon"
	HumanReviewApprove   Type = "humanreview:approve"
	HumanReviewRetry     Type = "humanreview:retry"
	HumanReviewReject    Type = "humanreview:reject"
)

// Command is a single UI → orchestrator message. Details carries the
// variant-specific payload (e.g. rejection feedback); Reply receives exactly
// one Result once the command is accepted or rejected by AwaitCommand.
type Command struct {
	Type    Type
	Details string
	Reply   chan Result
}

// Result is the value returned to the UI once the orchestrator has accepted
// (or the bus has rejected) a Command.
type Result struct {
	Accepted bool
	Err      error
}

// Bus is the typed FIFO channel carrying UI→orchestrator commands with a
// per-command reply value.
//
// Scheduling is single-threaded cooperative from the orchestrator's point of
// view: Send never blocks the sender beyond handing the command to the
// internal channel. AwaitCommand suspends until a matching command arrives.
// Commands whose type is not currently awaited are rejected rather than
// queued, since callers must not produce commands speculatively.
type Bus struct {
	mu      sync.Mutex
	pending map[Type]int
	ch      chan Command
}

// NewBus constructs a command bus ready for immediate use.
func NewBus() *Bus {
	return &Bus{
		pending: make(map[Type]int),
		ch:      make(chan Command),
	}
}

// Send enqueues a command and blocks until the orchestrator resolves it or
// ctx is cancelled. If no awaitCommand call currently includes this
// command's type in its type set, Send returns a rejected Result
// immediately without blocking.
func (b *Bus) Send(ctx context.Context, typ Type, details string) Result {
	b.mu.Lock()
	awaited := b.pending[typ] > 0
	b.mu.Unlock()
	if !awaited {
		return Result{Accepted: false, Err: fmt.Errorf("command: no pending awaitCommand for type %q", typ)}
	}

	reply := make(chan Result, 1)
	cmd := Command{Type: typ, Details: details, Reply: reply}

	select {
	case b.ch <- cmd:
	case <-ctx.Done():
		return Result{Accepted: false, Err: ctx.Err()}
	}

	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return Result{Accepted: false, Err: ctx.Err()}
	}
}

// AwaitCommand blocks until an incoming command's type is in typeSet, or ctx
// is cancelled. It atomically registers typeSet into the pending-type set on
// entry and removes it on exit (including on cancellation), so
// PendingCommandTypes always reflects exactly what is currently awaited.
func (b *Bus) AwaitCommand(ctx context.Context, typeSet ...Type) (Command, error) {
	b.register(typeSet)
	defer b.unregister(typeSet)

	set := make(map[Type]bool, len(typeSet))
	for _, t := range typeSet {
		set[t] = true
	}

	for {
		select {
		case cmd := <-b.ch:
			if !set[cmd.Type] {
				// Not one of ours; reject so the sender is not left hanging
				// and re-offer the command loop for the next waiter.
				cmd.Reply <- Result{Accepted: false, Err: fmt.Errorf("command: type %q not awaited here", cmd.Type)}
				continue
			}
			cmd.Reply <- Result{Accepted: true}
			return cmd, nil
		case <-ctx.Done():
			return Command{}, ctx.Err()
		}
	}
}

// PendingCommandTypes returns a UI-readable snapshot of currently awaited
// types, used to re-populate menus after the UI remounts.
func (b *Bus) PendingCommandTypes() []Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Type, 0, len(b.pending))
	for t, n := range b.pending {
		if n > 0 {
			out = append(out, t)
		}
	}
	return out
}

func (b *Bus) register(types []Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.pending[t]++
	}
}

func (b *Bus) unregister(types []Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.pending[t]--
		if b.pending[t] <= 0 {
			delete(b.pending, t)
		}
	}
}
