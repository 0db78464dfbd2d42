package generation

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/makeasinger/orchestrator/internal/model"
)

// Event is anything that can move a job between states
type Event string

const (
	EventDispatched        Event = "dispatched"
	EventProcessing        Event = "backend:processing"
	EventNeedsVerification Event = "backend:needs-verification"
	EventSucceeded         Event = "backend:succeeded"
	EventFailed            Event = "backend:failed"
	EventTimeout           Event = "timeout"
	EventCancel            Event = "cancel"
	EventUnreachable       Event = "unreachable"
)

// EventForSignal maps a canonical backend signal to its lifecycle event.
func EventForSignal(s model.Signal) (Event, error) {
	switch s {
	case model.SignalProcessing:
		return EventProcessing, nil
	case model.SignalNeedsVerification:
		return EventNeedsVerification, nil
	case model.SignalSucceeded:
		return EventSucceeded, nil
	case model.SignalFailed:
		return EventFailed, nil
	}
	return "", fmt.Errorf("unknown signal %q", s)
}

func stateNames(s ...model.JobState) []string {
	out := make([]string, len(s))
	for i, st := range s {
		out[i] = string(st)
	}
	return out
}

var activeStates = stateNames(model.JobStateDispatched, model.JobStateAwaitingVerification, model.JobStateProcessing)

// lifecycleEvents is the transition table. Terminal states are never a
// source, so they absorb every event. Timeout, cancel and unreachable are
// local events and apply from any active state.
var lifecycleEvents = fsm.Events{
	{Name: string(EventDispatched), Src: stateNames(model.JobStateCreated), Dst: string(model.JobStateDispatched)},
	{Name: string(EventProcessing), Src: stateNames(model.JobStateDispatched, model.JobStateAwaitingVerification), Dst: string(model.JobStateProcessing)},
	{Name: string(EventNeedsVerification), Src: stateNames(model.JobStateDispatched), Dst: string(model.JobStateAwaitingVerification)},
	{Name: string(EventSucceeded), Src: stateNames(model.JobStateProcessing), Dst: string(model.JobStateCompleted)},
	{Name: string(EventFailed), Src: stateNames(model.JobStateAwaitingVerification, model.JobStateProcessing), Dst: string(model.JobStateFailed)},
	{Name: string(EventTimeout), Src: activeStates, Dst: string(model.JobStateTimedOut)},
	{Name: string(EventCancel), Src: activeStates, Dst: string(model.JobStateCancelled)},
	{Name: string(EventUnreachable), Src: activeStates, Dst: string(model.JobStateFailed)},
}

// Lifecycle is the authoritative transition table. It is stateless and
// independent of any backend vocabulary.
type Lifecycle struct{}

// Next returns the single-edge target of event from state.
func (Lifecycle) Next(from model.JobState, event Event) (model.JobState, bool) {
	machine := fsm.NewFSM(string(from), lifecycleEvents, nil)
	if !machine.Can(string(event)) {
		return from, false
	}
	if err := machine.Event(context.Background(), string(event)); err != nil {
		return from, false
	}
	return model.JobState(machine.Current()), true
}

// Path returns the ordered states a job passes through when event is applied
// to from. A backend result reported before the job was seen processing is
// routed through Processing, so AwaitingVerification never reaches Completed
// directly. An empty path means the event is a no-op.
func (l Lifecycle) Path(from model.JobState, event Event) []model.JobState {
	if to, ok := l.Next(from, event); ok {
		return []model.JobState{to}
	}

	if event != EventSucceeded && event != EventFailed {
		return nil
	}
	if from != model.JobStateDispatched && from != model.JobStateAwaitingVerification {
		return nil
	}

	via, ok := l.Next(from, EventProcessing)
	if !ok {
		return nil
	}
	to, ok := l.Next(via, event)
	if !ok {
		return nil
	}
	return []model.JobState{via, to}
}
