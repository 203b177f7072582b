package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

// Transition records one status change of a run.
type Transition struct {
	From types.RunStatus `json:"from"`
	To   types.RunStatus `json:"to"`
	At   time.Time       `json:"at"`
}

// forward lists the happy-path successor of every non-terminal phase.
var forward = map[types.RunStatus]types.RunStatus{
	types.RunStatusIdle:        types.RunStatusResolving,
	types.RunStatusResolving:   types.RunStatusProbing,
	types.RunStatusProbing:     types.RunStatusAggregating,
	types.RunStatusAggregating: types.RunStatusDone,
}

// CanTransition reports whether a run may move from one status to another.
// Any non-terminal status may fail, be cancelled or time out.
func CanTransition(from, to types.RunStatus) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case types.RunStatusFailed, types.RunStatusCancelled, types.RunStatusTimedOut:
		return true
	}
	return forward[from] == to
}

// runState is the state machine of a single run.
type runState struct {
	mu          sync.Mutex
	status      types.RunStatus
	transitions []Transition
	now         func() time.Time
}

func newRunState(now func() time.Time) *runState {
	return &runState{status: types.RunStatusIdle, now: now}
}

func (s *runState) Status() types.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *runState) advance(to types.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !CanTransition(s.status, to) {
		return fmt.Errorf("invalid run transition %s -> %s", s.status, to)
	}
	s.transitions = append(s.transitions, Transition{From: s.status, To: to, At: s.now()})
	s.status = to
	return nil
}

func (s *runState) Transitions() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transition(nil), s.transitions...)
}
