package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateStored      State = "stored"
	StateNormalizing State = "normalizing"
	StateExtracting  State = "extracting"
	StateEmbedding   State = "embedding"
	StateComplete    State = "complete"
	StateFailed      State = "failed"
)

var stageStates = map[Stage]State{
	StageNormalize: StateNormalizing,
	StageExtract:   StateExtracting,
	StageEmbed:     StateEmbedding,
}

var nextState = map[State]State{
	StateStored:      StateNormalizing,
	StateNormalizing: StateExtracting,
	StateExtracting:  StateEmbedding,
	StateEmbedding:   StateComplete,
}

type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Run is the record of one pipeline invocation.
type Run struct {
	ID          uuid.UUID    `json:"id"`
	Locator     string       `json:"locator"`
	State       State        `json:"state"`
	FailedStage Stage        `json:"failed_stage,omitempty"`
	Error       string       `json:"error,omitempty"`
	Transitions []Transition `json:"transitions"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`

	mu sync.Mutex
}

func newRun(locator string) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:        uuid.New(),
		Locator:   locator,
		State:     StateStored,
		StartedAt: now,
	}
}

func (r *Run) Terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.State == StateComplete || r.State == StateFailed
}

// advance moves to the next state in sequence. Out-of-order moves and moves
// out of a terminal state are ignored and reported false.
func (r *Run) advance(to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if nextState[r.State] != to {
		return false
	}
	r.record(to)
	return true
}

func (r *Run) fail(stage Stage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State == StateComplete || r.State == StateFailed {
		return
	}
	r.FailedStage = stage
	if err != nil {
		r.Error = err.Error()
	}
	r.record(StateFailed)
}

func (r *Run) record(to State) {
	now := time.Now().UTC()
	r.Transitions = append(r.Transitions, Transition{From: r.State, To: to, At: now})
	r.State = to
	if to == StateComplete || to == StateFailed {
		r.FinishedAt = &now
	}
}

// States returns the sequence of states visited, starting with stored.
func (r *Run) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []State{StateStored}
	for _, t := range r.Transitions {
		out = append(out, t.To)
	}
	return out
}
