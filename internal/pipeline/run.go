package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// RunStatus is the stage a batch run is in.
type RunStatus string

const (
	StatusPending     RunStatus = "pending"
	StatusExtracting  RunStatus = "extracting"
	StatusClassifying RunStatus = "classifying"
	StatusChecking    RunStatus = "checking"
	StatusAggregating RunStatus = "aggregating"
	StatusScoring     RunStatus = "scoring"
	StatusComplete    RunStatus = "complete"
	StatusFailed      RunStatus = "failed"
)

// next lists the single forward step from each non-terminal status.
// Failed is reachable from every non-terminal status.
var next = map[RunStatus]RunStatus{
	StatusPending:     StatusExtracting,
	StatusExtracting:  StatusClassifying,
	StatusClassifying: StatusChecking,
	StatusChecking:    StatusAggregating,
	StatusAggregating: StatusScoring,
	StatusScoring:     StatusComplete,
}

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanTransition reports whether from → to is a legal step.
func CanTransition(from, to RunStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return next[from] == to
}

// Transition is one recorded status change.
type Transition struct {
	Status RunStatus `json:"status"`
	At     time.Time `json:"at"`
}

// Run tracks the state of a single batch analysis.
type Run struct {
	mu sync.Mutex

	ID        string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	Documents int       `json:"documents"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	transitions []Transition
	errors      []string
	inputs      []Input
	result      *Result
}

// NewRun creates a pending run for n documents.
func NewRun(id string, n int) *Run {
	now := time.Now()
	return &Run{
		ID:          id,
		Status:      StatusPending,
		Documents:   n,
		CreatedAt:   now,
		UpdatedAt:   now,
		transitions: []Transition{{Status: StatusPending, At: now}},
	}
}

// SetStatus moves the run to status, rejecting illegal transitions.
func (r *Run) SetStatus(status RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !CanTransition(r.Status, status) {
		return fmt.Errorf("illegal run transition %s -> %s", r.Status, status)
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	r.transitions = append(r.transitions, Transition{Status: status, At: r.UpdatedAt})
	return nil
}

// Fail moves the run to Failed and records why. Failing a terminal run is a no-op.
func (r *Run) Fail(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Status.Terminal() {
		return
	}
	r.Status = StatusFailed
	r.UpdatedAt = time.Now()
	r.errors = append(r.errors, reason)
	r.transitions = append(r.transitions, Transition{Status: StatusFailed, At: r.UpdatedAt})
}

// AddError records a non-fatal error.
func (r *Run) AddError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
	r.UpdatedAt = time.Now()
}

// SetInputs sets the raw documents for processing.
func (r *Run) SetInputs(in []Input) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = in
}

// takeInputs returns the inputs and drops the run's reference to them.
func (r *Run) takeInputs() []Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	in := r.inputs
	r.inputs = nil
	return in
}

// finish stores the final result and moves the run to res.Status in one
// step, so a result is visible exactly when the run is terminal.
func (r *Run) finish(res Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !CanTransition(r.Status, res.Status) || !res.Status.Terminal() {
		return fmt.Errorf("illegal run transition %s -> %s", r.Status, res.Status)
	}
	r.Status = res.Status
	r.UpdatedAt = time.Now()
	r.transitions = append(r.transitions, Transition{Status: res.Status, At: r.UpdatedAt})
	if res.Error != "" {
		r.errors = append(r.errors, res.Error)
	}
	r.result = &res
	return nil
}

// Result returns a copy of the final result, or false while the run is in flight.
func (r *Run) Result() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result == nil {
		return Result{}, false
	}
	return r.result.Clone(), true
}

// RunSnapshot is a read-only, JSON-safe copy of run state.
type RunSnapshot struct {
	ID          string       `json:"run_id"`
	Status      RunStatus    `json:"status"`
	Documents   int          `json:"documents"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Transitions []Transition `json:"transitions"`
	Errors      []string     `json:"errors"`
}

// Snapshot returns a JSON-safe copy of the run state.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := append([]string{}, r.errors...)
	return RunSnapshot{
		ID:          r.ID,
		Status:      r.Status,
		Documents:   r.Documents,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Transitions: append([]Transition(nil), r.transitions...),
		Errors:      errs,
	}
}

// RunStore is a thread-safe in-memory run registry with TTL eviction.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*Run
	ttl  time.Duration
}

func NewRunStore(ttl time.Duration) *RunStore {
	return &RunStore{
		runs: make(map[string]*Run),
		ttl:  ttl,
	}
}

func (s *RunStore) Put(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
}

func (s *RunStore) Get(id string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

// Cleanup removes finished runs not updated within the TTL.
func (s *RunStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, run := range s.runs {
		run.mu.Lock()
		expired := run.Status.Terminal() && now.Sub(run.UpdatedAt) > s.ttl
		run.mu.Unlock()
		if expired {
			delete(s.runs, id)
		}
	}
}

// Len returns the number of tracked runs.
func (s *RunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
