package model

import "time"

// State is the lifecycle state of a WorkflowInstance.
type State string

const (
	StateReceived      State = "Received"
	StateExtracted     State = "Extracted"
	StateValidated     State = "Validated"
	StatePendingReview State = "PendingReview"
	StateResolved      State = "Resolved"
	StatePosted        State = "Posted"
	StateRejected      State = "Rejected"
	StateFailed        State = "Failed"
)

// terminal states accept no further transitions.
var terminalStates = map[State]bool{
	StatePosted:   true,
	StateRejected: true,
	StateFailed:   true,
}

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	return terminalStates[s]
}

// allowedTransitions encodes the state machine edges. Any state may
// additionally move to Failed on an unrecoverable error.
var allowedTransitions = map[State][]State{
	StateReceived:      {StateExtracted},
	StateExtracted:     {StateValidated},
	StateValidated:     {StatePosted, StatePendingReview, StateRejected},
	StatePendingReview: {StateResolved, StateRejected, StateValidated},
	StateResolved:      {StatePosted, StatePendingReview},
}

// CanTransition reports whether the edge from -> to is legal.
// PendingReview -> Validated models a correction re-entering validation,
// not a rollback. Validated -> Rejected covers informational document
// types (quotations, orders) that must never reach the ledger.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ResolutionKind is the reviewer's decision on a pending instance.
type ResolutionKind string

const (
	ResolutionApprove ResolutionKind = "approve"
	ResolutionCorrect ResolutionKind = "correct"
	ResolutionReject  ResolutionKind = "reject"
)

// Resolution is the payload submitted through the review gateway.
type Resolution struct {
	Kind      ResolutionKind  `json:"kind"`
	Corrected CorrectedFields `json:"corrected,omitempty"`
	Reviewer  string          `json:"reviewer,omitempty"`
	Note      string          `json:"note,omitempty"`
}

// AuditEntry is one append-only line in an instance's audit log.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	FromState State     `json:"from_state,omitempty"`
	ToState   State     `json:"to_state,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// ReviewAssignment records who a pending instance is waiting on.
type ReviewAssignment struct {
	RequestID   string    `json:"request_id"`
	Reviewer    string    `json:"reviewer"`
	RequestedAt time.Time `json:"requested_at"`
}

// WorkflowInstance is the unit of durable state: one document's transaction
// as it moves through the workflow. Exactly one instance exists per
// document (instance ID = document ID). Version backs the optimistic
// concurrency check: a store update is rejected when the persisted version
// no longer matches the version read.
type WorkflowInstance struct {
	ID       string   `json:"id"`
	State    State    `json:"state"`
	Version  int64    `json:"version"`
	Document Document `json:"document"`

	Raw        *RawFields        `json:"raw,omitempty"`
	Record     *NormalizedRecord `json:"record,omitempty"`
	Exceptions []Exception       `json:"exceptions,omitempty"`

	Review       *ReviewAssignment `json:"review,omitempty"`
	Resolution   *Resolution       `json:"resolution,omitempty"`
	Escalated    bool              `json:"escalated,omitempty"`
	FailureCause string            `json:"failure_cause,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
