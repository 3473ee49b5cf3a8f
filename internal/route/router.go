// Package route decides what happens to a validated record based on its
// exception set. Routing is a pure function over the exceptions: no lookups,
// no side effects.
package route

import "github.com/fairledger/ledger-cli/internal/model"

// Action is the routing outcome for a validated record.
type Action string

const (
	// ActionAutoPost commits the record to the ledger without review.
	ActionAutoPost Action = "auto_post"
	// ActionReview suspends the instance for human review.
	ActionReview Action = "review"
)

// Decision carries the routing outcome. Summary is only set for review
// decisions: a deduplicated, human-readable rendering of every blocking
// reason, so the reviewer sees all problems at once.
type Decision struct {
	Action  Action
	Summary string
}

// Route returns AutoPost iff no exception is blocking. Advisory exceptions
// never block posting; they stay on the instance for audit.
func Route(excs []model.Exception) Decision {
	if !model.HasBlocking(excs) {
		return Decision{Action: ActionAutoPost}
	}
	return Decision{
		Action:  ActionReview,
		Summary: model.BlockingSummary(excs),
	}
}
