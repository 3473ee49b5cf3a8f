// Package store persists workflow instances, review requests, journal
// entries, receipts, and reference data. One durable record exists per
// WorkflowInstance, keyed by instance id; updates use an optimistic version
// check so concurrent transitions on the same instance cannot interleave.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/refdata"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrVersionConflict is returned when an instance update carries a stale
// version. The caller reloads the instance and retries the transition.
var ErrVersionConflict = eris.New("store: version conflict")

// ErrAlreadyResolved is returned when a resolution is submitted for a
// review request that is no longer pending.
var ErrAlreadyResolved = eris.New("store: review request already resolved")

// ReviewRequestStatus tracks a review request's lifecycle.
type ReviewRequestStatus string

const (
	ReviewPending  ReviewRequestStatus = "pending"
	ReviewResolved ReviewRequestStatus = "resolved"
)

// ReviewRequest is the durable record behind the review gateway. At most
// one pending request exists per instance.
type ReviewRequest struct {
	ID          string              `json:"id"`
	InstanceID  string              `json:"instance_id"`
	Reviewer    string              `json:"reviewer"`
	Summary     string              `json:"summary"`
	Status      ReviewRequestStatus `json:"status"`
	Resolution  *model.Resolution   `json:"resolution,omitempty"`
	RequestedAt time.Time           `json:"requested_at"`
	ResolvedAt  *time.Time          `json:"resolved_at,omitempty"`
}

// InstanceFilter narrows ListInstances.
type InstanceFilter struct {
	State  model.State `json:"state,omitempty"`
	Limit  int         `json:"limit,omitempty"`
	Offset int         `json:"offset,omitempty"`
}

// Store is the persistence interface for the pipeline. Implementations must
// make UpdateInstance an atomic compare-and-swap on the stored version.
type Store interface {
	// Instances.
	CreateInstance(ctx context.Context, doc model.Document) (*model.WorkflowInstance, error)
	GetInstance(ctx context.Context, id string) (*model.WorkflowInstance, error)
	// UpdateInstance writes inst if the stored version equals inst.Version,
	// incrementing the version on success (reflected in inst). Returns
	// ErrVersionConflict on a stale version.
	UpdateInstance(ctx context.Context, inst *model.WorkflowInstance) error
	ListInstances(ctx context.Context, filter InstanceFilter) ([]model.WorkflowInstance, error)

	// Audit log, append-only.
	AppendAudit(ctx context.Context, instanceID string, entry model.AuditEntry) error
	ListAudit(ctx context.Context, instanceID string) ([]model.AuditEntry, error)

	// Review requests.
	CreateReviewRequest(ctx context.Context, req *ReviewRequest) error
	GetReviewRequest(ctx context.Context, id string) (*ReviewRequest, error)
	PendingReviewForInstance(ctx context.Context, instanceID string) (*ReviewRequest, error)
	// LatestReviewForInstance returns the live pending request if one
	// exists, otherwise the most recently raised one. ErrNotFound when
	// the instance never had a review.
	LatestReviewForInstance(ctx context.Context, instanceID string) (*ReviewRequest, error)
	// ResolveReviewRequest marks a pending request resolved. Returns
	// ErrAlreadyResolved if it is not pending, ErrNotFound if unknown.
	ResolveReviewRequest(ctx context.Context, id string, res model.Resolution) error

	// Posting.
	SaveReceipt(ctx context.Context, receipt model.PostingReceipt) error
	GetReceipt(ctx context.Context, instanceID string) (*model.PostingReceipt, error)
	InsertJournalEntries(ctx context.Context, entries []model.JournalEntry) error
	ListJournalEntries(ctx context.Context, from, to time.Time) ([]model.JournalEntry, error)

	// AP/AR subledger.
	CreateOpenItem(ctx context.Context, item model.OpenItem) error
	ListOpenItems(ctx context.Context, side model.OpenItemSide, statuses []model.OpenItemStatus) ([]model.OpenItem, error)
	UpdateOpenItem(ctx context.Context, instanceID string, amountDueMinor int64, status model.OpenItemStatus) error
	FindOpenItemByDocNumber(ctx context.Context, docNumber string) (*model.OpenItem, error)

	// Reference data. The read side implements refdata.Reader.
	refdata.Reader
	UpsertVendors(ctx context.Context, vendors []refdata.Vendor) error
	UpsertTaxRules(ctx context.Context, rules []refdata.TaxRule) error
	UpsertFXRates(ctx context.Context, rates []refdata.FXRate) error
	RecordHash(ctx context.Context, hash, instanceID string, txDate time.Time) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
