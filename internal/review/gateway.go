// Package review manages human review requests for suspended workflow
// instances: raising them, routing notifications, and accepting resolutions.
package review

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/store"
)

// ErrUnknownRequest is returned when a resolution references a request id
// that was never issued.
var ErrUnknownRequest = eris.New("review: unknown request")

// ErrAlreadyResolved is returned when a resolution arrives for a request
// that has already been decided. The first resolution stands.
var ErrAlreadyResolved = store.ErrAlreadyResolved

// Gateway is the single entry point for raising and resolving review
// requests. Requests are idempotent per instance: while one is pending,
// repeated raises return the same request id.
type Gateway struct {
	store    store.Store
	assignee string
	notifier Notifier
}

// NewGateway creates a Gateway. assignee is the default reviewer queue new
// requests are routed to. notifier may be nil.
func NewGateway(st store.Store, assignee string, notifier Notifier) *Gateway {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Gateway{store: st, assignee: assignee, notifier: notifier}
}

// RequestReview raises a review request for the given instance, or returns
// the existing pending one. Notification failures are logged, not returned:
// the request is durable either way and reviewers can find it by listing.
func (g *Gateway) RequestReview(ctx context.Context, inst *model.WorkflowInstance, summary string) (*store.ReviewRequest, error) {
	existing, err := g.store.PendingReviewForInstance(ctx, inst.ID)
	if err == nil {
		return existing, nil
	}
	if !eris.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(err, "review: check pending for %s", inst.ID)
	}

	req := &store.ReviewRequest{
		ID:          uuid.NewString(),
		InstanceID:  inst.ID,
		Reviewer:    g.assignee,
		Summary:     summary,
		Status:      store.ReviewPending,
		RequestedAt: time.Now().UTC(),
	}
	if err := g.store.CreateReviewRequest(ctx, req); err != nil {
		return nil, eris.Wrapf(err, "review: create request for %s", inst.ID)
	}

	if err := g.notifier.Notify(ctx, req, inst); err != nil {
		zap.L().Warn("review: notify failed",
			zap.String("request_id", req.ID),
			zap.String("instance_id", inst.ID),
			zap.Error(err),
		)
	}
	return req, nil
}

// SubmitResolution records a resolution for a pending request. Exactly one
// resolution is accepted per request; later submissions get
// ErrAlreadyResolved. The resolved request is returned so the caller can
// resume the owning instance.
func (g *Gateway) SubmitResolution(ctx context.Context, requestID string, res model.Resolution) (*store.ReviewRequest, error) {
	switch res.Kind {
	case model.ResolutionApprove, model.ResolutionReject:
	case model.ResolutionCorrect:
		if res.Corrected.IsZero() {
			return nil, eris.New("review: correct resolution carries no corrections")
		}
	default:
		return nil, eris.Errorf("review: unknown resolution kind %q", res.Kind)
	}

	err := g.store.ResolveReviewRequest(ctx, requestID, res)
	if eris.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownRequest
	}
	if err != nil {
		return nil, err
	}

	req, err := g.store.GetReviewRequest(ctx, requestID)
	if err != nil {
		return nil, eris.Wrapf(err, "review: reload request %s", requestID)
	}
	zap.L().Info("review: resolution recorded",
		zap.String("request_id", requestID),
		zap.String("instance_id", req.InstanceID),
		zap.String("kind", string(res.Kind)),
		zap.String("reviewer", res.Reviewer),
	)
	return req, nil
}
