// Package workflow drives a document instance through its lifecycle:
// ingest, extract, validate, route, suspend for review, resolve, post.
// All state lives in the store; nothing blocks while an instance waits on
// a reviewer.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fairledger/ledger-cli/internal/extract"
	"github.com/fairledger/ledger-cli/internal/ledger"
	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/refdata"
	"github.com/fairledger/ledger-cli/internal/resilience"
	"github.com/fairledger/ledger-cli/internal/review"
	"github.com/fairledger/ledger-cli/internal/route"
	"github.com/fairledger/ledger-cli/internal/store"
	"github.com/fairledger/ledger-cli/internal/validate"
)

const systemActor = "system"

// Config tunes the engine.
type Config struct {
	// ConfidenceThreshold is the minimum per-field extraction confidence
	// before a LowConfidence exception is raised.
	ConfidenceThreshold float64

	// ExtractRetry governs retries of transient extraction failures.
	ExtractRetry resilience.RetryConfig
}

// Engine owns the state machine. One engine serves many instances; each
// call loads, advances and persists a single instance.
type Engine struct {
	store     store.Store
	extractor extract.Extractor
	refdata   *refdata.Source
	gateway   *review.Gateway
	poster    *ledger.Poster
	cfg       Config
}

func NewEngine(st store.Store, ex extract.Extractor, src *refdata.Source, gw *review.Gateway, poster *ledger.Poster, cfg Config) *Engine {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.85
	}
	if cfg.ExtractRetry.MaxAttempts == 0 {
		cfg.ExtractRetry = resilience.DefaultRetryConfig()
	}
	return &Engine{store: st, extractor: ex, refdata: src, gateway: gw, poster: poster, cfg: cfg}
}

// Ingest runs a document end to end: extraction, validation, routing, and
// either posting or suspension. The returned instance reflects the state
// the document landed in; suspension is not an error.
func (e *Engine) Ingest(ctx context.Context, doc model.Document) (*model.WorkflowInstance, error) {
	inst, err := e.store.CreateInstance(ctx, doc)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: create instance for %s", doc.ID)
	}
	e.audit(ctx, inst.ID, "", model.StateReceived, "document received")

	raw, err := resilience.DoVal(ctx, e.cfg.ExtractRetry, func(ctx context.Context) (*model.RawFields, error) {
		return e.extractor.Extract(ctx, doc)
	})
	if err != nil {
		return e.fail(ctx, inst, eris.Wrap(err, "extraction failed"))
	}

	inst.Raw = raw
	if err := e.transition(ctx, inst, model.StateExtracted, fmt.Sprintf("extracted %q", raw.DocNumber)); err != nil {
		return inst, err
	}

	if err := e.validateInstance(ctx, inst, validate.Params{
		InstanceID:          inst.ID,
		ConfidenceThreshold: e.cfg.ConfidenceThreshold,
	}); err != nil {
		return e.fail(ctx, inst, err)
	}

	return inst, e.dispatch(ctx, inst)
}

// Resume re-dispatches an instance stranded mid-flight: stuck in Validated
// or Resolved after a crash before posting, or left PendingReview when the
// process died between resolution intake and the instance transition. In
// the latter case the durably stored resolution is re-applied, so replaying
// a consumed resolution through Resume converges on the same outcome.
func (e *Engine) Resume(ctx context.Context, instanceID string) (*model.WorkflowInstance, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	switch inst.State {
	case model.StateValidated, model.StateResolved:
		return inst, e.post(ctx, inst)

	case model.StatePendingReview:
		req, err := e.store.LatestReviewForInstance(ctx, instanceID)
		if err != nil && !eris.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(err, "workflow: load review for %s", instanceID)
		}
		if req == nil || req.Status != store.ReviewResolved || req.Resolution == nil {
			return nil, eris.Errorf("workflow: instance %s is awaiting review, nothing to resume", instanceID)
		}
		return e.applyResolution(ctx, inst, *req.Resolution)

	default:
		return nil, eris.Errorf("workflow: instance %s is %s, nothing to resume", instanceID, inst.State)
	}
}

// Resolve applies a reviewer's decision to the suspended instance owning
// the request. Approve re-derives the record and posts, reject terminates,
// correct triggers a single re-validation pass.
func (e *Engine) Resolve(ctx context.Context, requestID string, res model.Resolution) (*model.WorkflowInstance, error) {
	req, err := e.gateway.SubmitResolution(ctx, requestID, res)
	if err != nil {
		return nil, err
	}

	inst, err := e.store.GetInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: load instance %s", req.InstanceID)
	}
	if inst.State != model.StatePendingReview {
		return nil, eris.Errorf("workflow: instance %s is %s, not pending review", inst.ID, inst.State)
	}
	return e.applyResolution(ctx, inst, res)
}

// applyResolution advances a pending instance under an accepted resolution.
// The resolution is already consumed at the gateway, so this is safe to
// replay from Resume after a crash.
func (e *Engine) applyResolution(ctx context.Context, inst *model.WorkflowInstance, res model.Resolution) (*model.WorkflowInstance, error) {
	inst.Resolution = &res
	actor := res.Reviewer
	if actor == "" {
		actor = "reviewer"
	}

	switch res.Kind {
	case model.ResolutionReject:
		if err := e.transitionAs(ctx, inst, model.StateRejected, actor, noteOr(res.Note, "rejected by reviewer")); err != nil {
			return inst, err
		}
		return inst, nil

	case model.ResolutionApprove:
		return e.approveAsIs(ctx, inst, res, actor)

	case model.ResolutionCorrect:
		return e.applyCorrection(ctx, inst, res, actor)

	default:
		return nil, eris.Errorf("workflow: unknown resolution kind %q", res.Kind)
	}
}

// Cancel terminates a suspended instance without a reviewer decision. The
// pending review request is consumed with a reject resolution first, so a
// later reviewer submission gets ErrAlreadyResolved instead of claiming a
// request whose instance is already terminal.
func (e *Engine) Cancel(ctx context.Context, instanceID, actor, note string) (*model.WorkflowInstance, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.State != model.StatePendingReview {
		return nil, eris.Errorf("workflow: instance %s is %s, only pending instances can be cancelled", instanceID, inst.State)
	}

	res := model.Resolution{Kind: model.ResolutionReject, Reviewer: actor, Note: noteOr(note, "cancelled")}
	req, err := e.store.PendingReviewForInstance(ctx, instanceID)
	switch {
	case err == nil:
		if _, err := e.gateway.SubmitResolution(ctx, req.ID, res); err != nil {
			return inst, eris.Wrapf(err, "workflow: withdraw review for %s", instanceID)
		}
	case !eris.Is(err, store.ErrNotFound):
		return nil, eris.Wrapf(err, "workflow: load review for %s", instanceID)
	}
	return e.applyResolution(ctx, inst, res)
}

// validateInstance snapshots reference data, runs validation and moves the
// instance to Validated with its record and exception set.
func (e *Engine) validateInstance(ctx context.Context, inst *model.WorkflowInstance, p validate.Params) error {
	snap, err := e.refdata.Snapshot(ctx)
	if err != nil {
		return eris.Wrap(err, "workflow: reference snapshot")
	}

	rec, excs := validate.Validate(*inst.Raw, snap, p)
	inst.Record = &rec
	inst.Exceptions = excs

	detail := "validation clean"
	if len(excs) > 0 {
		detail = fmt.Sprintf("validation found %d exception(s)", len(excs))
	}
	if err := e.transition(ctx, inst, model.StateValidated, detail); err != nil {
		return err
	}

	// Register the record's duplicate hash so later documents can see it.
	// First writer wins; re-validation of the same instance is a no-op.
	if rec.VendorID != "" {
		key := refdata.DuplicateKey(rec.VendorID, rec.AmountMinor, rec.TxDate)
		if err := e.store.RecordHash(ctx, key, inst.ID, rec.TxDate); err != nil {
			zap.L().Warn("workflow: record duplicate hash failed",
				zap.String("instance_id", inst.ID), zap.Error(err))
		}
	}
	return nil
}

// dispatch routes a freshly validated instance: terminal rejection for
// informational documents, auto-post when nothing blocks, otherwise
// suspension for review.
func (e *Engine) dispatch(ctx context.Context, inst *model.WorkflowInstance) error {
	if !inst.Record.DocType.Postable() {
		return e.transition(ctx, inst, model.StateRejected,
			fmt.Sprintf("%s documents are informational, no ledger impact", inst.Record.DocType))
	}

	decision := route.Route(inst.Exceptions)
	if decision.Action == route.ActionAutoPost {
		return e.post(ctx, inst)
	}
	return e.suspend(ctx, inst, decision.Summary)
}

// suspend parks the instance in PendingReview and raises (or re-attaches
// to) the pending review request.
func (e *Engine) suspend(ctx context.Context, inst *model.WorkflowInstance, summary string) error {
	if err := e.transition(ctx, inst, model.StatePendingReview, summary); err != nil {
		return err
	}

	req, err := e.gateway.RequestReview(ctx, inst, summary)
	if err != nil {
		return eris.Wrapf(err, "workflow: request review for %s", inst.ID)
	}
	inst.Review = &model.ReviewAssignment{
		RequestID:   req.ID,
		Reviewer:    req.Reviewer,
		RequestedAt: req.RequestedAt,
	}
	if err := e.update(ctx, inst); err != nil {
		return err
	}

	zap.L().Info("workflow: suspended for review",
		zap.String("instance_id", inst.ID),
		zap.String("request_id", req.ID),
		zap.String("summary", summary),
	)
	return nil
}

// post commits the record and marks the instance Posted. Posting failures
// after retries fail the instance; the receipt keeps a replay harmless.
func (e *Engine) post(ctx context.Context, inst *model.WorkflowInstance) error {
	receipt, err := e.poster.Post(ctx, inst)
	if err != nil {
		_, failErr := e.fail(ctx, inst, eris.Wrap(err, "posting failed"))
		if failErr != nil {
			return failErr
		}
		return err
	}
	return e.transition(ctx, inst, model.StatePosted,
		fmt.Sprintf("posted to ledger as %s", receipt.LedgerRef))
}

// approveAsIs accepts the exceptions the reviewer waived but re-derives the
// record against current reference data before posting, so a value that
// only became resolvable while the instance sat in review (an FX rate
// arriving, most commonly) is picked up instead of posting the stale
// snapshot. An FX conversion that still cannot be computed is not waivable:
// there is no amount to post, and the instance escalates back to review.
func (e *Engine) approveAsIs(ctx context.Context, inst *model.WorkflowInstance, res model.Resolution, actor string) (*model.WorkflowInstance, error) {
	waived := make(map[model.ExceptionKind]bool, len(inst.Exceptions))
	for _, ex := range inst.Exceptions {
		waived[ex.Kind] = true
	}

	if err := e.transitionAs(ctx, inst, model.StateResolved, actor, noteOr(res.Note, "approved by reviewer")); err != nil {
		return inst, err
	}

	snap, err := e.refdata.Snapshot(ctx)
	if err != nil {
		return inst, eris.Wrap(err, "workflow: reference snapshot")
	}
	rec, excs := validate.Validate(*inst.Raw, snap, validate.Params{
		InstanceID:          inst.ID,
		ConfidenceThreshold: e.cfg.ConfidenceThreshold,
		IgnoreDuplicate:     waived[model.ExcDuplicateSuspect],
	})

	// A vendor identity pinned by an earlier correction survives the
	// re-derivation.
	if rec.VendorID == "" && inst.Record != nil {
		rec.VendorID = inst.Record.VendorID
	}

	kept := excs[:0]
	for _, ex := range excs {
		if !waived[ex.Kind] || ex.Kind == model.ExcFXUnresolved {
			kept = append(kept, ex)
		}
	}
	inst.Record = &rec
	inst.Exceptions = kept
	if err := e.update(ctx, inst); err != nil {
		return inst, err
	}

	if model.HasBlocking(kept) {
		inst.Escalated = true
		summary := model.BlockingSummary(kept)
		if err := e.suspend(ctx, inst, summary); err != nil {
			return inst, err
		}
		zap.L().Info("workflow: approval left blocking exceptions, escalated",
			zap.String("instance_id", inst.ID))
		return inst, nil
	}
	return inst, e.post(ctx, inst)
}

// applyCorrection merges reviewer corrections into the extracted fields and
// runs exactly one re-validation pass. Remaining blockers escalate back to
// review rather than looping.
func (e *Engine) applyCorrection(ctx context.Context, inst *model.WorkflowInstance, res model.Resolution, actor string) (*model.WorkflowInstance, error) {
	raw := *inst.Raw
	p := validate.Params{
		InstanceID:          inst.ID,
		ConfidenceThreshold: e.cfg.ConfidenceThreshold,
	}
	c := res.Corrected

	if c.VendorName != nil {
		raw.VendorName = *c.VendorName
	}
	if c.Amount != nil {
		raw.Total = *c.Amount
	}
	if c.TaxAmount != nil {
		raw.TaxAmount = *c.TaxAmount
		raw.Total = raw.Subtotal + raw.TaxAmount + raw.Shipping
	}
	if c.Currency != nil {
		raw.Currency = *c.Currency
	}
	if c.TxDate != nil {
		raw.IssueDate = *c.TxDate
	}
	if c.FXRate != nil {
		p.FXRateOverride = c.FXRate
	}
	if c.NotDuplicate {
		p.IgnoreDuplicate = true
	}

	inst.Raw = &raw
	if err := e.transitionAs(ctx, inst, model.StateValidated, actor, "corrections applied, re-validating"); err != nil {
		return inst, err
	}

	snap, err := e.refdata.Snapshot(ctx)
	if err != nil {
		return inst, eris.Wrap(err, "workflow: reference snapshot")
	}
	rec, excs := validate.Validate(raw, snap, p)

	// A reviewer-supplied vendor identity stands even when the corrected
	// name still has no reference match.
	if c.VendorID != nil {
		rec.VendorID = *c.VendorID
		excs = dropKind(excs, model.ExcVendorMismatch)
	}

	inst.Record = &rec
	inst.Exceptions = excs
	if err := e.update(ctx, inst); err != nil {
		return inst, err
	}

	if model.HasBlocking(excs) {
		inst.Escalated = true
		summary := model.BlockingSummary(excs)
		if err := e.suspend(ctx, inst, summary); err != nil {
			return inst, err
		}
		zap.L().Info("workflow: correction left blocking exceptions, escalated",
			zap.String("instance_id", inst.ID))
		return inst, nil
	}

	return inst, e.post(ctx, inst)
}

func dropKind(excs []model.Exception, kind model.ExceptionKind) []model.Exception {
	out := excs[:0]
	for _, ex := range excs {
		if ex.Kind != kind {
			out = append(out, ex)
		}
	}
	return out
}

// fail parks the instance in Failed with its cause. The original error is
// returned so callers see what happened.
func (e *Engine) fail(ctx context.Context, inst *model.WorkflowInstance, cause error) (*model.WorkflowInstance, error) {
	inst.FailureCause = cause.Error()
	if err := e.transition(ctx, inst, model.StateFailed, cause.Error()); err != nil {
		zap.L().Error("workflow: could not record failure",
			zap.String("instance_id", inst.ID), zap.Error(err))
	}
	return inst, cause
}

func (e *Engine) transition(ctx context.Context, inst *model.WorkflowInstance, to model.State, detail string) error {
	return e.transitionAs(ctx, inst, to, systemActor, detail)
}

// transitionAs moves the instance to a new state under optimistic
// concurrency and appends the audit entry. A stale version is retried once
// against the fresh copy if the state still matches; a concurrent state
// change surfaces as a conflict.
func (e *Engine) transitionAs(ctx context.Context, inst *model.WorkflowInstance, to model.State, actor, detail string) error {
	from := inst.State
	if !model.CanTransition(from, to) {
		return eris.Errorf("workflow: illegal transition %s -> %s for %s", from, to, inst.ID)
	}

	inst.State = to
	if err := e.updateWithReload(ctx, inst, from); err != nil {
		inst.State = from
		return err
	}

	e.auditAs(ctx, inst.ID, actor, from, to, detail)
	zap.L().Debug("workflow: transition",
		zap.String("instance_id", inst.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// update persists field changes that do not move the state machine.
func (e *Engine) update(ctx context.Context, inst *model.WorkflowInstance) error {
	return e.updateWithReload(ctx, inst, inst.State)
}

func (e *Engine) updateWithReload(ctx context.Context, inst *model.WorkflowInstance, expectState model.State) error {
	err := e.store.UpdateInstance(ctx, inst)
	if !eris.Is(err, store.ErrVersionConflict) {
		return eris.Wrapf(err, "workflow: update %s", inst.ID)
	}

	fresh, getErr := e.store.GetInstance(ctx, inst.ID)
	if getErr != nil {
		return eris.Wrapf(getErr, "workflow: reload %s after conflict", inst.ID)
	}
	if fresh.State != expectState {
		return eris.Wrapf(store.ErrVersionConflict,
			"workflow: instance %s moved to %s concurrently", inst.ID, fresh.State)
	}

	inst.Version = fresh.Version
	if err := e.store.UpdateInstance(ctx, inst); err != nil {
		return eris.Wrapf(err, "workflow: update %s after reload", inst.ID)
	}
	return nil
}

func (e *Engine) audit(ctx context.Context, instanceID string, from, to model.State, detail string) {
	e.auditAs(ctx, instanceID, systemActor, from, to, detail)
}

func (e *Engine) auditAs(ctx context.Context, instanceID, actor string, from, to model.State, detail string) {
	entry := model.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		FromState: from,
		ToState:   to,
		Detail:    detail,
	}
	if err := e.store.AppendAudit(ctx, instanceID, entry); err != nil {
		zap.L().Warn("workflow: audit append failed",
			zap.String("instance_id", instanceID), zap.Error(err))
	}
}

func noteOr(note, fallback string) string {
	if note != "" {
		return note
	}
	return fallback
}
