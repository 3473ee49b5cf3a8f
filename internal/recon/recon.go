package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/store"
)

const (
	acctCash = "1100"
	acctAP   = "2100"
	acctAR   = "1200"

	reconActor = "reconciliation"
)

// Result summarizes one reconciliation run.
type Result struct {
	Matched        int
	FuzzyMatched   int
	Unmatched      []BankTransaction
	AppliedCredits int
}

// Reconciler settles open AP/AR items against a bank feed and applies
// outstanding credit notes. Settlement writes balanced cash journal
// entries so the general ledger tracks the subledger.
type Reconciler struct {
	store   store.Store
	matcher Matcher
}

// NewReconciler creates a reconciler. matcher may be nil, in which case
// lines that fail the direct doc-number lookup stay unmatched.
func NewReconciler(st store.Store, matcher Matcher) *Reconciler {
	return &Reconciler{store: st, matcher: matcher}
}

// Run applies credit notes, then walks the bank feed settling open items.
func (r *Reconciler) Run(ctx context.Context, feed []BankTransaction) (*Result, error) {
	res := &Result{}

	applied, err := r.applyCreditNotes(ctx)
	if err != nil {
		return nil, err
	}
	res.AppliedCredits = applied

	for _, txn := range feed {
		if err := r.settle(ctx, txn, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// applyCreditNotes nets outstanding credit notes (negative payables)
// against the oldest outstanding invoice from the same vendor. The GL
// already carries the reversal from posting, so only the subledger moves.
func (r *Reconciler) applyCreditNotes(ctx context.Context) (int, error) {
	items, err := r.store.ListOpenItems(ctx, model.SidePayable,
		[]model.OpenItemStatus{model.OpenItemOutstanding, model.OpenItemPartialPaid})
	if err != nil {
		return 0, eris.Wrap(err, "recon: list payables")
	}

	applied := 0
	for _, cn := range items {
		if cn.AmountDueMinor >= 0 || cn.Status != model.OpenItemOutstanding {
			continue
		}
		target, ok := oldestOutstanding(items, cn)
		if !ok {
			zap.L().Warn("recon: credit note has no open invoice to apply against",
				zap.String("doc_number", cn.DocNumber), zap.String("counterparty", cn.CounterpartyID))
			continue
		}

		newDue := target.AmountDueMinor + cn.AmountDueMinor
		status := target.Status
		if newDue <= 0 {
			newDue = 0
			status = model.OpenItemPaid
		}
		if err := r.store.UpdateOpenItem(ctx, target.InstanceID, newDue, status); err != nil {
			return applied, eris.Wrapf(err, "recon: apply credit %s to %s", cn.DocNumber, target.DocNumber)
		}
		if err := r.store.UpdateOpenItem(ctx, cn.InstanceID, 0, model.OpenItemApplied); err != nil {
			return applied, eris.Wrapf(err, "recon: clear credit note %s", cn.DocNumber)
		}
		r.audit(ctx, target.InstanceID, "credit note applied",
			fmt.Sprintf("applied %s (%.2f) to %s, new due %.2f",
				cn.DocNumber, model.MajorUnits(cn.AmountDueMinor), target.DocNumber, model.MajorUnits(newDue)))

		// Keep the in-memory view current for subsequent credits.
		for i := range items {
			if items[i].InstanceID == target.InstanceID {
				items[i].AmountDueMinor = newDue
				items[i].Status = status
			}
			if items[i].InstanceID == cn.InstanceID {
				items[i].Status = model.OpenItemApplied
			}
		}
		applied++
	}
	return applied, nil
}

func oldestOutstanding(items []model.OpenItem, cn model.OpenItem) (model.OpenItem, bool) {
	var best model.OpenItem
	found := false
	for _, item := range items {
		if item.InstanceID == cn.InstanceID || item.CounterpartyID != cn.CounterpartyID {
			continue
		}
		if item.AmountDueMinor <= 0 {
			continue
		}
		if !found || earlierDue(item, best) {
			best = item
			found = true
		}
	}
	return best, found
}

func earlierDue(a, b model.OpenItem) bool {
	switch {
	case a.DueDate == nil:
		return false
	case b.DueDate == nil:
		return true
	default:
		return a.DueDate.Before(*b.DueDate)
	}
}

// settle matches one bank line to an open item and books the payment.
// Negative amounts pay down AP, positive amounts collect AR.
func (r *Reconciler) settle(ctx context.Context, txn BankTransaction, res *Result) error {
	item, fuzzy, err := r.match(ctx, txn)
	if err != nil {
		return err
	}
	if item == nil {
		zap.L().Info("recon: unmatched bank transaction",
			zap.String("memo", txn.Memo), zap.String("guess", txn.GuessDocNumber),
			zap.Float64("amount", model.MajorUnits(txn.AmountMinor)))
		res.Unmatched = append(res.Unmatched, txn)
		return nil
	}

	paid := abs64(txn.AmountMinor)
	entries := r.paymentEntries(item, txn, paid)
	if err := r.store.InsertJournalEntries(ctx, entries); err != nil {
		return eris.Wrapf(err, "recon: journal payment for %s", item.DocNumber)
	}

	newDue := item.AmountDueMinor - paid
	status := model.OpenItemPartialPaid
	if newDue <= 0 {
		newDue = 0
		status = model.OpenItemPaid
	}
	if err := r.store.UpdateOpenItem(ctx, item.InstanceID, newDue, status); err != nil {
		return eris.Wrapf(err, "recon: settle %s", item.DocNumber)
	}

	verb := "payment"
	if item.Side == model.SideReceivable {
		verb = "collection"
	}
	r.audit(ctx, item.InstanceID, "bank "+verb+" matched",
		fmt.Sprintf("%.2f against %s, status %s", model.MajorUnits(paid), item.DocNumber, status))
	zap.L().Info("recon: settled open item",
		zap.String("doc_number", item.DocNumber), zap.String("status", string(status)),
		zap.Float64("paid", model.MajorUnits(paid)), zap.Bool("fuzzy", fuzzy))

	res.Matched++
	if fuzzy {
		res.FuzzyMatched++
	}
	return nil
}

// match resolves a bank line to an open item: direct doc-number lookup
// first, then the fuzzy matcher over outstanding items on the right side.
func (r *Reconciler) match(ctx context.Context, txn BankTransaction) (*model.OpenItem, bool, error) {
	if txn.GuessDocNumber != "" {
		item, err := r.store.FindOpenItemByDocNumber(ctx, txn.GuessDocNumber)
		if err == nil && settleable(item) {
			return item, false, nil
		}
		if err != nil && !eris.Is(err, store.ErrNotFound) {
			return nil, false, eris.Wrapf(err, "recon: look up %s", txn.GuessDocNumber)
		}
	}
	if r.matcher == nil {
		return nil, false, nil
	}

	side := model.SideReceivable
	if txn.AmountMinor < 0 {
		side = model.SidePayable
	}
	candidates, err := r.store.ListOpenItems(ctx, side,
		[]model.OpenItemStatus{model.OpenItemOutstanding, model.OpenItemPartialPaid})
	if err != nil {
		return nil, false, eris.Wrap(err, "recon: list candidates")
	}

	docNumber, err := r.matcher.SuggestMatch(ctx, txn, candidates)
	if err != nil || docNumber == "" {
		return nil, false, err
	}
	for i := range candidates {
		if candidates[i].DocNumber == docNumber && settleable(&candidates[i]) {
			return &candidates[i], true, nil
		}
	}
	return nil, false, nil
}

func settleable(item *model.OpenItem) bool {
	return item != nil && item.AmountDueMinor > 0 &&
		(item.Status == model.OpenItemOutstanding || item.Status == model.OpenItemPartialPaid)
}

func (r *Reconciler) paymentEntries(item *model.OpenItem, txn BankTransaction, paid int64) []model.JournalEntry {
	controlAcct, memo := acctAP, fmt.Sprintf("Payment for %s", item.DocNumber)
	debitControl := true
	if item.Side == model.SideReceivable {
		controlAcct, memo = acctAR, fmt.Sprintf("Collection for %s", item.DocNumber)
		debitControl = false
	}

	control := newPaymentEntry(item.InstanceID, txn.Date, controlAcct, memo, paid, debitControl)
	cash := newPaymentEntry(item.InstanceID, txn.Date, acctCash, memo, paid, !debitControl)
	return []model.JournalEntry{control, cash}
}

func newPaymentEntry(instanceID string, date time.Time, account, memo string, amount int64, debit bool) model.JournalEntry {
	e := model.JournalEntry{
		ID:             uuid.NewString(),
		InstanceID:     instanceID,
		Date:           date,
		Account:        account,
		Memo:           memo,
		FXRate:         1.0,
		SrcAmountMinor: amount,
	}
	if debit {
		e.DebitMinor = amount
	} else {
		e.CreditMinor = amount
	}
	return e
}

func (r *Reconciler) audit(ctx context.Context, instanceID, action, detail string) {
	entry := model.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Actor:     reconActor,
		Detail:    action + ": " + detail,
	}
	if err := r.store.AppendAudit(ctx, instanceID, entry); err != nil {
		zap.L().Warn("recon: audit append failed", zap.String("instance_id", instanceID), zap.Error(err))
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
