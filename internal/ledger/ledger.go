package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/resilience"
	"github.com/fairledger/ledger-cli/internal/store"
)

// ErrRejected means the ledger refused the posting for a permanent reason,
// such as a closed accounting period. Retrying will not help.
var ErrRejected = resilience.Terminal(eris.New("ledger: posting rejected"))

// System is the ledger a validated record is committed to. Commit returns a
// ledger reference on success. Transient failures (timeouts, connectivity)
// should be wrapped with resilience.Transient so the poster retries them.
type System interface {
	Commit(ctx context.Context, rec *model.NormalizedRecord, entries []model.JournalEntry) (string, error)
}

// StoreLedger commits journals into the local store: the journal_entries
// table is the general ledger and open_items the AP/AR subledger.
type StoreLedger struct {
	store store.Store
}

func NewStoreLedger(st store.Store) *StoreLedger {
	return &StoreLedger{store: st}
}

func (l *StoreLedger) Commit(ctx context.Context, rec *model.NormalizedRecord, entries []model.JournalEntry) (string, error) {
	if err := l.store.InsertJournalEntries(ctx, entries); err != nil {
		return "", resilience.Transient(eris.Wrap(err, "ledger: insert journal"))
	}

	if item, ok := openItemFor(rec); ok {
		if err := l.store.CreateOpenItem(ctx, item); err != nil {
			return "", resilience.Transient(eris.Wrap(err, "ledger: create open item"))
		}
	}

	return fmt.Sprintf("JRN-%s", rec.SourceDocID), nil
}

// openItemFor derives the subledger entry a posting opens. Credit notes
// open a negative payable that reconciliation later applies against an
// outstanding invoice from the same vendor.
func openItemFor(rec *model.NormalizedRecord) (model.OpenItem, bool) {
	switch rec.DocType {
	case model.DocTypeCreditNote:
		due := -abs64(rec.BaseAmountMinor)
		return model.OpenItem{
			InstanceID:     rec.SourceDocID,
			DocNumber:      rec.DocNumber,
			CounterpartyID: rec.VendorID,
			Side:           model.SidePayable,
			TotalMinor:     due,
			AmountDueMinor: due,
			Status:         model.OpenItemOutstanding,
		}, true
	case model.DocTypeInvoice, model.DocTypeBill, model.DocTypeReceipt:
		return model.OpenItem{
			InstanceID:     rec.SourceDocID,
			DocNumber:      rec.DocNumber,
			CounterpartyID: rec.VendorID,
			Side:           model.SidePayable,
			TotalMinor:     rec.BaseAmountMinor,
			AmountDueMinor: rec.BaseAmountMinor,
			DueDate:        rec.DueDate,
			Status:         model.OpenItemOutstanding,
		}, true
	case model.DocTypeSalesInvoice:
		return model.OpenItem{
			InstanceID:     rec.SourceDocID,
			DocNumber:      rec.DocNumber,
			CounterpartyID: rec.VendorID,
			Side:           model.SideReceivable,
			TotalMinor:     rec.BaseAmountMinor,
			AmountDueMinor: rec.BaseAmountMinor,
			DueDate:        rec.DueDate,
			Status:         model.OpenItemOutstanding,
		}, true
	default:
		return model.OpenItem{}, false
	}
}

// Poster commits records to the ledger exactly once per instance. Retries,
// circuit breaking and receipt bookkeeping live here so the workflow engine
// can treat posting as a single idempotent call.
type Poster struct {
	store   store.Store
	system  System
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

func NewPoster(st store.Store, system System, breaker *resilience.CircuitBreaker, retry resilience.RetryConfig) *Poster {
	return &Poster{store: st, system: system, breaker: breaker, retry: retry}
}

// Post commits the instance's record. If a receipt already exists the
// stored receipt is returned and the ledger is not touched again.
func (p *Poster) Post(ctx context.Context, inst *model.WorkflowInstance) (*model.PostingReceipt, error) {
	existing, err := p.store.GetReceipt(ctx, inst.ID)
	if err == nil {
		zap.L().Debug("ledger: receipt exists, skipping commit",
			zap.String("instance_id", inst.ID),
			zap.String("ledger_ref", existing.LedgerRef),
		)
		return existing, nil
	}
	if !eris.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(err, "ledger: check receipt for %s", inst.ID)
	}

	if inst.Record == nil {
		return nil, eris.Errorf("ledger: instance %s has no validated record", inst.ID)
	}

	entries, err := BuildEntries(inst.Record)
	if err != nil {
		return nil, err
	}

	commit := func(ctx context.Context) (string, error) {
		return p.system.Commit(ctx, inst.Record, entries)
	}
	ref, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (string, error) {
		if p.breaker == nil {
			return commit(ctx)
		}
		return resilience.ExecuteVal(ctx, p.breaker, commit)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: commit %s", inst.ID)
	}

	receipt := model.PostingReceipt{
		ID:          fmt.Sprintf("rcpt-%s", inst.ID),
		InstanceID:  inst.ID,
		LedgerRef:   ref,
		AmountMinor: inst.Record.BaseAmountMinor,
		Currency:    inst.Record.BaseCurrency,
		PostedAt:    time.Now().UTC(),
	}
	if err := p.store.SaveReceipt(ctx, receipt); err != nil {
		return nil, eris.Wrapf(err, "ledger: save receipt for %s", inst.ID)
	}

	// Reload in case a concurrent poster won the insert race.
	saved, err := p.store.GetReceipt(ctx, inst.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: reload receipt for %s", inst.ID)
	}
	zap.L().Info("ledger: posted",
		zap.String("instance_id", inst.ID),
		zap.String("ledger_ref", saved.LedgerRef),
		zap.Int64("amount_minor", saved.AmountMinor),
		zap.String("currency", saved.Currency),
	)
	return saved, nil
}
