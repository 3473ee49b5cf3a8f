// Package ledger builds balanced double-entry journals from normalized
// records and commits them to the ledger system exactly once per instance.
package ledger

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/fairledger/ledger-cli/internal/model"
)

// Chart-of-accounts codes used when a line carries no GL hint.
const (
	acctExpenseDefault = "6000"
	acctSalesDefault   = "4000"
	acctInputTax       = "1400"
	acctOutputTax      = "2200"
	acctShipping       = "5300"
	acctAP             = "2100"
	acctAR             = "1200"
)

// glAccount extracts the account code from a GL hint like
// "6100 Software Subscriptions". An empty hint falls back to the default.
func glAccount(hint, fallback string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return fallback
	}
	if i := strings.IndexByte(hint, ' '); i > 0 {
		return hint[:i]
	}
	return hint
}

// toBase converts a source-currency minor amount into base-currency minor
// units at the record's FX rate.
func toBase(amountMinor int64, fxRate float64) int64 {
	return int64(math.Round(float64(amountMinor) * fxRate))
}

// BuildEntries constructs the journal lines for a validated record. Entries
// always balance: the control-account leg is derived from the sum of the
// item legs, so per-line FX rounding never leaves a remainder.
func BuildEntries(rec *model.NormalizedRecord) ([]model.JournalEntry, error) {
	if rec == nil {
		return nil, eris.New("ledger: nil record")
	}
	if !rec.DocType.Postable() {
		return nil, eris.Errorf("ledger: %s documents are not postable", rec.DocType)
	}

	switch rec.DocType {
	case model.DocTypeInvoice, model.DocTypeBill, model.DocTypeReceipt:
		return buildPayableEntries(rec), nil
	case model.DocTypeSalesInvoice:
		return buildReceivableEntries(rec), nil
	case model.DocTypeCreditNote:
		return buildCreditNoteEntries(rec), nil
	default:
		return nil, eris.Errorf("ledger: no posting rule for doc type %s", rec.DocType)
	}
}

func newEntry(rec *model.NormalizedRecord, lineNo int, account string, debit, credit int64, memo string, srcMinor int64) model.JournalEntry {
	return model.JournalEntry{
		ID:             uuid.NewString(),
		InstanceID:     rec.SourceDocID,
		Date:           rec.TxDate,
		LineNo:         lineNo,
		Account:        account,
		DebitMinor:     debit,
		CreditMinor:    credit,
		Memo:           memo,
		FXRate:         rec.FXRate,
		SrcAmountMinor: srcMinor,
	}
}

// buildPayableEntries posts a vendor invoice or bill: debit expense lines,
// input tax and shipping, credit accounts payable for the balancing total.
func buildPayableEntries(rec *model.NormalizedRecord) []model.JournalEntry {
	var entries []model.JournalEntry
	var debitTotal int64

	for _, line := range rec.Lines {
		base := toBase(line.AmountMinor, rec.FXRate)
		debitTotal += base
		entries = append(entries, newEntry(rec, line.LineNo,
			glAccount(line.GLAccount, acctExpenseDefault),
			base, 0, fmt.Sprintf("Expense for %s", line.Description), line.AmountMinor))
	}
	if rec.TaxMinor > 0 {
		base := toBase(rec.TaxMinor, rec.FXRate)
		debitTotal += base
		entries = append(entries, newEntry(rec, 0, acctInputTax,
			base, 0, fmt.Sprintf("%s Input Tax", rec.TaxLabel), rec.TaxMinor))
	}
	if rec.ShippingMinor > 0 {
		base := toBase(rec.ShippingMinor, rec.FXRate)
		debitTotal += base
		entries = append(entries, newEntry(rec, 0, acctShipping,
			base, 0, "Shipping Expense", rec.ShippingMinor))
	}

	entries = append(entries, newEntry(rec, 0, acctAP,
		0, debitTotal, fmt.Sprintf("AP for %s", rec.DocNumber), rec.AmountMinor))
	return entries
}

// buildReceivableEntries posts a customer sales invoice: credit revenue
// lines and output tax, debit accounts receivable for the balancing total.
func buildReceivableEntries(rec *model.NormalizedRecord) []model.JournalEntry {
	var entries []model.JournalEntry
	var creditTotal int64

	for _, line := range rec.Lines {
		base := toBase(line.AmountMinor, rec.FXRate)
		creditTotal += base
		entries = append(entries, newEntry(rec, line.LineNo,
			glAccount(line.GLAccount, acctSalesDefault),
			0, base, fmt.Sprintf("Sales for %s", line.Description), line.AmountMinor))
	}
	if rec.TaxMinor > 0 {
		base := toBase(rec.TaxMinor, rec.FXRate)
		creditTotal += base
		entries = append(entries, newEntry(rec, 0, acctOutputTax,
			0, base, fmt.Sprintf("%s Output Tax", rec.TaxLabel), rec.TaxMinor))
	}

	entries = append(entries, newEntry(rec, 0, acctAR,
		creditTotal, 0, fmt.Sprintf("AR for %s", rec.DocNumber), rec.AmountMinor))
	return entries
}

// buildCreditNoteEntries reverses an earlier vendor posting: credit the
// expense lines and input tax back out, debit accounts payable.
func buildCreditNoteEntries(rec *model.NormalizedRecord) []model.JournalEntry {
	var entries []model.JournalEntry
	var creditTotal int64

	for _, line := range rec.Lines {
		src := abs64(line.AmountMinor)
		base := toBase(src, rec.FXRate)
		creditTotal += base
		entries = append(entries, newEntry(rec, line.LineNo,
			glAccount(line.GLAccount, acctExpenseDefault),
			0, base, fmt.Sprintf("CN Reversal for %s", line.Description), src))
	}
	if rec.TaxMinor != 0 {
		src := abs64(rec.TaxMinor)
		base := toBase(src, rec.FXRate)
		creditTotal += base
		entries = append(entries, newEntry(rec, 0, acctInputTax,
			0, base, fmt.Sprintf("%s Input Tax Reversal", rec.TaxLabel), src))
	}

	entries = append(entries, newEntry(rec, 0, acctAP,
		creditTotal, 0, fmt.Sprintf("AP reduction for %s", rec.DocNumber), abs64(rec.AmountMinor)))
	return entries
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
