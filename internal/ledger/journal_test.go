package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairledger/ledger-cli/internal/model"
)

func vendorInvoiceRecord() *model.NormalizedRecord {
	return &model.NormalizedRecord{
		SourceDocID:     "doc-1",
		DocNumber:       "INV-1001",
		DocType:         model.DocTypeInvoice,
		VendorID:        "V001",
		VendorName:      "Acme Ltd",
		Currency:        "MYR",
		AmountMinor:     108000,
		BaseCurrency:    "MYR",
		BaseAmountMinor: 108000,
		FXRate:          1,
		TaxMinor:        8000,
		TaxLabel:        "SST",
		TxDate:          time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Lines: []model.NormalizedLine{
			{LineNo: 1, Description: "Software licence", GLAccount: "6100 Software", AmountMinor: 60000},
			{LineNo: 2, Description: "Support", AmountMinor: 40000},
		},
	}
}

func balance(entries []model.JournalEntry) (debits, credits int64) {
	for _, e := range entries {
		debits += e.DebitMinor
		credits += e.CreditMinor
	}
	return debits, credits
}

func TestBuildEntriesVendorInvoice(t *testing.T) {
	entries, err := BuildEntries(vendorInvoiceRecord())
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "6100", entries[0].Account)
	assert.Equal(t, int64(60000), entries[0].DebitMinor)
	assert.Equal(t, "6000", entries[1].Account) // no GL hint falls back
	assert.Equal(t, acctInputTax, entries[2].Account)
	assert.Equal(t, int64(8000), entries[2].DebitMinor)
	assert.Equal(t, "SST Input Tax", entries[2].Memo)

	ap := entries[3]
	assert.Equal(t, acctAP, ap.Account)
	assert.Equal(t, int64(108000), ap.CreditMinor)

	debits, credits := balance(entries)
	assert.Equal(t, debits, credits)
}

func TestBuildEntriesVendorInvoiceWithShipping(t *testing.T) {
	rec := vendorInvoiceRecord()
	rec.ShippingMinor = 2500
	rec.AmountMinor = 110500
	rec.BaseAmountMinor = 110500

	entries, err := BuildEntries(rec)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, acctShipping, entries[3].Account)
	assert.Equal(t, int64(2500), entries[3].DebitMinor)
	assert.Equal(t, int64(110500), entries[4].CreditMinor)

	debits, credits := balance(entries)
	assert.Equal(t, debits, credits)
}

func TestBuildEntriesSalesInvoice(t *testing.T) {
	rec := vendorInvoiceRecord()
	rec.DocType = model.DocTypeSalesInvoice
	rec.Lines[0].GLAccount = "4100 Consulting Revenue"
	rec.Lines[1].GLAccount = ""

	entries, err := BuildEntries(rec)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "4100", entries[0].Account)
	assert.Equal(t, int64(60000), entries[0].CreditMinor)
	assert.Equal(t, acctSalesDefault, entries[1].Account)
	assert.Equal(t, acctOutputTax, entries[2].Account)
	assert.Equal(t, int64(8000), entries[2].CreditMinor)

	ar := entries[3]
	assert.Equal(t, acctAR, ar.Account)
	assert.Equal(t, int64(108000), ar.DebitMinor)

	debits, credits := balance(entries)
	assert.Equal(t, debits, credits)
}

func TestBuildEntriesCreditNote(t *testing.T) {
	rec := vendorInvoiceRecord()
	rec.DocType = model.DocTypeCreditNote
	rec.AmountMinor = -108000
	rec.TaxMinor = -8000
	rec.Lines = []model.NormalizedLine{
		{LineNo: 1, Description: "Returned licence", GLAccount: "6100 Software", AmountMinor: -100000},
	}

	entries, err := BuildEntries(rec)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "6100", entries[0].Account)
	assert.Equal(t, int64(100000), entries[0].CreditMinor)
	assert.Equal(t, acctInputTax, entries[1].Account)
	assert.Equal(t, int64(8000), entries[1].CreditMinor)
	assert.Equal(t, acctAP, entries[2].Account)
	assert.Equal(t, int64(108000), entries[2].DebitMinor)

	debits, credits := balance(entries)
	assert.Equal(t, debits, credits)
}

func TestBuildEntriesFXBalances(t *testing.T) {
	rec := vendorInvoiceRecord()
	rec.Currency = "USD"
	rec.FXRate = 4.4271
	rec.BaseAmountMinor = 478127

	entries, err := BuildEntries(rec)
	require.NoError(t, err)

	// Per-line FX rounding must never unbalance the journal: the AP leg
	// absorbs the rounding.
	debits, credits := balance(entries)
	assert.Equal(t, debits, credits)
	assert.Equal(t, int64(108000), entries[len(entries)-1].SrcAmountMinor)
	assert.InDelta(t, 4.4271, entries[0].FXRate, 1e-9)
}

func TestBuildEntriesNotPostable(t *testing.T) {
	rec := vendorInvoiceRecord()
	rec.DocType = model.DocTypeQuotation

	_, err := BuildEntries(rec)
	assert.Error(t, err)
}

func TestGLAccount(t *testing.T) {
	tests := []struct {
		hint, fallback, want string
	}{
		{"6100 Software Subscriptions", "6000", "6100"},
		{"6100", "6000", "6100"},
		{"", "6000", "6000"},
		{"  ", "4000", "4000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, glAccount(tt.hint, tt.fallback))
	}
}
