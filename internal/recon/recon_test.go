package recon

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func openPayable(t *testing.T, s store.Store, instanceID, docNumber string, due int64, dueDate time.Time) {
	t.Helper()
	require.NoError(t, s.CreateOpenItem(context.Background(), model.OpenItem{
		InstanceID: instanceID, DocNumber: docNumber, CounterpartyID: "V001",
		Side: model.SidePayable, TotalMinor: due, AmountDueMinor: due,
		DueDate: &dueDate, Status: model.OpenItemOutstanding,
	}))
}

type stubMatcher struct {
	suggest string
	calls   int
}

func (m *stubMatcher) SuggestMatch(ctx context.Context, txn BankTransaction, candidates []model.OpenItem) (string, error) {
	m.calls++
	return m.suggest, nil
}

func TestParseBankFeed(t *testing.T) {
	feed := strings.Join([]string{
		"date,amount,memo,guess_doc_number",
		"2026-02-01,-1080.00,Payment INV-1001,INV-1001",
		"not-a-date,-50.00,garbage,INV-9",
		"2026-02-03,2180.00,Customer remittance,SI-2001",
		"2026-02-04,oops,bad amount,INV-9",
	}, "\n")

	txns, err := ParseBankFeed(strings.NewReader(feed))
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, int64(-108000), txns[0].AmountMinor)
	assert.Equal(t, "INV-1001", txns[0].GuessDocNumber)
	assert.Equal(t, int64(218000), txns[1].AmountMinor)
	assert.Equal(t, "Customer remittance", txns[1].Memo)
}

func TestParseBankFeedMissingColumn(t *testing.T) {
	_, err := ParseBankFeed(strings.NewReader("date,memo\n2026-02-01,x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount")
}

func TestSettleFullPayment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	due := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	openPayable(t, s, "i1", "INV-1001", 108000, due)

	r := NewReconciler(s, nil)
	res, err := r.Run(ctx, []BankTransaction{{
		Date: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), AmountMinor: -108000,
		Memo: "Payment INV-1001", GuessDocNumber: "INV-1001",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Empty(t, res.Unmatched)

	item, err := s.FindOpenItemByDocNumber(ctx, "INV-1001")
	require.NoError(t, err)
	assert.Equal(t, model.OpenItemPaid, item.Status)
	assert.Zero(t, item.AmountDueMinor)

	entries, err := s.ListJournalEntries(ctx,
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	var debits, credits int64
	byAccount := map[string]model.JournalEntry{}
	for _, e := range entries {
		debits += e.DebitMinor
		credits += e.CreditMinor
		byAccount[e.Account] = e
	}
	assert.Equal(t, debits, credits)
	assert.Equal(t, int64(108000), byAccount["2100"].DebitMinor)
	assert.Equal(t, int64(108000), byAccount["1100"].CreditMinor)
}

func TestSettlePartialPayment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	due := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	openPayable(t, s, "i1", "INV-1001", 108000, due)

	r := NewReconciler(s, nil)
	_, err := r.Run(ctx, []BankTransaction{{
		Date: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), AmountMinor: -50000,
		GuessDocNumber: "INV-1001",
	}})
	require.NoError(t, err)

	item, err := s.FindOpenItemByDocNumber(ctx, "INV-1001")
	require.NoError(t, err)
	assert.Equal(t, model.OpenItemPartialPaid, item.Status)
	assert.Equal(t, int64(58000), item.AmountDueMinor)
}

func TestSettleReceivableCollection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateOpenItem(ctx, model.OpenItem{
		InstanceID: "i2", DocNumber: "SI-2001", CounterpartyID: "C001",
		Side: model.SideReceivable, TotalMinor: 218000, AmountDueMinor: 218000,
		Status: model.OpenItemOutstanding,
	}))

	r := NewReconciler(s, nil)
	res, err := r.Run(ctx, []BankTransaction{{
		Date: time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC), AmountMinor: 218000,
		GuessDocNumber: "SI-2001",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)

	item, err := s.FindOpenItemByDocNumber(ctx, "SI-2001")
	require.NoError(t, err)
	assert.Equal(t, model.OpenItemPaid, item.Status)

	entries, err := s.ListJournalEntries(ctx,
		time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	byAccount := map[string]model.JournalEntry{}
	for _, e := range entries {
		byAccount[e.Account] = e
	}
	assert.Equal(t, int64(218000), byAccount["1100"].DebitMinor)
	assert.Equal(t, int64(218000), byAccount["1200"].CreditMinor)
}

func TestUnmatchedWithoutMatcher(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s, nil)

	res, err := r.Run(context.Background(), []BankTransaction{{
		Date: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), AmountMinor: -1000,
		Memo: "mystery payment", GuessDocNumber: "NOPE-1",
	}})
	require.NoError(t, err)
	assert.Zero(t, res.Matched)
	require.Len(t, res.Unmatched, 1)
	assert.Equal(t, "NOPE-1", res.Unmatched[0].GuessDocNumber)
}

func TestFuzzyMatchFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	due := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	openPayable(t, s, "i1", "INV-1001", 108000, due)

	m := &stubMatcher{suggest: "INV-1001"}
	r := NewReconciler(s, m)
	res, err := r.Run(ctx, []BankTransaction{{
		Date: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), AmountMinor: -108000,
		Memo: "pymt acme feb", GuessDocNumber: "WIRE-9912",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 1, res.FuzzyMatched)
	assert.Equal(t, 1, m.calls)

	item, err := s.FindOpenItemByDocNumber(ctx, "INV-1001")
	require.NoError(t, err)
	assert.Equal(t, model.OpenItemPaid, item.Status)
}

func TestApplyCreditNote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	due := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	openPayable(t, s, "i1", "INV-1001", 108000, due)
	require.NoError(t, s.CreateOpenItem(ctx, model.OpenItem{
		InstanceID: "i3", DocNumber: "CN-0003", CounterpartyID: "V001",
		Side: model.SidePayable, TotalMinor: -20000, AmountDueMinor: -20000,
		Status: model.OpenItemOutstanding,
	}))

	r := NewReconciler(s, nil)
	res, err := r.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AppliedCredits)

	inv, err := s.FindOpenItemByDocNumber(ctx, "INV-1001")
	require.NoError(t, err)
	assert.Equal(t, int64(88000), inv.AmountDueMinor)
	assert.Equal(t, model.OpenItemOutstanding, inv.Status)

	cn, err := s.FindOpenItemByDocNumber(ctx, "CN-0003")
	require.NoError(t, err)
	assert.Equal(t, model.OpenItemApplied, cn.Status)
	assert.Zero(t, cn.AmountDueMinor)
}

func TestCreditNoteAppliesToOldestInvoice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	openPayable(t, s, "i1", "INV-NEW", 50000, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	openPayable(t, s, "i2", "INV-OLD", 50000, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.CreateOpenItem(ctx, model.OpenItem{
		InstanceID: "i3", DocNumber: "CN-0003", CounterpartyID: "V001",
		Side: model.SidePayable, TotalMinor: -50000, AmountDueMinor: -50000,
		Status: model.OpenItemOutstanding,
	}))

	r := NewReconciler(s, nil)
	_, err := r.Run(ctx, nil)
	require.NoError(t, err)

	old, err := s.FindOpenItemByDocNumber(ctx, "INV-OLD")
	require.NoError(t, err)
	assert.Equal(t, model.OpenItemPaid, old.Status)
	assert.Zero(t, old.AmountDueMinor)

	newer, err := s.FindOpenItemByDocNumber(ctx, "INV-NEW")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), newer.AmountDueMinor)
}
