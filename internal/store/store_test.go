package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/refdata"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testDocument() model.Document {
	return model.Document{
		ID:         uuid.NewString(),
		PayloadRef: "inbox/INV-1001.pdf",
		TypeHint:   model.DocTypeInvoice,
		ReceivedAt: time.Now().UTC(),
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetInstance", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		doc := testDocument()
		inst, err := s.CreateInstance(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, inst.ID)
		assert.Equal(t, model.StateReceived, inst.State)
		assert.Equal(t, int64(1), inst.Version)

		got, err := s.GetInstance(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, got.ID)
		assert.Equal(t, model.StateReceived, got.State)
		assert.Equal(t, "inbox/INV-1001.pdf", got.Document.PayloadRef)
		assert.Nil(t, got.Raw)
		assert.Nil(t, got.Record)
	})

	t.Run("GetInstanceNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetInstance(context.Background(), "nonexistent")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateInstanceBumpsVersion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		inst, err := s.CreateInstance(ctx, testDocument())
		require.NoError(t, err)

		inst.State = model.StateExtracted
		inst.Raw = &model.RawFields{DocNumber: "INV-1001", VendorName: "Acme Ltd", Total: 1080}
		require.NoError(t, s.UpdateInstance(ctx, inst))
		assert.Equal(t, int64(2), inst.Version)

		got, err := s.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StateExtracted, got.State)
		assert.Equal(t, int64(2), got.Version)
		require.NotNil(t, got.Raw)
		assert.Equal(t, "INV-1001", got.Raw.DocNumber)
	})

	t.Run("UpdateInstanceStaleVersion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		inst, err := s.CreateInstance(ctx, testDocument())
		require.NoError(t, err)

		stale, err := s.GetInstance(ctx, inst.ID)
		require.NoError(t, err)

		inst.State = model.StateExtracted
		require.NoError(t, s.UpdateInstance(ctx, inst))

		stale.State = model.StateFailed
		err = s.UpdateInstance(ctx, stale)
		assert.ErrorIs(t, err, ErrVersionConflict)

		// The winning write is intact.
		got, err := s.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StateExtracted, got.State)
	})

	t.Run("UpdateInstanceNotFound", func(t *testing.T) {
		s := newStore(t)

		inst := &model.WorkflowInstance{ID: "nonexistent", State: model.StateFailed, Version: 1}
		err := s.UpdateInstance(context.Background(), inst)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListInstancesByState", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateInstance(ctx, testDocument())
		require.NoError(t, err)
		_, err = s.CreateInstance(ctx, testDocument())
		require.NoError(t, err)

		a.State = model.StatePendingReview
		require.NoError(t, s.UpdateInstance(ctx, a))

		pending, err := s.ListInstances(ctx, InstanceFilter{State: model.StatePendingReview})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, a.ID, pending[0].ID)

		all, err := s.ListInstances(ctx, InstanceFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("AuditTrail", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		inst, err := s.CreateInstance(ctx, testDocument())
		require.NoError(t, err)

		base := time.Now().UTC().Truncate(time.Second)
		entries := []model.AuditEntry{
			{ID: uuid.NewString(), Timestamp: base, Actor: "system", FromState: model.StateReceived, ToState: model.StateExtracted},
			{ID: uuid.NewString(), Timestamp: base.Add(time.Second), Actor: "system", FromState: model.StateExtracted, ToState: model.StateValidated, Detail: "2 exceptions"},
		}
		for _, e := range entries {
			require.NoError(t, s.AppendAudit(ctx, inst.ID, e))
		}

		got, err := s.ListAudit(ctx, inst.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, model.StateExtracted, got[0].ToState)
		assert.Equal(t, model.StateValidated, got[1].ToState)
		assert.Equal(t, "2 exceptions", got[1].Detail)
	})

	t.Run("ReviewRequestLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		inst, err := s.CreateInstance(ctx, testDocument())
		require.NoError(t, err)

		req := &ReviewRequest{
			ID:          uuid.NewString(),
			InstanceID:  inst.ID,
			Reviewer:    "ap-team",
			Summary:     "VendorMismatch: no match for ACME",
			Status:      ReviewPending,
			RequestedAt: time.Now().UTC(),
		}
		require.NoError(t, s.CreateReviewRequest(ctx, req))

		pending, err := s.PendingReviewForInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, req.ID, pending.ID)

		res := model.Resolution{Kind: model.ResolutionApprove, Reviewer: "alice", Note: "vendor verified"}
		require.NoError(t, s.ResolveReviewRequest(ctx, req.ID, res))

		got, err := s.GetReviewRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, ReviewResolved, got.Status)
		require.NotNil(t, got.Resolution)
		assert.Equal(t, model.ResolutionApprove, got.Resolution.Kind)
		assert.NotNil(t, got.ResolvedAt)

		_, err = s.PendingReviewForInstance(ctx, inst.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("LatestReviewForInstance", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		inst, err := s.CreateInstance(ctx, testDocument())
		require.NoError(t, err)

		_, err = s.LatestReviewForInstance(ctx, inst.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		first := &ReviewRequest{
			ID: uuid.NewString(), InstanceID: inst.ID, Reviewer: "ap-team",
			Summary: "VendorMismatch", Status: ReviewPending,
			RequestedAt: time.Now().UTC().Add(-time.Minute),
		}
		require.NoError(t, s.CreateReviewRequest(ctx, first))

		got, err := s.LatestReviewForInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)

		// After resolution the request still surfaces, carrying its
		// stored resolution for replay.
		res := model.Resolution{Kind: model.ResolutionApprove, Reviewer: "alice"}
		require.NoError(t, s.ResolveReviewRequest(ctx, first.ID, res))

		got, err = s.LatestReviewForInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, ReviewResolved, got.Status)
		require.NotNil(t, got.Resolution)
		assert.Equal(t, model.ResolutionApprove, got.Resolution.Kind)

		// A new pending request wins over any resolved one.
		second := &ReviewRequest{
			ID: uuid.NewString(), InstanceID: inst.ID, Reviewer: "ap-team",
			Summary: "AmountMismatch", Status: ReviewPending,
			RequestedAt: time.Now().UTC(),
		}
		require.NoError(t, s.CreateReviewRequest(ctx, second))

		got, err = s.LatestReviewForInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
	})

	t.Run("ResolveReviewRequestTwice", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		inst, err := s.CreateInstance(ctx, testDocument())
		require.NoError(t, err)

		req := &ReviewRequest{
			ID: uuid.NewString(), InstanceID: inst.ID, Reviewer: "ap-team",
			Summary: "AmountMismatch", Status: ReviewPending, RequestedAt: time.Now().UTC(),
		}
		require.NoError(t, s.CreateReviewRequest(ctx, req))

		res := model.Resolution{Kind: model.ResolutionReject, Reviewer: "bob"}
		require.NoError(t, s.ResolveReviewRequest(ctx, req.ID, res))

		err = s.ResolveReviewRequest(ctx, req.ID, res)
		assert.ErrorIs(t, err, ErrAlreadyResolved)
	})

	t.Run("ResolveReviewRequestUnknown", func(t *testing.T) {
		s := newStore(t)

		err := s.ResolveReviewRequest(context.Background(), "nonexistent", model.Resolution{Kind: model.ResolutionApprove})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ReceiptIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		inst, err := s.CreateInstance(ctx, testDocument())
		require.NoError(t, err)

		first := model.PostingReceipt{
			ID: uuid.NewString(), InstanceID: inst.ID, LedgerRef: "JRN-001",
			AmountMinor: 108000, Currency: "MYR", PostedAt: time.Now().UTC(),
		}
		require.NoError(t, s.SaveReceipt(ctx, first))

		// A second save for the same instance is a no-op.
		dup := first
		dup.ID = uuid.NewString()
		dup.LedgerRef = "JRN-999"
		require.NoError(t, s.SaveReceipt(ctx, dup))

		got, err := s.GetReceipt(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, "JRN-001", got.LedgerRef)
		assert.Equal(t, int64(108000), got.AmountMinor)
	})

	t.Run("GetReceiptNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetReceipt(context.Background(), "nonexistent")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("JournalEntriesRange", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		jan := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
		feb := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
		entries := []model.JournalEntry{
			{ID: uuid.NewString(), InstanceID: "i1", Date: jan, LineNo: 1, Account: "6000", DebitMinor: 100000, FXRate: 1},
			{ID: uuid.NewString(), InstanceID: "i1", Date: jan, LineNo: 2, Account: "2100", CreditMinor: 100000, FXRate: 1},
			{ID: uuid.NewString(), InstanceID: "i2", Date: feb, LineNo: 1, Account: "6000", DebitMinor: 50000, FXRate: 1},
			{ID: uuid.NewString(), InstanceID: "i2", Date: feb, LineNo: 2, Account: "2100", CreditMinor: 50000, FXRate: 1},
		}
		require.NoError(t, s.InsertJournalEntries(ctx, entries))

		janOnly, err := s.ListJournalEntries(ctx,
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, janOnly, 2)
		assert.Equal(t, "i1", janOnly[0].InstanceID)
	})

	t.Run("OpenItemLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		due := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
		item := model.OpenItem{
			InstanceID:     uuid.NewString(),
			DocNumber:      "INV-1001",
			CounterpartyID: "V001",
			Side:           model.SidePayable,
			TotalMinor:     108000,
			AmountDueMinor: 108000,
			DueDate:        &due,
			Status:         model.OpenItemOutstanding,
		}
		require.NoError(t, s.CreateOpenItem(ctx, item))

		found, err := s.FindOpenItemByDocNumber(ctx, "INV-1001")
		require.NoError(t, err)
		assert.Equal(t, item.InstanceID, found.InstanceID)
		assert.Equal(t, int64(108000), found.AmountDueMinor)

		require.NoError(t, s.UpdateOpenItem(ctx, item.InstanceID, 8000, model.OpenItemPartialPaid))

		open, err := s.ListOpenItems(ctx, model.SidePayable,
			[]model.OpenItemStatus{model.OpenItemOutstanding, model.OpenItemPartialPaid})
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, int64(8000), open[0].AmountDueMinor)
		assert.Equal(t, model.OpenItemPartialPaid, open[0].Status)

		require.NoError(t, s.UpdateOpenItem(ctx, item.InstanceID, 0, model.OpenItemPaid))

		open, err = s.ListOpenItems(ctx, model.SidePayable,
			[]model.OpenItemStatus{model.OpenItemOutstanding, model.OpenItemPartialPaid})
		require.NoError(t, err)
		assert.Empty(t, open)
	})

	t.Run("ReferenceData", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertVendors(ctx, []refdata.Vendor{
			{ID: "V001", Name: "Acme Ltd", TaxID: "MY-123", Jurisdiction: "MY"},
		}))
		require.NoError(t, s.UpsertTaxRules(ctx, []refdata.TaxRule{
			{Jurisdiction: "MY", Label: "SST", Rate: 0.08, Required: true},
		}))
		require.NoError(t, s.UpsertFXRates(ctx, []refdata.FXRate{
			{From: "USD", To: "MYR", Date: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), Rate: 4.42},
		}))

		vendors, err := s.ListVendors(ctx)
		require.NoError(t, err)
		require.Len(t, vendors, 1)
		assert.Equal(t, "Acme Ltd", vendors[0].Name)

		// Upsert overwrites in place.
		require.NoError(t, s.UpsertVendors(ctx, []refdata.Vendor{
			{ID: "V001", Name: "Acme Limited", TaxID: "MY-123", Jurisdiction: "MY"},
		}))
		vendors, err = s.ListVendors(ctx)
		require.NoError(t, err)
		require.Len(t, vendors, 1)
		assert.Equal(t, "Acme Limited", vendors[0].Name)

		rules, err := s.ListTaxRules(ctx)
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.True(t, rules[0].Required)

		rates, err := s.ListFXRates(ctx)
		require.NoError(t, err)
		require.Len(t, rates, 1)
		assert.InDelta(t, 4.42, rates[0].Rate, 1e-9)
	})

	t.Run("RecordHashWindow", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		txDate := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.RecordHash(ctx, "abc123", "inst-1", txDate))
		// Same hash again keeps the first owner.
		require.NoError(t, s.RecordHash(ctx, "abc123", "inst-2", txDate))

		hashes, err := s.RecentHashes(ctx, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "inst-1", hashes["abc123"])

		hashes, err = s.RecentHashes(ctx, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, hashes)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
