package ledger

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/resilience"
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

func newPostableInstance(t *testing.T, s store.Store) *model.WorkflowInstance {
	t.Helper()
	ctx := context.Background()
	rec := vendorInvoiceRecord()
	doc := model.Document{ID: rec.SourceDocID, PayloadRef: "inbox/a.pdf", ReceivedAt: time.Now().UTC()}
	inst, err := s.CreateInstance(ctx, doc)
	require.NoError(t, err)
	inst.State = model.StateValidated
	inst.Record = rec
	require.NoError(t, s.UpdateInstance(ctx, inst))
	return inst
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

type countingSystem struct {
	inner System
	calls atomic.Int32
	fail  int32 // fail this many leading calls with a transient error
}

func (c *countingSystem) Commit(ctx context.Context, rec *model.NormalizedRecord, entries []model.JournalEntry) (string, error) {
	n := c.calls.Add(1)
	if n <= c.fail {
		return "", resilience.Transient(eris.New("ledger unavailable"))
	}
	return c.inner.Commit(ctx, rec, entries)
}

func TestPosterCommitsOnce(t *testing.T) {
	s := newTestStore(t)
	sys := &countingSystem{inner: NewStoreLedger(s)}
	p := NewPoster(s, sys, nil, fastRetry())
	ctx := context.Background()

	inst := newPostableInstance(t, s)

	first, err := p.Post(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, "JRN-doc-1", first.LedgerRef)
	assert.Equal(t, int64(108000), first.AmountMinor)

	second, err := p.Post(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, first.LedgerRef, second.LedgerRef)
	assert.Equal(t, int32(1), sys.calls.Load())

	entries, err := s.ListJournalEntries(ctx,
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestPosterRetriesTransientFailure(t *testing.T) {
	s := newTestStore(t)
	sys := &countingSystem{inner: NewStoreLedger(s), fail: 2}
	p := NewPoster(s, sys, nil, fastRetry())

	inst := newPostableInstance(t, s)

	receipt, err := p.Post(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, int32(3), sys.calls.Load())
	assert.Equal(t, "JRN-doc-1", receipt.LedgerRef)
}

func TestPosterExhaustedRetries(t *testing.T) {
	s := newTestStore(t)
	sys := &countingSystem{inner: NewStoreLedger(s), fail: 99}
	p := NewPoster(s, sys, nil, fastRetry())

	inst := newPostableInstance(t, s)

	_, err := p.Post(context.Background(), inst)
	require.Error(t, err)
	assert.Equal(t, int32(3), sys.calls.Load())

	_, err = s.GetReceipt(context.Background(), inst.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPosterRejectedNotRetried(t *testing.T) {
	s := newTestStore(t)
	sys := &rejectingSystem{}
	p := NewPoster(s, sys, nil, fastRetry())

	inst := newPostableInstance(t, s)

	_, err := p.Post(context.Background(), inst)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), sys.calls.Load())
}

type rejectingSystem struct {
	calls atomic.Int32
}

func (r *rejectingSystem) Commit(context.Context, *model.NormalizedRecord, []model.JournalEntry) (string, error) {
	r.calls.Add(1)
	return "", ErrRejected
}

func TestPosterCircuitBreaker(t *testing.T) {
	s := newTestStore(t)
	sys := &countingSystem{inner: NewStoreLedger(s), fail: 99}
	cb := resilience.NewCircuitBreaker(resilience.CircuitConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	p := NewPoster(s, sys, cb, resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond})

	ctx := context.Background()
	inst := newPostableInstance(t, s)

	_, err := p.Post(ctx, inst)
	require.Error(t, err)
	_, err = p.Post(ctx, inst)
	require.Error(t, err)
	assert.Equal(t, resilience.CircuitOpen, cb.State())

	// Breaker now rejects without reaching the ledger.
	before := sys.calls.Load()
	_, err = p.Post(ctx, inst)
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, before, sys.calls.Load())
}

func TestStoreLedgerOpensSubledgerItem(t *testing.T) {
	s := newTestStore(t)
	p := NewPoster(s, NewStoreLedger(s), nil, fastRetry())
	ctx := context.Background()

	inst := newPostableInstance(t, s)
	_, err := p.Post(ctx, inst)
	require.NoError(t, err)

	item, err := s.FindOpenItemByDocNumber(ctx, "INV-1001")
	require.NoError(t, err)
	assert.Equal(t, model.SidePayable, item.Side)
	assert.Equal(t, int64(108000), item.AmountDueMinor)
	assert.Equal(t, model.OpenItemOutstanding, item.Status)
}
