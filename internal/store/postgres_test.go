package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairledger/ledger-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_GetInstance_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, state, version, document`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetInstance(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateInstance(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO instances`).
		WithArgs("doc-1", "received", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	doc := model.Document{ID: "doc-1", PayloadRef: "inbox/a.pdf", ReceivedAt: time.Now().UTC()}
	inst, err := s.CreateInstance(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, model.StateReceived, inst.State)
	assert.Equal(t, int64(1), inst.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateInstance_VersionConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE instances`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT 1 FROM instances WHERE id = \$1`).
		WithArgs("doc-1").
		WillReturnRows(pgxmock.NewRows([]string{"1"}).AddRow(1))

	inst := &model.WorkflowInstance{
		ID:       "doc-1",
		State:    model.StateExtracted,
		Version:  3,
		Document: model.Document{ID: "doc-1"},
	}
	err := s.UpdateInstance(context.Background(), inst)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateInstance_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE instances`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT 1 FROM instances WHERE id = \$1`).
		WithArgs("gone").
		WillReturnError(pgx.ErrNoRows)

	inst := &model.WorkflowInstance{ID: "gone", State: model.StateFailed, Version: 1}
	err := s.UpdateInstance(context.Background(), inst)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveReviewRequest_AlreadyResolved(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE review_requests`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM review_requests WHERE id = \$1`).
		WithArgs("rr-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("resolved"))

	err := s.ResolveReviewRequest(context.Background(), "rr-1", model.Resolution{Kind: model.ResolutionApprove})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveReceipt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO receipts`).
		WithArgs("doc-1", pgxmock.AnyArg(), "JRN-001", int64(108000), "MYR", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	receipt := model.PostingReceipt{
		ID: "r-1", InstanceID: "doc-1", LedgerRef: "JRN-001",
		AmountMinor: 108000, Currency: "MYR", PostedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveReceipt(context.Background(), receipt))
	assert.NoError(t, mock.ExpectationsWereMet())
}
