package review

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
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

func newPendingInstance(t *testing.T, s store.Store) *model.WorkflowInstance {
	t.Helper()
	ctx := context.Background()
	doc := model.Document{ID: uuid.NewString(), PayloadRef: "inbox/a.pdf", ReceivedAt: time.Now().UTC()}
	inst, err := s.CreateInstance(ctx, doc)
	require.NoError(t, err)
	inst.State = model.StatePendingReview
	inst.Raw = &model.RawFields{DocNumber: "INV-77", VendorName: "Acme Ltd"}
	inst.Exceptions = []model.Exception{
		{Kind: model.ExcVendorMismatch, Severity: model.SeverityBlocking, Detail: "no match"},
	}
	require.NoError(t, s.UpdateInstance(ctx, inst))
	return inst
}

func TestRequestReviewIdempotent(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s, "ap-team", nil)
	ctx := context.Background()

	inst := newPendingInstance(t, s)

	first, err := g.RequestReview(ctx, inst, "VendorMismatch: no match")
	require.NoError(t, err)
	assert.Equal(t, "ap-team", first.Reviewer)
	assert.Equal(t, store.ReviewPending, first.Status)

	second, err := g.RequestReview(ctx, inst, "VendorMismatch: no match")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestRequestReviewAfterResolveCreatesNew(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s, "ap-team", nil)
	ctx := context.Background()

	inst := newPendingInstance(t, s)

	first, err := g.RequestReview(ctx, inst, "round one")
	require.NoError(t, err)

	_, err = g.SubmitResolution(ctx, first.ID, model.Resolution{Kind: model.ResolutionApprove, Reviewer: "alice"})
	require.NoError(t, err)

	second, err := g.RequestReview(ctx, inst, "round two")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "round two", second.Summary)
}

func TestSubmitResolutionUnknownRequest(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s, "ap-team", nil)

	_, err := g.SubmitResolution(context.Background(), "nonexistent",
		model.Resolution{Kind: model.ResolutionApprove, Reviewer: "alice"})
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestSubmitResolutionAtMostOnce(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s, "ap-team", nil)
	ctx := context.Background()

	inst := newPendingInstance(t, s)
	req, err := g.RequestReview(ctx, inst, "summary")
	require.NoError(t, err)

	resolved, err := g.SubmitResolution(ctx, req.ID, model.Resolution{Kind: model.ResolutionReject, Reviewer: "alice"})
	require.NoError(t, err)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, model.ResolutionReject, resolved.Resolution.Kind)

	_, err = g.SubmitResolution(ctx, req.ID, model.Resolution{Kind: model.ResolutionApprove, Reviewer: "bob"})
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	// The first resolution stands.
	got, err := s.GetReviewRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionReject, got.Resolution.Kind)
	assert.Equal(t, "alice", got.Resolution.Reviewer)
}

func TestSubmitResolutionValidation(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s, "ap-team", nil)
	ctx := context.Background()

	tests := []struct {
		name string
		res  model.Resolution
	}{
		{"unknown kind", model.Resolution{Kind: "defer", Reviewer: "alice"}},
		{"correct without corrections", model.Resolution{Kind: model.ResolutionCorrect, Reviewer: "alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.SubmitResolution(ctx, "any-id", tt.res)
			assert.Error(t, err)
			assert.NotErrorIs(t, err, ErrUnknownRequest)
		})
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := newTestStore(t)
	inst := newPendingInstance(t, s)
	g := NewGateway(s, "ap-team", NewWebhookNotifier(srv.URL, 0))

	req, err := g.RequestReview(context.Background(), inst, "VendorMismatch: no match")
	require.NoError(t, err)

	assert.Equal(t, req.ID, got.RequestID)
	assert.Equal(t, inst.ID, got.InstanceID)
	assert.Equal(t, "INV-77", got.DocNumber)
	assert.Equal(t, "Acme Ltd", got.VendorName)
	assert.NotEmpty(t, got.Exceptions)
}

func TestWebhookNotifierFailureDoesNotBlockRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestStore(t)
	inst := newPendingInstance(t, s)
	g := NewGateway(s, "ap-team", NewWebhookNotifier(srv.URL, 0))

	req, err := g.RequestReview(context.Background(), inst, "summary")
	require.NoError(t, err)

	// The request is durable regardless of the failed notification.
	pending, err := s.PendingReviewForInstance(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, pending.ID)
}
