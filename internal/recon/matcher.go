package recon

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/fairledger/ledger-cli/internal/extract"
	"github.com/fairledger/ledger-cli/internal/model"
)

const matcherModel = "claude-haiku-4-5-20251001"

const matcherSystemPrompt = `You reconcile bank statement lines against open accounting
documents. Given one bank transaction and a list of outstanding documents, respond with
the single best matching doc number and nothing else. If no document is a good match
(for example the amount differs by more than 1%), respond with exactly UNMATCHED.`

// Matcher suggests an open-item doc number for a bank transaction the
// direct lookup could not place. An empty result means no match.
type Matcher interface {
	SuggestMatch(ctx context.Context, txn BankTransaction, candidates []model.OpenItem) (string, error)
}

// AnthropicMatcher asks Claude to pick among outstanding items using the
// transaction memo and amount.
type AnthropicMatcher struct {
	client  extract.MessageClient
	modelID string
}

func NewAnthropicMatcher(client extract.MessageClient, modelID string) *AnthropicMatcher {
	if modelID == "" {
		modelID = matcherModel
	}
	return &AnthropicMatcher{client: client, modelID: modelID}
}

func (m *AnthropicMatcher) SuggestMatch(ctx context.Context, txn BankTransaction, candidates []model.OpenItem) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Bank transaction: date=%s amount=%.2f memo=%q\n",
		txn.Date.Format("2006-01-02"), model.MajorUnits(txn.AmountMinor), txn.Memo)
	b.WriteString("Outstanding documents:\n")
	for _, item := range candidates {
		fmt.Fprintf(&b, "- doc_number=%s amount_due=%.2f", item.DocNumber, model.MajorUnits(item.AmountDueMinor))
		if item.DueDate != nil {
			fmt.Fprintf(&b, " due_date=%s", item.DueDate.Format("2006-01-02"))
		}
		b.WriteByte('\n')
	}

	msg, err := m.client.CreateMessage(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(m.modelID),
		MaxTokens: 64,
		System: []sdk.TextBlockParam{
			{Text: matcherSystemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		// Matching is best effort; a failed call just leaves the line
		// unmatched for manual review.
		zap.L().Warn("recon: match suggestion failed", zap.Error(err))
		return "", nil
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	answer := strings.TrimSpace(out.String())
	if answer == "" || answer == "UNMATCHED" || answer == "NONE" {
		return "", nil
	}
	// Only accept answers that name a candidate; the model occasionally
	// pads its reply with prose.
	for _, item := range candidates {
		if strings.Contains(answer, item.DocNumber) {
			return item.DocNumber, nil
		}
	}
	return "", nil
}
