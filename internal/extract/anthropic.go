package extract

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/resilience"
)

const defaultModel = "claude-haiku-4-5-20251001"

const extractionSystemPrompt = `You extract structured fields from financial documents
(invoices, bills, credit notes, receipts, quotations, orders). Respond with a single JSON
object and nothing else, using these keys: doc_number, doc_type (one of invoice, bill,
sales_invoice, credit_note, receipt, quotation, SO, PO, other), vendor_name, vendor_tax_id,
issue_date (YYYY-MM-DD), due_date, payment_term, currency (ISO 4217), subtotal, tax_label,
tax_rate, tax_amount, shipping, total, line_items (array of {line_no, description, qty, uom,
unit_price, line_total, gl_hint}), confidence (object mapping field names to scores in [0,1]),
and overall_confidence. Report low confidence rather than guessing.`

// MessageClient is the one Anthropic API call the extractor needs.
type MessageClient interface {
	CreateMessage(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error)
}

type sdkMessageClient struct {
	client sdk.Client
}

// NewMessageClient creates an Anthropic SDK client.
func NewMessageClient(apiKey string) MessageClient {
	return &sdkMessageClient{client: sdk.NewClient(option.WithAPIKey(apiKey))}
}

func (c *sdkMessageClient) CreateMessage(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}
	return msg, nil
}

// AnthropicExtractor extracts fields from document text with Claude.
type AnthropicExtractor struct {
	client    MessageClient
	model     string
	maxTokens int64
	baseDir   string
}

// NewAnthropicExtractor creates an LLM-backed extractor. modelID defaults
// to a small fast model when empty.
func NewAnthropicExtractor(client MessageClient, modelID, baseDir string) *AnthropicExtractor {
	if modelID == "" {
		modelID = defaultModel
	}
	return &AnthropicExtractor{client: client, model: modelID, maxTokens: 4096, baseDir: baseDir}
}

func (e *AnthropicExtractor) Extract(ctx context.Context, doc model.Document) (*model.RawFields, error) {
	path := doc.PayloadRef
	if !filepath.IsAbs(path) && e.baseDir != "" {
		path = filepath.Join(e.baseDir, path)
	}
	text, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrUnreadable, "extract: payload %s missing", doc.PayloadRef)
		}
		return nil, eris.Wrapf(err, "extract: read %s", doc.PayloadRef)
	}

	msg, err := e.client.CreateMessage(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(e.model),
		MaxTokens: e.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: extractionSystemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(string(text))),
		},
	})
	if err != nil {
		// API errors are connectivity or throttling problems until proven
		// otherwise; let the engine's retry policy decide.
		return nil, resilience.Transient(err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	raw, err := parseExtraction(out.String())
	if err != nil {
		return nil, eris.Wrapf(ErrUnreadable, "extract: %s: %v", doc.PayloadRef, err)
	}
	if raw.DocType == "" {
		raw.DocType = doc.TypeHint
	}

	zap.L().Debug("extract: fields extracted",
		zap.String("doc_id", doc.ID),
		zap.String("model", e.model),
		zap.String("doc_number", raw.DocNumber),
		zap.Float64("overall_confidence", raw.Overall),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)
	return raw, nil
}

// parseExtraction tolerates prose or fencing around the JSON object the
// model was asked for.
func parseExtraction(s string) (*model.RawFields, error) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, eris.New("no JSON object in response")
	}

	var raw model.RawFields
	if err := json.Unmarshal([]byte(s[start:end+1]), &raw); err != nil {
		return nil, eris.Wrap(err, "parse extraction JSON")
	}
	return &raw, nil
}
