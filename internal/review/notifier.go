package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/store"
)

// Notifier pushes a newly raised review request to wherever reviewers live.
// Notification is best-effort: the durable request record is the source of
// truth, not the notification.
type Notifier interface {
	Notify(ctx context.Context, req *store.ReviewRequest, inst *model.WorkflowInstance) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *store.ReviewRequest, *model.WorkflowInstance) error {
	return nil
}

// MultiNotifier fans a notification out to several targets. All targets are
// attempted; the first error is returned.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, req *store.ReviewRequest, inst *model.WorkflowInstance) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, req, inst); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var webhookClient = &http.Client{Timeout: 10 * time.Second}

// WebhookNotifier POSTs a JSON payload describing the review request to a
// configured endpoint, typically a review desk app.
type WebhookNotifier struct {
	url     string
	limiter *rate.Limiter
	client  *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier throttled to rps requests
// per second. rps <= 0 disables throttling.
func NewWebhookNotifier(url string, rps float64) *WebhookNotifier {
	n := &WebhookNotifier{url: url, client: webhookClient}
	if rps > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
	return n
}

type webhookPayload struct {
	RequestID   string          `json:"request_id"`
	InstanceID  string          `json:"instance_id"`
	Reviewer    string          `json:"reviewer"`
	Summary     string          `json:"summary"`
	DocNumber   string          `json:"doc_number,omitempty"`
	VendorName  string          `json:"vendor_name,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
	Exceptions  json.RawMessage `json:"exceptions,omitempty"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, req *store.ReviewRequest, inst *model.WorkflowInstance) error {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "review: webhook rate limit")
		}
	}

	payload := webhookPayload{
		RequestID:   req.ID,
		InstanceID:  req.InstanceID,
		Reviewer:    req.Reviewer,
		Summary:     req.Summary,
		RequestedAt: req.RequestedAt,
	}
	if inst.Raw != nil {
		payload.DocNumber = inst.Raw.DocNumber
		payload.VendorName = inst.Raw.VendorName
	}
	if len(inst.Exceptions) > 0 {
		if b, err := json.Marshal(inst.Exceptions); err == nil {
			payload.Exceptions = b
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "review: marshal webhook payload")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "review: create webhook request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return eris.Wrap(err, "review: webhook request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("review: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NotionClient is the subset of the Notion API the queue notifier uses.
type NotionClient interface {
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// notionClient wraps *notionapi.Client with Notion's 3 req/s rate limit.
type notionClient struct {
	inner   *notionapi.Client
	limiter *rate.Limiter
}

// NewNotionClient creates a rate-limited Notion API client.
func NewNotionClient(token string) NotionClient {
	return &notionClient{
		inner:   notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(3, 1),
	}
}

func (c *notionClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "notion: rate limit")
	}
	page, err := c.inner.Page.Create(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "notion: create page")
	}
	return page, nil
}

// NotionNotifier appends each review request as a row in a Notion review
// queue database.
type NotionNotifier struct {
	client NotionClient
	dbID   string
}

func NewNotionNotifier(client NotionClient, dbID string) *NotionNotifier {
	return &NotionNotifier{client: client, dbID: dbID}
}

func (n *NotionNotifier) Notify(ctx context.Context, req *store.ReviewRequest, inst *model.WorkflowInstance) error {
	title := req.InstanceID
	if inst.Raw != nil && inst.Raw.DocNumber != "" {
		title = fmt.Sprintf("%s (%s)", inst.Raw.DocNumber, req.InstanceID)
	}

	requestedAt := notionapi.Date(req.RequestedAt)
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: []notionapi.RichText{{Text: &notionapi.Text{Content: title}}},
		},
		"Request ID": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: req.ID}}},
		},
		"Summary": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: req.Summary}}},
		},
		"Status": notionapi.StatusProperty{
			Status: notionapi.Status{Name: "Pending"},
		},
		"Requested": notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &requestedAt},
		},
	}
	if inst.Raw != nil && inst.Raw.VendorName != "" {
		props["Vendor"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: inst.Raw.VendorName}}},
		}
	}

	_, err := n.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(n.dbID),
		},
		Properties: props,
	})
	return eris.Wrapf(err, "review: notion queue page for %s", req.ID)
}
