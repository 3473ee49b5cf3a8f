package model

import "time"

// DocType classifies the source document.
type DocType string

const (
	DocTypeInvoice       DocType = "invoice"
	DocTypeBill          DocType = "bill"
	DocTypeSalesInvoice  DocType = "sales_invoice"
	DocTypeCreditNote    DocType = "credit_note"
	DocTypeReceipt       DocType = "receipt"
	DocTypeQuotation     DocType = "quotation"
	DocTypeSalesOrder    DocType = "SO"
	DocTypePurchaseOrder DocType = "PO"
	DocTypeOther         DocType = "other"
)

// Postable reports whether documents of this type produce ledger entries.
// Quotations and sales orders are informational and are never posted.
func (t DocType) Postable() bool {
	switch t {
	case DocTypeQuotation, DocTypeSalesOrder, DocTypePurchaseOrder:
		return false
	default:
		return true
	}
}

// Document is the immutable ingestion input. PayloadRef points at the stored
// binary (or pre-extracted JSON); the pipeline never re-reads it after
// extraction.
type Document struct {
	ID         string    `json:"id"`
	PayloadRef string    `json:"payload_ref"`
	TypeHint   DocType   `json:"type_hint,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// LineItem is one extracted document line.
type LineItem struct {
	LineNo      int     `json:"line_no"`
	Description string  `json:"description"`
	Qty         float64 `json:"qty"`
	UOM         string  `json:"uom,omitempty"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
	GLHint      string  `json:"gl_hint,omitempty"`
}

// RawFields is the extraction output: field values plus a per-field
// confidence score in [0,1]. Produced once by the extractor, never mutated.
type RawFields struct {
	DocNumber   string     `json:"doc_number"`
	DocType     DocType    `json:"doc_type"`
	VendorName  string     `json:"vendor_name"`
	VendorTaxID string     `json:"vendor_tax_id,omitempty"`
	IssueDate   string     `json:"issue_date"` // YYYY-MM-DD
	DueDate     string     `json:"due_date,omitempty"`
	PaymentTerm string     `json:"payment_term,omitempty"`
	Currency    string     `json:"currency"`
	Subtotal    float64    `json:"subtotal"`
	TaxLabel    string     `json:"tax_label,omitempty"`
	TaxRate     float64    `json:"tax_rate"`
	TaxAmount   float64    `json:"tax_amount"`
	Shipping    float64    `json:"shipping"`
	Total       float64    `json:"total"`
	LineItems   []LineItem `json:"line_items"`

	// Confidence holds per-field extraction confidence keyed by the JSON
	// field name. Fields without an entry fall back to Overall.
	Confidence map[string]float64 `json:"confidence,omitempty"`
	Overall    float64            `json:"overall_confidence"`
}

// FieldConfidence returns the confidence for a named field, falling back to
// the overall extraction confidence when no per-field score was reported.
func (r RawFields) FieldConfidence(field string) float64 {
	if c, ok := r.Confidence[field]; ok {
		return c
	}
	return r.Overall
}
