package model

import (
	"math"
	"time"
)

// MinorUnits converts a decimal amount to integer minor units (cents) with
// half-away-from-zero rounding. All monetary comparison and posting happens
// in minor units; floats exist only at the extraction boundary.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// MajorUnits converts minor units back to a decimal amount for display.
func MajorUnits(minor int64) float64 {
	return float64(minor) / 100
}

// NormalizedLine is a line item carried into posting, amounts in minor units.
type NormalizedLine struct {
	LineNo      int    `json:"line_no"`
	Description string `json:"description"`
	GLAccount   string `json:"gl_account,omitempty"`
	AmountMinor int64  `json:"amount_minor"`
}

// NormalizedRecord is the canonical transaction shape produced by validation.
// It is mutated only by the validator and by reviewer corrections; every
// other component treats it as read-only.
type NormalizedRecord struct {
	SourceDocID string  `json:"source_doc_id"`
	DocNumber   string  `json:"doc_number"`
	DocType     DocType `json:"doc_type"`

	VendorID   string `json:"vendor_id,omitempty"`
	VendorName string `json:"vendor_name"`

	Currency        string  `json:"currency"`
	AmountMinor     int64   `json:"amount_minor"`
	BaseCurrency    string  `json:"base_currency"`
	BaseAmountMinor int64   `json:"base_amount_minor"`
	FXRate          float64 `json:"fx_rate"`

	TaxMinor      int64  `json:"tax_minor"`
	TaxLabel      string `json:"tax_label,omitempty"`
	ShippingMinor int64  `json:"shipping_minor"`

	TxDate           time.Time        `json:"tx_date"`
	DueDate          *time.Time       `json:"due_date,omitempty"`
	Lines            []NormalizedLine `json:"lines,omitempty"`
	DuplicateSuspect bool             `json:"duplicate_suspect"`
}

// CorrectedFields is a reviewer's partial update to a NormalizedRecord.
// Nil pointers mean "leave as validated".
type CorrectedFields struct {
	VendorID     *string  `json:"vendor_id,omitempty"`
	VendorName   *string  `json:"vendor_name,omitempty"`
	Amount       *float64 `json:"amount,omitempty"`
	TaxAmount    *float64 `json:"tax_amount,omitempty"`
	Currency     *string  `json:"currency,omitempty"`
	FXRate       *float64 `json:"fx_rate,omitempty"`
	TxDate       *string  `json:"tx_date,omitempty"` // YYYY-MM-DD
	NotDuplicate bool     `json:"not_duplicate,omitempty"`
}

// IsZero reports whether the correction changes nothing.
func (c CorrectedFields) IsZero() bool {
	return c.VendorID == nil && c.VendorName == nil && c.Amount == nil &&
		c.TaxAmount == nil && c.Currency == nil && c.FXRate == nil &&
		c.TxDate == nil && !c.NotDuplicate
}

// PostingReceipt is the ledger's acknowledgement of a committed record.
type PostingReceipt struct {
	ID          string    `json:"id"`
	InstanceID  string    `json:"instance_id"`
	LedgerRef   string    `json:"ledger_ref"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	PostedAt    time.Time `json:"posted_at"`
}
