package model

import "time"

// JournalEntry is one double-entry line produced by posting or
// reconciliation. Debit/credit amounts are in base-currency minor units;
// SrcAmountMinor preserves the document-currency amount for audit.
type JournalEntry struct {
	ID             string    `json:"id"`
	InstanceID     string    `json:"instance_id"`
	Date           time.Time `json:"date"`
	LineNo         int       `json:"line_no"`
	Account        string    `json:"account"`
	DebitMinor     int64     `json:"debit_minor"`
	CreditMinor    int64     `json:"credit_minor"`
	Memo           string    `json:"memo,omitempty"`
	FXRate         float64   `json:"fx_rate"`
	SrcAmountMinor int64     `json:"src_amount_minor"`
}

// OpenItemSide distinguishes payables from receivables.
type OpenItemSide string

const (
	SidePayable    OpenItemSide = "payable"
	SideReceivable OpenItemSide = "receivable"
)

// OpenItemStatus tracks settlement of a subledger item.
type OpenItemStatus string

const (
	OpenItemOutstanding OpenItemStatus = "outstanding"
	OpenItemPartialPaid OpenItemStatus = "partial_paid"
	OpenItemPaid        OpenItemStatus = "paid"
	OpenItemApplied     OpenItemStatus = "cleared_applied"
)

// OpenItem is one AP/AR subledger row created at posting time and settled
// by reconciliation. Amounts are base-currency minor units.
type OpenItem struct {
	InstanceID     string         `json:"instance_id"`
	DocNumber      string         `json:"doc_number"`
	CounterpartyID string         `json:"counterparty_id"`
	Side           OpenItemSide   `json:"side"`
	TotalMinor     int64          `json:"total_minor"`
	AmountDueMinor int64          `json:"amount_due_minor"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	Status         OpenItemStatus `json:"status"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
