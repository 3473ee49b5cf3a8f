// Package report aggregates posted journal entries into financial
// statements: trial balance, P&L and balance sheet summaries, and monthly
// activity for dashboards.
package report

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/store"
)

// AccountType classifies a GL account for statement placement.
type AccountType string

const (
	TypeAsset     AccountType = "Asset"
	TypeLiability AccountType = "Liability"
	TypeEquity    AccountType = "Equity"
	TypeIncome    AccountType = "Income"
	TypeExpense   AccountType = "Expense"
)

// ClassifyAccount maps an account code to its statement type by leading
// digit: 1 assets, 2 liabilities, 3 equity, 4 income, 5-6 expenses.
func ClassifyAccount(code string) AccountType {
	if code == "" {
		return TypeExpense
	}
	switch code[0] {
	case '1':
		return TypeAsset
	case '2':
		return TypeLiability
	case '3':
		return TypeEquity
	case '4':
		return TypeIncome
	default:
		return TypeExpense
	}
}

// TrialBalanceRow is one account's aggregated ledger activity. Balance is
// signed by convention: debit-normal for assets and expenses, credit-normal
// for liabilities and income.
type TrialBalanceRow struct {
	Account      string
	Type         AccountType
	DebitMinor   int64
	CreditMinor  int64
	BalanceMinor int64
}

// PLSummary is the profit-and-loss rollup over a trial balance.
type PLSummary struct {
	TotalIncomeMinor  int64
	TotalExpenseMinor int64
	NetProfitMinor    int64
}

// BSSummary is the balance-sheet rollup. Equity is derived as A − L, which
// includes retained earnings implicitly.
type BSSummary struct {
	TotalAssetsMinor      int64
	TotalLiabilitiesMinor int64
	EquityMinor           int64
}

// MonthlyActivity is one month of posting volume.
type MonthlyActivity struct {
	Period       string // YYYY-MM
	DebitsMinor  int64
	CreditsMinor int64
	EntryCount   int
}

// Reporter builds statements from the journal.
type Reporter struct {
	store store.Store
}

func NewReporter(st store.Store) *Reporter {
	return &Reporter{store: st}
}

// TrialBalance aggregates journal entries in [from, to) per account.
func (r *Reporter) TrialBalance(ctx context.Context, from, to time.Time) ([]TrialBalanceRow, error) {
	entries, err := r.store.ListJournalEntries(ctx, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "report: trial balance")
	}

	byAccount := make(map[string]*TrialBalanceRow)
	for _, e := range entries {
		row, ok := byAccount[e.Account]
		if !ok {
			row = &TrialBalanceRow{Account: e.Account, Type: ClassifyAccount(e.Account)}
			byAccount[e.Account] = row
		}
		row.DebitMinor += e.DebitMinor
		row.CreditMinor += e.CreditMinor
	}

	rows := make([]TrialBalanceRow, 0, len(byAccount))
	for _, row := range byAccount {
		switch row.Type {
		case TypeLiability, TypeIncome, TypeEquity:
			row.BalanceMinor = row.CreditMinor - row.DebitMinor
		default:
			row.BalanceMinor = row.DebitMinor - row.CreditMinor
		}
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Account < rows[j].Account })
	return rows, nil
}

// ProfitAndLoss rolls income and expense accounts up from a trial balance.
func ProfitAndLoss(tb []TrialBalanceRow) PLSummary {
	var s PLSummary
	for _, row := range tb {
		switch row.Type {
		case TypeIncome:
			s.TotalIncomeMinor += row.BalanceMinor
		case TypeExpense:
			s.TotalExpenseMinor += row.BalanceMinor
		}
	}
	s.NetProfitMinor = s.TotalIncomeMinor - s.TotalExpenseMinor
	return s
}

// BalanceSheet rolls asset, liability and equity accounts up from a trial
// balance.
func BalanceSheet(tb []TrialBalanceRow) BSSummary {
	var s BSSummary
	for _, row := range tb {
		switch row.Type {
		case TypeAsset:
			s.TotalAssetsMinor += row.BalanceMinor
		case TypeLiability:
			s.TotalLiabilitiesMinor += row.BalanceMinor
		}
	}
	s.EquityMinor = s.TotalAssetsMinor - s.TotalLiabilitiesMinor
	return s
}

// Activity summarizes posting volume per calendar month.
func (r *Reporter) Activity(ctx context.Context, from, to time.Time) ([]MonthlyActivity, error) {
	entries, err := r.store.ListJournalEntries(ctx, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "report: monthly activity")
	}

	byPeriod := make(map[string]*MonthlyActivity)
	for _, e := range entries {
		period := e.Date.Format("2006-01")
		m, ok := byPeriod[period]
		if !ok {
			m = &MonthlyActivity{Period: period}
			byPeriod[period] = m
		}
		m.DebitsMinor += e.DebitMinor
		m.CreditsMinor += e.CreditMinor
		m.EntryCount++
	}

	months := make([]MonthlyActivity, 0, len(byPeriod))
	for _, m := range byPeriod {
		months = append(months, *m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Period < months[j].Period })
	return months, nil
}

// AgedItem is an open subledger item with its days outstanding.
type AgedItem struct {
	Item    model.OpenItem
	DaysDue int // negative while not yet due
}

// Aging lists open payables or receivables with days past due as of asOf.
func (r *Reporter) Aging(ctx context.Context, side model.OpenItemSide, asOf time.Time) ([]AgedItem, error) {
	items, err := r.store.ListOpenItems(ctx, side,
		[]model.OpenItemStatus{model.OpenItemOutstanding, model.OpenItemPartialPaid})
	if err != nil {
		return nil, eris.Wrap(err, "report: aging")
	}

	out := make([]AgedItem, 0, len(items))
	for _, item := range items {
		aged := AgedItem{Item: item}
		if item.DueDate != nil {
			aged.DaysDue = int(asOf.Sub(*item.DueDate).Hours() / 24)
		}
		out = append(out, aged)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DaysDue > out[j].DaysDue })
	return out, nil
}
