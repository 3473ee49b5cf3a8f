package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/fairledger/ledger-cli/internal/model"
)

func minor(v int64) string {
	return strconv.FormatFloat(model.MajorUnits(v), 'f', 2, 64)
}

// WriteTrialBalanceCSV writes a trial balance in the statement CSV layout.
func WriteTrialBalanceCSV(w io.Writer, tb []TrialBalanceRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Account", "Type", "Total Debit (Base)", "Total Credit (Base)", "Balance (Base)"}); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, row := range tb {
		rec := []string{row.Account, string(row.Type), minor(row.DebitMinor), minor(row.CreditMinor), minor(row.BalanceMinor)}
		if err := cw.Write(rec); err != nil {
			return eris.Wrapf(err, "report: write csv row for %s", row.Account)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// WriteSummariesCSV writes the P&L and balance sheet rollups as metric rows.
func WriteSummariesCSV(w io.Writer, pl PLSummary, bs BSSummary) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"Metric", "Amount"},
		{"Total Income", minor(pl.TotalIncomeMinor)},
		{"Total Expense", minor(pl.TotalExpenseMinor)},
		{"Net Profit (Pre-Tax)", minor(pl.NetProfitMinor)},
		{"Total Assets", minor(bs.TotalAssetsMinor)},
		{"Total Liabilities", minor(bs.TotalLiabilitiesMinor)},
		{"Calculated Equity (A-L)", minor(bs.EquityMinor)},
	}
	for _, rec := range rows {
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "report: write summary csv")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// WriteWorkbook writes the full statement pack — trial balance, summaries
// and monthly activity — as one XLSX workbook.
func WriteWorkbook(path string, tb []TrialBalanceRow, pl PLSummary, bs BSSummary, activity []MonthlyActivity) error {
	f := xlsx.NewFile()

	tbSheet, err := f.AddSheet("Trial Balance")
	if err != nil {
		return eris.Wrap(err, "report: add trial balance sheet")
	}
	header := tbSheet.AddRow()
	for _, h := range []string{"Account", "Type", "Total Debit (Base)", "Total Credit (Base)", "Balance (Base)"} {
		header.AddCell().SetString(h)
	}
	for _, row := range tb {
		r := tbSheet.AddRow()
		r.AddCell().SetString(row.Account)
		r.AddCell().SetString(string(row.Type))
		r.AddCell().SetFloat(model.MajorUnits(row.DebitMinor))
		r.AddCell().SetFloat(model.MajorUnits(row.CreditMinor))
		r.AddCell().SetFloat(model.MajorUnits(row.BalanceMinor))
	}

	sumSheet, err := f.AddSheet("Summaries")
	if err != nil {
		return eris.Wrap(err, "report: add summaries sheet")
	}
	writeMetric := func(name string, v int64) {
		r := sumSheet.AddRow()
		r.AddCell().SetString(name)
		r.AddCell().SetFloat(model.MajorUnits(v))
	}
	writeMetric("Total Income", pl.TotalIncomeMinor)
	writeMetric("Total Expense", pl.TotalExpenseMinor)
	writeMetric("Net Profit (Pre-Tax)", pl.NetProfitMinor)
	writeMetric("Total Assets", bs.TotalAssetsMinor)
	writeMetric("Total Liabilities", bs.TotalLiabilitiesMinor)
	writeMetric("Calculated Equity (A-L)", bs.EquityMinor)

	actSheet, err := f.AddSheet("Monthly Activity")
	if err != nil {
		return eris.Wrap(err, "report: add activity sheet")
	}
	actHeader := actSheet.AddRow()
	for _, h := range []string{"Period", "Total Debits", "Total Credits", "Entries"} {
		actHeader.AddCell().SetString(h)
	}
	for _, m := range activity {
		r := actSheet.AddRow()
		r.AddCell().SetString(m.Period)
		r.AddCell().SetFloat(model.MajorUnits(m.DebitsMinor))
		r.AddCell().SetFloat(model.MajorUnits(m.CreditsMinor))
		r.AddCell().SetInt(m.EntryCount)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, fmt.Sprintf("report: save workbook %s", path))
	}
	return nil
}
