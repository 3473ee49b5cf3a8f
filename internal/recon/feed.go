package recon

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fairledger/ledger-cli/internal/model"
)

// BankTransaction is one row of an inbound bank statement feed. Amount is
// signed in base-currency minor units: negative for outgoing payments,
// positive for collections.
type BankTransaction struct {
	Date           time.Time
	AmountMinor    int64
	Memo           string
	GuessDocNumber string
}

// ParseBankFeed reads a bank statement CSV with columns date, amount, memo
// and guess_doc_number. Rows with an unparseable date or amount are logged
// and dropped rather than failing the whole feed.
func ParseBankFeed(r io.Reader) ([]BankTransaction, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "recon: read bank feed header")
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"date", "amount"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("recon: bank feed missing %q column", required)
		}
	}

	var txns []BankTransaction
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "recon: read bank feed line %d", line)
		}

		date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[col["date"]]))
		if err != nil {
			zap.L().Warn("recon: skipping bank feed row with bad date",
				zap.Int("line", line), zap.String("date", rec[col["date"]]))
			continue
		}
		amount, err := strconv.ParseFloat(strings.TrimSpace(rec[col["amount"]]), 64)
		if err != nil {
			zap.L().Warn("recon: skipping bank feed row with bad amount",
				zap.Int("line", line), zap.String("amount", rec[col["amount"]]))
			continue
		}

		txn := BankTransaction{Date: date, AmountMinor: model.MinorUnits(amount)}
		if i, ok := col["memo"]; ok && i < len(rec) {
			txn.Memo = strings.TrimSpace(rec[i])
		}
		if i, ok := col["guess_doc_number"]; ok && i < len(rec) {
			txn.GuessDocNumber = strings.TrimSpace(rec[i])
		}
		txns = append(txns, txn)
	}
	return txns, nil
}
