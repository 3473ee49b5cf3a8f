// Package validate turns extracted fields plus reference data into a
// normalized transaction record and a set of exceptions. Validation is a
// pure function over its inputs: every check runs over the same input and
// the findings are unioned, so a reviewer sees all issues at once rather
// than one at a time.
package validate

import (
	"fmt"
	"time"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/refdata"
)

// Params tunes a single validation pass.
type Params struct {
	// InstanceID identifies the instance being validated so duplicate
	// detection can skip the instance's own prior hash on re-validation.
	InstanceID string

	// ConfidenceThreshold is the minimum per-field extraction confidence.
	ConfidenceThreshold float64

	// FXRateOverride, when set, replaces the reference-rate lookup. Set
	// from a reviewer correction.
	FXRateOverride *float64

	// IgnoreDuplicate suppresses the duplicate check. Set when a reviewer
	// has confirmed the record is not a duplicate.
	IgnoreDuplicate bool
}

// confidenceFields are the extracted fields subject to the confidence gate.
var confidenceFields = []string{
	"doc_number", "vendor_name", "issue_date", "currency",
	"subtotal", "tax_amount", "total", "line_items",
}

// Validate runs all checks over the extracted fields against the reference
// snapshot. It always returns a record, even when exceptions are present;
// the caller routes on the exception set.
func Validate(raw model.RawFields, snap *refdata.Snapshot, p Params) (model.NormalizedRecord, []model.Exception) {
	var excs []model.Exception

	rec := model.NormalizedRecord{
		SourceDocID:   p.InstanceID,
		DocNumber:     raw.DocNumber,
		DocType:       raw.DocType,
		VendorName:    raw.VendorName,
		Currency:      raw.Currency,
		AmountMinor:   model.MinorUnits(raw.Total),
		BaseCurrency:  snap.BaseCurrency,
		TaxMinor:      model.MinorUnits(raw.TaxAmount),
		TaxLabel:      raw.TaxLabel,
		ShippingMinor: model.MinorUnits(raw.Shipping),
	}
	for _, li := range raw.LineItems {
		rec.Lines = append(rec.Lines, model.NormalizedLine{
			LineNo:      li.LineNo,
			Description: li.Description,
			GLAccount:   li.GLHint,
			AmountMinor: model.MinorUnits(li.LineTotal),
		})
	}

	txDate, dateErr := time.Parse("2006-01-02", raw.IssueDate)
	if dateErr == nil {
		rec.TxDate = txDate
	}
	if raw.DueDate != "" {
		if due, err := time.Parse("2006-01-02", raw.DueDate); err == nil {
			rec.DueDate = &due
		}
	}

	// Vendor check.
	vendor := snap.LookupVendor(raw.VendorName, raw.VendorTaxID)
	if vendor != nil {
		rec.VendorID = vendor.ID
		rec.VendorName = vendor.Name
	} else {
		excs = append(excs, model.Exception{
			Kind:     model.ExcVendorMismatch,
			Severity: model.SeverityBlocking,
			Fields:   []string{"vendor_name"},
			Detail:   fmt.Sprintf("no registry match for %q", raw.VendorName),
		})
	}

	// Amount check: recompute from line items when present.
	if len(raw.LineItems) > 0 {
		var lineSum int64
		for _, li := range raw.LineItems {
			lineSum += model.MinorUnits(li.LineTotal)
		}
		tolerance := int64(len(raw.LineItems))
		if tolerance < 1 {
			tolerance = 1
		}
		recomputed := lineSum + rec.TaxMinor + rec.ShippingMinor
		if diff := recomputed - rec.AmountMinor; diff > tolerance || diff < -tolerance {
			excs = append(excs, model.Exception{
				Kind:     model.ExcAmountMismatch,
				Severity: model.SeverityBlocking,
				Fields:   []string{"total", "line_items"},
				Detail: fmt.Sprintf("line items + tax + shipping recompute to %.2f, extracted total is %.2f",
					model.MajorUnits(recomputed), model.MajorUnits(rec.AmountMinor)),
			})
		}
	}

	// Tax check: infer an optional tax, block on a required one that is
	// absent. Inference never fills a jurisdiction-required tax; a human
	// confirms those.
	if rec.TaxMinor == 0 && vendor != nil {
		if rule, ok := snap.TaxRule(vendor.Jurisdiction); ok {
			if rule.Required {
				excs = append(excs, model.Exception{
					Kind:     model.ExcMissingTax,
					Severity: model.SeverityBlocking,
					Fields:   []string{"tax_amount"},
					Detail:   fmt.Sprintf("jurisdiction %s requires %s but no tax was extracted", rule.Jurisdiction, rule.Label),
				})
			} else if rule.Rate > 0 {
				inferred := model.MinorUnits(raw.Subtotal * rule.Rate)
				rec.TaxMinor = inferred
				rec.TaxLabel = rule.Label
				rec.AmountMinor += inferred
				excs = append(excs, model.Exception{
					Kind:     model.ExcMissingTax,
					Severity: model.SeverityAdvisory,
					Fields:   []string{"tax_amount"},
					Detail: fmt.Sprintf("tax inferred at %s rate %.2f%%: %.2f",
						rule.Label, rule.Rate*100, model.MajorUnits(inferred)),
				})
			}
		}
	}

	// FX conversion.
	fxRate := 0.0
	fxOK := false
	switch {
	case p.FXRateOverride != nil:
		fxRate, fxOK = *p.FXRateOverride, true
	case dateErr == nil:
		fxRate, fxOK = snap.FXRate(rec.Currency, rec.TxDate)
	}
	if fxOK {
		rec.FXRate = fxRate
		rec.BaseAmountMinor = model.MinorUnits(model.MajorUnits(rec.AmountMinor) * fxRate)
	} else if rec.Currency != snap.BaseCurrency {
		excs = append(excs, model.Exception{
			Kind:     model.ExcFXUnresolved,
			Severity: model.SeverityBlocking,
			Fields:   []string{"currency", "issue_date"},
			Detail:   fmt.Sprintf("no %s/%s rate on %s", rec.Currency, snap.BaseCurrency, raw.IssueDate),
		})
	}

	// Duplicate detection over the resolved identity.
	if !p.IgnoreDuplicate && vendor != nil && dateErr == nil {
		key := refdata.DuplicateKey(rec.VendorID, rec.AmountMinor, rec.TxDate)
		if owner := snap.SeenHash(key); owner != "" && owner != p.InstanceID {
			rec.DuplicateSuspect = true
			excs = append(excs, model.Exception{
				Kind:     model.ExcDuplicateSuspect,
				Severity: model.SeverityBlocking,
				Fields:   []string{"vendor_name", "total", "issue_date"},
				Detail:   fmt.Sprintf("matches previously processed document %s", owner),
			})
		}
	}

	// Confidence gate, independent of the other checks.
	var lowFields []string
	for _, f := range confidenceFields {
		if raw.FieldConfidence(f) < p.ConfidenceThreshold {
			lowFields = append(lowFields, f)
		}
	}
	if len(lowFields) > 0 {
		excs = append(excs, model.Exception{
			Kind:     model.ExcLowConfidence,
			Severity: model.SeverityBlocking,
			Fields:   lowFields,
			Detail:   fmt.Sprintf("extraction confidence below %.2f for %d field(s)", p.ConfidenceThreshold, len(lowFields)),
		})
	}

	// An unparseable issue date blocks both FX and duplicate checks, so it
	// surfaces through the confidence gate's field list rather than
	// silently passing.
	if dateErr != nil {
		excs = append(excs, model.Exception{
			Kind:     model.ExcLowConfidence,
			Severity: model.SeverityBlocking,
			Fields:   []string{"issue_date"},
			Detail:   fmt.Sprintf("issue date %q is not a valid YYYY-MM-DD date", raw.IssueDate),
		})
	}

	return rec, excs
}
