package model

import (
	"sort"
	"strings"
)

// ExceptionKind tags a validation finding.
type ExceptionKind string

const (
	ExcVendorMismatch   ExceptionKind = "VendorMismatch"
	ExcAmountMismatch   ExceptionKind = "AmountMismatch"
	ExcMissingTax       ExceptionKind = "MissingTax"
	ExcDuplicateSuspect ExceptionKind = "DuplicateSuspect"
	ExcFXUnresolved     ExceptionKind = "FXUnresolved"
	ExcLowConfidence    ExceptionKind = "LowConfidence"
)

// Severity determines whether an exception blocks auto-posting.
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityAdvisory Severity = "advisory"
)

// Exception is one validation finding. Exceptions are data, not control
// flow: the validator unions every check's findings so a reviewer sees all
// issues at once.
type Exception struct {
	Kind     ExceptionKind `json:"kind"`
	Severity Severity      `json:"severity"`
	Fields   []string      `json:"fields,omitempty"`
	Detail   string        `json:"detail"`
}

// Blocking reports whether this exception prevents auto-posting.
func (e Exception) Blocking() bool {
	return e.Severity == SeverityBlocking
}

// HasBlocking reports whether any exception in the list is blocking.
func HasBlocking(excs []Exception) bool {
	for _, e := range excs {
		if e.Blocking() {
			return true
		}
	}
	return false
}

// BlockingSummary renders a deduplicated, human-readable summary of all
// blocking reasons, one line per distinct kind, in stable order.
func BlockingSummary(excs []Exception) string {
	byKind := make(map[ExceptionKind][]string)
	var order []ExceptionKind
	for _, e := range excs {
		if !e.Blocking() {
			continue
		}
		if _, seen := byKind[e.Kind]; !seen {
			order = append(order, e.Kind)
		}
		byKind[e.Kind] = append(byKind[e.Kind], e.Detail)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var b strings.Builder
	for i, kind := range order {
		if i > 0 {
			b.WriteString("\n")
		}
		details := dedupe(byKind[kind])
		b.WriteString(string(kind))
		b.WriteString(": ")
		b.WriteString(strings.Join(details, "; "))
	}
	return b.String()
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
