// Package refdata holds the read-mostly reference data consulted during
// validation: the vendor registry, jurisdiction tax rules, FX rates, and the
// duplicate-detection window. Validation always works from an immutable
// Snapshot taken at validation start, so concurrent reference-data updates
// never change the outcome of an in-flight validation.
package refdata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// Vendor is one registry entry.
type Vendor struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	TaxID        string `json:"tax_id,omitempty" yaml:"tax_id"`
	Jurisdiction string `json:"jurisdiction,omitempty" yaml:"jurisdiction"`
	Email        string `json:"email,omitempty" yaml:"email"`
}

// TaxRule describes a jurisdiction's tax regime.
type TaxRule struct {
	Jurisdiction string  `json:"jurisdiction" yaml:"jurisdiction"`
	Label        string  `json:"label" yaml:"label"` // SST, VAT, GST
	Rate         float64 `json:"rate" yaml:"rate"`
	Required     bool    `json:"required" yaml:"required"`
}

// FXRate is one reference rate, valid from Date until superseded.
type FXRate struct {
	From string    `json:"from" yaml:"from"`
	To   string    `json:"to" yaml:"to"`
	Date time.Time `json:"date" yaml:"date"`
	Rate float64   `json:"rate" yaml:"rate"`
}

// Reader is the minimal read surface a Snapshot is built from. The store
// package implements it.
type Reader interface {
	ListVendors(ctx context.Context) ([]Vendor, error)
	ListTaxRules(ctx context.Context) ([]TaxRule, error)
	ListFXRates(ctx context.Context) ([]FXRate, error)
	RecentHashes(ctx context.Context, since time.Time) (map[string]string, error)
}

// Source produces validation snapshots.
type Source struct {
	reader       Reader
	baseCurrency string
	dupWindow    time.Duration
}

// NewSource creates a snapshot source over the given reader. dupWindow
// bounds the duplicate-detection lookback.
func NewSource(reader Reader, baseCurrency string, dupWindow time.Duration) *Source {
	return &Source{reader: reader, baseCurrency: baseCurrency, dupWindow: dupWindow}
}

// Snapshot reads all reference data at once and returns an immutable view.
func (s *Source) Snapshot(ctx context.Context) (*Snapshot, error) {
	vendors, err := s.reader.ListVendors(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := s.reader.ListTaxRules(ctx)
	if err != nil {
		return nil, err
	}
	rates, err := s.reader.ListFXRates(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	hashes, err := s.reader.RecentHashes(ctx, now.Add(-s.dupWindow))
	if err != nil {
		return nil, err
	}
	return NewSnapshot(s.baseCurrency, vendors, rules, rates, hashes), nil
}

// Snapshot is an immutable point-in-time view of all reference data.
type Snapshot struct {
	BaseCurrency string
	TakenAt      time.Time

	byName  map[string]*Vendor
	byTaxID map[string]*Vendor
	rules   map[string]TaxRule
	rates   map[string][]FXRate // keyed FROM/TO, sorted by date ascending
	hashes  map[string]string   // duplicate hash -> owning instance id
}

// NewSnapshot indexes the given reference data. hashes maps duplicate keys
// to the instance that produced them.
func NewSnapshot(baseCurrency string, vendors []Vendor, rules []TaxRule, rates []FXRate, hashes map[string]string) *Snapshot {
	snap := &Snapshot{
		BaseCurrency: baseCurrency,
		TakenAt:      time.Now().UTC(),
		byName:       make(map[string]*Vendor, len(vendors)),
		byTaxID:      make(map[string]*Vendor),
		rules:        make(map[string]TaxRule, len(rules)),
		rates:        make(map[string][]FXRate),
		hashes:       hashes,
	}
	if snap.hashes == nil {
		snap.hashes = map[string]string{}
	}
	for i := range vendors {
		v := &vendors[i]
		snap.byName[NormalizeName(v.Name)] = v
		if v.TaxID != "" {
			snap.byTaxID[v.TaxID] = v
		}
	}
	for _, r := range rules {
		snap.rules[r.Jurisdiction] = r
	}
	for _, r := range rates {
		key := r.From + "/" + r.To
		snap.rates[key] = append(snap.rates[key], r)
	}
	for key := range snap.rates {
		rs := snap.rates[key]
		sort.Slice(rs, func(i, j int) bool { return rs[i].Date.Before(rs[j].Date) })
	}
	return snap
}

// LookupVendor resolves an extracted vendor by tax id first, then by
// normalized name. Returns nil when neither matches.
func (s *Snapshot) LookupVendor(name, taxID string) *Vendor {
	if taxID != "" {
		if v, ok := s.byTaxID[taxID]; ok {
			return v
		}
	}
	if v, ok := s.byName[NormalizeName(name)]; ok {
		return v
	}
	return nil
}

// TaxRule returns the rule for a jurisdiction, if configured.
func (s *Snapshot) TaxRule(jurisdiction string) (TaxRule, bool) {
	r, ok := s.rules[jurisdiction]
	return r, ok
}

// FXRate returns the latest rate for from->BaseCurrency effective on or
// before date.
func (s *Snapshot) FXRate(from string, date time.Time) (float64, bool) {
	if from == s.BaseCurrency {
		return 1.0, true
	}
	rs := s.rates[from+"/"+s.BaseCurrency]
	for i := len(rs) - 1; i >= 0; i-- {
		if !rs[i].Date.After(date) {
			return rs[i].Rate, true
		}
	}
	return 0, false
}

// SeenHash returns the instance id that produced the given duplicate key
// within the window, or "" when unseen.
func (s *Snapshot) SeenHash(key string) string {
	return s.hashes[key]
}

// DuplicateKey derives the duplicate-detection hash over the identity of a
// transaction: resolved vendor, amount in minor units, transaction date.
func DuplicateKey(vendorID string, amountMinor int64, date time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", vendorID, amountMinor, date.Format("2006-01-02"))))
	return hex.EncodeToString(sum[:])
}
