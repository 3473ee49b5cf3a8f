package refdata

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Seed is the parsed contents of a reference-data seed file.
type Seed struct {
	Vendors  []Vendor  `yaml:"vendors"`
	TaxRules []TaxRule `yaml:"tax_rules"`
	FXRates  []FXRate  `yaml:"-"`
}

type seedFile struct {
	Vendors  []Vendor   `yaml:"vendors"`
	TaxRules []TaxRule  `yaml:"tax_rules"`
	FXRates  []seedRate `yaml:"fx_rates"`
}

type seedRate struct {
	From string  `yaml:"from"`
	To   string  `yaml:"to"`
	Date string  `yaml:"date"` // YYYY-MM-DD
	Rate float64 `yaml:"rate"`
}

// LoadSeed reads a YAML seed file with vendors, tax rules, and FX rates.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: open seed %s", path)
	}
	defer data.Close() //nolint:errcheck
	return ParseSeed(data)
}

// ParseSeed parses YAML seed content from any source, local or fetched.
func ParseSeed(r io.Reader) (*Seed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "refdata: read seed")
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "refdata: parse seed")
	}

	seed := &Seed{Vendors: f.Vendors, TaxRules: f.TaxRules}
	for _, fx := range f.FXRates {
		date, err := time.Parse("2006-01-02", fx.Date)
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: bad fx rate date %q", fx.Date)
		}
		seed.FXRates = append(seed.FXRates, FXRate{From: fx.From, To: fx.To, Date: date, Rate: fx.Rate})
	}
	return seed, nil
}

// ParseFXRatesCSV parses an FX rate file with header date,from,to,rate.
// Bank-provided rate files are delivered in this shape over HTTP or FTP.
func ParseFXRatesCSV(r io.Reader) ([]FXRate, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "refdata: read fx csv header")
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	for _, required := range []string{"date", "from", "to", "rate"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("refdata: fx csv missing column %q", required)
		}
	}

	var rates []FXRate
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "refdata: read fx csv row")
		}
		date, err := time.Parse("2006-01-02", rec[col["date"]])
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: bad fx csv date %q", rec[col["date"]])
		}
		rate, err := strconv.ParseFloat(rec[col["rate"]], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: bad fx csv rate %q", rec[col["rate"]])
		}
		rates = append(rates, FXRate{
			From: rec[col["from"]],
			To:   rec[col["to"]],
			Date: date,
			Rate: rate,
		})
	}
	return rates, nil
}
