package refdata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
vendors:
  - id: V-001
    name: Acme Ltd
    tax_id: MY-123
    jurisdiction: MY
    email: ap@acme.example
tax_rules:
  - jurisdiction: MY
    label: SST
    rate: 0.08
    required: true
fx_rates:
  - from: USD
    to: MYR
    date: "2025-10-01"
    rate: 4.30
`

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))

	seed, err := LoadSeed(path)
	require.NoError(t, err)

	require.Len(t, seed.Vendors, 1)
	assert.Equal(t, "V-001", seed.Vendors[0].ID)
	assert.Equal(t, "MY", seed.Vendors[0].Jurisdiction)

	require.Len(t, seed.TaxRules, 1)
	assert.True(t, seed.TaxRules[0].Required)
	assert.Equal(t, 0.08, seed.TaxRules[0].Rate)

	require.Len(t, seed.FXRates, 1)
	assert.Equal(t, "USD", seed.FXRates[0].From)
	assert.Equal(t, 4.30, seed.FXRates[0].Rate)
	assert.Equal(t, "2025-10-01", seed.FXRates[0].Date.Format("2006-01-02"))
}

func TestLoadSeed_BadDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	bad := strings.Replace(seedYAML, `"2025-10-01"`, `"01/10/2025"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	_, err := LoadSeed(path)
	assert.Error(t, err)
}

func TestParseFXRatesCSV(t *testing.T) {
	csvData := "date,from,to,rate\n2025-10-01,USD,MYR,4.30\n2025-10-02,IDR,MYR,0.00028\n"
	rates, err := ParseFXRatesCSV(strings.NewReader(csvData))
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, "IDR", rates[1].From)
	assert.Equal(t, 0.00028, rates[1].Rate)
}

func TestParseFXRatesCSV_MissingColumn(t *testing.T) {
	_, err := ParseFXRatesCSV(strings.NewReader("date,from,to\n2025-10-01,USD,MYR\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate")
}
