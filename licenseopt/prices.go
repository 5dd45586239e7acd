package licenseopt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_prices.yaml
var defaultPrices []byte

// PriceTable returns the monthly unit price of a SKU.
type PriceTable interface {
	Lookup(sku string) (float64, bool)
}

// StaticPrices is a price table keyed by SKU part number, case-insensitive.
type StaticPrices struct {
	Currency string             `yaml:"currency"`
	Prices   map[string]float64 `yaml:"prices"`
}

var _ PriceTable = (*StaticPrices)(nil)

func (p *StaticPrices) Lookup(sku string) (float64, bool) {
	price, ok := p.Prices[strings.ToUpper(sku)]
	return price, ok
}

// ParsePrices decodes a YAML price table.
func ParsePrices(data []byte) (*StaticPrices, error) {
	var p StaticPrices
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("[licenseopt ParsePrices] invalid price table: %w", err)
	}
	normalized := make(map[string]float64, len(p.Prices))
	for sku, price := range p.Prices {
		if price < 0 {
			return nil, fmt.Errorf("[licenseopt ParsePrices] negative price for %s", sku)
		}
		normalized[strings.ToUpper(sku)] = price
	}
	p.Prices = normalized
	if p.Currency == "" {
		p.Currency = "USD"
	}
	return &p, nil
}

// DefaultPrices is the built-in list price table.
func DefaultPrices() *StaticPrices {
	p, err := ParsePrices(defaultPrices)
	if err != nil {
		panic(err)
	}
	return p
}

// LoadPrices reads a YAML price table from path, or returns the defaults when path is empty.
// Entries in the file override the defaults.
func LoadPrices(path string) (*StaticPrices, error) {
	prices := DefaultPrices()
	if path == "" {
		return prices, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[licenseopt LoadPrices] failed to read %s: %w", path, err)
	}
	custom, err := ParsePrices(data)
	if err != nil {
		return nil, err
	}
	for sku, price := range custom.Prices {
		prices.Prices[sku] = price
	}
	if custom.Currency != "" {
		prices.Currency = custom.Currency
	}
	return prices, nil
}
