// Package locations loads the static district/tahsil/village hierarchy used
// to populate and validate the portal's cascading search form.
package locations

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Provider serves read-only lookups over the location hierarchy. The data is
// loaded once at startup; lookups return copies so callers cannot mutate it.
type Provider struct {
	data map[string]map[string][]string
}

// Load reads the hierarchy from a JSON file shaped as
// {district: {tahsil: [village, ...]}}.
func Load(path string) (*Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locations file: %w", err)
	}
	var data map[string]map[string][]string
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse locations file: %w", err)
	}
	return &Provider{data: data}, nil
}

// New builds a provider from an in-memory hierarchy.
func New(data map[string]map[string][]string) *Provider {
	return &Provider{data: data}
}

// Districts returns all district names, sorted.
func (p *Provider) Districts() []string {
	out := make([]string, 0, len(p.data))
	for d := range p.data {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Tahsils returns the tahsils of a district, sorted. Unknown districts yield
// an empty slice.
func (p *Provider) Tahsils(district string) []string {
	tahsils, ok := p.data[district]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(tahsils))
	for t := range tahsils {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Villages returns the villages of a tahsil within a district.
func (p *Provider) Villages(district, tahsil string) []string {
	tahsils, ok := p.data[district]
	if !ok {
		return nil
	}
	villages := tahsils[tahsil]
	out := make([]string, len(villages))
	copy(out, villages)
	return out
}
