// Package trust assigns static reliability weights to evidence sources by
// domain. The table is injected configuration, not a process-wide constant,
// so deployments can tune it and tests can isolate it.
package trust

import (
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tier weights. Domains absent from the table get DefaultWeight — low trust,
// never zero, so unknown sources still count against confidence rather than
// being silently discarded.
const (
	WeightOfficial   = 1.0  // government / manufacturer-official
	WeightAggregator = 0.85 // major specification aggregators
	WeightRetailer   = 0.7  // parts retailers
	WeightCommunity  = 0.4  // forums / social
	DefaultWeight    = 0.4
)

// Table maps registrable domains to trust weights in [0,1].
type Table struct {
	weights map[string]float64
}

// NewTable builds a table from an explicit domain→weight map.
func NewTable(weights map[string]float64) *Table {
	m := make(map[string]float64, len(weights))
	for d, w := range weights {
		m[normalizeDomain(d)] = w
	}
	return &Table{weights: m}
}

// DefaultTable returns the compiled-in table covering the common vehicle
// specification sources.
func DefaultTable() *Table {
	return NewTable(map[string]float64{
		// Government and manufacturer-official.
		"nhtsa.gov":     WeightOfficial,
		"epa.gov":       WeightOfficial,
		"fueleconomy.gov": WeightOfficial,
		"toyota.com":    WeightOfficial,
		"honda.com":     WeightOfficial,
		"ford.com":      WeightOfficial,
		"chevrolet.com": WeightOfficial,
		"nissanusa.com": WeightOfficial,
		"hyundaiusa.com": WeightOfficial,
		"bmwusa.com":    WeightOfficial,
		"mbusa.com":     WeightOfficial,

		// Specification aggregators.
		"edmunds.com":       WeightAggregator,
		"kbb.com":           WeightAggregator,
		"caranddriver.com":  WeightAggregator,
		"motortrend.com":    WeightAggregator,
		"cars.com":          WeightAggregator,
		"autoblog.com":      WeightAggregator,
		"carspecs.us":       WeightAggregator,
		"automobile-catalog.com": WeightAggregator,

		// Parts retailers.
		"rockauto.com":   WeightRetailer,
		"autozone.com":   WeightRetailer,
		"oreillyauto.com": WeightRetailer,
		"summitracing.com": WeightRetailer,
		"carparts.com":   WeightRetailer,

		// Forums and social.
		"reddit.com":        WeightCommunity,
		"quora.com":         WeightCommunity,
		"civicforums.com":   WeightCommunity,
		"f150forum.com":     WeightCommunity,
		"tacomaworld.com":   WeightCommunity,
	})
}

// LoadTable reads a domain→weight map from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "trust: read table %s", path)
	}
	var weights map[string]float64
	if err := yaml.Unmarshal(data, &weights); err != nil {
		return nil, eris.Wrapf(err, "trust: parse table %s", path)
	}
	for d, w := range weights {
		if w < 0 || w > 1 {
			return nil, eris.Errorf("trust: weight %g for %s out of [0,1]", w, d)
		}
	}
	return NewTable(weights), nil
}

// Weight returns the trust weight for a URL's domain. Subdomains inherit the
// weight of the registered parent (specs.edmunds.com → edmunds.com).
func (t *Table) Weight(rawURL string) float64 {
	host := hostOf(rawURL)
	if host == "" {
		return DefaultWeight
	}
	for {
		if w, ok := t.weights[host]; ok {
			return w
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			return DefaultWeight
		}
		parent := host[dot+1:]
		// Stop before bare TLDs.
		if !strings.Contains(parent, ".") {
			if w, ok := t.weights[parent]; ok {
				return w
			}
			return DefaultWeight
		}
		host = parent
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		// Tolerate bare domains without a scheme.
		return normalizeDomain(rawURL)
	}
	return normalizeDomain(u.Hostname())
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	if i := strings.IndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	return d
}
