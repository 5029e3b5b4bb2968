// Package market holds reference prices used to judge invoice lines.
package market

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/adrg/strutil/metrics"
	"gopkg.in/yaml.v3"
)

const (
	MatchSubstring = "substring"
	MatchFuzzy     = "fuzzy"

	defaultMinSimilarity = 0.80
)

// Price is one catalog entry.
type Price struct {
	Item    string   `yaml:"item" json:"item" mapstructure:"item"`
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty" mapstructure:"aliases"`
	Price   float64  `yaml:"price" json:"price" mapstructure:"price"`
	Source  string   `yaml:"source,omitempty" json:"source,omitempty" mapstructure:"source"`
}

// Match is the catalog entry chosen for an invoice description.
type Match struct {
	Item       string  `json:"item"`
	Price      float64 `json:"market_price"`
	Similarity float64 `json:"similarity"`
	Method     string  `json:"method"`
}

// EditCosts are the weights of the Levenshtein distance used for fuzzy lookups.
type EditCosts struct {
	Insert  int `mapstructure:"insert" json:"insert"`
	Delete  int `mapstructure:"delete" json:"delete"`
	Replace int `mapstructure:"replace" json:"replace"`
}

// DefaultEditCosts weighs a substitution as a deletion plus an insertion.
var DefaultEditCosts = EditCosts{Insert: 1, Delete: 1, Replace: 2}

type catalogFile struct {
	Items []Price `yaml:"items"`
}

// Catalog is a concurrency-safe set of reference prices.
type Catalog struct {
	mu            sync.RWMutex
	items         []Price
	costs         EditCosts
	minSimilarity float64
}

// NewCatalog creates a catalog. minSimilarity below or equal to zero uses the default.
func NewCatalog(items []Price, costs EditCosts, minSimilarity float64) *Catalog {
	if minSimilarity <= 0 {
		minSimilarity = defaultMinSimilarity
	}
	if costs.Insert <= 0 || costs.Delete <= 0 || costs.Replace <= 0 {
		costs = DefaultEditCosts
	}
	c := &Catalog{costs: costs, minSimilarity: minSimilarity}
	c.Replace(items)
	return c
}

// DefaultPrices are the demo reference prices.
func DefaultPrices() []Price {
	return []Price{
		{Item: "laptop", Aliases: []string{"notebook", "gaming laptop", "high-end gaming laptop"}, Price: 80000},
		{Item: "computer", Price: 50000},
		{Item: "desktop", Price: 40000},
		{Item: "printer", Price: 15000},
		{Item: "scanner", Price: 10000},
		{Item: "office chair", Price: 500},
		{Item: "pen", Price: 50},
	}
}

// Replace swaps the catalog content. Entries without a name or a positive price are dropped.
func (c *Catalog) Replace(items []Price) {
	cleaned := make([]Price, 0, len(items))
	for _, item := range items {
		item.Item = normalizeName(item.Item)
		if item.Item == "" || item.Price <= 0 {
			continue
		}
		aliases := make([]string, 0, len(item.Aliases))
		for _, alias := range item.Aliases {
			if alias = normalizeName(alias); alias != "" {
				aliases = append(aliases, alias)
			}
		}
		item.Aliases = aliases
		cleaned = append(cleaned, item)
	}

	c.mu.Lock()
	c.items = cleaned
	c.mu.Unlock()
}

// Merge adds or updates entries by item name.
func (c *Catalog) Merge(items []Price) {
	current := c.Items()
	index := make(map[string]int, len(current))
	for i, item := range current {
		index[item.Item] = i
	}
	for _, item := range items {
		name := normalizeName(item.Item)
		if i, ok := index[name]; ok {
			current[i] = item
			continue
		}
		index[name] = len(current)
		current = append(current, item)
	}
	c.Replace(current)
}

// Items returns a copy of the catalog entries.
func (c *Catalog) Items() []Price {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Price, len(c.items))
	for i, item := range c.items {
		item.Aliases = slices.Clone(item.Aliases)
		out[i] = item
	}
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Lookup finds the reference price for an invoice description. The longest
// name contained in the description wins; otherwise the closest name by
// weighted edit distance is used when it reaches the minimum similarity.
func (c *Catalog) Lookup(description string) (Match, bool) {
	desc := normalizeName(description)
	if desc == "" {
		return Match{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var best Match
	bestLen := 0
	for _, item := range c.items {
		for _, name := range item.names() {
			if containsPhrase(desc, name) && len(name) > bestLen {
				best = Match{Item: item.Item, Price: item.Price, Similarity: 1, Method: MatchSubstring}
				bestLen = len(name)
			}
		}
	}
	if bestLen > 0 {
		return best, true
	}

	lev := metrics.NewLevenshtein()
	lev.CaseSensitive = false
	lev.InsertCost = c.costs.Insert
	lev.DeleteCost = c.costs.Delete
	lev.ReplaceCost = c.costs.Replace

	tokens := strings.Fields(desc)
	found := false
	for _, item := range c.items {
		for _, name := range item.names() {
			width := len(strings.Fields(name))
			for start := 0; start+width <= len(tokens); start++ {
				window := strings.Join(tokens[start:start+width], " ")
				sim := c.similarity(lev, window, name)
				if sim >= c.minSimilarity && sim > best.Similarity {
					best = Match{Item: item.Item, Price: item.Price, Similarity: sim, Method: MatchFuzzy}
					found = true
				}
			}
		}
	}

	return best, found
}

// similarity normalises the weighted distance by the cost of rewriting a into b from scratch.
func (c *Catalog) similarity(lev *metrics.Levenshtein, a, b string) float64 {
	worst := len([]rune(a))*c.costs.Delete + len([]rune(b))*c.costs.Insert
	if worst == 0 {
		return 1
	}
	return 1 - float64(lev.Distance(a, b))/float64(worst)
}

func (p Price) names() []string {
	return append([]string{p.Item}, p.Aliases...)
}

// LoadCatalogFile reads a YAML catalog with a top-level "items" list.
func LoadCatalogFile(path string) ([]Price, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %q: %w", path, err)
	}
	if len(file.Items) == 0 {
		return nil, errors.New("catalog has no items")
	}

	return file.Items, nil
}

// SaveCatalogFile writes items as a YAML catalog.
func SaveCatalogFile(path string, items []Price) error {
	data, err := yaml.Marshal(catalogFile{Items: items})
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write catalog %q: %w", path, err)
	}
	return nil
}

func normalizeName(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func containsPhrase(haystack, phrase string) bool {
	return strings.Contains(" "+haystack+" ", " "+phrase+" ")
}
