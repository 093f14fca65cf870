// Package pricing decides free-tier eligibility, builds estimate fingerprints
// and prices paid requests from declarative per-connector rule tables. The same
// code runs in the client and the server so both always agree.
package pricing

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yml
var defaultRules []byte

const (
	FieldLimit     = "limit"
	FieldAll       = "all"
	FieldReplies   = "replies"
	FieldParents   = "parents"
	FieldReactions = "reactions"
	FieldContent   = "content"
)

var flagFields = []string{FieldReplies, FieldParents, FieldReactions, FieldContent}

// Rule is one free-tier predicate. Limit rules carry Max, flag rules carry Allow.
type Rule struct {
	Field string `yaml:"field" json:"field"`
	Max   *int   `yaml:"max,omitempty" json:"max,omitempty"`
	Allow *bool  `yaml:"allow,omitempty" json:"allow,omitempty"`
}

type Price struct {
	Base             int64          `yaml:"base" json:"base"`
	PerItem          int64          `yaml:"per_item" json:"per_item"`
	AllCountFallback int            `yaml:"all_count_fallback" json:"all_count_fallback"`
	Surcharges       map[string]int `yaml:"surcharges" json:"surcharges,omitempty"` // percent per enabled flag
}

type Table struct {
	DefaultLimit int    `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int    `yaml:"max_limit" json:"max_limit"`
	FreeTier     []Rule `yaml:"free_tier" json:"free_tier"`
	Price        Price  `yaml:"price" json:"price"`
}

type Tables struct {
	Version    int               `yaml:"version" json:"version"`
	Currency   string            `yaml:"currency" json:"currency"`
	Decimals   int               `yaml:"decimals" json:"decimals"`
	Connectors map[string]*Table `yaml:"connectors" json:"connectors"`
}

// Default returns the rule tables compiled into the binary.
func Default() *Tables {
	tables, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded pricing rules are invalid: %v", err))
	}
	return tables
}

// Load reads rule tables from path, or returns the embedded ones when path is empty.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	tables, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid pricing rules %s: %w", path, err)
	}
	return tables, nil
}

func Parse(data []byte) (*Tables, error) {
	var tables Tables
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if tables.Currency == "" {
		tables.Currency = "USDC"
	}
	if tables.Decimals == 0 {
		tables.Decimals = 6
	}

	if err := tables.Validate(); err != nil {
		return nil, err
	}
	return &tables, nil
}

func (t *Tables) Validate() error {
	if len(t.Connectors) == 0 {
		return fmt.Errorf("at least one connector table is required")
	}

	for name, table := range t.Connectors {
		if table == nil {
			return fmt.Errorf("connector %s: table is empty", name)
		}

		nonNegativeFields := map[string]int64{
			"default limit":      int64(table.DefaultLimit),
			"max limit":          int64(table.MaxLimit),
			"base price":         table.Price.Base,
			"per item price":     table.Price.PerItem,
			"all count fallback": int64(table.Price.AllCountFallback),
		}
		for fieldName, fieldValue := range nonNegativeFields {
			if fieldValue < 0 {
				return fmt.Errorf("connector %s: %s must be non-negative", name, fieldName)
			}
		}

		if table.DefaultLimit == 0 {
			return fmt.Errorf("connector %s: default limit is required", name)
		}
		if table.MaxLimit != 0 && table.DefaultLimit > table.MaxLimit {
			return fmt.Errorf("connector %s: default limit exceeds max limit", name)
		}

		for i, rule := range table.FreeTier {
			switch {
			case rule.Field == FieldLimit:
				if rule.Max == nil || *rule.Max < 0 {
					return fmt.Errorf("connector %s: limit rule at index %d needs a non-negative max", name, i)
				}
			case rule.Field == FieldAll || slices.Contains(flagFields, rule.Field):
				if rule.Allow == nil {
					return fmt.Errorf("connector %s: %s rule at index %d needs allow", name, rule.Field, i)
				}
			default:
				return fmt.Errorf("connector %s: invalid rule field at index %d: %s", name, i, rule.Field)
			}
		}

		for field, pct := range table.Price.Surcharges {
			if !slices.Contains(flagFields, field) {
				return fmt.Errorf("connector %s: invalid surcharge field: %s", name, field)
			}
			if pct < 0 {
				return fmt.Errorf("connector %s: surcharge for %s must be non-negative", name, field)
			}
		}
	}

	return nil
}

// Table returns the table for connector, or nil when it has none.
func (t *Tables) Table(connector string) *Table {
	return t.Connectors[connector]
}

// Names lists the connectors with a table, sorted.
func (t *Tables) Names() []string {
	names := make([]string, 0, len(t.Connectors))
	for name := range t.Connectors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
