package types

import (
	"fmt"
	"math"
	"strings"
	"unicode"
)

const (
	// CriteriaSchemaVersion is the structured document format version
	CriteriaSchemaVersion = 2
	// MaxDealbreakerItems bounds the hard requirements across all dealbreaker categories
	MaxDealbreakerItems = 3
	// MaxItemsPerCategory bounds the requirement list of any single category
	MaxItemsPerCategory = 5
	// WeightEpsilon is the tolerance for the weight sum of scored categories
	WeightEpsilon = 0.01
	maxKeyLength  = 48
)

// Category IDs used by the generation prompt
const (
	CategoryDealbreakers = "dealbreakers"
	CategoryHighlyValued = "highly_valued"
	CategoryNiceToHave   = "nice_to_have"
)

// CriteriaItem is one textual requirement with a short machine key
type CriteriaItem struct {
	Text string `json:"text"`
	Key  string `json:"key"`
}

// Category groups requirement items. Dealbreaker categories carry no weight.
type Category struct {
	ID            string         `json:"id"`
	DisplayName   string         `json:"display_name"`
	Emoji         string         `json:"emoji,omitempty"`
	Weight        *float64       `json:"weight"`
	IsDealbreaker bool           `json:"is_dealbreaker"`
	Items         []CriteriaItem `json:"items"`
}

// CriteriaDocument is the structured, weighted form of the evaluation criteria
type CriteriaDocument struct {
	Version    int        `json:"version"`
	Categories []Category `json:"categories"`
}

// Criteria pairs the human-readable rendering with the structured document
type Criteria struct {
	HumanReadable string            `json:"human_readable"`
	Structured    *CriteriaDocument `json:"structured"`
}

// CriteriaError describes a violated document invariant
type CriteriaError struct {
	Field   string
	Message string
}

func (e *CriteriaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid criteria: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid criteria: %s", e.Message)
}

// Dealbreakers returns every item of every dealbreaker category, in order.
func (d *CriteriaDocument) Dealbreakers() []CriteriaItem {
	var items []CriteriaItem
	for _, c := range d.Categories {
		if c.IsDealbreaker {
			items = append(items, c.Items...)
		}
	}
	return items
}

// WeightSum returns the sum of weights of the scored (non-dealbreaker) categories.
func (d *CriteriaDocument) WeightSum() float64 {
	var sum float64
	for _, c := range d.Categories {
		if !c.IsDealbreaker && c.Weight != nil {
			sum += *c.Weight
		}
	}
	return sum
}

// Weight returns the weight of a scored category.
func (d *CriteriaDocument) Weight(categoryID string) (float64, bool) {
	for _, c := range d.Categories {
		if c.ID == categoryID && !c.IsDealbreaker && c.Weight != nil {
			return *c.Weight, true
		}
	}
	return 0, false
}

// Normalize repairs drift the model commonly produces: weights on dealbreaker
// categories, missing or non snake_case item keys, and scored weights that do
// not add up to 1.
func (d *CriteriaDocument) Normalize() {
	if d.Version == 0 {
		d.Version = CriteriaSchemaVersion
	}

	allWeighted := true
	for i := range d.Categories {
		c := &d.Categories[i]
		c.ID = strings.TrimSpace(c.ID)
		if c.IsDealbreaker {
			c.Weight = nil
		} else if c.Weight == nil {
			allWeighted = false
		}

		items := c.Items[:0]
		for _, item := range c.Items {
			item.Text = strings.TrimSpace(item.Text)
			if item.Text == "" {
				continue
			}
			item.Key = Slugify(item.Key)
			if item.Key == "" {
				item.Key = Slugify(item.Text)
			}
			items = append(items, item)
		}
		c.Items = items
	}

	sum := d.WeightSum()
	if !allWeighted || sum <= 0 || math.Abs(sum-1) <= WeightEpsilon {
		return
	}
	for i := range d.Categories {
		c := &d.Categories[i]
		if c.IsDealbreaker || c.Weight == nil {
			continue
		}
		w := *c.Weight / sum
		c.Weight = &w
	}
}

// Validate enforces the document invariants.
func (d *CriteriaDocument) Validate() error {
	if d == nil || len(d.Categories) == 0 {
		return &CriteriaError{Field: "categories", Message: "at least one category is required"}
	}

	seen := make(map[string]bool, len(d.Categories))
	scored := 0

	for i, c := range d.Categories {
		field := fmt.Sprintf("categories[%d]", i)
		if c.ID == "" {
			return &CriteriaError{Field: field + ".id", Message: "is required"}
		}
		if seen[c.ID] {
			return &CriteriaError{Field: field + ".id", Message: fmt.Sprintf("duplicate category %q", c.ID)}
		}
		seen[c.ID] = true

		if len(c.Items) == 0 {
			return &CriteriaError{Field: field + ".items", Message: "at least one item is required"}
		}
		if len(c.Items) > MaxItemsPerCategory {
			return &CriteriaError{Field: field + ".items", Message: fmt.Sprintf("at most %d items allowed, got %d", MaxItemsPerCategory, len(c.Items))}
		}
		for j, item := range c.Items {
			if strings.TrimSpace(item.Text) == "" || strings.TrimSpace(item.Key) == "" {
				return &CriteriaError{Field: fmt.Sprintf("%s.items[%d]", field, j), Message: "text and key are required"}
			}
		}

		if c.IsDealbreaker {
			if c.Weight != nil {
				return &CriteriaError{Field: field + ".weight", Message: "dealbreaker categories carry no weight"}
			}
			continue
		}

		scored++
		if c.Weight == nil {
			return &CriteriaError{Field: field + ".weight", Message: "is required for scored categories"}
		}
		if *c.Weight < 0 || *c.Weight > 1 {
			return &CriteriaError{Field: field + ".weight", Message: fmt.Sprintf("must be within [0,1], got %.3f", *c.Weight)}
		}
	}

	if n := len(d.Dealbreakers()); n > MaxDealbreakerItems {
		return &CriteriaError{Field: "dealbreakers", Message: fmt.Sprintf("at most %d dealbreaker items allowed, got %d", MaxDealbreakerItems, n)}
	}
	if scored == 0 {
		return &CriteriaError{Field: "categories", Message: "at least one weighted category is required"}
	}
	if sum := d.WeightSum(); math.Abs(sum-1) > WeightEpsilon {
		return &CriteriaError{Field: "weights", Message: fmt.Sprintf("scored category weights must sum to 1.0, got %.3f", sum)}
	}

	return nil
}

// Clone returns a deep copy so a run can hold a snapshot immune to later edits.
func (d *CriteriaDocument) Clone() *CriteriaDocument {
	if d == nil {
		return nil
	}
	out := &CriteriaDocument{Version: d.Version, Categories: make([]Category, len(d.Categories))}
	for i, c := range d.Categories {
		cc := c
		if c.Weight != nil {
			w := *c.Weight
			cc.Weight = &w
		}
		cc.Items = append([]CriteriaItem(nil), c.Items...)
		out.Categories[i] = cc
	}
	return out
}

// Slugify derives a snake_case key from requirement text.
func Slugify(text string) string {
	var sb strings.Builder
	underscore := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && sb.Len() > 0 {
			sb.WriteByte('_')
			underscore = true
		}
	}
	key := strings.TrimSuffix(sb.String(), "_")
	if runes := []rune(key); len(runes) > maxKeyLength {
		key = strings.TrimSuffix(string(runes[:maxKeyLength]), "_")
	}
	return key
}
