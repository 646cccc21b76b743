package billing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Category groups products for markup and income account purposes
type Category string

const (
	CategoryPharmacy     Category = "Pharmacy"
	CategoryLaboratory   Category = "Laboratory"
	CategoryRadiology    Category = "Radiology"
	CategoryConsultation Category = "Consultation"
	CategoryProcedure    Category = "Procedure"
	CategoryGeneral      Category = "General"
)

// knownCategories are recognised directly from the product text
var knownCategories = []Category{
	CategoryPharmacy,
	CategoryLaboratory,
	CategoryRadiology,
	CategoryConsultation,
	CategoryProcedure,
}

// String returns the string representation of Category
func (c Category) String() string {
	return string(c)
}

// CategoryLookup resolves a product code to a configured category
type CategoryLookup interface {
	CategoryFor(product string) (string, bool)
}

// ResolveCategory maps a product code to its category: the configured
// mapping first, then the product text itself when it names a known
// category, else General.
func ResolveCategory(product string, lookup CategoryLookup) Category {
	product = strings.TrimSpace(product)
	if lookup != nil {
		if c, ok := lookup.CategoryFor(product); ok && c != "" {
			return Category(c)
		}
	}
	for _, c := range knownCategories {
		if strings.EqualFold(product, string(c)) {
			return c
		}
	}
	return CategoryGeneral
}

// DefaultMarkups are the insurance markup factors that apply unless a
// category is configured otherwise
var DefaultMarkups = map[Category]decimal.Decimal{
	CategoryPharmacy:   decimal.RequireFromString("1.35"),
	CategoryLaboratory: decimal.RequireFromString("1.20"),
	CategoryRadiology:  decimal.RequireFromString("1.25"),
}

// MarkupTable holds markup factors by category, matched case-insensitively
type MarkupTable struct {
	factors map[string]decimal.Decimal
}

// NewMarkupTable layers the configured factors over DefaultMarkups. A
// configured factor that is not positive removes the category's markup.
func NewMarkupTable(configured map[Category]decimal.Decimal) MarkupTable {
	t := MarkupTable{factors: make(map[string]decimal.Decimal, len(DefaultMarkups)+len(configured))}
	for c, f := range DefaultMarkups {
		t.factors[strings.ToLower(string(c))] = f
	}
	for c, f := range configured {
		key := strings.ToLower(string(c))
		if !f.IsPositive() {
			delete(t.factors, key)
			continue
		}
		t.factors[key] = f
	}
	return t
}

// Factor returns the markup factor for a category
func (t MarkupTable) Factor(c Category) (decimal.Decimal, bool) {
	f, ok := t.factors[strings.ToLower(string(c))]
	return f, ok
}
