// Package catalog derives the listed product view from the snapshot: search,
// category, company and price filters followed by one of the sort orders.
package catalog

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"marketplace-storefront/internal/models"
)

// SortKey selects the order of the listing
type SortKey string

const (
	SortNone       SortKey = ""
	SortPriceAsc   SortKey = "price_asc"
	SortPriceDesc  SortKey = "price_desc"
	SortNewest     SortKey = "newest"
	SortPopularity SortKey = "popularity"
)

// CategoryAll matches every category
const CategoryAll = "all"

// ParseSort maps a query value to a SortKey. Unknown values keep the
// snapshot order.
func ParseSort(s string) SortKey {
	switch key := SortKey(strings.ToLower(strings.TrimSpace(s))); key {
	case SortPriceAsc, SortPriceDesc, SortNewest, SortPopularity:
		return key
	}
	return SortNone
}

// Query holds the listing inputs. Zero values match everything.
type Query struct {
	Search          string
	Category        string
	CompanyID       string
	MinPrice        *decimal.Decimal
	MaxPrice        *decimal.Decimal
	InStockOnly     bool
	IncludeInactive bool
	Sort            SortKey
}

// Apply returns the products matching q in the requested order. products is
// not modified. Ties keep their snapshot order.
func Apply(products []models.Product, q Query) []models.Product {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	category := strings.TrimSpace(q.Category)
	if strings.EqualFold(category, CategoryAll) {
		category = ""
	}

	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		if !q.IncludeInactive && !p.IsActive() {
			continue
		}
		if q.InStockOnly && !p.InStock() {
			continue
		}
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		if q.CompanyID != "" && p.CompanyID != q.CompanyID {
			continue
		}
		if q.MinPrice != nil && p.Price.LessThan(*q.MinPrice) {
			continue
		}
		if q.MaxPrice != nil && p.Price.GreaterThan(*q.MaxPrice) {
			continue
		}
		if search != "" && !matches(p, search) {
			continue
		}
		out = append(out, p)
	}

	if less := comparator(out, q.Sort); less != nil {
		sort.SliceStable(out, less)
	}
	return out
}

// PopularityScore ranks products flagged popular at 100 and the rest by
// rating scaled to the same range
func PopularityScore(p models.Product) float64 {
	if p.Popular {
		return 100
	}
	return p.Rating * 20
}

// Categories returns the distinct non-empty categories of products in
// first-seen order. Spellings differing only in case count once.
func Categories(products []models.Product) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, p := range products {
		name := strings.TrimSpace(p.Category)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}

func matches(p models.Product, needle string) bool {
	for _, field := range []string{p.Name, p.ShortDescription, p.Category, p.CompanyName} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func comparator(products []models.Product, key SortKey) func(i, j int) bool {
	switch key {
	case SortPriceAsc:
		return func(i, j int) bool { return products[i].Price.LessThan(products[j].Price) }
	case SortPriceDesc:
		return func(i, j int) bool { return products[i].Price.GreaterThan(products[j].Price) }
	case SortNewest:
		return func(i, j int) bool { return products[i].CreatedAt.After(products[j].CreatedAt) }
	case SortPopularity:
		return func(i, j int) bool { return PopularityScore(products[i]) > PopularityScore(products[j]) }
	}
	return nil
}
