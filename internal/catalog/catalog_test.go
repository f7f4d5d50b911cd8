package catalog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-storefront/internal/models"
)

var (
	day0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	fixture = []models.Product{
		{ID: "a", Name: "Mochila Andina", Category: "Bolsos", CompanyID: "c1", CompanyName: "Tejidos Sur", Price: decimal.NewFromInt(12000), StockQuantity: 5, Rating: 4.5, CreatedAt: day0},
		{ID: "b", Name: "Taza de barro", Category: "Hogar", CompanyID: "c2", Price: decimal.NewFromInt(3500), StockQuantity: 0, Popular: true, CreatedAt: day0.Add(48 * time.Hour)},
		{ID: "c", Name: "Bolso tejido", ShortDescription: "hecho a mano", Category: "bolsos", CompanyID: "c1", Price: decimal.NewFromInt(8000), StockQuantity: 2, Rating: 3, CreatedAt: day0.Add(24 * time.Hour)},
		{ID: "d", Name: "Retired", Category: "Hogar", Price: decimal.NewFromInt(100), StockQuantity: 1, Status: models.StatusInactive, CreatedAt: day0},
	}
)

func ids(products []models.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.ID
	}
	return out
}

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestApply_Filters(t *testing.T) {
	testCases := []struct {
		name     string
		query    Query
		expected []string
	}{
		{name: "zero query hides inactive", query: Query{}, expected: []string{"a", "b", "c"}},
		{name: "include inactive", query: Query{IncludeInactive: true}, expected: []string{"a", "b", "c", "d"}},
		{name: "search name case-insensitive", query: Query{Search: "  MOCHILA "}, expected: []string{"a"}},
		{name: "search description", query: Query{Search: "a mano"}, expected: []string{"c"}},
		{name: "search company name", query: Query{Search: "tejidos"}, expected: []string{"a"}},
		{name: "category ignores case", query: Query{Category: "BOLSOS"}, expected: []string{"a", "c"}},
		{name: "category all", query: Query{Category: "all"}, expected: []string{"a", "b", "c"}},
		{name: "company", query: Query{CompanyID: "c2"}, expected: []string{"b"}},
		{name: "price range inclusive", query: Query{MinPrice: dec(3500), MaxPrice: dec(8000)}, expected: []string{"b", "c"}},
		{name: "in stock only", query: Query{InStockOnly: true}, expected: []string{"a", "c"}},
		{name: "no match", query: Query{Search: "zzz"}, expected: []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ids(Apply(fixture, tc.query)))
		})
	}
}

func TestApply_Sorts(t *testing.T) {
	testCases := []struct {
		sort     SortKey
		expected []string
	}{
		{sort: SortNone, expected: []string{"a", "b", "c"}},
		{sort: SortPriceAsc, expected: []string{"b", "c", "a"}},
		{sort: SortPriceDesc, expected: []string{"a", "c", "b"}},
		{sort: SortNewest, expected: []string{"b", "c", "a"}},
		{sort: SortPopularity, expected: []string{"b", "a", "c"}},
	}

	for _, tc := range testCases {
		t.Run(string(tc.sort), func(t *testing.T) {
			assert.Equal(t, tc.expected, ids(Apply(fixture, Query{Sort: tc.sort})))
		})
	}
}

func TestApply_TiesKeepOrderAndInputUntouched(t *testing.T) {
	products := []models.Product{
		{ID: "x", Price: decimal.NewFromInt(10)},
		{ID: "y", Price: decimal.NewFromInt(5)},
		{ID: "z", Price: decimal.NewFromInt(10)},
	}

	sorted := Apply(products, Query{Sort: SortPriceDesc})

	assert.Equal(t, []string{"x", "z", "y"}, ids(sorted))
	assert.Equal(t, []string{"x", "y", "z"}, ids(products))
}

func TestParseSort(t *testing.T) {
	assert.Equal(t, SortPriceAsc, ParseSort("price_asc"))
	assert.Equal(t, SortPopularity, ParseSort(" Popularity "))
	assert.Equal(t, SortNone, ParseSort("cheapest"))
	assert.Equal(t, SortNone, ParseSort(""))
}

func TestPopularityScore(t *testing.T) {
	assert.Equal(t, 100.0, PopularityScore(models.Product{Popular: true, Rating: 1}))
	assert.Equal(t, 90.0, PopularityScore(models.Product{Rating: 4.5}))
	assert.Equal(t, 0.0, PopularityScore(models.Product{}))
}

func TestCategories(t *testing.T) {
	assert.Equal(t, []string{"Bolsos", "Hogar"}, Categories(fixture))
	assert.Empty(t, Categories(nil))
}

func TestDebouncer_CoalescesTriggers(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { calls.Add(1) })
	defer d.Stop()

	for range 5 {
		d.Trigger()
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDebouncer_FlushAndStop(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(time.Hour, func() { calls.Add(1) })

	d.Flush()
	assert.EqualValues(t, 0, calls.Load(), "nothing pending")

	d.Trigger()
	d.Flush()
	assert.EqualValues(t, 1, calls.Load())

	d.Trigger()
	d.Stop()
	d.Trigger()
	d.Flush()
	assert.EqualValues(t, 1, calls.Load())
}

func TestDebouncer_ZeroDelayIsImmediate(t *testing.T) {
	var calls int
	d := NewDebouncer(0, func() { calls++ })
	d.Trigger()
	d.Trigger()
	assert.Equal(t, 2, calls)
}

type fakeCategories struct {
	categories []models.Category
	err        error
	calls      int
}

func (f *fakeCategories) ListCategories(context.Context) ([]models.Category, error) {
	f.calls++
	return f.categories, f.err
}

func snapshotOf(products []models.Product) Snapshot {
	return func(context.Context) []models.Product { return products }
}

func TestCategoryService_CachesBackendList(t *testing.T) {
	source := &fakeCategories{categories: []models.Category{{ID: "1", Name: "Bolsos"}}}
	s := NewCategoryService(source, snapshotOf(fixture), time.Minute)
	defer s.Stop()

	first := s.List(context.Background())
	second := s.List(context.Background())

	assert.Equal(t, source.categories, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, source.calls)

	s.Invalidate()
	s.List(context.Background())
	assert.Equal(t, 2, source.calls)
}

func TestCategoryService_FallsBackToSnapshot(t *testing.T) {
	source := &fakeCategories{err: errors.New("backend down")}
	s := NewCategoryService(source, snapshotOf(fixture), time.Minute)
	defer s.Stop()

	categories := s.List(context.Background())

	require.Len(t, categories, 2)
	assert.Equal(t, models.Category{ID: "Bolsos", Name: "Bolsos"}, categories[0])

	s.List(context.Background())
	assert.Equal(t, 2, source.calls, "failures are not cached")
}
