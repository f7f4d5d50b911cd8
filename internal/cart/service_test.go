package cart

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-storefront/internal/events"
	"marketplace-storefront/internal/models"
	"marketplace-storefront/internal/storage"
)

var testPricing = Pricing{
	FreeShippingThreshold: decimal.NewFromInt(50000),
	FlatShippingFee:       decimal.NewFromInt(5000),
}

func product(id string, price int64, stock int) *models.Product {
	return &models.Product{ID: id, Name: "Product " + id, Price: decimal.NewFromInt(price), StockQuantity: stock}
}

func newTestService(t *testing.T, store storage.Store) (*Service, *[]models.CartUpdated) {
	t.Helper()
	bus := events.NewBus(nil)
	var published []models.CartUpdated
	bus.Subscribe(events.TopicCartUpdated, func(e events.Event) {
		published = append(published, e.Data.(models.CartUpdated))
	})

	s := NewService(context.Background(), store, bus, testPricing,
		WithClock(func() time.Time { return time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC) }))
	t.Cleanup(s.Close)
	return s, &published
}

func TestAddToCart_ExampleScenario(t *testing.T) {
	// Arrange
	s, _ := newTestService(t, storage.NewMemoryStore())

	// Act
	ok := s.AddToCart(product("p1", 12000, 5), 2, "", "")

	// Assert
	require.True(t, ok)
	assert.True(t, s.GetCartSummary().Subtotal.Equal(decimal.NewFromInt(24000)))

	assert.True(t, s.UpdateQuantity("p1", 10))
	assert.Equal(t, 5, s.GetItemQuantity("p1", "", ""), "clamped to last-known stock")

	s.SyncWithCatalog([]models.Product{})
	assert.Empty(t, s.Items())
}

func TestAddToCart_ClampsAndAccumulates(t *testing.T) {
	testCases := []struct {
		name     string
		adds     []int
		stock    int
		expected int
	}{
		{name: "below stock", adds: []int{2}, stock: 5, expected: 2},
		{name: "above stock", adds: []int{9}, stock: 5, expected: 5},
		{name: "accumulates", adds: []int{1, 2}, stock: 5, expected: 3},
		{name: "accumulates to stock", adds: []int{3, 3, 3}, stock: 5, expected: 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestService(t, storage.NewMemoryStore())
			for _, qty := range tc.adds {
				require.True(t, s.AddToCart(product("p1", 100, tc.stock), qty, "red", "M"))
			}
			assert.Equal(t, tc.expected, s.GetItemQuantity("p1", "red", "M"))
			assert.Len(t, s.Items(), 1)
		})
	}
}

func TestAddToCart_Validation(t *testing.T) {
	s, published := newTestService(t, storage.NewMemoryStore())

	negative := product("p1", 100, 5)
	negative.Price = decimal.NewFromInt(-1)

	assert.False(t, s.AddToCart(nil, 1, "", ""))
	assert.False(t, s.AddToCart(&models.Product{}, 1, "", ""))
	assert.False(t, s.AddToCart(product("p1", 100, 5), 0, "", ""))
	assert.False(t, s.AddToCart(product("p1", 100, 5), -3, "", ""))
	assert.False(t, s.AddToCart(negative, 1, "", ""))
	assert.False(t, s.AddToCart(product("p1", 100, 0), 1, "", ""))

	assert.Empty(t, s.Items())
	assert.Empty(t, *published, "rejected mutations broadcast nothing")
}

func TestAddToCart_ZeroPriceAllowed(t *testing.T) {
	s, _ := newTestService(t, storage.NewMemoryStore())
	assert.True(t, s.AddToCart(product("free", 0, 1), 1, "", ""))
}

func TestCompositeKey(t *testing.T) {
	s, _ := newTestService(t, storage.NewMemoryStore())
	p := product("p1", 100, 10)

	require.True(t, s.AddToCart(p, 1, "red", "M"))
	require.True(t, s.AddToCart(p, 2, "blue", "M"))
	require.True(t, s.AddToCart(p, 3, "red", "L"))

	assert.Len(t, s.Items(), 3)
	assert.True(t, s.IsInCart("p1", "blue", "M"))
	assert.False(t, s.IsInCart("p1", "blue", "L"))
	assert.Equal(t, 3, s.GetItemQuantity("p1", "red", "L"))
	assert.Equal(t, 0, s.GetItemQuantity("p2", "", ""))
}

func TestUpdateQuantity(t *testing.T) {
	s, _ := newTestService(t, storage.NewMemoryStore())
	require.True(t, s.AddToCart(product("p1", 100, 10), 4, "", ""))

	assert.False(t, s.UpdateQuantity("missing", 2))

	assert.True(t, s.UpdateQuantity("p1", 7))
	assert.Equal(t, 7, s.GetItemQuantity("p1", "", ""))
}

func TestUpdateQuantity_ZeroEqualsRemove(t *testing.T) {
	viaUpdate, _ := newTestService(t, storage.NewMemoryStore())
	viaRemove, _ := newTestService(t, storage.NewMemoryStore())
	for _, s := range []*Service{viaUpdate, viaRemove} {
		require.True(t, s.AddToCart(product("p1", 100, 10), 1, "", ""))
		require.True(t, s.AddToCart(product("p2", 100, 10), 1, "", ""))
	}

	assert.True(t, viaUpdate.UpdateQuantity("p1", 0))
	assert.True(t, viaRemove.RemoveFromCart("p1"))

	assert.Equal(t, viaRemove.Items(), viaUpdate.Items())
	assert.False(t, viaUpdate.UpdateQuantity("p1", 0), "nothing left to remove")
}

func TestRemoveFromCart_AllVariants(t *testing.T) {
	s, _ := newTestService(t, storage.NewMemoryStore())
	p := product("p1", 100, 10)
	require.True(t, s.AddToCart(p, 1, "red", ""))
	require.True(t, s.AddToCart(p, 1, "blue", ""))
	require.True(t, s.AddToCart(product("p2", 5, 1), 1, "", ""))

	assert.True(t, s.RemoveFromCart("p1"))
	assert.False(t, s.RemoveFromCart("p1"))
	require.Len(t, s.Items(), 1)
	assert.Equal(t, "p2", s.Items()[0].ID)
}

func TestClearCart(t *testing.T) {
	s, published := newTestService(t, storage.NewMemoryStore())
	require.True(t, s.AddToCart(product("p1", 100, 10), 1, "", ""))

	s.ClearCart()
	s.ClearCart()

	assert.Empty(t, s.Items())
	require.Len(t, *published, 3)
	assert.Empty(t, (*published)[2].Items)
	assert.True(t, (*published)[2].Summary.Subtotal.IsZero())
}

func TestSyncWithCatalog_UpdatesAndDrops(t *testing.T) {
	s, published := newTestService(t, storage.NewMemoryStore())
	require.True(t, s.AddToCart(product("p1", 100, 10), 2, "", ""))
	require.True(t, s.AddToCart(product("p2", 200, 10), 1, "", ""))
	require.Len(t, *published, 2)

	discounted := product("p1", 80, 3)
	original := decimal.NewFromInt(100)
	discounted.OriginalPrice = &original

	catalog := []models.Product{*discounted}
	s.SyncWithCatalog(catalog)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].ID)
	assert.True(t, items[0].UnitPrice.Equal(decimal.NewFromInt(80)))
	require.NotNil(t, items[0].OriginalUnitPrice)
	assert.True(t, items[0].OriginalUnitPrice.Equal(original))
	assert.Equal(t, 2, items[0].Quantity, "reconciliation leaves quantities alone")
	assert.Equal(t, 3, items[0].Product.StockQuantity)
	assert.Len(t, *published, 3)

	// Idempotent: same catalog, same cart, no broadcast
	s.SyncWithCatalog(catalog)
	assert.Equal(t, items, s.Items())
	assert.Len(t, *published, 3)
}

func TestPersistenceRoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	first, _ := newTestService(t, store)
	require.True(t, first.AddToCart(product("p1", 12000, 5), 2, "red", "M"))
	require.True(t, first.AddToCart(product("p2", 99, 9), 1, "", ""))

	second, _ := newTestService(t, store)

	want := first.Items()
	got := second.Items()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Key(), got[i].Key())
		assert.Equal(t, want[i].Quantity, got[i].Quantity)
		assert.True(t, want[i].AddedAt.Equal(got[i].AddedAt))
		assert.False(t, got[i].AddedAt.IsZero())
		assert.True(t, want[i].UnitPrice.Equal(got[i].UnitPrice))
	}
}

func TestLoad_CorruptOrInvalidPersistedCart(t *testing.T) {
	ctx := context.Background()

	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(ctx, storage.KeyCart, []byte(`{not json`)))
	s, _ := newTestService(t, store)
	assert.Empty(t, s.Items())

	store = storage.NewMemoryStore()
	require.NoError(t, store.Set(ctx, storage.KeyCart,
		[]byte(`[{"id":"p1","quantity":2,"price":"10","addedAt":"2025-01-01T00:00:00Z"},{"id":"","quantity":1},{"id":"p2","quantity":0}]`)))
	s, _ = newTestService(t, store)
	require.Len(t, s.Items(), 1)
	assert.Equal(t, 2, s.GetItemQuantity("p1", "", ""))
}

func TestCrossAgentReload(t *testing.T) {
	tabA := storage.NewMemoryStore()
	tabB := tabA.Fork()

	cartA, _ := newTestService(t, tabA)
	cartB, publishedB := newTestService(t, tabB)

	require.True(t, cartA.AddToCart(product("p1", 100, 10), 3, "", ""))

	assert.Equal(t, 3, cartB.GetItemQuantity("p1", "", ""))
	require.NotEmpty(t, *publishedB, "reload broadcasts to the other agent's subscribers")

	cartB.ClearCart()
	assert.Empty(t, cartA.Items(), "last writer wins")
}

func TestRemoveOrdered(t *testing.T) {
	s, published := newTestService(t, storage.NewMemoryStore())
	require.True(t, s.AddToCart(product("p1", 100, 10), 2, "red", ""))
	require.True(t, s.AddToCart(product("p2", 100, 10), 1, "", ""))
	ordered := s.Items()

	require.True(t, s.AddToCart(product("p1", 100, 10), 3, "red", ""))
	require.True(t, s.AddToCart(product("p3", 100, 10), 1, "", ""))
	*published = nil

	s.RemoveOrdered(ordered)

	assert.Equal(t, 3, s.GetItemQuantity("p1", "red", ""))
	assert.False(t, s.IsInCart("p2", "", ""))
	assert.True(t, s.IsInCart("p3", "", ""))
	require.Len(t, *published, 1)

	s.RemoveOrdered([]models.CartItem{{ID: "ghost", Quantity: 1}})
	assert.Len(t, *published, 1, "nothing ordered is left, nothing is published")
}

func TestForkedCarts_WriterDoesNotHoldLockWhileNotifying(t *testing.T) {
	tabA := storage.NewMemoryStore()
	tabB := tabA.Fork()
	cartA := NewService(context.Background(), tabA, nil, testPricing)
	cartB := NewService(context.Background(), tabB, nil, testPricing)
	t.Cleanup(cartA.Close)
	t.Cleanup(cartB.Close)

	// Cart A is busy, so B's write cannot finish notifying it
	cartA.mu.Lock()
	added := make(chan bool, 1)
	go func() { added <- cartB.AddToCart(product("p1", 100, 10), 1, "", "") }()
	time.Sleep(20 * time.Millisecond)

	// B stays usable in the meantime
	read := make(chan int, 1)
	go func() { read <- cartB.GetItemQuantity("p1", "", "") }()
	select {
	case qty := <-read:
		assert.Equal(t, 1, qty)
	case <-time.After(2 * time.Second):
		cartA.mu.Unlock()
		t.Fatal("cart B kept its lock while notifying cart A")
	}

	cartA.mu.Unlock()
	select {
	case ok := <-added:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("add on cart B never completed")
	}
	assert.Equal(t, 1, cartA.GetItemQuantity("p1", "", ""))
}

func TestForkedCarts_ConcurrentMutationsConverge(t *testing.T) {
	tabA := storage.NewMemoryStore()
	tabB := tabA.Fork()
	clock := WithClock(func() time.Time { return time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC) })
	cartA := NewService(context.Background(), tabA, nil, testPricing, clock)
	cartB := NewService(context.Background(), tabB, nil, testPricing, clock)
	t.Cleanup(cartA.Close)
	t.Cleanup(cartB.Close)

	var wg sync.WaitGroup
	for _, c := range []*Service{cartA, cartB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				id := fmt.Sprintf("p%d", i%7)
				c.AddToCart(product(id, 100, 50), 1, "", "")
				if i%5 == 0 {
					c.RemoveFromCart(id)
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent mutations on forked carts did not finish")
	}

	var persisted []models.CartItem
	require.NoError(t, storage.GetJSON(context.Background(), tabA, storage.KeyCart, &persisted))
	assert.JSONEq(t, string(encodeItems(persisted)), string(encodeItems(cartA.Items())))
	assert.JSONEq(t, string(encodeItems(persisted)), string(encodeItems(cartB.Items())))
}

func TestMutationsPublishSummary(t *testing.T) {
	s, published := newTestService(t, storage.NewMemoryStore())
	require.True(t, s.AddToCart(product("p1", 30000, 5), 2, "", ""))

	require.Len(t, *published, 1)
	event := (*published)[0]
	require.Len(t, event.Items, 1)
	assert.True(t, event.Summary.Subtotal.Equal(decimal.NewFromInt(60000)))
	assert.True(t, event.Summary.Shipping.IsZero())
}
