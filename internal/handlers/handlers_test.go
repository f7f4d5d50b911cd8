package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-storefront/internal/cart"
	"marketplace-storefront/internal/catalog"
	"marketplace-storefront/internal/checkout"
	"marketplace-storefront/internal/client"
	"marketplace-storefront/internal/datasync"
	"marketplace-storefront/internal/events"
	"marketplace-storefront/internal/favorites"
	"marketplace-storefront/internal/models"
	"marketplace-storefront/internal/session"
	"marketplace-storefront/internal/storage"
	"marketplace-storefront/internal/views"
)

const testAPIKey = "test-key"

// fakeBackend mimics the marketplace REST backend
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, status int, body string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, `{"status":"ok"}`)
	})
	mux.HandleFunc("GET /products", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, `[
			{"id":"p1","name":"Mochila","price":12000,"stock":5,"category":"Bolsos","companyId":"c1"},
			{"id":"p2","name":"Taza","price":"3500","stock":0,"category":"Hogar"}
		]`)
	})
	mux.HandleFunc("GET /companies", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, `{"data":[{"id":"c1","name":"Acme"}]}`)
	})
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusForbidden, `{"message":"admins only"}`)
	})
	mux.HandleFunc("GET /categories", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, `[{"id":"1","name":"Bolsos"},{"id":"2","name":"Hogar"}]`)
	})
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			write(w, http.StatusUnauthorized, `{"message":"bad credentials"}`)
			return
		}
		write(w, http.StatusOK, `{"token":"opaque-token","user":{"id":"u1","email":"ana@example.com","role":"cliente"}}`)
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /sales", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer opaque-token" {
			write(w, http.StatusUnauthorized, `{"message":"no session"}`)
			return
		}
		write(w, http.StatusCreated, `{"id":"s-1","status":"pending"}`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type testEnv struct {
	router  http.Handler
	manager *datasync.Manager
	cart    *cart.Service
	session *session.Manager
	log     *events.Log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	backendServer := fakeBackend(t)

	store := storage.NewMemoryStore()
	bus := events.NewBus(nil)
	eventLog := events.NewLog(100, nil)
	t.Cleanup(eventLog.Attach(bus))

	backend := client.New(backendServer.URL, 5*time.Second)
	sess := session.NewManager(store, backend)
	backend.SetTokenSource(sess)

	shopCart := cart.NewService(ctx, store, bus, cart.Pricing{
		FreeShippingThreshold: decimal.NewFromInt(50000),
		FlatShippingFee:       decimal.NewFromInt(5000),
	})
	t.Cleanup(shopCart.Close)

	manager := datasync.NewManager(backend, sess, store, bus, shopCart, datasync.Config{
		Interval:     time.Hour,
		InitialDelay: time.Hour,
		StaleAfter:   10 * time.Minute,
	})
	t.Cleanup(manager.Stop)

	favs := favorites.NewService(ctx, store, bus)
	t.Cleanup(favs.Close)

	categories := catalog.NewCategoryService(backend, manager.GetCachedProducts, time.Minute)
	t.Cleanup(categories.Stop)

	syncView := views.NewSyncView(manager, bus)
	t.Cleanup(syncView.Close)
	featured := views.NewCatalogView(syncView, 0)
	featured.SetSort(catalog.SortPopularity)
	t.Cleanup(featured.Close)

	router := NewRouter(Handlers{
		Health:    NewHealthHandler(backend, manager, "test"),
		Catalog:   NewCatalogHandler(manager, categories, featured),
		Cart:      NewCartHandler(shopCart, manager),
		Sync:      NewSyncHandler(manager),
		Favorites: NewFavoritesHandler(favs),
		Checkout:  NewCheckoutHandler(checkout.NewService(shopCart, backend, map[string]int{"WELCOME10": 10}, nil)),
		Session:   NewSessionHandler(ctx, sess, manager),
		Events:    NewEventsHandler(eventLog, slog.Default()),
	}, []string{testAPIKey}, nil)

	return &testEnv{router: router, manager: manager, cart: shopCart, session: sess, log: eventLog}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// signedIn logs in and loads the snapshot
func (e *testEnv) signedIn(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/session/login", LoginRequest{Email: "ana@example.com", Password: "secret"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(t, http.MethodPost, "/v1/sync/force", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth_NoAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	health := decode[models.HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "up", health.Backend)
	assert.Equal(t, models.SyncIdle, health.SyncStatus.State)
}

func TestV1_RequiresAPIKey(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/cart", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSession_LoginStartsScheduleAndLogoutStopsIt(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/session", nil)
	assert.False(t, decode[SessionResponse](t, rec).Authenticated)

	rec = env.do(t, http.MethodPost, "/v1/session/login", LoginRequest{Email: "ana@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.manager.Running())

	rec = env.do(t, http.MethodPost, "/v1/session/login", LoginRequest{Email: "", Password: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decode[models.ErrorResponse](t, rec).Details, 2)

	rec = env.do(t, http.MethodPost, "/v1/session/login", LoginRequest{Email: "ana@example.com", Password: "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SessionResponse](t, rec)
	assert.True(t, resp.Authenticated)
	require.NotNil(t, resp.User)
	assert.Equal(t, models.RoleClient, resp.User.Role)
	assert.True(t, env.manager.Running())

	rec = env.do(t, http.MethodPost, "/v1/session/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, env.manager.Running())
	assert.False(t, env.session.IsAuthenticated(context.Background()))
}

func TestSync_ForceRequiresSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/sync/force", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decode[models.ErrorResponse](t, rec).Code)
}

func TestSync_StatusAfterForce(t *testing.T) {
	env := newTestEnv(t)
	env.signedIn(t)

	rec := env.do(t, http.MethodGet, "/v1/sync/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[SyncStatusResponse](t, rec)
	assert.Equal(t, models.SyncSuccess, status.State)
	assert.Equal(t, models.SyncCounts{Products: 2, Companies: 1, Users: 0}, status.Counts)
	assert.True(t, status.Consistent)
	assert.True(t, status.Scheduled)
}

func TestSync_Signals(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/sync/signals/reboot", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/sync/signals/focus", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCatalog_ListAndFilter(t *testing.T) {
	env := newTestEnv(t)
	env.signedIn(t)

	rec := env.do(t, http.MethodGet, "/v1/catalog/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ProductList](t, rec)
	assert.Equal(t, 2, list.Count)
	assert.False(t, list.Stale)
	assert.NotNil(t, list.LastSyncTime)

	rec = env.do(t, http.MethodGet, "/v1/catalog/products?sort=price_asc", nil)
	assert.Equal(t, "p2", decode[ProductList](t, rec).Items[0].ID)

	rec = env.do(t, http.MethodGet, "/v1/catalog/products?inStock=true&search=moch", nil)
	list = decode[ProductList](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "p1", list.Items[0].ID)

	rec = env.do(t, http.MethodGet, "/v1/catalog/products?minPrice=abc&maxPrice=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decode[models.ErrorResponse](t, rec).Details, 2)

	rec = env.do(t, http.MethodGet, "/v1/catalog/products?minPrice=10&maxPrice=5", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalog_Featured(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/catalog/featured", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[FeaturedList](t, rec).Count, "nothing synced yet")

	env.signedIn(t)

	rec = env.do(t, http.MethodGet, "/v1/catalog/featured?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	featured := decode[FeaturedList](t, rec)
	require.Equal(t, 1, featured.Count)
	assert.Equal(t, "p1", featured.Items[0].ID)
	assert.Equal(t, []string{"Bolsos", "Hogar"}, featured.Categories)

	rec = env.do(t, http.MethodGet, "/v1/catalog/featured", nil)
	assert.Equal(t, 2, decode[FeaturedList](t, rec).Count)

	rec = env.do(t, http.MethodGet, "/v1/catalog/featured?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalog_ProductCategoriesCompanies(t *testing.T) {
	env := newTestEnv(t)
	env.signedIn(t)

	rec := env.do(t, http.MethodGet, "/v1/catalog/products/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Mochila", decode[models.Product](t, rec).Name)

	rec = env.do(t, http.MethodGet, "/v1/catalog/products/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/catalog/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	categories := decode[struct {
		Items []models.Category `json:"items"`
	}](t, rec)
	assert.Len(t, categories.Items, 2)

	rec = env.do(t, http.MethodGet, "/v1/companies", nil)
	companies := decode[struct {
		Items []models.Company `json:"items"`
	}](t, rec)
	require.Len(t, companies.Items, 1)
	assert.Equal(t, "Acme", companies.Items[0].Name)
}

func TestCart_Flow(t *testing.T) {
	env := newTestEnv(t)
	env.signedIn(t)

	rec := env.do(t, http.MethodPost, "/v1/cart/items", AddItemRequest{ProductID: "p1", Quantity: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state := decode[models.CartUpdated](t, rec)
	require.Len(t, state.Items, 1)
	assert.True(t, state.Summary.Subtotal.Equal(decimal.NewFromInt(24000)))
	assert.True(t, state.Summary.Total.Equal(decimal.NewFromInt(29000)))

	rec = env.do(t, http.MethodPost, "/v1/cart/items", AddItemRequest{ProductID: "p2", Quantity: 1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "out of stock")

	rec = env.do(t, http.MethodPost, "/v1/cart/items", AddItemRequest{ProductID: "ghost", Quantity: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/cart/items", AddItemRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	qty := 10
	rec = env.do(t, http.MethodPatch, "/v1/cart/items/p1", UpdateItemRequest{Quantity: &qty})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode[models.CartUpdated](t, rec).Items[0].Quantity)

	rec = env.do(t, http.MethodPatch, "/v1/cart/items/p1", UpdateItemRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/cart/summary", nil)
	assert.Equal(t, 5, decode[models.CartSummary](t, rec).TotalItems)

	rec = env.do(t, http.MethodDelete, "/v1/cart/items/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[models.CartUpdated](t, rec).Items)

	rec = env.do(t, http.MethodDelete, "/v1/cart/items/p1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/cart", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCart_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/cart/items", bytes.NewBufferString("{"))
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFavorites_Toggle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/favorites/products/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ToggleResponse{ID: "p1", Favorite: true}, decode[ToggleResponse](t, rec))

	rec = env.do(t, http.MethodPost, "/v1/favorites/stores/c1", nil)
	assert.True(t, decode[ToggleResponse](t, rec).Favorite)

	rec = env.do(t, http.MethodGet, "/v1/favorites", nil)
	all := decode[models.FavoritesUpdated](t, rec)
	assert.Equal(t, []string{"p1"}, all.Favorites)
	assert.Equal(t, []string{"c1"}, all.FavoriteStores)

	rec = env.do(t, http.MethodPost, "/v1/favorites/products/p1", nil)
	assert.False(t, decode[ToggleResponse](t, rec).Favorite)

	rec = env.do(t, http.MethodGet, "/v1/favorites/products", nil)
	assert.Empty(t, decode[map[string][]string](t, rec)["items"])

	rec = env.do(t, http.MethodGet, "/v1/favorites/stores", nil)
	assert.Equal(t, []string{"c1"}, decode[map[string][]string](t, rec)["items"])
}

func TestCheckout_Flow(t *testing.T) {
	env := newTestEnv(t)
	env.signedIn(t)

	rec := env.do(t, http.MethodPost, "/v1/checkout/preview", PreviewRequest{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/cart/items", AddItemRequest{ProductID: "p1", Quantity: 2})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/checkout/preview", PreviewRequest{PromoCode: "bogus"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/checkout/preview", PreviewRequest{PromoCode: "welcome10"})
	require.Equal(t, http.StatusOK, rec.Code)
	quote := decode[checkout.Quote](t, rec)
	assert.True(t, quote.Total.Equal(decimal.NewFromInt(26600)))

	rec = env.do(t, http.MethodPost, "/v1/checkout", checkout.Request{PaymentMethod: "cash"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "shippingAddress", decode[models.ErrorResponse](t, rec).Details[0].Field)

	rec = env.do(t, http.MethodPost, "/v1/checkout", checkout.Request{ShippingAddress: "Calle 1", PaymentMethod: "cash"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decode[checkout.Receipt](t, rec)
	assert.Equal(t, "s-1", receipt.SaleID)
	assert.Empty(t, env.cart.Items())
}

func TestEvents_PageAndLongPoll(t *testing.T) {
	env := newTestEnv(t)
	start := env.log.CurrentOffset()

	env.do(t, http.MethodPost, "/v1/favorites/products/p1", nil)

	rec := env.do(t, http.MethodGet, "/v1/events?offset="+strconv.FormatInt(start, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[EventsResponse](t, rec)
	require.Equal(t, 1, page.Count)
	assert.Equal(t, events.TopicFavoritesUpdated, page.Events[0].Topic)
	assert.Equal(t, start+1, page.NextOffset)

	rec = env.do(t, http.MethodGet, "/v1/events?offset=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- env.do(t, http.MethodGet, "/v1/events?wait=5&offset="+strconv.FormatInt(page.NextOffset, 10), nil)
	}()

	time.Sleep(20 * time.Millisecond)
	env.do(t, http.MethodPost, "/v1/favorites/stores/c1", nil)

	select {
	case rec := <-done:
		polled := decode[EventsResponse](t, rec)
		require.Equal(t, 1, polled.Count)
		assert.Equal(t, page.NextOffset, polled.Events[0].Offset)
	case <-time.After(3 * time.Second):
		t.Fatal("long poll did not return after a new event")
	}
}
