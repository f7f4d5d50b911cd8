package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"marketplace-storefront/internal/cart"
	"marketplace-storefront/internal/catalog"
	"marketplace-storefront/internal/checkout"
	"marketplace-storefront/internal/client"
	"marketplace-storefront/internal/config"
	"marketplace-storefront/internal/datasync"
	"marketplace-storefront/internal/events"
	"marketplace-storefront/internal/favorites"
	"marketplace-storefront/internal/handlers"
	"marketplace-storefront/internal/logging"
	"marketplace-storefront/internal/models"
	"marketplace-storefront/internal/session"
	"marketplace-storefront/internal/storage"
	"marketplace-storefront/internal/telemetry"
	"marketplace-storefront/internal/views"
)

const version = "1.0.0"

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	logger.Info("Starting marketplace storefront agent",
		"version", version,
		"environment", cfg.Environment,
		"backend", cfg.BackendURL,
		"storage", cfg.StorageDriver)

	// ctx lives until shutdown; the sync schedule and storage watchers run under it
	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	// Initialize OpenTelemetry telemetry system
	otelTelemetry := telemetry.InitMetrics(ctx, "marketplace-storefront", cfg.MetricsExporter, cfg.MetricsPort)
	metrics, err := telemetry.NewStorefrontTelemetry(otelTelemetry.Meter())
	if err != nil {
		logger.Error("Failed to initialize storefront telemetry", "error", err)
		return
	}
	logger.Info("Telemetry initialized", "exporter", cfg.MetricsExporter)

	store, closeStore, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		return
	}
	logger.Info("Storage opened", "driver", cfg.StorageDriver)

	bus := events.NewBus(logging.Component("events"))
	eventLog := events.NewLog(cfg.EventLogSize, logging.Component("events"))
	detachLog := eventLog.Attach(bus)

	backend := client.New(cfg.BackendURL, cfg.BackendTimeout, client.WithTelemetry(metrics))
	sess := session.NewManager(store, backend)
	backend.SetTokenSource(sess)
	if cfg.BackendToken != "" {
		if err := sess.SetToken(ctx, cfg.BackendToken, nil); err != nil {
			logger.Error("Failed to store configured backend token", "error", err)
			return
		}
		logger.Info("Using backend token from configuration")
	}

	shopCart := cart.NewService(ctx, store, bus, cart.Pricing{
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		FlatShippingFee:       cfg.FlatShippingFee,
	}, cart.WithTelemetry(metrics))

	manager := datasync.NewManager(backend, sess, store, bus, shopCart, datasync.Config{
		Interval:     cfg.SyncInterval,
		InitialDelay: cfg.SyncInitialDelay,
		StaleAfter:   cfg.SyncStaleAfter,
	}, datasync.WithTelemetry(metrics))

	favs := favorites.NewService(ctx, store, bus)
	categories := catalog.NewCategoryService(backend, manager.GetCachedProducts, cfg.CategoryCacheTTL)
	checkoutService := checkout.NewService(shopCart, backend, cfg.PromoCodes, metrics)

	// Follow the snapshot and the cart the same way a UI would
	syncView := views.NewSyncView(manager, bus)
	syncView.OnChange(func(state views.SyncState) {
		categories.Invalidate()
		logger.Info("Catalog snapshot refreshed",
			"products", len(state.Products),
			"companies", len(state.Companies))
	})
	// Featured listing: the snapshot ranked by popularity, kept current by the view
	featuredView := views.NewCatalogView(syncView, cfg.SearchDebounce)
	featuredView.SetSort(catalog.SortPopularity)
	featuredView.OnChange(func(state views.CatalogState) {
		logger.Debug("Featured listing updated",
			"products", len(state.Products),
			"categories", len(state.Categories))
	})
	cartView := views.NewCartView(shopCart, bus)
	cartView.OnChange(func(update models.CartUpdated) {
		logger.Debug("Cart changed",
			"lines", len(update.Items),
			"items", update.Summary.TotalItems,
			"total", update.Summary.Total.String())
	})

	if sess.IsAuthenticated(ctx) {
		if err := manager.Start(ctx); err != nil {
			logger.Warn("Sync schedule not started", "error", err)
		}
	} else {
		logger.Info("No session yet; sync starts after login")
	}

	router := handlers.NewRouter(handlers.Handlers{
		Health:    handlers.NewHealthHandler(backend, manager, version),
		Catalog:   handlers.NewCatalogHandler(manager, categories, featuredView),
		Cart:      handlers.NewCartHandler(shopCart, manager),
		Sync:      handlers.NewSyncHandler(manager),
		Favorites: handlers.NewFavoritesHandler(favs),
		Checkout:  handlers.NewCheckoutHandler(checkoutService),
		Session:   handlers.NewSessionHandler(ctx, sess, manager),
		Events:    handlers.NewEventsHandler(eventLog, logging.Component("events")),
	}, cfg.APIKeys, metrics)

	logger.Debug("Available endpoints",
		"v1_endpoints", []string{
			"GET /v1/catalog/products",
			"GET /v1/catalog/products/{id}",
			"GET /v1/catalog/featured",
			"GET /v1/catalog/categories",
			"GET /v1/companies",
			"GET|DELETE /v1/cart",
			"POST /v1/cart/items",
			"PATCH|DELETE /v1/cart/items/{id}",
			"GET /v1/sync/status",
			"POST /v1/sync/force",
			"POST /v1/sync/signals/{signal}",
			"GET /v1/favorites",
			"POST /v1/favorites/products/{id}",
			"POST /v1/favorites/stores/{id}",
			"POST /v1/checkout/preview",
			"POST /v1/checkout",
			"GET /v1/session",
			"POST /v1/session/login",
			"POST /v1/session/logout",
			"GET /v1/events",
		},
		"events_params", []string{
			"?offset=<number> (optional: defaults to the current end)",
			"?limit=<number> (optional: max events, default 100)",
			"?wait=<seconds> (optional: long polling, default 0)",
		},
		"system_endpoints", []string{
			"GET /health",
		})

	// Create HTTP server
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server ready to accept connections", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Give outstanding requests a deadline for completion
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Stop background work before the store goes away
	manager.Stop()
	cancelRun()
	featuredView.Close()
	syncView.Close()
	cartView.Close()
	categories.Stop()
	favs.Close()
	shopCart.Close()
	detachLog()

	if err := closeStore(); err != nil {
		logger.Error("Error closing storage", "error", err)
	}

	otelTelemetry.Shutdown(shutdownCtx)
	logger.Info("Telemetry shutdown completed")

	logger.Info("Server exited")
}
