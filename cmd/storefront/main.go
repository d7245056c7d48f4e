package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/scentara/storefront-cart/internal/auth"
	"github.com/scentara/storefront-cart/internal/cart"
	"github.com/scentara/storefront-cart/internal/catalog"
	"github.com/scentara/storefront-cart/internal/config"
	h "github.com/scentara/storefront-cart/internal/http"
	"github.com/scentara/storefront-cart/internal/localcart"
	"github.com/scentara/storefront-cart/internal/logger"
	"github.com/scentara/storefront-cart/internal/reconcile"
	"github.com/scentara/storefront-cart/internal/servercart"
	"github.com/scentara/storefront-cart/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()
	zap.ReplaceGlobals(zl)

	// trace context flows from storefront requests to the cart and catalog APIs
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Guest cart storage
	var (
		store       storage.KV
		redisClient *redis.Client
	)
	switch cfg.StorageDriver {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			zl.Fatal("redis connection failed", zap.Error(err))
		}
		store = storage.NewRedisStore(redisClient, cfg.CartRetention)
		zl.Info("guest carts stored in redis", zap.String("addr", cfg.RedisAddr))
	case "mongo":
		db, err := storage.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			zl.Fatal("mongodb connection failed", zap.Error(err))
		}
		defer db.Client().Disconnect(context.Background())
		mongoStore := storage.NewMongoStore(db, cfg.CartRetention)
		if err := mongoStore.CreateIndexes(ctx); err != nil {
			zl.Fatal("failed to create guest cart indexes", zap.Error(err))
		}
		store = mongoStore
		zl.Info("guest carts stored in mongodb", zap.String("db", cfg.MongoDBName))
	default:
		store = storage.NewMemoryStore()
		zl.Warn("guest carts stored in memory; they do not survive a restart")
	}

	// Catalog snapshot, cached in redis when available
	var snapshotCache catalog.SnapshotCache
	if redisClient != nil {
		snapshotCache = catalog.NewRedisCache(redisClient, cfg.CatalogCacheTTL)
	}
	catalogService := catalog.NewService(catalog.NewClient(cfg.CatalogAPIURL, cfg.RequestTimeout), snapshotCache, zl)

	// Sync events and catalog invalidation
	var publisher reconcile.EventPublisher = reconcile.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := reconcile.NewKafkaPublisher(cfg.KafkaBrokers...)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher

		invalidator := catalog.NewInvalidator(catalogService, zl, cfg.KafkaBrokers...)
		defer invalidator.Close()
		go invalidator.Run(ctx)
		zl.Info("kafka enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	cartAPI := servercart.NewClient(cfg.CartAPIURL, cfg.RequestTimeout, zl)
	cartHandler := h.NewCartHandler(h.Deps{
		Store:      store,
		Remote:     func(tokens auth.TokenSource) cart.RemoteCart { return cartAPI.For(tokens) },
		Catalog:    catalogService,
		Locks:      localcart.NewLocks(),
		Reconciler: reconcile.New(publisher, zl, reconcile.WithSessionTTL(cfg.SyncSessionTTL)),
		Currency:   cfg.Currency,
		Retention:  cfg.CartRetention,
		Timeout:    cfg.RequestTimeout,
		Log:        zl,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(h.NewRouter(cartHandler, cfg.RequestTimeout), "storefront-cart"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zl.Info("storefront cart starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	zl.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}
	zl.Info("server exited")
}
