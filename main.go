package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/astralane/marketd/backend/handlers"
	"github.com/astralane/marketd/backend/middleware"
	"github.com/astralane/marketd/marketd"
	"github.com/astralane/marketd/marketd/chain"
	"github.com/astralane/marketd/marketd/database"
	"github.com/astralane/marketd/marketd/database/repositories"
	"github.com/astralane/marketd/marketd/events"
	"github.com/astralane/marketd/marketd/logger"
	"github.com/astralane/marketd/marketd/market"
	"github.com/astralane/marketd/marketd/pending"
	"github.com/astralane/marketd/marketd/syncgw"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := "config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// Initialize logger first
	customHandler := logger.NewHandler("marketd")
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting marketd",
		slog.String("version", version),
		slog.String("commit", commit))

	// Load configuration
	cfg, err := marketd.LoadConfig(configPath)
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("Connecting to database...")
	db, err := database.New(ctx, database.DBConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Database: cfg.DB.Database,
		PoolSize: cfg.DB.PoolSize,
	})
	if err != nil {
		slog.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := database.InitializeSchema(ctx, db); err != nil {
		slog.Error("Failed to initialize schema", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("Database connected successfully")

	// Initialize repositories
	currencyRepo := repositories.NewCurrencyRepository(db.BunDB())
	listingRepo := repositories.NewListingRepository(db.BunDB())
	auctionRepo := repositories.NewAuctionRepository(db.BunDB())
	pendingRepo := repositories.NewPendingActionRepository(db.BunDB())
	activityRepo := repositories.NewActivityRepository(db.BunDB())
	ownerRepo := repositories.NewOwnershipRepository(db.BunDB())

	registry, err := market.NewRegistry(currencyRepo,
		cfg.Market.NativeSymbol, cfg.Market.NativeDecimals, cfg.Market.CurrencyCacheSize)
	if err != nil {
		slog.Error("Failed to build currency registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Connect to the ledger node
	reader, err := chain.Dial(cfg.Chain.RPCURL, chain.Config{
		Contract:    common.HexToAddress(cfg.Chain.MarketplaceContract),
		CallTimeout: cfg.Chain.CallTimeout(),
		MaxInflight: cfg.Chain.MaxInflightReads,
	})
	if err != nil {
		slog.Error("Failed to connect to chain node",
			slog.String("rpc_url", cfg.Chain.RPCURL),
			slog.String("error", err.Error()))
		os.Exit(1)
	}
	source := market.NewChainSource(reader)

	// Wire the domain layer
	hub := events.NewHub()
	listings := market.NewListingManager(listingRepo, activityRepo, ownerRepo, registry)
	auctions := market.NewAuctionManager(auctionRepo, activityRepo, ownerRepo, registry,
		source, hub, cfg.Market.AntiSnipeWindow(), cfg.Market.AntiSnipeExtension())
	tracker := pending.NewTracker(pendingRepo, auctionRepo, listingRepo, source, hub)
	gateway := syncgw.NewGateway(reader, tracker, listings, auctions, listingRepo, auctionRepo)

	app := fiber.New(fiber.Config{
		AppName:      "marketd",
		ServerHeader: "marketd",
		ErrorHandler: middleware.CustomErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(middleware.SecurityHeaders())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))
	app.Use(middleware.LoggingMiddleware())

	webApp := &handlers.WebApp{
		Config:       cfg,
		DB:           db,
		Listings:     listings,
		Auctions:     auctions,
		Tracker:      tracker,
		Gateway:      gateway,
		Hub:          hub,
		Source:       source,
		ListingRepo:  listingRepo,
		AuctionRepo:  auctionRepo,
		OwnerRepo:    ownerRepo,
		ActivityRepo: activityRepo,
		Version:      version,
	}

	setupRoutes(app, webApp)

	address := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	slog.Info("Starting server", slog.String("address", address))

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := app.Listen(address); err != nil {
			slog.Error("Failed to start server", slog.String("error", err.Error()))
		}
	}()

	<-c
	slog.Info("Shutting down...")

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		slog.Error("Server shutdown error", slog.String("error", err.Error()))
	}

	db.Close()
	slog.Info("Shutdown complete")
}

// setupRoutes configures all application routes
func setupRoutes(app *fiber.App, webApp *handlers.WebApp) {
	app.Get("/health", handlers.HealthCheck(webApp))

	api := app.Group("/api")

	// Pending intents submitted ahead of chain confirmation
	pendingGroup := api.Group("/pending-actions")
	pendingGroup.Post("/", middleware.MutationRateLimit(), handlers.PendingActionCreate(webApp))
	pendingGroup.Get("/", middleware.APIRateLimit(), handlers.PendingActionList(webApp))

	// Sync entry points fed by the chain indexer
	sync := api.Group("/sync", middleware.MutationRateLimit())
	sync.Post("/listings/create", handlers.SyncListingCreate(webApp))
	sync.Post("/listings/cancel", handlers.SyncListingCancel(webApp))
	sync.Post("/auctions/create", handlers.SyncAuctionCreate(webApp))
	sync.Post("/auctions/bid", handlers.SyncAuctionBid(webApp))
	sync.Post("/auctions/cancel", handlers.SyncAuctionCancel(webApp))
	sync.Post("/auctions/finalize", handlers.SyncAuctionFinalize(webApp))

	api.Post("/listings/outcome", middleware.MutationRateLimit(), handlers.ListingOutcomeAttach(webApp))

	// Browse and streaming surfaces
	api.Get("/listings/active", middleware.APIRateLimit(), handlers.ActiveListings(webApp))
	api.Get("/auctions/active", middleware.APIRateLimit(), handlers.ActiveAuctions(webApp))
	api.Get("/activities", middleware.APIRateLimit(), handlers.RecentActivity(webApp))
	api.Get("/stream/auctions/:id", handlers.StreamAuction(webApp))
	api.Get("/stream/wallets/:address", handlers.StreamWallet(webApp))
}
