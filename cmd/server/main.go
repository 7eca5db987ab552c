// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	binanceservice "laddertrade/internal/binance/service"
	"laddertrade/internal/config"
	"laddertrade/internal/exchange"
	"laddertrade/internal/ladder/repository"
	ladderservice "laddertrade/internal/ladder/service"
	ladderhttp "laddertrade/internal/ladder/transport/http"
	"laddertrade/internal/logger"
	"laddertrade/internal/metrics"
	"laddertrade/internal/paper"
	scannerservice "laddertrade/internal/scanner/service"
	scannerhttp "laddertrade/internal/scanner/transport/http"
	"laddertrade/pkg/db"
	"laddertrade/pkg/middleware"
)

var server *http.Server

func main() {
	fmt.Println("Laddertrade starting...")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if err := logger.Init(); err != nil {
		log.Fatalf("Logger init failed: %v", err)
	}
	metrics.InitMetrics()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	logger.Info(ctx, "Config loaded", "exchange_mode", cfg.ExchangeMode, "tick", cfg.Ladder.TickInterval.String())

	// --- ХРАНИЛИЩЕ ---
	var repo repository.PlanRepository
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Database connection failed: %v", err)
		}
		defer database.Close()
		if err := db.EnsureSchema(ctx, database); err != nil {
			log.Fatalf("Database schema failed: %v", err)
		}
		repo = repository.NewPostgresPlanRepo(database)
		logger.Info(ctx, "Connected to PostgreSQL")
	} else {
		repo = repository.NewMemoryPlanRepo()
		logger.Warn(ctx, "DATABASE_URL is empty, plans are kept in memory only")
	}

	// --- БИРЖА ---
	client := binanceservice.NewFuturesClient(binanceservice.ClientConfig{
		APIKey:    cfg.BinanceAPIKey,
		SecretKey: cfg.BinanceSecretKey,
		Testnet:   cfg.BinanceTestnet,
		ProxyAddr: cfg.BinanceProxy,
	})
	prices := binanceservice.NewPriceStream(5 * time.Second)
	if err := prices.Start(ctx); err != nil {
		logger.Warn(ctx, "Ticker stream unavailable, using REST prices", "error", err)
	}

	var (
		gateway exchange.OrderGateway
		feed    exchange.MarketFeed
		tickers exchange.TickerSource
	)
	switch cfg.ExchangeMode {
	case config.ExchangeBinance:
		clock := binanceservice.NewTimeSyncService(client)
		clock.Start(ctx)
		orders := binanceservice.NewOrderStream(client)
		if err := orders.Start(ctx); err != nil {
			logger.Warn(ctx, "User data stream unavailable, polling order status", "error", err)
			orders = nil
		}
		futuresGateway := binanceservice.NewFuturesGateway(client, prices, orders, clock)
		gateway, feed, tickers = futuresGateway, futuresGateway, futuresGateway
	default:
		market := binanceservice.NewFuturesGateway(client, prices, nil, nil)
		sim := paper.New(market)
		gateway, feed, tickers = sim, sim, market
		logger.Info(ctx, "Paper trading: orders are simulated, prices are live")
	}

	// --- ИНИЦИАЛИЗАЦИЯ СЛОЁВ ---
	manager := ladderservice.NewManager(ctx, gateway, feed, repo, ladderservice.ManagerConfig{
		TickInterval: cfg.Ladder.TickInterval,
		Retry: ladderservice.RetryPolicy{
			CallTimeout: cfg.Ladder.CallTimeout,
			MaxRetries:  cfg.Ladder.MaxRetries,
			MinBackoff:  200 * time.Millisecond,
			MaxBackoff:  2 * time.Second,
		},
	})
	restored, err := manager.Restore(ctx)
	if err != nil {
		log.Fatalf("Restore failed: %v", err)
	}
	logger.Info(ctx, "Ladders restored", "count", restored)

	ladderHandler := ladderhttp.NewHandler(manager, cfg.Ladder.EntryOffset, cfg.Ladder.TagPrefix, cfg.Ladder.TickInterval)
	scannerHandler := scannerhttp.NewHandler(scannerservice.NewScanner(tickers, scannerservice.Filter{
		MinAbsChange:   cfg.Scanner.MinAbsChange,
		MinQuoteVolume: cfg.Scanner.MinQuoteVolume,
		QuoteAsset:     cfg.Scanner.QuoteAsset,
		Limit:          cfg.Scanner.Limit,
	}))

	// --- РОУТЕР ---
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.NewRateLimiter(cfg.RateLimit, time.Minute).Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.With(middleware.BasicAuth("metrics", cfg.MetricsUser, cfg.MetricsPassword)).
		Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		if cfg.OperatorJWTSecret != "" {
			api.Use(middleware.JWTAuth(cfg.OperatorJWTSecret))
		} else {
			logger.Warn(ctx, "OPERATOR_JWT_SECRET is empty, /api is not authenticated")
		}
		api.Use(middleware.ValidateRequest)
		ladderHandler.Routes(api)
		api.Get("/scanner", scannerHandler.Scan)
	})

	server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown на сигналы ОС
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		logger.Info(ctx, "Shutdown signal received, starting graceful shutdown")
		shutdownServer(manager)
	}()

	logger.Info(ctx, "Server running", "addr", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	<-idle
	stop()
}

func shutdownServer(manager *ladderservice.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Server shutdown failed", err)
	}
	// working orders stay on the book, the next start restores their plans
	if err := manager.Shutdown(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Ladder runners did not stop in time", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		log.Printf("Logger shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
