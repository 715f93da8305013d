package main

import (
	"context"
	"errors"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"execEngine/config"
	"execEngine/internal/adapters/binanceclient"
	"execEngine/internal/adapters/events"
	"execEngine/internal/adapters/httpapi"
	"execEngine/internal/adapters/logger"
	"execEngine/internal/adapters/metrics"
	"execEngine/internal/adapters/pricing"
	"execEngine/internal/adapters/sqlite"
	"execEngine/internal/app"
	"execEngine/internal/ledger"
	"execEngine/internal/orderstore"
	"execEngine/internal/ports"
	"execEngine/internal/risk"
	"execEngine/internal/simulator"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "exec-engine",
	Short: "Order execution and position accounting engine",
	Long: `Accepts trade orders, simulates their fills asynchronously and keeps
per-symbol positions with average-cost and realized P/L accounting.

Examples:
  exec-engine serve
  exec-engine export --orders orders.csv --positions positions.csv`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the execution engine and its HTTP API",
	RunE:  runServe,
}

var listenAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides LISTEN_ADDR)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "exec-engine"})
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized")

	// 4. Initialize Reference Price Provider
	prices, err := newPriceProvider(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize price provider")
		return err
	}
	appLogger.Info(ctx, "Price provider initialized", map[string]interface{}{"source": cfg.PriceSource})

	// 5. Initialize Order Store, Position Ledger and Fill Simulator
	store := orderstore.New()
	positions := ledger.New()
	sim, err := simulator.New(simulator.Config{
		Delay:    cfg.FillDelay,
		Slippage: &cfg.FillSlippage,
		Logger:   appLogger,
	}, store, positions)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize fill simulator")
		return err
	}

	// 6. Initialize Event Publishers and Metrics
	hub := events.NewHub(appLogger)
	defer hub.Close()
	publishers := events.Multi{hub}
	if cfg.RedisAddr != "" {
		redisPub, err := events.NewRedisPublisher(events.RedisConfig{
			Addr:          cfg.RedisAddr,
			Password:      cfg.RedisPassword,
			DB:            cfg.RedisDB,
			ChannelPrefix: cfg.EventChannelPrefix,
		}, appLogger)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize Redis publisher")
			return err
		}
		defer redisPub.Close()
		publishers = append(publishers, redisPub)
	}
	execMetrics := metrics.NewMetrics()

	// 7. Initialize Application Service
	opts := []app.Option{
		app.WithPriceProvider(prices),
		app.WithOrderJournal(repo),
		app.WithPositionRepository(repo),
		app.WithEventPublisher(publishers),
		app.WithMetrics(execMetrics),
	}
	riskCfg := risk.RiskConfig{
		MaxOrderQuantity:    cfg.MaxOrderQuantity,
		MaxOrderNotional:    cfg.MaxOrderNotional,
		MaxPositionQuantity: cfg.MaxPositionQuantity,
	}
	var riskManager *risk.RiskManager
	if riskCfg.Enabled() {
		riskManager = risk.NewRiskManager(riskCfg, positions)
		opts = append(opts, app.WithOrderGuard(riskManager))
		appLogger.Info(ctx, "Pre-trade limits enabled", map[string]interface{}{
			"maxOrderQty":      cfg.MaxOrderQuantity.String(),
			"maxOrderNotional": cfg.MaxOrderNotional.String(),
			"maxPositionQty":   cfg.MaxPositionQuantity.String(),
		})
	}

	svc, err := app.NewExecutionService(appLogger, store, positions, sim, opts...)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize execution service")
		return err
	}
	sim.SetListener(svc)
	if err := svc.Restore(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to restore persisted state")
		return err
	}
	appLogger.Info(ctx, "Execution service initialized")

	// 8. Start Position Snapshot Job
	var snapshots *app.SnapshotJob
	if cfg.SnapshotSchedule != "" {
		snapshots, err = app.NewSnapshotJob(cfg.SnapshotSchedule, svc, appLogger)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to schedule position snapshots")
			return err
		}
		snapshots.Start()
	}

	// 9. Start HTTP Server
	health := map[string]func() interface{}{}
	if snapshots != nil {
		health["snapshots"] = func() interface{} { return snapshots.Status() }
	}
	server := httpapi.NewServer(cfg.ListenAddr, httpapi.NewRouter(httpapi.RouterConfig{
		Engine:      svc,
		Logger:      appLogger,
		Metrics:     execMetrics.Handler(),
		Stream:      hub,
		Health:      health,
		SubmitRate:  cfg.SubmitRateLimit,
		SubmitBurst: cfg.SubmitBurst,
	}))
	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": cfg.ListenAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// 10. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-sigCh:
		appLogger.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("http server failed: %w", err)
			appLogger.Error(ctx, runErr, "HTTP server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(ctx, err, "Error shutting down HTTP server")
	}
	if snapshots != nil {
		snapshots.Stop()
	}
	svc.Close()
	if n, err := svc.SnapshotPositions(shutdownCtx); err != nil {
		appLogger.Error(ctx, err, "Final position snapshot failed")
	} else {
		appLogger.Info(ctx, "Final position snapshot saved", map[string]interface{}{"positions": n})
	}
	if riskManager != nil {
		stats := riskManager.GetStats()
		appLogger.Info(ctx, "Pre-trade check summary", map[string]interface{}{
			"checked":  stats.Checked,
			"rejected": stats.Rejected,
		})
	}

	appLogger.Info(ctx, "Application finished gracefully.")
	return runErr
}

func newPriceProvider(ctx context.Context, cfg *config.Config, appLogger ports.Logger) (ports.PriceProvider, error) {
	switch cfg.PriceSource {
	case config.PriceSourceBinance:
		client, err := binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			CacheTTL:   cfg.PriceCacheTTL,
			Logger:     appLogger,
		})
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx); err != nil {
			// Orders with their own reference price still work.
			appLogger.Warn(ctx, "Binance is unreachable at startup", map[string]interface{}{"error": err.Error()})
		}
		return client, nil
	default:
		overrides, err := pricing.ParseStaticPrices(cfg.StaticPrices)
		if err != nil {
			return nil, fmt.Errorf("invalid STATIC_PRICES: %w", err)
		}
		return pricing.NewStaticProvider(overrides), nil
	}
}
