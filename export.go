package main

import (
	"context"
	"fmt"

	"execEngine/config"
	"execEngine/internal/adapters/logger"
	"execEngine/internal/adapters/sqlite"
	"execEngine/internal/domain"
	"execEngine/internal/utils"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the order journal and position snapshots to CSV",
	Long: `Reads the SQLite database configured by DB_PATH and writes CSV files.

Example:
  exec-engine export --orders orders.csv --positions positions.csv --symbol BTCUSDT --limit 100`,
	RunE: runExport,
}

var (
	exportOrders    string
	exportPositions string
	exportSymbol    string
	exportUser      string
	exportLimit     int
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportOrders, "orders", "orders.csv", "order journal output file (empty skips)")
	exportCmd.Flags().StringVar(&exportPositions, "positions", "positions.csv", "position snapshot output file (empty skips)")
	exportCmd.Flags().StringVar(&exportSymbol, "symbol", "", "only export orders for this symbol")
	exportCmd.Flags().StringVar(&exportUser, "user", "", "only export orders for this user")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "maximum number of orders, newest first (0 = all)")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "exec-engine"})

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()

	if exportOrders != "" {
		orders, err := repo.FindHistory(ctx, domain.HistoryFilter{Symbol: exportSymbol, UserID: exportUser, Limit: exportLimit})
		if err != nil {
			return fmt.Errorf("read order journal: %w", err)
		}
		if err := utils.WriteOrdersToCSV(orders, exportOrders); err != nil {
			return fmt.Errorf("write %s: %w", exportOrders, err)
		}
		counts, err := repo.CountByStatus(ctx)
		if err != nil {
			return fmt.Errorf("count orders: %w", err)
		}
		appLogger.Info(ctx, "Orders exported", map[string]interface{}{
			"file":     exportOrders,
			"rows":     len(orders),
			"filled":   counts[domain.StatusFilled],
			"canceled": counts[domain.StatusCanceled],
			"rejected": counts[domain.StatusRejected],
		})
	}

	if exportPositions != "" {
		positions, err := repo.FindAllPositions(ctx)
		if err != nil {
			return fmt.Errorf("read position snapshots: %w", err)
		}
		if err := utils.WritePositionsToCSV(positions, exportPositions); err != nil {
			return fmt.Errorf("write %s: %w", exportPositions, err)
		}
		appLogger.Info(ctx, "Positions exported", map[string]interface{}{"file": exportPositions, "rows": len(positions)})
	}
	return nil
}
