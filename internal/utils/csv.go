package utils

import (
	"encoding/csv"
	"execEngine/internal/domain"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

func WriteOrdersToCSV(orders []*domain.Order, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"id", "user_id", "symbol", "side", "type", "quantity", "price", "stop_price",
		"time_in_force", "status", "filled_quantity", "average_price", "reference_price", "reject_reason",
		"created_at", "updated_at"})

	for _, o := range orders {
		writer.Write([]string{
			o.ID,
			o.UserID,
			o.Symbol,
			string(o.Side),
			string(o.Type),
			o.Quantity.String(),
			nullable(o.Price),
			nullable(o.StopPrice),
			string(o.TimeInForce),
			string(o.Status),
			o.FilledQuantity.String(),
			nullable(o.AveragePrice),
			nullable(o.ReferencePrice),
			o.RejectReason,
			o.CreatedAt.Format(time.RFC3339Nano),
			o.UpdatedAt.Format(time.RFC3339Nano),
		})
	}
	writer.Flush()
	return writer.Error()
}

func WritePositionsToCSV(positions []*domain.Position, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"symbol", "quantity", "average_price", "realized_pnl", "last_updated"})

	for _, p := range positions {
		writer.Write([]string{
			p.Symbol,
			p.Quantity.String(),
			p.AveragePrice.String(),
			p.RealizedPnL.String(),
			p.LastUpdated.Format(time.RFC3339Nano),
		})
	}
	writer.Flush()
	return writer.Error()
}

func nullable(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
