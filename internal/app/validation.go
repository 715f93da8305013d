package app

import (
	"fmt"
	"strings"

	"execEngine/internal/domain"
	"execEngine/internal/ports"
)

// validateRequest checks every field of the request and returns a PENDING order skeleton
// (without ID or timestamps) or a *ports.ValidationError naming all offending fields.
func validateRequest(req domain.OrderRequest) (*domain.Order, error) {
	verr := &ports.ValidationError{}
	order := &domain.Order{
		UserID: strings.TrimSpace(req.UserID),
		Symbol: strings.TrimSpace(req.Symbol),
		Status: domain.StatusPending,
	}
	if order.UserID == "" {
		order.UserID = domain.DefaultUserID
	}

	if order.Symbol == "" {
		verr.Add("symbol", "is required")
	}

	side, err := domain.ParseOrderSide(req.Side)
	if err != nil {
		verr.Add("side", "must be buy or sell")
	}
	order.Side = side

	typ, err := domain.ParseOrderType(req.Type)
	typeOK := err == nil
	if !typeOK {
		verr.Add("type", "must be one of market, limit, stop, stop_limit")
	}
	order.Type = typ

	if !req.Quantity.IsPositive() {
		verr.Add("quantity", "must be positive")
	}
	order.Quantity = req.Quantity

	switch {
	case req.Price.Valid && !req.Price.Decimal.IsPositive():
		verr.Add("price", "must be positive")
	case typeOK && typ.RequiresPrice() && !req.Price.Valid:
		verr.Add("price", fmt.Sprintf("is required for %s orders", typ))
	}
	order.Price = req.Price

	switch {
	case req.StopPrice.Valid && !req.StopPrice.Decimal.IsPositive():
		verr.Add("stopPrice", "must be positive")
	case typeOK && typ.RequiresStopPrice() && !req.StopPrice.Valid:
		verr.Add("stopPrice", fmt.Sprintf("is required for %s orders", typ))
	}
	order.StopPrice = req.StopPrice

	tif, err := domain.ParseTimeInForce(req.TimeInForce)
	if err != nil {
		verr.Add("timeInForce", "must be one of GTC, IOC, FOK, DAY")
	}
	order.TimeInForce = tif

	if req.ReferencePrice.Valid && !req.ReferencePrice.Decimal.IsPositive() {
		verr.Add("referencePrice", "must be positive")
	}
	order.ReferencePrice = req.ReferencePrice

	if verr.HasErrors() {
		return nil, verr
	}
	return order, nil
}
