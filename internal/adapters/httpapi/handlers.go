package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"execEngine/internal/domain"
	"execEngine/internal/ports"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// Engine is the part of the execution service the HTTP surface drives.
type Engine interface {
	Submit(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)
	Cancel(ctx context.Context, orderID string) (*domain.Order, error)
	Get(ctx context.Context, orderID string) (*domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter) []*domain.Order
	History(ctx context.Context, filter domain.HistoryFilter) []*domain.Order
	Positions(ctx context.Context, symbol string) []domain.Position
	Position(ctx context.Context, symbol string) (domain.Position, error)
	ReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, bool)
}

// Handler serves the order and position endpoints.
type Handler struct {
	engine Engine
	logger ports.Logger
}

// NewHandler creates a new handler.
func NewHandler(engine Engine, logger ports.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error  string             `json:"error"`
	Fields []ports.FieldError `json:"fields,omitempty"`
}

// positionView adds the mark-to-market valuation to a ledger position.
type positionView struct {
	domain.Position
	MarkPrice     *decimal.Decimal `json:"markPrice,omitempty"`
	UnrealizedPnL *decimal.Decimal `json:"unrealizedPnl,omitempty"`
}

// SubmitOrder creates a new order
// POST /api/orders
func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	order, err := h.engine.Submit(r.Context(), req)
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

// CancelOrder cancels an active order
// DELETE /api/orders/{id}
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.engine.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// GetOrder returns one order from the active set or history
// GET /api/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.engine.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// ListOrders returns active orders
// GET /api/orders?symbol=&status=&userId=
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.OrderFilter{Symbol: q.Get("symbol"), UserID: q.Get("userId")}
	if raw := q.Get("status"); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{
				Error:  ports.ErrInvalidRequest.Error(),
				Fields: []ports.FieldError{{Field: "status", Message: err.Error()}},
			})
			return
		}
		filter.Status = status
	}
	respondJSON(w, http.StatusOK, h.engine.List(r.Context(), filter))
}

// OrderHistory returns archived orders, newest first
// GET /api/order-history?symbol=&userId=&limit=
func (h *Handler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.HistoryFilter{Symbol: q.Get("symbol"), UserID: q.Get("userId")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{
				Error:  ports.ErrInvalidRequest.Error(),
				Fields: []ports.FieldError{{Field: "limit", Message: "must be an integer"}},
			})
			return
		}
		filter.Limit = limit
	}
	respondJSON(w, http.StatusOK, h.engine.History(r.Context(), filter))
}

// ListPositions returns all positions or the one named by ?symbol=
// GET /api/positions
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.engine.Positions(r.Context(), r.URL.Query().Get("symbol"))
	views := make([]positionView, 0, len(positions))
	for _, pos := range positions {
		views = append(views, h.view(r.Context(), pos))
	}
	respondJSON(w, http.StatusOK, views)
}

// GetPosition returns the position for one symbol
// GET /api/positions/{symbol}
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.engine.Position(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view(r.Context(), pos))
}

func (h *Handler) view(ctx context.Context, pos domain.Position) positionView {
	v := positionView{Position: pos}
	if mark, ok := h.engine.ReferencePrice(ctx, pos.Symbol); ok {
		upnl := pos.UnrealizedPnL(mark)
		v.MarkPrice = &mark
		v.UnrealizedPnL = &upnl
	}
	return v
}

// respondEngineError maps engine errors to status codes.
func (h *Handler) respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ports.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: ports.ErrInvalidOrderRequest.Error(), Fields: verr.Fields})
	case errors.Is(err, ports.ErrInvalidOrderRequest), errors.Is(err, ports.ErrInvalidRequest):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, ports.ErrOrderNotFound), errors.Is(err, ports.ErrPositionNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, ports.ErrIllegalCancel):
		respondJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, ports.ErrEngineClosed):
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		h.logger.Error(r.Context(), err, "Request failed", map[string]interface{}{"method": r.Method, "path": r.URL.Path})
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
