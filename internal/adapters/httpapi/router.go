package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"execEngine/internal/ports"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Engine  Engine
	Logger  ports.Logger
	Metrics http.Handler // Served at /metrics when set
	Stream  http.Handler // Served at /ws when set
	// Health adds named sections to /api/health.
	Health map[string]func() interface{}

	// SubmitRate is the sustained order submissions per second; 0 disables throttling.
	SubmitRate  float64
	SubmitBurst int
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg RouterConfig) http.Handler {
	h := NewHandler(cfg.Engine, cfg.Logger)

	var limiter *rate.Limiter
	if cfg.SubmitRate > 0 {
		burst := cfg.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), burst)
	}

	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/api/health", healthCheckHandler(cfg.Health)).Methods("GET")
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods("GET")
	}
	if cfg.Stream != nil {
		r.Handle("/ws", cfg.Stream).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// Orders
	api.HandleFunc("/orders", rateLimit(limiter, h.SubmitOrder)).Methods("POST")
	api.HandleFunc("/orders", h.ListOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}", h.CancelOrder).Methods("DELETE")
	api.HandleFunc("/order-history", h.OrderHistory).Methods("GET")

	// Positions
	api.HandleFunc("/positions", h.ListPositions).Methods("GET")
	api.HandleFunc("/positions/{symbol}", h.GetPosition).Methods("GET")

	// Apply middleware
	r.Use(loggingMiddleware(cfg.Logger))
	r.Use(recoveryMiddleware(cfg.Logger))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(sections map[string]func() interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":  "ok",
			"service": "exec-engine",
			"time":    time.Now().UTC().Format(time.RFC3339),
		}
		for name, report := range sections {
			body[name] = report()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}

// NewServer creates the HTTP server for the router.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
