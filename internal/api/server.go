package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"cointoss/internal/domain"
	"cointoss/internal/infra"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
)

// Source is the engine surface the status API reads from.
type Source interface {
	ActiveOrders() []domain.OrderView
	CurrentPositions() []domain.Position
	Unrealized() decimal.Decimal
	Watermark() int64
	Metrics() infra.MetricsSnapshot
	CancelByID(ctx context.Context, id string) (domain.OrderView, error)
}

// Server exposes orders, positions and counters over HTTP.
type Server struct {
	src     Source
	router  *mux.Router
	handler http.Handler
	logger  *slog.Logger
}

type positionsResponse struct {
	Positions  []domain.Position `json:"positions"`
	Unrealized decimal.Decimal   `json:"unrealized"`
}

type statusResponse struct {
	Watermark int64                 `json:"watermark"`
	Metrics   infra.MetricsSnapshot `json:"metrics"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewServer creates the server and its routes. Browsers from allowedOrigins may call the API;
// with no origins, cross-origin requests are refused.
func NewServer(src Source, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		src:    src,
		router: mux.NewRouter(),
		logger: logger.With("module", "api"),
	}
	s.setupRoutes()

	s.handler = s.router
	if len(allowedOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		})
		s.handler = c.Handler(s.router)
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleGetOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	api.HandleFunc("/positions", s.handleGetPositions).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleGetStatus).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status API listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.src.ActiveOrders()
	if orders == nil {
		orders = []domain.OrderView{}
	}
	respondJSON(w, http.StatusOK, orders)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	view, err := s.src.CancelByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownOrder) {
			respondError(w, http.StatusNotFound, "order not found", id)
			return
		}
		s.logger.Warn("Cancel via API failed", slog.String("id", id), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "cancel failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.src.CurrentPositions()
	if positions == nil {
		positions = []domain.Position{}
	}
	respondJSON(w, http.StatusOK, positionsResponse{
		Positions:  positions,
		Unrealized: s.src.Unrealized(),
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		Watermark: s.src.Watermark(),
		Metrics:   s.src.Metrics(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	respondJSON(w, status, ErrorResponse{Error: msg, Message: detail})
}
