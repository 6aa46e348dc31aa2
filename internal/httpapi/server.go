package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"breakout/internal/backtest"
	"breakout/internal/domain"
)

// BreakerState reports the state of the market-data circuit breaker.
type BreakerState interface {
	State() string
}

// Options configures NewServer. Every field is optional.
type Options struct {
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Breaker BreakerState
	Version string
	Logger  *slog.Logger
}

// Server serves the backtest HTTP API.
type Server struct {
	svc     *backtest.Service
	metrics http.Handler
	breaker BreakerState
	version string
	log     *slog.Logger
}

// NewServer creates a new backtest HTTP server.
func NewServer(svc *backtest.Service, o Options) *Server {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Server{
		svc:     svc,
		metrics: o.Metrics,
		breaker: o.Breaker,
		version: o.Version,
		log:     o.Logger.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/variants", s.handleVariants)
	mux.HandleFunc("GET /api/variants/{variant}", s.handleVariant)
	mux.HandleFunc("GET /api/backtest/{variant}", s.handleBacktest)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// StatusFor maps a run error to an HTTP status code.
func StatusFor(err error) int {
	switch backtest.Outcome(err) {
	case "ok":
		return http.StatusOK
	case "invalid_parameter":
		return http.StatusBadRequest
	case "no_data":
		return http.StatusNotFound
	case "data_shape":
		return http.StatusUnprocessableEntity
	case "unavailable":
		return http.StatusServiceUnavailable
	case "timeout":
		return http.StatusGatewayTimeout
	case "canceled":
		// Client closed the request.
		return 499
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: err.Error(), Outcome: backtest.Outcome(err)}
	var ipe *domain.InvalidParameterError
	if errors.As(err, &ipe) {
		resp.Field = ipe.Field
	}
	if status >= 500 {
		s.log.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.log.Info("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, resp)
}

func (s *Server) handleVariants(w http.ResponseWriter, _ *http.Request) {
	all := s.svc.Registry().All()
	resp := VariantsResponse{Variants: make([]VariantJSON, 0, len(all))}
	for _, v := range all {
		resp.Variants = append(resp.Variants, variantToJSON(v))
	}
	writeJSON(w, resp)
}

func (s *Server) handleVariant(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Variant(r.PathValue("variant"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, variantToJSON(v))
}

// handleBacktest runs a variant with the query parameters. format=csv
// returns the result table as an attachment instead of the JSON document.
func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := strings.ToLower(q.Get("format"))
	if format != "" && format != "json" && format != "csv" {
		s.fail(w, r, domain.InvalidParam("format", "want json or csv, got %q", format))
		return
	}

	res, err := s.svc.RunQuery(r.Context(), r.PathValue("variant"), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if format != "csv" {
		writeJSON(w, res)
		return
	}

	// Render first so an encoding failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := res.WriteCSV(&buf); err != nil {
		s.fail(w, r, fmt.Errorf("rendering csv: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.FileName))
	w.Header().Set("X-Run-Id", res.RunID)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log.Warn("writing csv response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version}
	if s.breaker != nil {
		resp.Provider = s.breaker.State()
		if resp.Provider == "open" {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, resp)
}
