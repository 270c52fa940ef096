package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"evalgate/internal/domain"
	"evalgate/internal/engine"
	"evalgate/internal/promotion"
	"evalgate/internal/store"
)

const defaultEvaluationLimit = 20

// RiskCheckRequest is the body of POST /api/risk/check.
type RiskCheckRequest struct {
	Order     engine.OrderRequest   `json:"order"`
	Portfolio engine.PortfolioState `json:"portfolio"`
}

// RetireRequest is the body of POST /api/promotions/{id}/retire.
type RetireRequest struct {
	Reason string `json:"reason"`
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/promotions", s.handleListPromotions)
	mux.HandleFunc("GET /api/promotions/{id}", s.handleGetPromotion)
	mux.HandleFunc("GET /api/promotions/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /api/promotions/{id}/start-paper", s.handleStartPaper)
	mux.HandleFunc("POST /api/promotions/{id}/retire", s.handleRetire)
	mux.HandleFunc("POST /api/risk/check", s.handleRiskCheck)
	mux.HandleFunc("GET /api/evaluations/{id}", s.handleEvaluations)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
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
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
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

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, promotion.ErrInvalidTransition), errors.Is(err, store.ErrStateConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleListPromotions(w http.ResponseWriter, r *http.Request) {
	state := domain.PromotionState(r.URL.Query().Get("state"))
	switch state {
	case "", domain.StateCandidate, domain.StatePaperTesting, domain.StatePromoted, domain.StateRetired:
	default:
		writeError(w, http.StatusBadRequest, "unknown state "+strconv.Quote(string(state)))
		return
	}
	recs, err := s.promoter.List(r.Context(), state)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []domain.PromotionRecord{}
	}
	writeJSON(w, recs)
}

func (s *Server) handleGetPromotion(w http.ResponseWriter, r *http.Request) {
	rec, err := s.promoter.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.promoter.Get(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	hist, err := s.promoter.History(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, hist)
}

func (s *Server) handleStartPaper(w http.ResponseWriter, r *http.Request) {
	rec, err := s.promoter.StartPaperTrading(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleRetire(w http.ResponseWriter, r *http.Request) {
	var req RetireRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	rec, err := s.promoter.Retire(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleRiskCheck(w http.ResponseWriter, r *http.Request) {
	var req RiskCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Portfolio.Sectors == nil {
		req.Portfolio.Sectors = s.sectors
	}
	res := s.gate.Check(req.Order, req.Portfolio)
	s.metrics.ObserveRiskCheck(res.Approved, string(res.Reason))
	writeJSON(w, res)
}

func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	limit := defaultEvaluationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	evals, err := s.evaluations.ListEvaluations(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if evals == nil {
		evals = []store.EvaluationRecord{}
	}
	writeJSON(w, evals)
}
