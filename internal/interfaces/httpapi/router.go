package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"gasfeed/internal/domain"
	"gasfeed/internal/infrastructure/metrics"
)

// defaultHistoryWindow 未给 from 时的回看窗口
const defaultHistoryWindow = time.Hour

// Queries 查询面依赖（由 service.QueryService 实现）
type Queries interface {
	CurrentPrice(ctx context.Context, network, subjectID string) (domain.Quote, error)
	HistoricalPrices(ctx context.Context, network string, from, to time.Time) ([]domain.PriceSample, error)
	Networks() []string
}

// Health 健康检查所需的状态
type Health interface {
	Count() int
}

// Checker 可选的一致性检查（subscription.Registry）
type Checker interface {
	Verify() error
}

type Handler struct {
	queries Queries
	health  Health
	checker Checker
	now     func() time.Time
}

// NewRouter 组装 HTTP 查询面；ws 为 nil 时不挂载 /v1/ws
func NewRouter(queries Queries, ws http.Handler, health Health, checker Checker) http.Handler {
	h := &Handler{queries: queries, health: health, checker: checker, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if ws != nil {
			r.Handle("/ws", ws)
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/networks", h.networks)
			r.Get("/networks/{network}/price", h.price)
			r.Get("/networks/{network}/history", h.history)
		})
	})
	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok", "networks": h.queries.Networks()}
	if h.health != nil {
		resp["connections"] = h.health.Count()
	}
	if h.checker != nil {
		if err := h.checker.Verify(); err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) networks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"networks": h.queries.Networks()})
}

func (h *Handler) price(w http.ResponseWriter, r *http.Request) {
	network := normalizeNetwork(chi.URLParam(r, "network"))
	subjectID := strings.TrimSpace(r.URL.Query().Get("subjectId"))

	quote, err := h.queries.CurrentPrice(r.Context(), network, subjectID)
	if err != nil && !errors.Is(err, domain.ErrStaleSample) {
		writeError(w, statusFor(err), err)
		return
	}
	if quote.Stale {
		w.Header().Set("Warning", `110 - "response is stale"`)
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	network := normalizeNetwork(chi.URLParam(r, "network"))

	to := h.now().UTC()
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: to: %v", domain.ErrInvalidRange, err))
			return
		}
		to = t
	}
	from := to.Add(-defaultHistoryWindow)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: from: %v", domain.ErrInvalidRange, err))
			return
		}
		from = t
	}

	samples, err := h.queries.HistoricalPrices(r.Context(), network, from, to)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if samples == nil {
		samples = []domain.PriceSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidNetwork):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoProviderAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func normalizeNetwork(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
