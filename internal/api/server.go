package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"media-conversion-bot/internal/config"
	"media-conversion-bot/internal/queue"
	"media-conversion-bot/internal/ratelimit"
	"media-conversion-bot/internal/store"
	"media-conversion-bot/internal/telemetry"
)

// Server wires the ops/admin HTTP surface. All conversion traffic enters
// through the chat transport; this API is for inspection and administration.
type Server struct {
	cfg      config.Config
	store    *store.Store
	limiter  *ratelimit.Bucket
	registry *queue.Registry
	gate     *queue.Gate
	events   http.Handler
}

// New constructs the server. events, when non-nil, is mounted at POST /events
// for the external transport to deliver inbound chat events.
func New(cfg config.Config, st *store.Store, limiter *ratelimit.Bucket, registry *queue.Registry, gate *queue.Gate, events http.Handler) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		limiter:  limiter,
		registry: registry,
		gate:     gate,
		events:   events,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.rateLimit)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	if s.events != nil {
		r.Post("/events", s.events.ServeHTTP)
	}

	r.Get("/accounts/{id}", s.handleGetAccount)
	r.Get("/accounts/{id}/conversions", s.handleAccountConversions)
	r.Get("/conversions/{id}", s.handleGetConversion)
	r.Get("/stats", s.handleStats)

	r.Group(func(r chi.Router) {
		r.Use(s.adminOnly)
		r.Post("/admin/accounts/{id}/credit", s.handleCredit)
		r.Get("/admin/accounts", s.handleRoster)
		r.Get("/admin/export/conversions.csv", s.handleExport)
	})
	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			allowed, err := s.limiter.Allow(r.Context(), clientKey(r))
			if err != nil {
				http.Error(w, "rate limit error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" || r.Header.Get("Authorization") != "Bearer "+s.cfg.AdminToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	acct, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleAccountConversions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	convs, err := s.store.Conversions(r.Context(), id, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversions": convs})
}

func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid conversion id", http.StatusBadRequest)
		return
	}
	conv, err := s.store.GetConversion(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.StatusCounts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"statuses": counts,
		"queued":   s.registry.Depth(),
		"running":  s.gate.InUse(),
	})
}

type creditRequest struct {
	Amount int `json:"amount"`
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Amount == 0 {
		http.Error(w, "amount is required", http.StatusBadRequest)
		return
	}
	if err := s.store.AddCoins(r.Context(), id, req.Amount); err != nil {
		writeStoreError(w, err)
		return
	}
	acct, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.AllAccounts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="conversions.csv"`)
	if err := s.store.ExportConversionsCSV(r.Context(), w); err != nil {
		// Headers may already be gone; all we can do is log via the error path.
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// Run serves the API until the context is cancelled.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
