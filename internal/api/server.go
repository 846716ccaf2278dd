// Package api provides the HTTP server for speakd: agent identity, the
// credit purchase/claim flow, TTS job submission, payment webhooks, and
// artifact downloads.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speaknet/speakd/internal/app/agents"
	"github.com/speaknet/speakd/internal/app/jobs"
	"github.com/speaknet/speakd/internal/app/ledger"
	"github.com/speaknet/speakd/internal/app/orders"
	"github.com/speaknet/speakd/internal/domain"
	"github.com/speaknet/speakd/internal/infra/catalog"
)

// ProviderDefaults fill in the optional fields of a job submission.
type ProviderDefaults struct {
	VoiceID      string
	ModelID      string
	OutputFormat string
}

// Server is the speakd HTTP API server.
type Server struct {
	agents         *agents.Service
	ledger         *ledger.Service
	orders         *orders.Service
	jobs           *jobs.Service
	provider       domain.ConversionProvider
	defaults       ProviderDefaults
	artifactsDir   string
	webhookSecret  string
	metricsEnabled bool
}

// NewServer creates the API server.
func NewServer(agents *agents.Service, ledger *ledger.Service, orders *orders.Service,
	jobs *jobs.Service, provider domain.ConversionProvider, defaults ProviderDefaults,
	artifactsDir string) *Server {
	return &Server{
		agents:       agents,
		ledger:       ledger,
		orders:       orders,
		jobs:         jobs,
		provider:     provider,
		defaults:     defaults,
		artifactsDir: artifactsDir,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetWebhookSecret enables signature verification on the webhook route.
func (s *Server) SetWebhookSecret(secret string) { s.webhookSecret = secret }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "speakd",
		})
	})

	// Catalog stays public so agents can plan purchases before registering.
	r.Get("/catalog.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, catalog.GetPayload())
	})

	r.Post("/v1/agents", s.handleAgentRegister)
	r.Post("/v1/agents/sessions", s.handleAgentLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAgent)

		r.Get("/v1/agents/status", s.handleAgentStatus)

		r.Post("/v1/credits/invoices", s.handleCreateInvoice)
		r.Get("/v1/orders/{id}", s.handleGetOrder)
		r.Post("/v1/credits/claim", s.handleClaim)
		r.Get("/v1/credits/balance", s.handleBalance)

		r.Get("/v1/voices", s.handleListVoices)
		r.Post("/v1/tts/jobs", s.handleCreateJob)
		r.Get("/v1/tts/jobs", s.handleListJobs)
		r.Get("/v1/tts/jobs/{id}", s.handleGetJob)
	})

	r.Post("/webhooks/gwop", s.handleGwopWebhook)

	if s.artifactsDir != "" {
		fs := http.StripPrefix("/artifacts/", http.FileServer(http.Dir(s.artifactsDir)))
		r.Get("/artifacts/*", fs.ServeHTTP)
	}

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Auth Middleware ────────────────────────────────────────────────────────

type contextKey string

const agentIDKey contextKey = "speakd-agent-id"

// requireAgent resolves the session token from Authorization: Bearer or the
// x-speak-access-token header and stores the agent id on the context.
func (s *Server) requireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing session token")
			return
		}
		agentID, err := s.agents.Resolve(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired session token")
			return
		}
		ctx := context.WithValue(r.Context(), agentIDKey, agentID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("x-speak-access-token"))
}

func agentFrom(r *http.Request) string {
	id, _ := r.Context().Value(agentIDKey).(string)
	return id
}

// ─── Response Helpers ───────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the {"error":{"code","message"}} shape used everywhere.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": msg,
		},
	})
}

// decodeJSON reads a request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

// corsMiddleware adds CORS headers for browser-based agent consoles.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-speak-access-token")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
