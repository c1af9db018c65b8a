// Package server exposes the HTTP surface over the catalog, sync, and
// purchase workflows.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"bindery/internal/commerce"
	"bindery/internal/ratelimit"
	"bindery/internal/sync"
	"bindery/internal/usertoken"
	"bindery/internal/util"
	"bindery/pkg/domain"
	"bindery/pkg/storage"
	"bindery/pkg/store"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store          store.Store
	Syncer         *sync.Orchestrator
	Purchaser      *commerce.Orchestrator
	Tokens         *usertoken.Manager
	Objects        storage.ObjectStore
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxy   *util.TrustedProxies
	GitToken       string
	PresignExpiry  time.Duration
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the bindery service.
type Server struct {
	store          store.Store
	syncer         *sync.Orchestrator
	purchaser      *commerce.Orchestrator
	tokens         *usertoken.Manager
	objects        storage.ObjectStore
	limiter        *ratelimit.FixedWindowLimiter
	trusted        *util.TrustedProxies
	gitToken       string
	presignExpiry  time.Duration
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	presignExpiry := cfg.PresignExpiry
	if presignExpiry <= 0 {
		presignExpiry = 15 * time.Minute
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 128 << 20
	}
	s := &Server{
		store:          cfg.Store,
		syncer:         cfg.Syncer,
		purchaser:      cfg.Purchaser,
		tokens:         cfg.Tokens,
		objects:        cfg.Objects,
		limiter:        cfg.Limiter,
		trusted:        cfg.TrustedProxy,
		gitToken:       cfg.GitToken,
		presignExpiry:  presignExpiry,
		maxUploadBytes: maxUploadBytes,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler wrapped in shared middleware.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("bindery", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/auth/login", s.handleLogin)

	s.mux.HandleFunc("/products", s.handleProducts)
	s.mux.HandleFunc("/products/", s.handleProductBySlug)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(w http.ResponseWriter, r *http.Request, next userHandler) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	userID, err := s.tokens.VerifySubject(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, found, err := s.store.GetUserByID(userID)
	if err != nil || !found {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	next(w, r, user)
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
