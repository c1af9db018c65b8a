package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"bindery/internal/commerce"
	"bindery/internal/sync"
	"bindery/internal/util"
	"bindery/pkg/auth"
	"bindery/pkg/domain"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req signupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, exists, err := s.store.GetUserByEmail(email); err != nil {
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	} else if exists {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.store.SaveUser(user); err != nil {
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}
	s.respondWithToken(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req signupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, found, err := s.store.GetUserByEmail(email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if !found || !auth.CheckPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.respondWithToken(w, http.StatusOK, user)
}

func (s *Server) respondWithToken(w http.ResponseWriter, status int, user domain.User) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, status, tokenResponse{Token: token, User: user})
}

type createProductRequest struct {
	Title         string `json:"title"`
	Repo          string `json:"repo"`
	Price         int64  `json:"price"`
	PreorderPrice *int64 `json:"preorderPrice,omitempty"`
	InPreorder    bool   `json:"inPreorder"`
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := s.store.ListProducts()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list products failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": products})
	case http.MethodPost:
		s.withUser(w, r, s.handleCreateProduct)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req createProductRequest
	if !decodeBody(w, r, &req) {
		return
	}
	title := strings.TrimSpace(req.Title)
	repo := strings.TrimSpace(req.Repo)
	if title == "" || repo == "" || req.Price < 0 {
		writeError(w, http.StatusBadRequest, "title, repo, and a non-negative price are required")
		return
	}
	slug := slugify(title)
	if slug == "" {
		writeError(w, http.StatusBadRequest, "title must contain letters or digits")
		return
	}
	if _, exists, err := s.store.GetProductBySlug(slug); err != nil {
		writeError(w, http.StatusInternalServerError, "create product failed")
		return
	} else if exists {
		writeError(w, http.StatusConflict, "a product with this slug already exists")
		return
	}
	product := domain.Product{
		ID:            util.NewID(),
		Slug:          slug,
		Title:         title,
		Repo:          repo,
		Price:         req.Price,
		PreorderPrice: req.PreorderPrice,
		InPreorder:    req.InPreorder,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := s.store.SaveProduct(product); err != nil {
		writeError(w, http.StatusInternalServerError, "create product failed")
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (s *Server) handleProductBySlug(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/products/"), "/")
	parts := strings.SplitN(rest, "/", 2)
	slug := parts[0]
	if slug == "" {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleGetProduct(w, slug)
	case action == "sync" && r.Method == http.MethodPost:
		s.withUser(w, r, func(w http.ResponseWriter, r *http.Request, user domain.User) {
			s.handleSync(w, r, slug)
		})
	case action == "purchase" && r.Method == http.MethodPost:
		s.withUser(w, r, func(w http.ResponseWriter, r *http.Request, user domain.User) {
			s.handlePurchase(w, r, slug, user)
		})
	case action == "asset" && r.Method == http.MethodPost:
		s.withUser(w, r, func(w http.ResponseWriter, r *http.Request, user domain.User) {
			s.handleUploadAsset(w, r, slug)
		})
	case action == "download" && r.Method == http.MethodGet:
		s.withUser(w, r, func(w http.ResponseWriter, r *http.Request, user domain.User) {
			s.handleDownload(w, r, slug, user)
		})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleGetProduct(w http.ResponseWriter, slug string) {
	product, found, err := s.store.GetProductBySlug(slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load product failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	chapters, err := s.store.ListChaptersByProduct(product.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load chapters failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product":  product,
		"chapters": chapters,
	})
}

type syncRequest struct {
	Token string `json:"token,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, slug string) {
	product, found, err := s.store.GetProductBySlug(slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load product failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	var req syncRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}
	token := req.Token
	if token == "" {
		token = s.gitToken
	}
	result, err := s.syncer.Sync(r.Context(), product.ID, token)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, sync.ErrNoChange):
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, domain.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "product not found")
	default:
		writeError(w, http.StatusBadGateway, "sync failed")
	}
}

type purchaseRequest struct {
	CardToken string `json:"cardToken"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request, slug string, user domain.User) {
	if s.limiter != nil && !s.limiter.Allow(util.ClientIP(r, s.trusted)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	product, found, err := s.store.GetProductBySlug(slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load product failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	var req purchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.CardToken) == "" {
		writeError(w, http.StatusBadRequest, "cardToken is required")
		return
	}
	purchase, err := s.purchaser.Purchase(r.Context(), product.ID, user, req.CardToken)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, purchase)
	case errors.Is(err, domain.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, commerce.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, commerce.ErrAlreadyPurchased):
		writeError(w, http.StatusConflict, "product already purchased")
	case errors.Is(err, commerce.ErrPaymentFailed):
		writeError(w, http.StatusPaymentRequired, "payment failed")
	default:
		writeError(w, http.StatusInternalServerError, "purchase failed")
	}
}

func (s *Server) handleUploadAsset(w http.ResponseWriter, r *http.Request, slug string) {
	if s.objects == nil {
		writeError(w, http.StatusNotFound, "uploads not available")
		return
	}
	product, found, err := s.store.GetProductBySlug(slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load product failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if r.ContentLength <= 0 {
		writeError(w, http.StatusBadRequest, "a non-empty body with Content-Length is required")
		return
	}
	if r.ContentLength > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "asset too large")
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	// Fresh key per upload so a replaced asset never serves stale bytes
	// through an already-presigned URL.
	key := fmt.Sprintf("assets/%s/%s", product.Slug, util.NewID())
	body := http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := s.objects.Put(r.Context(), key, body, r.ContentLength, contentType); err != nil {
		writeError(w, http.StatusInternalServerError, "asset upload failed")
		return
	}
	previous := product.AssetKey
	product.AssetKey = key
	product.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveProduct(product); err != nil {
		writeError(w, http.StatusInternalServerError, "asset upload failed")
		return
	}
	if previous != "" {
		if err := s.objects.Delete(r.Context(), previous); err != nil {
			slog.Error("stale asset cleanup failed", "product", product.ID, "key", previous, "err", err)
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"assetKey": key})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, slug string, user domain.User) {
	if s.objects == nil {
		writeError(w, http.StatusNotFound, "downloads not available")
		return
	}
	product, found, err := s.store.GetProductBySlug(slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load product failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if strings.TrimSpace(product.AssetKey) == "" {
		writeError(w, http.StatusNotFound, "no downloadable asset for this product")
		return
	}
	if _, owns, err := s.store.FindPurchase(user.ID, product.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "ownership check failed")
		return
	} else if !owns {
		writeError(w, http.StatusForbidden, "purchase required")
		return
	}
	url, err := s.objects.PresignGet(r.Context(), product.AssetKey, s.presignExpiry)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "presign failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lowers the title and collapses runs of non-alphanumerics to single
// hyphens.
func slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = slugStrip.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
