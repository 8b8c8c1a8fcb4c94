package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"docmind/internal/ratelimit"
	"docmind/internal/usertoken"
	"docmind/internal/util"
	"docmind/pkg/domain"
	"docmind/services/document/internal/app"
)

const userIDHeader = "X-User-Id"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                       *app.App
	TokenVerifier             *usertoken.Verifier
	MaxUploadBytes            int64
	CORSOrigins               []string
	TrustedProxies            *util.TrustedProxies
	RedisAddr                 string
	RedisPassword             string
	UploadRateLimitPerMinute  int
	MessageRateLimitPerMinute int
}

// Server exposes HTTP endpoints for the document service.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	router         chi.Router
	maxUploadBytes int64
	corsOrigins    []string
	trusted        *util.TrustedProxies
	uploadLimiter  *ratelimit.FixedWindowLimiter
	messageLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Rate limiting is
// enabled when a Redis address is configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		maxUploadBytes: maxUploadBytes,
		corsOrigins:    cfg.CORSOrigins,
		trusted:        cfg.TrustedProxies,
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		var err error
		s.uploadLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, ratelimit.Options{
			Prefix: "docmind:ratelimit:upload",
			Limit:  positiveOr(cfg.UploadRateLimitPerMinute, 10),
			Window: time.Minute,
		})
		if err != nil {
			return nil, err
		}
		s.messageLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, ratelimit.Options{
			Prefix: "docmind:ratelimit:message",
			Limit:  positiveOr(cfg.MessageRateLimitPerMinute, 30),
			Window: time.Minute,
		})
		if err != nil {
			_ = s.uploadLimiter.Close()
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Close releases the rate limiter connections.
func (s *Server) Close() error {
	var errs []error
	for _, l := range []*ratelimit.FixedWindowLimiter{s.uploadLimiter, s.messageLimiter} {
		if l != nil {
			errs = append(errs, l.Close())
		}
	}
	return errors.Join(errs...)
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.RequestLog("document", s.trusted)(util.WithSecurityHeaders(s.router)))
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", userIDHeader},
			ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { notFound(w, "not found") })
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { methodNotAllowed(w) })

	r.Get("/healthz", s.handleHealth)
	r.Group(func(protected chi.Router) {
		protected.Use(s.withUser)
		protected.Post("/users/sync", s.handleSyncUser)

		protected.Post("/documents", s.handleUpload)
		protected.Get("/documents", s.handleListDocuments)
		protected.Route("/documents/{id}", func(doc chi.Router) {
			doc.Get("/", s.handleGetDocument)
			doc.Patch("/", s.handleRenameDocument)
			doc.Delete("/", s.handleDeleteDocument)
			doc.Get("/download", s.handleDownload)
			doc.Get("/export", s.handleExport)
			doc.Post("/messages", s.handleAddMessage)
		})
	})
	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withUser resolves the caller from a verified bearer token, or from the
// gateway supplied X-User-Id header when no verifier is configured. With
// trusted proxies configured, the header is only believed from them.
func (s *Server) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var userID string
		if s.tokenVerifier != nil {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			subject, err := s.tokenVerifier.VerifySubject(token)
			if err != nil {
				util.LoggerFromContext(r.Context()).Warn("token rejected", "err", err)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			userID = subject
		} else {
			if s.trusted != nil && !s.trusted.TrustsPeer(r) {
				util.LoggerFromContext(r.Context()).Warn("identity header from untrusted peer", "client_ip", util.ClientIP(r, s.trusted))
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			userID = strings.TrimSpace(r.Header.Get(userIDHeader))
		}
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", userID))
		next.ServeHTTP(w, r.WithContext(withUserID(ctx, userID)))
	})
}

type syncUserRequest struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

func (s *Server) handleSyncUser(w http.ResponseWriter, r *http.Request) {
	var req syncUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.app.SyncUser(domain.User{
		ID:        userIDFrom(r.Context()),
		Email:     req.Email,
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	if !s.allowRate(w, r, s.uploadLimiter, userID) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	doc, err := s.app.Ingest(r.Context(), app.IngestRequest{
		OwnerID:     userID,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
		Language:    strings.TrimSpace(r.FormValue("language")),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.app.ListDocuments(userIDFrom(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": docs,
		"count": len(docs),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.app.GetDocument(userIDFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameDocument(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := s.app.Rename(userIDFrom(r.Context()), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Delete(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	url, filename, err := s.app.DownloadURL(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url":      url,
		"filename": filename,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.Export(userIDFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": report.FileName}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, report.Body)
}

type messageRequest struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	if !s.allowRate(w, r, s.messageLimiter, userID) {
		return
	}
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role := domain.RoleUser
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := domain.ParseRole(req.Role)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		role = parsed
	}
	turn, err := s.app.Ask(r.Context(), userID, chi.URLParam(r, "id"), role, req.Content)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, turn)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, userID string) bool {
	if limiter == nil {
		return true
	}
	allowed, retryAfter := limiter.Allow(r.Context(), userID)
	if allowed {
		return true
	}
	seconds := int(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, "rate limited")
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
