// Package web serves a local dashboard over the draft store: draft and stats
// JSON, the rendered review document, and review file generation.
package web

import (
	"context"
	"crypto/rand"
	"embed"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"

	"github.com/web-agent/web-agent/internal/orchestrator"
	"github.com/web-agent/web-agent/internal/site"
	"github.com/web-agent/web-agent/internal/store"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	defaultRateLimit  = 30
	defaultRateWindow = time.Minute
)

// Store is what the dashboard reads; *store.Store implements it.
type Store interface {
	orchestrator.Store
	ListDrafts(ctx context.Context, site string, status store.Status, limit int) ([]store.Draft, error)
	GetStats(ctx context.Context, site string) (store.Stats, error)
}

type Options struct {
	Port  int
	Store Store
	Sites *site.Catalog

	// ReviewPath names the review file written for a site on a day.
	ReviewPath func(site string, day time.Time) string

	// OpenBrowser opens the dashboard in the default browser on Start.
	OpenBrowser bool

	CSRFKey []byte // random when nil
	Now     func() time.Time
	Logger  *slog.Logger
}

type Server struct {
	opts        Options
	store       Store
	sites       *site.Catalog
	templates   *template.Template
	csrfKey     []byte
	rateLimiter *RateLimiter
	logger      *slog.Logger
	now         func() time.Time
	httpServer  *http.Server
}

func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("web: store is required")
	}
	if opts.ReviewPath == nil {
		return nil, fmt.Errorf("web: review path function is required")
	}

	csrfKey := opts.CSRFKey
	if csrfKey == nil {
		csrfKey = make([]byte, 32)
		if _, err := rand.Read(csrfKey); err != nil {
			return nil, fmt.Errorf("failed to generate CSRF key: %w", err)
		}
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string {
			return t.Local().Format("Jan 2, 2006 3:04 PM")
		},
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		opts:        opts,
		store:       opts.Store,
		sites:       opts.Sites,
		templates:   tmpl,
		csrfKey:     csrfKey,
		rateLimiter: NewRateLimiter(defaultRateLimit, defaultRateWindow),
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Start serves on 127.0.0.1 until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.opts.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d", s.opts.Port)
	if s.opts.OpenBrowser {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openBrowser(url)
		}()
	}
	s.logger.Info("dashboard listening", "url", url)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the dashboard router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(securityHeaders)
	r.Use(plaintextLocal)

	csrfMiddleware := csrf.Protect(
		s.csrfKey,
		csrf.Secure(false),
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.RequestHeader("X-CSRF-Token"),
		csrf.TrustedOrigins([]string{"localhost", "127.0.0.1", fmt.Sprintf("localhost:%d", s.opts.Port), fmt.Sprintf("127.0.0.1:%d", s.opts.Port)}),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			msg := "CSRF token invalid"
			if err := csrf.FailureReason(r); err != nil {
				msg += ": " + err.Error()
			}
			writeError(w, http.StatusForbidden, msg)
		})),
	)
	r.Use(csrfMiddleware)

	r.Get("/", s.handleDashboard)
	r.Get("/review/{site}", s.handleReviewDocument)

	r.Route("/api", func(r chi.Router) {
		r.Get("/csrf", s.handleAPICSRF)
		r.Get("/stats", s.handleAPIStats)
		r.Get("/drafts", s.handleAPIDrafts)
		r.Get("/drafts/{id}", s.handleAPIDraft)
		r.Post("/review/{site}", s.handleAPIGenerateReview)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// plaintextLocal tells the CSRF check that non-TLS requests are plain HTTP,
// which is how the dashboard is served on loopback.
func plaintextLocal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			r = csrf.PlaintextHTTPRequest(r)
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds security headers to all responses
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		csp := "default-src 'self'; " +
			"style-src 'self' 'unsafe-inline'; " +
			"img-src 'self' data:; " +
			"connect-src 'self'; " +
			"frame-ancestors 'none'; " +
			"form-action 'self'; " +
			"base-uri 'self'"
		w.Header().Set("Content-Security-Policy", csp)

		// Draft text is private correspondence.
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=()")

		next.ServeHTTP(w, r)
	})
}

// openBrowser opens the default browser to the specified URL
func openBrowser(url string) {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		return
	}

	exec.Command(cmd, args...).Start()
}

// siteID resolves a site path parameter against the catalog. With no
// catalog any non-empty id is accepted.
func (s *Server) siteID(r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "site"))
	if id == "" {
		return "", false
	}
	if s.sites == nil {
		return id, true
	}
	st := s.sites.FindByID(id)
	if st == nil {
		return "", false
	}
	return st.ID, true
}
