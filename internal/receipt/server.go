package receipt

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/fintrack/internal/auth"
)

const sessionCookieName = "fintrack_session"

// Options configures the HTTP server
type Options struct {
	// CookieSecure marks the session cookie Secure (HTTPS only)
	CookieSecure bool
	// Limiter throttles sign-in and sign-up; nil uses burst 5, one every 12s
	Limiter *auth.RateLimiter
	// Logger receives request logs; nil uses slog.Default()
	Logger *slog.Logger
	// TrustProxyHeaders takes the client IP from CF-Connecting-IP or
	// X-Forwarded-For. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
}

// Server handles HTTP requests for receipts
type Server struct {
	service      *Service
	auth         *auth.Service
	drafts       *DraftStore
	limiter      *auth.RateLimiter
	cookieSecure bool
	trustProxy   bool
	logger       *slog.Logger
	mux          *http.ServeMux
	handler      http.Handler
	httpServer   *http.Server
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, authService *auth.Service, drafts *DraftStore, opts Options) *Server {
	return NewServerWithMux(service, authService, drafts, opts, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, authService *auth.Service, drafts *DraftStore, opts Options, mux *http.ServeMux) *Server {
	if opts.Limiter == nil {
		opts.Limiter = auth.NewRateLimiter(12*time.Second, 5)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		service:      service,
		auth:         authService,
		drafts:       drafts,
		limiter:      opts.Limiter,
		cookieSecure: opts.CookieSecure,
		trustProxy:   opts.TrustProxyHeaders,
		logger:       opts.Logger,
		mux:          mux,
	}
	s.registerRoutes()
	s.handler = requestLogger(s.logger, s.trustProxy)(metricsMiddleware(s.mux))
	return s
}

// registerRoutes registers all page, API and operational routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /static/app.css", s.handleStaticCSS)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Auth pages
	s.mux.HandleFunc("GET /login", s.handleLoginPage)
	s.mux.HandleFunc("POST /login", s.rateLimited(s.handleLogin))
	s.mux.HandleFunc("GET /signup", s.handleSignupPage)
	s.mux.HandleFunc("POST /signup", s.rateLimited(s.handleSignup))
	s.mux.HandleFunc("POST /logout", s.handleLogout)

	// Pages
	s.mux.HandleFunc("GET /{$}", s.requirePage(s.handleHome))
	s.mux.HandleFunc("GET /dashboard", s.requirePage(s.handleDashboard))
	s.mux.HandleFunc("GET /receipts/new", s.requirePage(s.handleNewReceipt))
	s.mux.HandleFunc("POST /receipts/new/upload", s.requirePage(s.handleDraftUpload))
	s.mux.HandleFunc("POST /receipts/new/edit", s.requirePage(s.handleDraftEdit))
	s.mux.HandleFunc("POST /receipts/new/submit", s.requirePage(s.handleDraftSubmit))
	s.mux.HandleFunc("POST /receipts/new/reset", s.requirePage(s.handleDraftReset))
	s.mux.HandleFunc("GET /receipts/{id}/image", s.requirePage(s.handleReceiptImage))

	// API
	s.mux.HandleFunc("POST /api/receipts/scan", s.requireAPI(s.handleAPIScan))
	s.mux.HandleFunc("GET /api/receipts", s.requireAPI(s.handleAPIListReceipts))
	s.mux.HandleFunc("POST /api/receipts", s.requireAPI(s.handleAPICreateReceipt))
	s.mux.HandleFunc("GET /api/dashboard", s.requireAPI(s.handleAPIDashboard))
}

// sessionUser resolves the session cookie to a user. A missing, unknown or
// expired session yields a nil user.
func (s *Server) sessionUser(r *http.Request) (*auth.User, string) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ""
	}
	user, err := s.auth.CurrentUser(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, auth.ErrNoSession) {
			slog.Error("Error resolving session", "error", err)
		}
		return nil, ""
	}
	return user, cookie.Value
}

type sessionTokenKey struct{}

// sessionToken returns the token of the request's authenticated session
func sessionToken(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenKey{}).(string)
	return token
}

func (s *Server) authenticated(r *http.Request) (*http.Request, bool) {
	user, token := s.sessionUser(r)
	if user == nil {
		return r, false
	}
	ctx := auth.WithUser(r.Context(), user)
	ctx = context.WithValue(ctx, sessionTokenKey{}, token)
	return r.WithContext(ctx), true
}

// requirePage sends anonymous visitors to the sign-in page
func (s *Server) requirePage(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r, ok := s.authenticated(r)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r)
	}
}

// requireAPI answers anonymous API calls with 401
func (s *Server) requireAPI(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r, ok := s.authenticated(r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// rateLimited throttles by client IP
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := realIP(r, s.trustProxy)
		if !s.limiter.Allow(ip) {
			slog.Warn("Rate limit exceeded", "path", r.URL.Path, "remote", ip)
			s.renderAuthPage(w, http.StatusTooManyRequests, r.URL.Path == "/signup", "",
				"Too many attempts. Please wait a minute and try again.")
			return
		}
		next(w, r)
	}
}

func (s *Server) setSessionCookie(w http.ResponseWriter, session *auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   int(s.auth.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Drafts exposes the draft store so callers can prune it
func (s *Server) Drafts() *DraftStore {
	return s.drafts
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Starting server", "address", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a server started with Start
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
