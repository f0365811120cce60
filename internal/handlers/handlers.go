package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"vocalytics/internal/apperr"
	"vocalytics/internal/auth"
	"vocalytics/internal/comments"
	"vocalytics/internal/ingest"
	"vocalytics/internal/jobs"
	"vocalytics/internal/records"
	"vocalytics/internal/render"
	"vocalytics/internal/transcribe"
	"vocalytics/templates"
)

const (
	defaultMaxUploadBytes = 500 * 1024 * 1024

	sessionCookie = "vocalytics_session"
	flashCookie   = "vocalytics_flash"
)

// Deps are the services the HTTP layer drives.
type Deps struct {
	Auth         auth.Provider
	Ingest       *ingest.Service
	Orchestrator *transcribe.Orchestrator
	Records      *records.Service
	Comments     *comments.Service
	Jobs         *jobs.Tracker

	LanguageCode   string
	MaxUploadBytes int64
	CookieSecure   bool
	ViewerPolicy   render.AnchorPolicy
	DetailPolicy   render.AnchorPolicy
}

type App struct {
	logger *slog.Logger
	router *chi.Mux

	auth         auth.Provider
	ingest       *ingest.Service
	orchestrator *transcribe.Orchestrator
	records      *records.Service
	comments     *comments.Service
	jobs         *jobs.Tracker

	languageCode   string
	maxUploadBytes int64
	cookieSecure   bool
	viewerOpts     render.Options
	detailOpts     render.Options

	upgrader websocket.Upgrader
}

func NewApp(logger *slog.Logger, d Deps) *App {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = defaultMaxUploadBytes
	}

	app := &App{
		logger:         logger,
		router:         chi.NewRouter(),
		auth:           d.Auth,
		ingest:         d.Ingest,
		orchestrator:   d.Orchestrator,
		records:        d.Records,
		comments:       d.Comments,
		jobs:           d.Jobs,
		languageCode:   d.LanguageCode,
		maxUploadBytes: d.MaxUploadBytes,
		cookieSecure:   d.CookieSecure,
		viewerOpts:     render.Options{Policy: d.ViewerPolicy, Clock: render.ClockHMS},
		detailOpts:     render.Options{Policy: d.DetailPolicy, Clock: render.ClockMinSec},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	app.registerRoutes()
	return app
}

func (a *App) Router() http.Handler {
	return a.router
}

func (a *App) registerRoutes() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.RealIP)
	a.router.Use(middleware.Recoverer)
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.sessionMiddleware)

	a.router.Get("/healthz", a.health)

	// Websockets stay open for the life of a job, so they skip the timeout.
	a.router.Group(func(r chi.Router) {
		r.Use(a.requireSession)
		r.Get("/ws/jobs/{id}", a.jobWS)
		r.Get("/ws/transcripts/{id}/playback", a.playbackWS)
	})

	a.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Minute))

		r.Get("/", a.index)
		r.Get("/login", a.loginPage)
		r.Post("/login", a.login)
		r.Get("/signup", a.signupPage)
		r.Post("/signup", a.signup)
		r.Get("/verify", a.verifyPage)
		r.Post("/verify", a.verify)
		r.Post("/logout", a.logout)

		r.Group(func(r chi.Router) {
			r.Use(a.requireSession)
			r.Get("/dashboard", a.dashboard)
			r.Get("/viewer", a.viewer)
			r.Post("/upload", a.upload)
			r.Get("/jobs/{id}/transcript", a.jobTranscript)
			r.Post("/jobs/{id}/cancel", a.cancelJob)
			r.Get("/transcripts/{id}", a.transcriptDetail)
			r.Post("/transcripts/{id}/delete", a.deleteTranscript)
			r.Get("/transcripts/{id}/comments", a.listComments)
			r.Post("/transcripts/{id}/comments", a.addComment)
		})
	})
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": time.Now().Format(time.RFC3339)})
}

func (a *App) index(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, templates.IndexPage(a.nav(r), a.takeFlash(w, r)))
}

func (a *App) render(w http.ResponseWriter, r *http.Request, component templ.Component) {
	a.renderStatus(w, r, http.StatusOK, component)
}

func (a *App) renderStatus(w http.ResponseWriter, r *http.Request, code int, component templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := component.Render(r.Context(), w); err != nil {
		a.logger.Error("failed to render template", "error", err)
	}
}

func (a *App) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("failed to encode json", "error", err)
	}
}

func (a *App) respondError(w http.ResponseWriter, err error) {
	a.respondJSON(w, apperr.Status(err), map[string]string{"error": apperr.Message(err)})
}

// sessionMiddleware resolves the session cookie into an auth.Session on the
// request context. Stale tokens are cleared.
func (a *App) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		u, err := a.auth.CurrentUser(r.Context(), c.Value)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindAuth {
				a.clearCookie(w, sessionCookie)
			} else {
				a.logger.Warn("session lookup failed", "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := auth.WithSession(r.Context(), auth.SessionFor(u, c.Value))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *App) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.FromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodGet && !strings.HasPrefix(r.URL.Path, "/ws/") {
			a.setFlash(w, "error", apperr.Message(apperr.ErrNotSignedIn))
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		a.respondError(w, apperr.ErrNotSignedIn)
	})
}

func sessionFrom(r *http.Request) auth.Session {
	s, _ := auth.FromContext(r.Context())
	return s
}

func (a *App) nav(r *http.Request) templates.Nav {
	s, ok := auth.FromContext(r.Context())
	return templates.Nav{SignedIn: ok, Email: s.Email}
}

func (a *App) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *App) clearCookie(w http.ResponseWriter, name string) {
	a.setCookie(w, name, "", -1)
}

// setFlash stores a message for the next page load.
func (a *App) setFlash(w http.ResponseWriter, kind, msg string) {
	v := url.Values{}
	v.Set("k", kind)
	v.Set("m", msg)
	a.setCookie(w, flashCookie, v.Encode(), 60)
}

// takeFlash reads and clears the pending flash message.
func (a *App) takeFlash(w http.ResponseWriter, r *http.Request) templates.Flash {
	c, err := r.Cookie(flashCookie)
	if err != nil || c.Value == "" {
		return templates.Flash{}
	}
	a.clearCookie(w, flashCookie)
	v, err := url.ParseQuery(c.Value)
	if err != nil {
		return templates.Flash{}
	}
	return templates.Flash{Kind: v.Get("k"), Message: v.Get("m")}
}

func errorFlash(err error) templates.Flash {
	return templates.Flash{Kind: "error", Message: apperr.Message(err)}
}

// wsConn serializes writes to a websocket connection shared between the
// reader loop and job broadcasts.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (a *App) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
