package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"unical/internal/config"
	appLog "unical/internal/log"
	"unical/internal/model"
	"unical/internal/profile"
	"unical/internal/upstream"
)

// eventsCacheTTL bounds how long an aggregated timetable set is reused
// across requests.
const eventsCacheTTL = 30 * time.Second

// Aggregator fans out and merges timetable fetches.
type Aggregator interface {
	Fetch(ctx context.Context, timetables []model.Timetable) []model.Event
}

// Upstream is the raw provider access used by the proxy endpoints.
type Upstream interface {
	FetchUncached(ctx context.Context, url string) (upstream.Result, error)
	Years(ctx context.Context, timetableURL string) ([]upstream.Option, error)
	Curricula(ctx context.Context, timetableURL string, year int) ([]upstream.Option, error)
}

// Server provides the HTTP API, the upstream proxy and calendar feeds.
type Server struct {
	cfg      *config.Config
	store    profile.Store
	agg      Aggregator
	upstream Upstream
	validate *validator.Validate
	loc      *time.Location
	now      func() time.Time
	mux      *http.ServeMux

	// In-memory cache of aggregated events keyed by the timetable list, to
	// avoid refetching every year of every program on each request.
	eventsMu    sync.RWMutex
	eventsCache map[string]eventsCacheEntry
}

// eventsCacheEntry holds aggregated events and their timestamp.
type eventsCacheEntry struct {
	events    []model.Event
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, store profile.Store, agg Aggregator, up Upstream) *Server {
	s := &Server{
		cfg:         cfg,
		store:       store,
		agg:         agg,
		upstream:    up,
		validate:    newValidator(),
		loc:         cfg.Location(),
		now:         time.Now,
		mux:         http.NewServeMux(),
		eventsCache: make(map[string]eventsCacheEntry),
	}
	s.registerRoutes()
	return s
}

// newValidator reports JSON field names in validation errors.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Handler returns the http.Handler with CORS and, if configured, basic auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})(h)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health and /calendar.ics
// with HTTP Basic Auth. Feed subscriptions are authorized by their profile
// ID instead, since calendar clients rarely send credentials.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/calendar.ics" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="unical", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /test", s.handleTest)

	s.mux.HandleFunc("GET /api/fetch-schedule", s.handleFetchSchedule)
	s.mux.HandleFunc("GET /api/years", s.handleYears)
	s.mux.HandleFunc("GET /api/curricula", s.handleCurricula)

	s.mux.HandleFunc("POST /api/profile", s.handleSaveProfile)
	s.mux.HandleFunc("GET /api/profile", s.handleGetProfile)
	s.mux.HandleFunc("GET /api/profile/new", s.handleNewProfileID)

	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/conflicts", s.handleConflicts)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/upcoming", s.handleUpcoming)

	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("University timetable server - endpoints: /test, /api/fetch-schedule, /api/events, /calendar.ics"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleTest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Server is running correctly!",
	})
}

// aggregate returns the merged events for timetables, reusing a recent
// result for the same timetable list.
func (s *Server) aggregate(ctx context.Context, timetables []model.Timetable) []model.Event {
	key := cacheKey(timetables)
	now := s.now()

	s.eventsMu.RLock()
	entry, ok := s.eventsCache[key]
	s.eventsMu.RUnlock()
	if ok && now.Sub(entry.updatedAt) < eventsCacheTTL {
		return entry.events
	}

	events := s.agg.Fetch(ctx, timetables)
	if ctx.Err() != nil {
		// Fetches of an abandoned request failed early; don't let their
		// empty result stand in for the timetables.
		return events
	}

	s.eventsMu.Lock()
	for k, e := range s.eventsCache {
		if now.Sub(e.updatedAt) >= eventsCacheTTL {
			delete(s.eventsCache, k)
		}
	}
	s.eventsCache[key] = eventsCacheEntry{events: events, updatedAt: now}
	s.eventsMu.Unlock()

	return events
}

func cacheKey(timetables []model.Timetable) string {
	var b strings.Builder
	for _, tt := range timetables {
		b.WriteString(tt.URL)
		b.WriteByte('\x00')
		b.WriteString(tt.Name)
		b.WriteByte('\x00')
	}
	return b.String()
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Status  int               `json:"status,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
