package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lazypower/autodj/internal/library"
	"github.com/lazypower/autodj/internal/logger"
	"github.com/lazypower/autodj/internal/metrics"
	"github.com/lazypower/autodj/internal/session"
	"github.com/lazypower/autodj/internal/store"
)

// Options carries the non-dependency settings of a Server.
type Options struct {
	Version      string
	MusicDir     string
	TickInterval time.Duration
}

// Server is the autodj HTTP API server.
type Server struct {
	db       *store.DB
	session  *session.Manager
	scanner  *library.Scanner
	metrics  *metrics.Manager
	router   chi.Router
	log      logger.Logger
	opts     Options
	started  time.Time
	shutdown chan struct{}
}

// New creates a Server. A nil metrics manager gets a private registry.
func New(db *store.DB, sess *session.Manager, scanner *library.Scanner, m *metrics.Manager, opts Options) *Server {
	if m == nil {
		m = metrics.NewManager()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 500 * time.Millisecond
	}
	s := &Server{
		db:       db,
		session:  sess,
		scanner:  scanner,
		metrics:  m,
		log:      logger.Named("server"),
		opts:     opts,
		started:  time.Now(),
		shutdown: make(chan struct{}),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close ends open websocket streams.
func (s *Server) Close() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))
	r.Use(s.metricsMiddleware)

	r.Get("/api/health", s.handleHealth)

	r.Get("/library", s.handleLibrary)
	r.Post("/library/scan", s.handleScan)
	r.Get("/media", s.handleMedia)

	r.Post("/session/start", s.handleSessionStart)
	r.Post("/session/stop", s.handleSessionStop)
	r.Get("/state", s.handleState)
	r.Get("/ws/state", s.handleStateStream)

	r.Post("/feedback", s.handleFeedback)
	r.Get("/scores", s.handleScores)

	r.Method("GET", "/metrics", s.metrics.Handler())

	r.Get("/static/*", staticHandler())
	r.Get("/", indexHandler())

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.PingContext(r.Context()); err != nil {
		dbOK = false
	}
	rows, err := s.db.CountScores(r.Context())
	if err != nil {
		dbOK = false
	} else {
		s.metrics.SetScoreRows(rows)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.opts.Version,
		"uptime":     time.Since(s.started).Seconds(),
		"db":         dbOK,
		"db_path":    s.db.Path,
		"score_rows": rows,
		"tracks":     len(s.session.Library()),
		"running":    s.session.Running(),
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(route, r.Method, strconv.Itoa(status), float64(time.Since(start).Milliseconds()))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) storeFailed(ctx context.Context, w http.ResponseWriter, op string, err error) {
	s.metrics.RecordStoreError(op)
	s.log.Error(ctx, "store operation failed", logger.String("op", op), logger.Err(err))
	writeError(w, http.StatusInternalServerError, "experience store unavailable")
}
