package admin

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"workyard/internal/task/job"
	"workyard/internal/task/work"
	logx "workyard/pkg/logx"
)

// Backend is what the admin endpoints operate on.
type Backend interface {
	// Health returns nil while the pool and the scheduler are running.
	Health() error
	Snapshot() any
	JobNames() []string
	EnqueueNamed(name string, args ...any) error
	CancelEntry(id string) bool
}

type enqueueRequest struct {
	Args []any `json:"args"`
}

// Router builds the chi routes for cfg. It is exported for tests and for
// embedding the admin surface into another server.
func (s *Service) Router(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)
	r.Use(withAuth(cfg.Token))

	r.Get("/healthz", s.health)
	r.Get("/debug/snapshot", s.snapshot)
	r.Get("/jobs", s.listJobs)
	r.Post("/jobs/{name}", s.enqueue)
	r.Delete("/schedules/{id}", s.cancelEntry)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	if cfg.Pprof {
		r.Route("/debug/pprof", func(r chi.Router) {
			r.HandleFunc("/", hpprof.Index)
			r.HandleFunc("/cmdline", hpprof.Cmdline)
			r.HandleFunc("/profile", hpprof.Profile)
			r.HandleFunc("/symbol", hpprof.Symbol)
			r.HandleFunc("/trace", hpprof.Trace)
			r.HandleFunc("/{profile}", hpprof.Index)
		})
	}
	return r
}

func (s *Service) health(w http.ResponseWriter, _ *http.Request) {
	if err := s.backend.Health(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Service) snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Snapshot())
}

func (s *Service) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.backend.JobNames()})
}

func (s *Service) enqueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req enqueueRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	err = s.backend.EnqueueNamed(name, req.Args...)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"job": name, "enqueued": true})
	case errors.Is(err, job.ErrUnknownJob):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, work.ErrStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Service) cancelEntry(w http.ResponseWriter, r *http.Request) {
	if !s.backend.CancelEntry(chi.URLParam(r, "id")) {
		http.Error(w, "schedule entry not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("admin request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

// withAuth requires "Authorization: Bearer <token>". Query-string tokens are
// not accepted since they end up in access logs. An empty token disables the
// check.
func withAuth(token string) func(http.Handler) http.Handler {
	tok := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		if len(tok) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			ah := r.Header.Get("Authorization")
			if strings.HasPrefix(ah, p) && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(ah[len(p):])), tok) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
