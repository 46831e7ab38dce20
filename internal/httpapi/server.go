package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	apimw "github.com/hamed0406/sitewatch/internal/httpapi/middleware"
	"github.com/hamed0406/sitewatch/internal/repo"
)

// Runner is the part of the check loop the status API needs.
type Runner interface {
	Targets() []domain.Target
	Trigger() bool
}

type Server struct {
	Logger  *zap.Logger
	Runner  Runner
	Results repo.ResultStore
}

func NewServer(l *zap.Logger, r Runner, rs repo.ResultStore) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Runner: r, Results: rs}
}

// Router builds the status API. Reads need any key, POST /api/run needs an
// admin key. An empty origins list allows every origin.
func (s *Server) Router(keys apimw.Keys, origins []string, rpm, burst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if len(origins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "X-API-Key", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(rpm, burst))
		r.Use(apimw.RequireAny(keys))
		r.Get("/api/targets", s.handleListTargets)
		r.Get("/api/results/latest", s.handleLatest)
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(rpm, burst))
		r.Use(apimw.RequireAdmin(keys))
		r.Post("/api/run", s.handleTrigger)
	})

	return r
}

type targetView struct {
	ID                 domain.TargetID   `json:"id"`
	Name               string            `json:"name"`
	Kind               domain.TargetKind `json:"kind"`
	URL                string            `json:"url"`
	RequiresAuth       bool              `json:"requires_auth"`
	CheckKeywords      bool              `json:"check_keywords"`
	AllowedStatusCodes []int             `json:"allowed_status_codes"`
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	ts := s.Runner.Targets()
	out := make([]targetView, 0, len(ts))
	for _, t := range ts {
		out = append(out, targetView{
			ID:                 t.ID,
			Name:               t.Name,
			Kind:               t.Kind,
			URL:                t.URL,
			RequiresAuth:       t.RequiresAuth(),
			CheckKeywords:      t.CheckKeywords,
			AllowedStatusCodes: t.AllowedStatusCodes,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ResultView is the wire form of one latest verdict.
type ResultView struct {
	TargetID   domain.TargetID  `json:"target_id"`
	Outcome    string           `json:"outcome"`
	Signature  string           `json:"signature"`
	Healthy    bool             `json:"healthy"`
	Outcomes   []domain.Outcome `json:"outcomes"`
	HTTPStatus int              `json:"http_status,omitempty"`
	LatencyMS  float64          `json:"latency_ms"`
	CheckedAt  time.Time        `json:"checked_at"`
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	vs, err := s.Results.Latest(r.Context())
	if err != nil {
		s.Logger.Warn("latest_results_failed", zap.Error(err))
		http.Error(w, "latest error", http.StatusInternalServerError)
		return
	}
	out := make([]ResultView, 0, len(vs))
	for _, v := range vs {
		out = append(out, ResultView{
			TargetID:   v.TargetID,
			Outcome:    string(v.Primary().Kind),
			Signature:  v.Signature(),
			Healthy:    v.Healthy(),
			Outcomes:   v.Outcomes,
			HTTPStatus: v.Result.Status(),
			LatencyMS:  float64(v.Result.Latency) / float64(time.Millisecond),
			CheckedAt:  v.CheckedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.Runner.Trigger() {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already pending"})
		return
	}
	s.Logger.Info("run_requested", zap.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
