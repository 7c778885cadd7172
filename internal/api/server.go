package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/audit"
	"github.com/technosupport/firewatch/internal/events"
	"github.com/technosupport/firewatch/internal/evidence"
	"github.com/technosupport/firewatch/internal/markers"
	"github.com/technosupport/firewatch/internal/middleware"
	"github.com/technosupport/firewatch/internal/pipeline"
	"github.com/technosupport/firewatch/internal/users"
	"go.uber.org/zap"
)

type StatusReporter interface {
	Status() pipeline.Status
}

type AuditLister interface {
	List(ctx context.Context, limit int, beforeID int64) ([]audit.Entry, error)
}

// Deps are the collaborators behind the HTTP surface. Audit, Live and
// LoginLimit are optional.
type Deps struct {
	Lifecycle  *alarms.Lifecycle
	Store      alarms.Store
	Evidence   evidence.Store
	Markers    *markers.Index
	Users      *users.Service
	Audit      AuditLister
	Worker     StatusReporter
	Hub        *events.Hub
	Live       http.Handler
	Auth       *middleware.JWTAuth
	LoginLimit *middleware.RateLimitMiddleware
	Origins    []string
	WSBuffer   int
	Logger     *zap.Logger
	Clock      func() time.Time
}

type Server struct {
	Deps
	logger *zap.Logger
	now    func() time.Time
}

func NewServer(d Deps) *Server {
	s := &Server{Deps: d, logger: d.Logger, now: d.Clock}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(s.Origins))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.LoginLimit.PerIP).Post("/auth/login", s.login)

		// Browser streaming clients cannot set headers.
		r.Group(func(r chi.Router) {
			r.Use(s.Auth.AllowQueryToken)
			r.Get("/events", s.events)
			if s.Live != nil {
				r.Handle("/live", s.Live)
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(s.Auth.Middleware)

			r.Post("/auth/logout", s.logout)

			r.Route("/alarms", func(r chi.Router) {
				r.Get("/", s.listAlarms)
				r.Get("/unprocessed", s.listUnprocessed)
				r.Get("/stats", s.stats)
				r.With(middleware.RequireAdmin).Get("/export", s.exportAlarms)
				r.Get("/{id}", s.getAlarm)
				r.Get("/{id}/evidence", s.getEvidence)
				r.Put("/{id}/process", s.claimAlarm)
				r.Delete("/{id}", s.dismissAlarm)
			})

			r.Get("/markers", s.listMarkers)
			r.Get("/status", s.status)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Get("/users", s.listUsers)
				r.Post("/users", s.createUser)
				r.Delete("/users/{id}", s.deleteUser)
				r.Get("/audit", s.listAudit)
			})
		})
	})
	return r
}

func principal(r *http.Request) alarms.Principal {
	p, _ := middleware.PrincipalFrom(r.Context())
	return p
}
