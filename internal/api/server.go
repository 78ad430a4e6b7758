package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// Server is the dossier HTTP API.
type Server struct {
	router *chi.Mux
	http   *http.Server
}

// NewServer wires the handlers behind the middleware chain. Health and
// metrics are served without a tenant; everything else requires one.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	h := NewHandler(deps)

	router := chi.NewRouter()
	router.Use(
		CORSMiddleware(cfg.CORSOrigins),
		TracingMiddleware,
		LoggingMiddleware,
		RecoverMiddleware,
		middleware.RealIP,
		middleware.Compress(5),
	)

	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
	router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)
		h.routes(r)
	})

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

func (h *Handler) routes(r chi.Router) {
	r.Post("/ratios", h.Ratios)
	r.Post("/analyze", h.Analyze)

	r.Route("/dossiers", func(r chi.Router) {
		r.Post("/", h.CreateDossier)
		r.Get("/", h.ListDossiers)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetDossier)
			r.Put("/status", h.UpdateStatus)
			r.Post("/analyze", h.AnalyzeDossier)
			r.Get("/results", h.ListResults)
			r.Get("/results/latest", h.LatestResult)
		})
	})
	r.Get("/results/{id}", h.GetResult)

	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.ListRules)
		r.Post("/", h.CreateRule)
		r.Post("/reload", h.ReloadRules)
		r.Get("/{id}", h.GetRule)
	})
}

// Start listens until Shutdown; it then returns http.ErrServerClosed.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the routes for in-process tests.
func (s *Server) Router() http.Handler {
	return s.router
}
