package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/service"
	"github.com/BrandonDHaskell/poap-dispenser/internal/observability"
)

type Dependencies struct {
	Logger      *slog.Logger
	Addr        string
	Coordinator *service.Coordinator
	Queries     *service.QueryService
	Reconciler  *service.PendingReconciler

	// Metrics records request counts; MetricsHandler serves /metrics.
	Metrics        *observability.Metrics
	MetricsHandler http.Handler

	RateLimit RateLimit

	// TrustProxyHeaders takes the client address from X-Real-IP or
	// X-Forwarded-For. Set it only behind a proxy that overwrites them.
	TrustProxyHeaders bool

	// AdminSecret is the HS256 key for admin bearer tokens. Empty leaves
	// the admin routes open.
	AdminSecret string
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	coordinator *service.Coordinator
	queries     *service.QueryService
	reconciler  *service.PendingReconciler
	metrics     *observability.Metrics
}

func NewServer(d Dependencies) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		logger:      logger,
		coordinator: d.Coordinator,
		queries:     d.Queries,
		reconciler:  d.Reconciler,
		metrics:     d.Metrics,
	}

	limiter := newRateLimiter(d.RateLimit)
	admin := newAdminAuth(d.AdminSecret, logger)

	r := chi.NewRouter()
	if d.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(loggingMiddleware(logger, d.Metrics))

	r.Get("/", s.handleWelcome)
	r.Get("/healthz", s.handleHealth)
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.With(limiter.Middleware).Post("/verify-and-issue", s.handleVerifyAndIssue)

		v1.Route("/events/{eventID}", func(ev chi.Router) {
			ev.With(limiter.Middleware).Get("/eligibility/{wallet}", s.handleEligibility)
			ev.Get("/collectors/{wallet}", s.handleCollectorStatus)
			ev.Get("/codes/remaining", s.handleRemainingCodes)
		})
		v1.Get("/mints/{uid}", s.handleMintStatus)
		v1.Get("/mints/{uid}/wait", s.handleWaitMintStatus)

		v1.Route("/admin", func(adm chi.Router) {
			adm.Use(admin.Middleware)
			adm.Get("/records", s.handleAdminRecords)
			adm.Post("/reconcile", s.handleAdminReconcile)
		})
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           otelhttp.NewHandler(r, "dispenser.http"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
