package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hedge/native/common"
	"hedge/native/lending"
	"hedge/observability"
	"hedge/services/lendingd/indexer"
	"hedge/services/lendingd/market"
)

const (
	metricsModule = "lending"
	requestLimit  = 1 << 20 // 1 MiB
)

// ScanCache serves the results of the background scanner.
type ScanCache interface {
	Candidates() []lending.Candidate
	Leaderboard() []*lending.Portfolio
	Unvalued() int
	LastRun() time.Time
}

// HistoryReader serves indexed market events.
type HistoryReader interface {
	History(ctx context.Context, f indexer.Filter) ([]indexer.EventRecord, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Market    *market.Service
	Cache     ScanCache
	History   HistoryReader
	Hub       *Hub
	Auth      AuthConfig
	RateLimit RateLimit
	Quota     common.Quota
	Logger    *slog.Logger
	Metrics   *observability.LendingMetrics
}

// Server exposes the market over HTTP.
type Server struct {
	market  *market.Service
	cache   ScanCache
	history HistoryReader
	hub     *Hub
	auth    *Authenticator
	limiter *RateLimiter
	quota   *common.QuotaTracker
	logger  *slog.Logger
	metrics *observability.LendingMetrics
	now     func() time.Time

	router http.Handler
}

// New constructs the HTTP router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	srv := &Server{
		market:  cfg.Market,
		cache:   cfg.Cache,
		history: cfg.History,
		hub:     cfg.Hub,
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimit),
		quota:   common.NewQuotaTracker(cfg.Quota),
		logger:  logger,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(ensureRequestID)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.With(s.observe("market")).Get("/market", s.getMarket)
		v1.With(s.observe("pools")).Get("/pools", s.listPools)
		v1.With(s.observe("pool")).Get("/pools/{mint}", s.getPool)
		v1.With(s.observe("apy_curve")).Get("/pools/{mint}/apy-curve", s.getAPYCurve)
		v1.With(s.observe("obligation")).Get("/obligations/{owner}", s.getObligation)
		v1.With(s.observe("health")).Get("/obligations/{owner}/health", s.getHealth)
		v1.With(s.observe("candidates")).Get("/liquidations/candidates", s.getCandidates)
		v1.With(s.observe("check_liquidation")).Post("/liquidations/check", s.checkLiquidation)
		v1.With(s.observe("leaderboard")).Get("/leaderboard", s.getLeaderboard)
		v1.With(s.observe("history")).Get("/history", s.getHistory)
		if s.hub != nil {
			v1.Handle("/events", s.hub)
		}

		v1.Group(func(user chi.Router) {
			user.Use(s.auth.Middleware(ScopeWrite))
			user.With(s.observe("deposit")).Post("/deposit", s.deposit)
			user.With(s.observe("borrow")).Post("/borrow", s.borrow)
			user.With(s.observe("repay")).Post("/repay", s.repay)
			user.With(s.observe("withdraw")).Post("/withdraw", s.withdraw)
			user.With(s.observe("leverage")).Post("/leverage", s.leverage)
			user.With(s.observe("liquidate")).Post("/liquidate", s.liquidate)
		})

		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(s.auth.Middleware(ScopeAdmin))
			admin.With(s.observe("admin_prices")).Post("/prices", s.updatePrices)
			admin.With(s.observe("admin_risk_pair")).Post("/risk-pairs", s.setRiskPair)
			admin.With(s.observe("admin_risk_pairs_batch")).Post("/risk-pairs/batch", s.setRiskPairsBatch)
			admin.With(s.observe("admin_assets")).Post("/assets", s.registerAsset)
			admin.With(s.observe("admin_pools")).Post("/pools", s.initPool)
			admin.With(s.observe("admin_pause")).Post("/pause", s.setPaused)
		})
	})

	return otelhttp.NewHandler(r, "lendingd")
}

func ensureRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(chimw.RequestIDHeader) == "" {
			r.Header.Set(chimw.RequestIDHeader, uuid.NewString())
		}
		w.Header().Set(chimw.RequestIDHeader, r.Header.Get(chimw.RequestIDHeader))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"route", r.URL.Path,
			"requestid", chimw.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}

// observe records route latency and status in the module metrics.
func (s *Server) observe(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			observability.ModuleMetrics().Observe(metricsModule, route, rec.status, time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.cache != nil {
		if last := s.cache.LastRun(); !last.IsZero() {
			resp["lastScan"] = last.UTC()
		}
	}
	if s.hub != nil {
		resp["subscribers"] = s.hub.Subscribers()
	}
	writeJSON(w, http.StatusOK, resp)
}
