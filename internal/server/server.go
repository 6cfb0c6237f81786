// internal/server/server.go

// Package server routes the HTTP API onto the domain handlers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/catalog"
	"github.com/jules-labs/libranexus/internal/circulation"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/membership"
	"github.com/jules-labs/libranexus/internal/notify"
	"github.com/jules-labs/libranexus/internal/respond"
)

var tracer = otel.Tracer("libranexus/server")

var errTooManyRequests = fault.New(fault.ErrLimited, "too many requests")

type Config struct {
	Port            int
	ShutdownTimeout time.Duration
	RatePerSecond   float64
	RateBurst       int
}

// Handlers groups the per-domain HTTP handlers.
type Handlers struct {
	Members     *membership.Handler
	Catalog     *catalog.Handler
	Circulation *circulation.Handler
	Notices     *notify.Handler
}

type Server struct {
	cfg    Config
	http   *http.Server
	logger *slog.Logger
}

func New(cfg Config, tokens *auth.Tokens, h Handlers, logger *slog.Logger) *Server {
	logger = logger.With("component", "server")
	return &Server{
		cfg:    cfg,
		logger: logger,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           Router(cfg, tokens, h, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.http.Addr)
		errs <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router builds the API. Registration, login and catalog reads are public;
// everything else needs a bearer token.
func Router(cfg Config, tokens *auth.Tokens, h Handlers, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(traced)
	if cfg.RatePerSecond > 0 {
		r.Use(newClientLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst).Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(tokens.Middleware(respond.Error))

		r.Post("/members", h.Members.HandleRegister)
		r.Post("/members/login", h.Members.HandleLogin)
		r.Get("/titles", h.Catalog.HandleListTitles)
		r.Get("/titles/{titleID}", h.Catalog.HandleGetTitle)
		r.Get("/titles/{titleID}/copies", h.Catalog.HandleCopies)

		r.Group(func(r chi.Router) {
			r.Use(auth.Require(respond.Error))

			r.Get("/members/{userID}", h.Members.HandleGetMember)
			r.Post("/members/{userID}/promote", h.Members.HandlePromote)
			r.Get("/members/{userID}/loans", h.Circulation.HandleMemberLoans)
			r.Get("/members/{userID}/reservations", h.Circulation.HandleMemberReservations)

			r.Post("/titles", h.Catalog.HandleAddTitle)
			r.Post("/titles/{titleID}/copies", h.Catalog.HandleAddCopies)
			r.Get("/titles/{titleID}/verify", h.Catalog.HandleVerify)
			r.Delete("/copies/{copyID}", h.Catalog.HandleRemoveCopy)

			r.Post("/titles/{titleID}/queue", h.Circulation.HandleReserve)
			r.Get("/titles/{titleID}/queue", h.Circulation.HandleQueue)
			r.Get("/titles/{titleID}/queue/head", h.Circulation.HandleHead)
			r.Get("/titles/{titleID}/queue/{userID}", h.Circulation.HandlePosition)
			r.Delete("/titles/{titleID}/queue/{userID}", h.Circulation.HandleLeave)

			r.Post("/loans", h.Circulation.HandleBorrow)
			r.Post("/loans/extend", h.Circulation.HandleExtend)
			r.Get("/loans/overdue", h.Circulation.HandleOverdue)
			r.Get("/loans/{loanID}", h.Circulation.HandleGetLoan)
			r.Post("/loans/{loanID}/return", h.Circulation.HandleReturn)
			r.Get("/loans/{loanID}/history", h.Circulation.HandleHistory)

			r.Post("/admin/sweep", h.Circulation.HandleSweep)
			r.Post("/admin/expire", h.Circulation.HandleExpire)

			r.Get("/notices", h.Notices.HandleList)
			r.Post("/notices/{noticeID}/read", h.Notices.HandleMarkRead)
		})
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func traced(next http.Handler) http.Handler {
	propagator := propagation.TraceContext{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.method", r.Method)),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		if route := chi.RouteContext(ctx); route != nil {
			span.SetAttributes(attribute.String("http.route", route.RoutePattern()))
		}
		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
	})
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{limit: limit, burst: burst, clients: make(map[string]*rate.Limiter)}
}

func (l *clientLimiter) get(addr string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.clients[addr]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.clients[addr] = lim
	}
	return lim
}

func (l *clientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !l.get(host).Allow() {
			w.Header().Set("Retry-After", "1")
			respond.Error(w, r, errTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
