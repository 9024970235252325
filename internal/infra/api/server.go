package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"trading-edu-billing/internal/infra/sched"
	"trading-edu-billing/internal/usecase"
)

// JobRunner runs one billing job on demand.
type JobRunner interface {
	Run(ctx context.Context, job sched.Job) (any, error)
}

type Options struct {
	RequestTimeout time.Duration
	// WriteLimit caps mutating requests per caller per minute; 0 disables.
	WriteLimit int
}

// Server exposes the billing use case over JSON.
type Server struct {
	uc      usecase.BillingUseCase
	jobs    JobRunner
	auth    *AuthManager
	limiter Limiter
	opts    Options
	log     *zerolog.Logger
}

func NewServer(uc usecase.BillingUseCase, jobs JobRunner, auth *AuthManager, limiter Limiter, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	l := logger.With().Str("component", "API").Logger()
	return &Server{uc: uc, jobs: jobs, auth: auth, limiter: limiter, opts: opts, log: &l}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(s.opts.RequestTimeout), Authenticate(s.auth))

		write := RateLimit(s.limiter, "billing_write", s.opts.WriteLimit, time.Minute, s.log)

		r.With(write).Post("/subscriptions", s.createSubscription)
		r.Get("/users/{userID}/subscription", s.getUserSubscription)
		r.With(write, RequireRole(RoleAdmin)).Post("/subscriptions/{id}/billing", s.processBilling)
		r.With(write).Post("/subscriptions/{id}/cancel", s.cancelSubscription)
		r.With(RequireRole(RoleAdmin)).Post("/jobs/{job}", s.runJob)
	})
	return r
}

// Serve listens on addr until ctx is done, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http api listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
