package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/libroteca/apiserver/config"
	"github.com/libroteca/apiserver/internal/auth"
	"github.com/libroteca/apiserver/internal/db"
	"github.com/libroteca/apiserver/internal/handlers"
	"github.com/libroteca/apiserver/internal/logging"
	"github.com/libroteca/apiserver/internal/metrics"
	"github.com/libroteca/apiserver/internal/mq"
	"github.com/libroteca/apiserver/internal/services"
	"github.com/libroteca/apiserver/internal/storage"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	shutdownTimeout        = 15 * time.Second
	limiterCleanupInterval = time.Minute
)

// Server wraps the HTTP server, router and background jobs.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sqlx.DB
	events     *mq.MQ
	scheduler  *cron.Cron
	limiter    *handlers.RateLimiter
	log        logrus.FieldLogger
}

// New wires stores, services and routes. It fails before touching the
// database when the signing secret is missing.
func New(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*Server, error) {
	signer, err := auth.NewSigner(cfg.SecretKey, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, auth.WithIssuer(cfg.TokenIssuer))
	if err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	events, err := mq.Open(ctx, cfg.Events)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("open events backend: %w", err)
	}
	receipts, err := storage.Open(ctx, cfg.Receipts)
	if err != nil {
		if events != nil {
			_ = events.Close()
		}
		_ = dbConn.Close()
		return nil, fmt.Errorf("open receipts backend: %w", err)
	}

	m := metrics.New()
	repos := services.SQLRepositories{}

	credentialService := services.NewCredentialService(dbConn, repos, auth.NewPasswordHasher(bcrypt.DefaultCost), log)
	tokenService := services.NewTokenService(dbConn, repos, signer, credentialService, m, log)
	catalogService := services.NewCatalogService(dbConn, repos, log)

	purchaseOpts := []services.PurchaseOption{services.WithObserver(m)}
	if events != nil {
		purchaseOpts = append(purchaseOpts, services.WithEventPublisher(events))
	}
	if receipts != nil {
		log.WithField("bucket", receipts.Bucket()).Info("archiving receipts")
		purchaseOpts = append(purchaseOpts, services.WithReceiptArchiver(receipts))
	}
	purchaseService := services.NewPurchaseService(dbConn, repos, log, purchaseOpts...)

	limiter := handlers.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)
	authHandler := handlers.NewAuthHandler(credentialService, tokenService, handlers.CookieConfig{Secure: cfg.CookieSecure}, log)
	bookHandler := handlers.NewBookHandler(catalogService, purchaseService, log)
	requireSession := handlers.RequireSession(tokenService, credentialService, log)

	router := newRouter(m, log, cfg.TrustProxy, authHandler, bookHandler, requireSession, limiter)

	var scheduler *cron.Cron
	if cfg.RestockSchedule != "" {
		scheduler = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
		_, err := scheduler.AddFunc(cfg.RestockSchedule, func() {
			if _, err := catalogService.Restock(context.Background()); err != nil {
				log.WithError(err).Error("scheduled restock failed")
			}
		})
		if err != nil {
			if events != nil {
				_ = events.Close()
			}
			_ = dbConn.Close()
			return nil, fmt.Errorf("invalid RESTOCK_SCHEDULE: %w", err)
		}
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		events:     events,
		scheduler:  scheduler,
		limiter:    limiter,
		log:        log,
	}, nil
}

func newRouter(
	m *metrics.Metrics,
	log logrus.FieldLogger,
	trustProxy bool,
	authHandler *handlers.AuthHandler,
	bookHandler *handlers.BookHandler,
	requireSession func(http.Handler) http.Handler,
	limiter *handlers.RateLimiter,
) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	if trustProxy {
		// Rewrites RemoteAddr, which keys the rate limiter.
		router.Use(middleware.RealIP)
	}
	router.Use(
		logging.RequestLogger(log),
		m.Middleware,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", m.Handler())
	router.Route("/api/usuarios", func(r chi.Router) {
		handlers.UsersRouter(r, authHandler, bookHandler, requireSession, limiter.Handler)
	})
	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Start()
	}
	s.limiter.StartCleanup(ctx, limiterCleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.httpServer.Addr).Info("server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		_ = s.close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// the database and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	err := s.httpServer.Shutdown(ctx)
	if cerr := s.close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Server) close() error {
	if s.scheduler != nil {
		<-s.scheduler.Stop().Done()
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			s.log.WithError(err).Warn("close events backend")
		}
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
