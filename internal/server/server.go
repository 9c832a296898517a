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
	"go.uber.org/zap"

	"github.com/jjudge-oj/accounts/config"
	"github.com/jjudge-oj/accounts/internal/auth"
	"github.com/jjudge-oj/accounts/internal/db"
	"github.com/jjudge-oj/accounts/internal/events"
	"github.com/jjudge-oj/accounts/internal/handlers"
	"github.com/jjudge-oj/accounts/internal/mq"
	"github.com/jjudge-oj/accounts/internal/services"
	"github.com/jjudge-oj/accounts/internal/storage"
	"github.com/jjudge-oj/accounts/internal/store"
)

// userStore is what both user repositories provide.
type userStore interface {
	services.UserRepository
	auth.CredentialStore
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sqlx.DB
	queue      *mq.MQ
	logger     *zap.Logger
}

// New wires the stores, services and routes described by cfg.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{logger: logger}

	repo, err := s.openUserStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	codec, err := auth.NewCodec(cfg.JWT, logger)
	if err != nil {
		s.close()
		return nil, err
	}
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)

	pictures, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	s.queue, err = mq.Open(ctx, cfg.MQ)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("open mq: %w", err)
	}
	var publisher events.Publisher = events.Nop{}
	if s.queue != nil {
		publisher = events.NewBrokerPublisher(s.queue, cfg.MQ.EventsChannel, logger)
	}

	opts := []services.UserServiceOption{
		services.WithEvents(publisher),
		services.WithLogger(logger),
	}
	if pictures != nil {
		opts = append(opts, services.WithPictureStore(pictures, cfg.Storage.MaxUploadBytes))
	}
	userService := services.NewUserService(repo, hasher, opts...)
	authenticator := auth.NewAuthenticator(repo, hasher, logger)

	authHandler := handlers.NewAuthHandler(userService, authenticator, codec, cfg.JWT.TokenPrefix, publisher, logger)
	userHandler := handlers.NewUserHandler(userService, cfg.Storage.MaxUploadBytes, logger)
	limiter := handlers.NewRateLimiter(cfg.RateLimit.LoginRPS, cfg.RateLimit.LoginBurst)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	if cfg.TrustProxyHeaders {
		// The rate limiter keys on RemoteAddr; only a trusted proxy may set it.
		router.Use(middleware.RealIP)
	}
	router.Use(
		handlers.RequestLogger(logger),
		handlers.Recoverer(logger),
		middleware.Timeout(60*time.Second),
		handlers.IdentityFilter(cfg.JWT, codec, logger),
	)
	router.NotFound(handlers.NotFound)
	router.MethodNotAllowed(handlers.MethodNotAllowed)

	router.Get("/healthz", handlers.Healthz)
	router.Route("/api/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler, limiter.Middleware)
	})
	router.Route("/api/users", func(r chi.Router) {
		handlers.UserRouter(r, userHandler)
	})

	s.router = router
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) openUserStore(ctx context.Context, cfg config.Config) (userStore, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		s.logger.Warn("using in-memory user store; data is lost on restart")
		return store.NewMemoryUserRepository(), nil
	case config.StoreDriverPostgres:
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		s.db = conn
		return store.NewUserRepository(conn), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the database and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Warn("close mq", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("close database", zap.Error(err))
		}
	}
}
