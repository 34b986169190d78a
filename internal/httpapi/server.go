// Package httpapi exposes the discharge engine over REST for the shop
// floor UI. All responses are JSON; failures use a single error
// envelope with the code of the underlying error.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"codeberg.org/hvlab/dischargectl/internal/engine"
	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/logbook"
	"codeberg.org/hvlab/dischargectl/internal/logger"
	"codeberg.org/hvlab/dischargectl/internal/profile"
)

var errFactory = errors.New()

// Deps are the collaborators the HTTP surface exposes. Metrics may be
// nil to leave the /metrics route unregistered.
type Deps struct {
	Engine  *engine.Engine
	Store   *profile.Store
	Logbook logbook.Reader
	Metrics http.Handler
	// Mode labels sessions started over HTTP, "Test" or "Real".
	Mode string
}

// Server serves the REST API for one controller instance.
type Server struct {
	cfg     Config
	handler http.Handler
	srv     *http.Server
}

// NewServer wires the routes and middleware. It does not listen yet;
// call Start.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Engine == nil || deps.Store == nil || deps.Logbook == nil {
		return nil, errFactory.New(ErrInvalidConfig).
			WithMessage("http server needs an engine, a profile store and a logbook")
	}

	h := &handler{
		eng:   deps.Engine,
		store: deps.Store,
		book:  deps.Logbook,
		mode:  deps.Mode,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(), recovery())

	router.GET("/health", h.health)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/status", h.status)
		api.GET("/samples", h.samples)

		api.GET("/profiles", h.listProfiles)
		api.POST("/profiles", h.saveProfile)
		api.DELETE("/profiles/:name", h.deleteProfile)

		api.POST("/discharge", h.startDischarge)
		api.POST("/discharge/pause", h.pauseDischarge)
		api.POST("/discharge/resume", h.resumeDischarge)
		api.POST("/discharge/stop", h.stopDischarge)
		api.POST("/reset", h.reset)

		api.GET("/sessions", h.listSessions)
		api.GET("/sessions/:id", h.getSession)
	}

	wrapped := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	return &Server{
		cfg:     cfg,
		handler: wrapped,
		srv: &http.Server{
			Addr:              cfg.Listen,
			Handler:           wrapped,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// Start blocks serving requests until Shutdown is called or the
// listener fails.
func (s *Server) Start() error {
	logger.Info().
		Str("listen", s.cfg.Listen).
		Msg("HTTP API listening")

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errFactory.Wrap(ErrServeFailed, err).
			WithData(struct{ Listen string }{Listen: s.cfg.Listen})
	}

	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return errFactory.Wrap(ErrShutdownFailed, err)
	}

	return nil
}

// Handler returns the full middleware chain, used by tests to serve
// requests without a listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}
