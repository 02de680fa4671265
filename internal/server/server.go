package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	slogecho "github.com/samber/slog-echo"

	"github.com/vnykmshr/kvguard/internal/books"
	"github.com/vnykmshr/kvguard/pkg/common/validation"
	"github.com/vnykmshr/kvguard/pkg/health"
	"github.com/vnykmshr/kvguard/pkg/ratelimit/slidingwindow"
	"github.com/vnykmshr/kvguard/pkg/store"
)

// Config wires the HTTP server to its dependencies.
type Config struct {
	Bind   string
	Logger *slog.Logger

	Store        *store.Client
	Books        *books.Handler
	ReadLimiter  *slidingwindow.Limiter
	WriteLimiter *slidingwindow.Limiter

	// Registerer receives the HTTP request metrics. If nil, uses
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Server is the demo book API: every /api/books route is rate limited
// and the listings are served cache-aside.
type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	store  *store.Client
	logger *slog.Logger
}

func New(config Config) (*Server, error) {
	for _, dep := range []struct {
		field string
		value interface{}
	}{
		{"store", config.Store},
		{"books", config.Books},
		{"read_limiter", config.ReadLimiter},
		{"write_limiter", config.WriteLimiter},
	} {
		if err := validation.ValidateNotNil("server", dep.field, dep.value); err != nil {
			return nil, err
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := config.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		echo:   e,
		store:  config.Store,
		logger: logger,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.HidePort = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "kvguard",
		Registerer: reg,
	}))
	e.Use(middleware.BodyLimit("4M"))
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.HandleHealthCheck)

	h := config.Books
	read := echo.WrapMiddleware(config.ReadLimiter.Middleware)
	write := echo.WrapMiddleware(config.WriteLimiter.Middleware)

	api := e.Group("/api/books")
	api.GET("/published", h.ListPublished, optionalUser, read)
	api.GET("", h.ListMine, requireUser, read)
	api.POST("", h.Create, requireUser, write)
	api.GET("/:id", h.Get, requireUser, read)
	api.PUT("/:id", h.Update, requireUser, write)
	api.DELETE("/:id", h.Delete, requireUser, write)
	api.PUT("/cover/:id", h.UpdateCover, requireUser, write)

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// RunAPI serves until ctx is done, then shuts down gracefully.
func (srv *Server) RunAPI(ctx context.Context) error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
		}
		return err
	case <-ctx.Done():
	}

	if err := srv.Shutdown(); err != nil {
		srv.logger.Error("HTTP server shutdown error", "err", err)
		return err
	}
	return nil
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "Server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = http.StatusText(code)
	}
	if code >= 500 {
		srv.logger.Warn("kvguard-http-internal-error", "err", err)
	}
	if c.Response().Committed {
		return
	}
	_ = c.JSON(code, books.Message{Message: msg})
}

type GenericStatus struct {
	Daemon string        `json:"daemon"`
	Status string        `json:"status"`
	Store  health.Status `json:"store"`
}

// HandleHealthCheck reports liveness. The API keeps serving without the
// store, so a store outage is "degraded" rather than a failure.
func (srv *Server) HandleHealthCheck(c echo.Context) error {
	st := srv.store.Health().Status("store").WithMessage(srv.store.Status().String())
	out := GenericStatus{Daemon: "kvguard", Status: "ok", Store: st}
	if !st.Healthy {
		out.Status = health.StatusDegraded
	}
	return c.JSON(http.StatusOK, out)
}
