package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"bken/signaling/internal/core"
	"bken/signaling/internal/protocol"
	"bken/signaling/internal/store"
	"bken/signaling/internal/ws"
)

const maxHistoryLimit = 500

// Options wires the optional parts of the HTTP surface.
type Options struct {
	// CORSOrigin is the allowed browser origin; "*" allows any.
	CORSOrigin string
	// ShutdownTimeout bounds graceful shutdown in Run.
	ShutdownTimeout time.Duration
	// Journal backs /api/rooms/history when non-nil.
	Journal *store.Store
	// Metrics is served at MetricsPath when non-nil.
	Metrics     http.Handler
	MetricsPath string
	// WebSocket serves /ws when non-nil.
	WebSocket *ws.Handler
}

// Server is the Echo application.
type Server struct {
	echo *echo.Echo
	reg  *core.Registry
	opts Options
	log  *zap.Logger
}

// New constructs an Echo app with the health, directory, metrics and
// websocket routes.
func New(reg *core.Registry, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{opts.CORSOrigin},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	s := &Server{echo: e, reg: reg, opts: opts, log: logger}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/rooms", s.handleRooms)
	if s.opts.Journal != nil {
		s.echo.GET("/api/rooms/history", s.handleHistory)
	}
	if s.opts.Metrics != nil {
		s.echo.GET(s.opts.MetricsPath, echo.WrapHandler(s.opts.Metrics))
	}
	if s.opts.WebSocket != nil {
		s.opts.WebSocket.Register(s.echo)
	}
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	s.log.Info("http listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

type healthResponse struct {
	Status      string  `json:"status"`
	Timestamp   int64   `json:"timestamp"`
	Uptime      float64 `json:"uptime"`
	RoomCount   int     `json:"roomCount"`
	ClientCount int     `json:"clientCount"`
}

func (s *Server) handleHealth(c echo.Context) error {
	stats := s.reg.Stats()
	return c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Timestamp:   s.reg.Now().UnixMilli(),
		Uptime:      stats.Uptime.Seconds(),
		RoomCount:   stats.RoomCount,
		ClientCount: stats.ClientCount,
	})
}

func (s *Server) handleRooms(c echo.Context) error {
	category := strings.TrimSpace(c.QueryParam("category"))
	if category == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "category is required")
	}
	return c.JSON(http.StatusOK, protocol.RoomList{Rooms: s.reg.ListRooms(category)})
}

type historyResponse struct {
	Events []store.EventRow `json:"events"`
}

func (s *Server) handleHistory(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxHistoryLimit)
	}

	var (
		rows []store.EventRow
		err  error
	)
	if roomID := strings.TrimSpace(c.QueryParam("roomId")); roomID != "" {
		rows, err = s.opts.Journal.RoomHistory(c.Request().Context(), roomID, limit)
	} else {
		rows, err = s.opts.Journal.History(c.Request().Context(), limit)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("read room history: %v", err))
	}
	return c.JSON(http.StatusOK, historyResponse{Events: rows})
}
