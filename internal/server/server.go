// Package server exposes health, metrics and manual processing over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nhle/approval-watcher/internal/model"
	"github.com/nhle/approval-watcher/internal/pipeline"
	"github.com/nhle/approval-watcher/internal/watcher"
)

// maxBodyBytes caps POST /process-emails bodies.
const maxBodyBytes = "1M"

// StatusSource reports the mailbox connection state.
type StatusSource interface {
	Status() watcher.Status
}

// Processor runs one message through the pipeline.
type Processor interface {
	Process(ctx context.Context, msg model.RawMessage) pipeline.Result
}

// Server provides the HTTP endpoints.
type Server struct {
	echo      *echo.Echo
	status    StatusSource
	processor Processor
	limiter   *ipLimiter
	logger    *zap.Logger
	addr      string
}

// New creates a server listening on cfg.Addr once Start is called.
func New(cfg model.HTTPConfig, status StatusSource, processor Processor, logger *zap.Logger) (*Server, error) {
	if status == nil {
		return nil, errors.New("status source cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		status:    status,
		processor: processor,
		limiter:   newIPLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:    logger,
		addr:      cfg.Addr,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/liveness", s.handleLiveness)
	s.echo.GET("/readiness", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.POST("/process-emails", s.handleProcess,
		middleware.BodyLimit(maxBodyBytes),
		s.rateLimit,
	)
}

// StatusResponse is the body of the health endpoints.
type StatusResponse struct {
	Status string          `json:"status"`
	Watch  *watcher.Status `json:"watcher,omitempty"`
}

// ProcessRequest is the body of POST /process-emails.
type ProcessRequest struct {
	From string `json:"from"`
	Text string `json:"text"`
	HTML string `json:"html"`
}

// ProcessResponse is returned by POST /process-emails.
type ProcessResponse struct {
	Status    string `json:"status"`
	ID        string `json:"id,omitempty"`
	Approved  *bool  `json:"approved"`
	Comment   string `json:"comment,omitempty"`
	Forwarded bool   `json:"forwarded"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{Status: "Service is alive"})
}

// handleReadiness is ready only while the mailbox session is connected.
func (s *Server) handleReadiness(c echo.Context) error {
	st := s.status.Status()
	if st.State != watcher.Connected {
		return c.JSON(http.StatusServiceUnavailable, StatusResponse{
			Status: "Service is not ready",
			Watch:  &st,
		})
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "Service is ready", Watch: &st})
}

// handleProcess runs a posted message through the pipeline synchronously.
func (s *Server) handleProcess(c echo.Context) error {
	var req ProcessRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid process request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res := s.processor.Process(c.Request().Context(), model.RawMessage{
		MessageID: c.Response().Header().Get(echo.HeaderXRequestID),
		From:      req.From,
		TextBody:  req.Text,
		HTMLBody:  req.HTML,
	})

	if res.Empty {
		return c.JSON(http.StatusOK, ProcessResponse{Status: "Email content is empty, skipped"})
	}

	resp := ProcessResponse{
		Status:    "Emails processed successfully",
		ID:        res.Event.RequestID,
		Approved:  res.Event.Approved,
		Comment:   res.Event.Comment,
		Forwarded: res.Forwarded,
	}
	if res.ForwardErr != nil {
		resp.Error = res.ForwardErr.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
