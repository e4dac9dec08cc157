// Package server exposes the flagged event store as a JSON review API.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/misunderstood/internal/metrics"
	"github.com/zulandar/misunderstood/internal/misunderstood"
	"github.com/zulandar/misunderstood/internal/models"
	"go.uber.org/zap"
)

// shutdownTimeout bounds graceful shutdown once ctx is cancelled.
const shutdownTimeout = 10 * time.Second

// FlagStore is the subset of misunderstood.Store the API serves.
type FlagStore interface {
	AddEvent(ctx context.Context, event *models.FlaggedEvent) error
	UpdateStatus(ctx context.Context, botID string, id uint, status models.Status, res *misunderstood.Resolution) (int64, error)
	ListEvents(ctx context.Context, botID, language string, status models.Status, rng misunderstood.DateRange) ([]models.FlaggedEvent, error)
	CountEvents(ctx context.Context, botID, language string, rng misunderstood.DateRange) (map[models.Status]int, error)
	GetEventDetails(ctx context.Context, botID string, id uint) (*misunderstood.EventDetails, error)
}

// RouterOpts holds the dependencies of the API router.
type RouterOpts struct {
	Store   FlagStore
	Metrics *metrics.Recorder // optional; /metrics is absent without it
	Logger  *zap.Logger
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	RouterOpts
	Port int
	Out  io.Writer
}

// NewRouter builds the gin engine serving the review API.
func NewRouter(opts RouterOpts) (*gin.Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log.Named("http"), opts.Metrics))

	registerRoutes(router, opts.Store, opts.Metrics)
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts.RouterOpts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Review API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// requestLogger logs each request and records its latency.
func requestLogger(log *zap.Logger, rec *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if rec != nil {
			rec.ObserveRequest(c.Request.Method, route, status, elapsed)
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("request", fields...)
		default:
			log.Debug("request", fields...)
		}
	}
}
