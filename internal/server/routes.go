package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/misunderstood/internal/metrics"
	"github.com/zulandar/misunderstood/internal/misunderstood"
	"github.com/zulandar/misunderstood/internal/models"
	"gorm.io/datatypes"
)

// registerRoutes sets up all API routes on the gin router.
func registerRoutes(router *gin.Engine, store FlagStore, rec *metrics.Recorder) {
	router.GET("/health", handleHealth())
	if rec != nil {
		router.GET("/metrics", gin.WrapH(rec.Handler()))
	}

	bots := router.Group("/api/bots/:botId")
	bots.GET("/flags", handleListFlags(store))
	bots.POST("/flags", handleAddFlag(store))
	bots.GET("/counts", handleCountFlags(store))
	bots.GET("/flags/:id", handleFlagDetails(store))
	bots.POST("/flags/:id/status", handleUpdateStatus(store))
}

// addFlagRequest is the body accepted when raising a flag.
type addFlagRequest struct {
	EventID          string                 `json:"eventId"`
	Language         string                 `json:"language"`
	Preview          string                 `json:"preview"`
	Reason           models.Reason          `json:"reason"`
	Status           models.Status          `json:"status"`
	ResolutionType   *models.ResolutionType `json:"resolutionType"`
	Resolution       *string                `json:"resolution"`
	ResolutionParams json.RawMessage        `json:"resolutionParams"`
}

// statusRequest is the body accepted by the status route. Fields outside
// status and the resolution triple are dropped during decoding.
type statusRequest struct {
	Status models.Status `json:"status"`
	misunderstood.Resolution
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleListFlags(store FlagStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		language, status := c.Query("language"), models.Status(c.Query("status"))
		if language == "" || status == "" {
			badRequest(c, errors.New("language and status query parameters are required"))
			return
		}
		if !status.Valid() {
			badRequest(c, fmt.Errorf("%w: %q", misunderstood.ErrInvalidStatus, status))
			return
		}
		rng, err := dateRange(c)
		if err != nil {
			badRequest(c, err)
			return
		}
		events, err := store.ListEvents(c.Request.Context(), c.Param("botId"), language, status, rng)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if events == nil {
			events = []models.FlaggedEvent{}
		}
		c.JSON(http.StatusOK, events)
	}
}

func handleCountFlags(store FlagStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		language := c.Query("language")
		if language == "" {
			badRequest(c, errors.New("language query parameter is required"))
			return
		}
		rng, err := dateRange(c)
		if err != nil {
			badRequest(c, err)
			return
		}
		counts, err := store.CountEvents(c.Request.Context(), c.Param("botId"), language, rng)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, counts)
	}
}

func handleFlagDetails(store FlagStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := flagID(c)
		if err != nil {
			badRequest(c, err)
			return
		}
		details, err := store.GetEventDetails(c.Request.Context(), c.Param("botId"), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if details == nil {
			c.JSON(http.StatusOK, gin.H{"context": nil})
			return
		}
		c.JSON(http.StatusOK, details)
	}
}

func handleAddFlag(store FlagStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addFlagRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, fmt.Errorf("invalid body: %w", err))
			return
		}
		event := &models.FlaggedEvent{
			BotID:            c.Param("botId"),
			EventID:          req.EventID,
			Language:         req.Language,
			Preview:          req.Preview,
			Reason:           req.Reason,
			Status:           req.Status,
			ResolutionType:   req.ResolutionType,
			Resolution:       req.Resolution,
			ResolutionParams: datatypes.JSON(req.ResolutionParams),
		}
		if err := store.AddEvent(c.Request.Context(), event); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, event)
	}
}

func handleUpdateStatus(store FlagStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := flagID(c)
		if err != nil {
			badRequest(c, err)
			return
		}
		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, fmt.Errorf("invalid body: %w", err))
			return
		}
		n, err := store.UpdateStatus(c.Request.Context(), c.Param("botId"), id, req.Status, &req.Resolution)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": n})
	}
}

// flagID parses the :id path parameter.
func flagID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid flag id %q", c.Param("id"))
	}
	return uint(id), nil
}

// dateRange reads the start and end query parameters.
func dateRange(c *gin.Context) (misunderstood.DateRange, error) {
	return misunderstood.ParseDateRange(c.Query("start"), c.Query("end"))
}

func badRequest(c *gin.Context, err error) {
	c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// abortWithError maps store errors to HTTP status codes.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, misunderstood.ErrNotFound):
		c.Error(err)
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, misunderstood.ErrMissingField),
		errors.Is(err, misunderstood.ErrInvalidStatus),
		errors.Is(err, misunderstood.ErrInvalidReason),
		errors.Is(err, misunderstood.ErrInvalidResolutionType),
		errors.Is(err, misunderstood.ErrInvalidParams),
		errors.Is(err, misunderstood.ErrInvalidRange):
		badRequest(c, err)
	default:
		c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
