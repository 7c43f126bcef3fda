package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"datasweep/internal/errs"
	"datasweep/internal/match"
	"datasweep/internal/model"
	"datasweep/internal/scan"
)

// Store is the persistence the HTTP layer reads. *repository.Repository
// implements it.
type Store interface {
	Ping() error
	GetUser(userID string) (*model.User, error)
	GetDeletionRequest(requestID string) (*model.DeletionRequest, error)
	ListScanHistory(userID string, limit, offset int) ([]model.ScanHistoryEntry, int64, error)
	ListActivities(userID string, daysBack, limit int) ([]model.ActivityLog, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	repo         Store
	orchestrator *scan.Orchestrator
	matcher      *match.Matcher
}

// NewHandlers creates new HTTP handlers
func NewHandlers(repo Store, orchestrator *scan.Orchestrator, matcher *match.Matcher) *Handlers {
	return &Handlers{
		repo:         repo,
		orchestrator: orchestrator,
		matcher:      matcher,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/scans", h.StartScan)
		api.POST("/scans/responses", h.StartResponseScan)
		api.GET("/scans/:job_id", h.GetScanStatus)
		api.GET("/scans", h.GetScanHistory)

		api.POST("/requests/:id/reclassify", h.ReclassifyRequest)

		api.GET("/activities", h.GetActivities)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
	}

	if err := h.repo.Ping(); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// writeError maps typed scan errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	label := "internal_error"

	switch errs.CodeOf(err) {
	case errs.CodeAlreadyInProgress:
		status = http.StatusConflict
		label = "scan_in_progress"
	case errs.CodeNotFound:
		status = http.StatusNotFound
		label = "not_found"
	case errs.CodeValidationFailure:
		status = http.StatusUnprocessableEntity
		label = "validation_failure"
	case errs.CodeRateLimited:
		status = http.StatusTooManyRequests
		label = "rate_limited"
	case errs.CodePermissionDenied:
		status = http.StatusForbidden
		label = "permission_denied"
	}

	c.JSON(status, ErrorResponse{
		Error:   label,
		Message: err.Error(),
		Code:    status,
	})
}
