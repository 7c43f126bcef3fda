package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ReclassifyRequest re-runs classification over the responses linked to a
// deletion request. When the caller supplies classifications they are
// validated as a batch; otherwise the service classifies the thread itself.
func (h *Handlers) ReclassifyRequest(c *gin.Context) {
	requestID := c.Param("id")

	if _, err := h.repo.GetDeletionRequest(requestID); err != nil {
		writeError(c, err)
		return
	}

	var req ReclassifyRequest
	// An empty body means "classify the thread yourself".
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	var updated int
	var err error
	if len(req.Classifications) > 0 {
		updated, err = h.matcher.ApplyExternalClassifications(requestID, req.Classifications)
	} else {
		updated, err = h.matcher.ReclassifyThread(c.Request.Context(), requestID)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ReclassifyResponse{
		RequestID: requestID,
		Updated:   updated,
	})
}

// GetActivities returns recent activity feed entries for a user
func (h *Handlers) GetActivities(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "user_id is required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	daysBack, _ := strconv.Atoi(c.DefaultQuery("days_back", "30"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if daysBack < 1 {
		daysBack = 30
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	activities, err := h.repo.ListActivities(userID, daysBack, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"activities": activities,
		"count":      len(activities),
	})
}
