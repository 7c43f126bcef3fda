package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"datasweep/internal/model"
	"datasweep/internal/scan"
)

// StartScan queues a mailbox scan for a user
func (h *Handlers) StartScan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	if _, err := h.repo.GetUser(req.UserID); err != nil {
		writeError(c, err)
		return
	}

	jobID, err := h.orchestrator.StartMailboxScan(req.UserID, req.DaysBack, req.MaxMessages, model.ScanSourceManual)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, ScanStartedResponse{
		JobID: jobID,
		State: string(scan.JobQueued),
	})
}

// StartResponseScan queues a scan for broker replies to open requests
func (h *Handlers) StartResponseScan(c *gin.Context) {
	var req ResponseScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	if _, err := h.repo.GetUser(req.UserID); err != nil {
		writeError(c, err)
		return
	}

	jobID, err := h.orchestrator.StartResponseScan(req.UserID, req.DaysBack, model.ScanSourceManual)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, ScanStartedResponse{
		JobID: jobID,
		State: string(scan.JobQueued),
	})
}

// GetScanStatus returns the current snapshot of a scan job
func (h *Handlers) GetScanStatus(c *gin.Context) {
	status, err := h.orchestrator.JobStatus(c.Param("job_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetScanHistory returns the scan ledger for a user with pagination
func (h *Handlers) GetScanHistory(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "user_id is required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	offset := (page - 1) * limit

	entries, total, err := h.repo.ListScanHistory(userID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history": entries,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}
