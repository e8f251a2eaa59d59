package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/photobook-be/internal/api/domain"
	"github.com/cuongbtq/photobook-be/internal/api/dto"
	"github.com/cuongbtq/photobook-be/internal/queue"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobReader
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("GetJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	// 1. Validate job_id format (UUID)
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		respondError(c, domain.NewValidationError("job_id must be a valid UUID", nil))
		return
	}

	// 2. Query job from database
	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		if isNotFound(err) {
			respondError(c, domain.NewNotFoundError("job not found"))
			return
		}
		respondInternal(c, h.logger, "Failed to get job", err)
		return
	}

	// 3. Only the owner may look at it when the caller is known
	if uid := userID(c); uid != "" && uid != job.UserID {
		respondError(c, domain.NewForbiddenError("job belongs to another user"))
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	h.logger.Info("ListJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	// 1. Parse query parameters
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		respondError(c, domain.NewValidationError("invalid query parameters", nil))
		return
	}

	// 2. Validate parameters
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	state := queue.State(req.State)
	if state != "" && !state.Valid() {
		respondError(c, domain.NewValidationError("state must be one of waiting, active, completed, failed", nil))
		return
	}

	// 3. Decode cursor for pagination
	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		respondError(c, domain.NewValidationError("invalid cursor", nil))
		return
	}

	// 4. Build filter and query jobs from database
	filter := queue.Filter{
		UserID:    userID(c),
		SessionID: req.SessionID,
		State:     state,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	}

	jobs, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		respondInternal(c, h.logger, "Failed to list jobs", err)
		return
	}

	// 5. Prepare response with next cursor if more results exist
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		nextCursor = EncodeJobCursor(&jobs[len(jobs)-1])
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}
