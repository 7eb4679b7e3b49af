package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/repos"
)

type JobsHandler struct {
	jobs repos.JobRunRepo
}

func NewJobsHandler(jobs repos.JobRunRepo) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// GET /api/jobs/:id
func (h *JobsHandler) GetJobByID(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.GetByID(c.Request.Context(), nil, jobID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	if job == nil {
		RespondError(c, http.StatusNotFound, "job_not_found", apperr.ErrNotFound)
		return
	}
	RespondOK(c, gin.H{"job": job})
}
