package web

import (
	"encoding/json"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/types"
	"github.com/gin-gonic/gin"
	"net/http"
	"strconv"
)

type enqueueRequest struct {
	Type       string          `json:"type" binding:"required"`
	Payload    json.RawMessage `json:"payload"`
	Priority   types.Priority  `json:"priority"`
	MaxRetries *int            `json:"maxRetries"`
	Metadata   types.Metadata  `json:"metadata"`
}

func (s *Server) enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	job, err := s.manager.Enqueue(c.Request.Context(), tenantOf(c), req.Type, req.Payload, types.EnqueueOptions{
		Priority:   req.Priority,
		MaxRetries: req.MaxRetries,
		Metadata:   req.Metadata,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID, "status": job.Status})
}

func (s *Server) jobStatus(c *gin.Context) {
	view, err := s.manager.GetStatus(c.Request.Context(), tenantOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) jobCounts(c *gin.Context) {
	counts, err := s.manager.Counts(c.Request.Context(), tenantOf(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (s *Server) listJobs(c *gin.Context) {
	page, pageSize := pagination(c)
	status := state.JobStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "unknown status " + strconv.Quote(string(status))})
		return
	}
	jobs, err := s.manager.List(c.Request.Context(), tenantOf(c), status, page, pageSize)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (s *Server) cancelJob(c *gin.Context) {
	job, err := s.manager.Cancel(c.Request.Context(), tenantOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job.StatusView())
}

func pagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.Query("page_size"))
	if err != nil || pageSize < 1 {
		pageSize = 20
	}
	return page, min(pageSize, maxPageSize)
}
