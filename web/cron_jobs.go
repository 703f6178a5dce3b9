package web

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/types"
	"github.com/gin-gonic/gin"
	"net/http"
)

type createCronJobRequest struct {
	Name           string           `json:"name" binding:"required"`
	CronExpression string           `json:"cron_expression" binding:"required"`
	Timezone       string           `json:"timezone"`
	JobType        string           `json:"job_type" binding:"required"`
	Configuration  json.RawMessage  `json:"configuration"`
	IsActive       *bool            `json:"is_active"`
	SourceType     types.SourceType `json:"source_type"`
	SourceID       string           `json:"source_id"`
}

func (s *Server) createCronJob(c *gin.Context) {
	var req createCronJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	// System schedules are seeded by the engine itself.
	if req.SourceType == types.SourceSystem {
		s.fail(c, &custom_errors.ValidationError{Errors: []error{fmt.Errorf("source type %q is reserved", types.SourceSystem)}})
		return
	}
	ctx := c.Request.Context()
	cj, err := s.scheduler.Create(ctx, &types.CronJob{
		TenantID:       tenantOf(c),
		Name:           req.Name,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		JobType:        req.JobType,
		Configuration:  req.Configuration,
		SourceType:     req.SourceType,
		SourceID:       req.SourceID,
		IsActive:       req.IsActive == nil || *req.IsActive,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cj)
}

func (s *Server) listCronJobs(c *gin.Context) {
	page, pageSize := pagination(c)
	includeInactive := c.Query("include_inactive") == "true"
	list, err := s.scheduler.List(c.Request.Context(), tenantOf(c), includeInactive, page, pageSize)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getCronJob(c *gin.Context) {
	cj, err := s.scheduler.Get(c.Request.Context(), tenantOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cj)
}

func (s *Server) pauseCronJob(c *gin.Context) {
	cj, err := s.scheduler.Pause(c.Request.Context(), tenantOf(c), c.Param("id"), "paused by user")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cj)
}

func (s *Server) resumeCronJob(c *gin.Context) {
	cj, err := s.scheduler.Resume(c.Request.Context(), tenantOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cj)
}

func (s *Server) activateCronJob(c *gin.Context) {
	cj, err := s.scheduler.Activate(c.Request.Context(), tenantOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cj)
}

func (s *Server) deactivateCronJob(c *gin.Context) {
	if err := s.scheduler.Deactivate(c.Request.Context(), tenantOf(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) runCronJob(c *gin.Context) {
	execID, err := s.scheduler.RunNow(c.Request.Context(), tenantOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"executionId": execID})
}

func (s *Server) cronJobExecutions(c *gin.Context) {
	page, pageSize := pagination(c)
	execs, err := s.history.Executions(c.Request.Context(), tenantOf(c), c.Param("id"), page, pageSize)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, execs)
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.history.Stats(c.Request.Context(), tenantOf(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// tick runs one scheduler tick for platform schedulers that can only call HTTP.
// It is disabled unless a trigger secret is configured.
func (s *Server) tick(c *gin.Context) {
	if s.triggerSecret == "" {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.GetHeader(TriggerHeader)), []byte(s.triggerSecret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid trigger secret"})
		return
	}
	report, err := s.scheduler.Tick(c.Request.Context(), s.clock())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
