package web

import (
	"errors"
	"github.com/assaka/daino/custom_errors"
	"github.com/gin-gonic/gin"
	"net/http"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// fail maps an engine error onto a status code and aborts the request.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	resp := errorResponse{Error: err.Error()}

	var verr *custom_errors.ValidationError
	if errors.As(err, &verr) {
		resp.Error = "validation failed"
		for _, e := range verr.Errors {
			resp.Details = append(resp.Details, e.Error())
		}
	}
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		resp.Error = "internal error"
	}
	c.AbortWithStatusJSON(status, resp)
}

func statusOf(err error) int {
	var verr *custom_errors.ValidationError
	switch {
	case errors.Is(err, custom_errors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, custom_errors.ErrJobNotFound),
		errors.Is(err, custom_errors.ErrCronJobNotFound),
		errors.Is(err, custom_errors.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, custom_errors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &verr),
		errors.Is(err, custom_errors.ErrHandlerNotFound),
		errors.Is(err, custom_errors.ErrScheduleMisconfigured),
		errors.Is(err, custom_errors.ErrTenantRequired):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
