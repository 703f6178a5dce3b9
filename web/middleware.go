package web

import (
	"crypto/subtle"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/tenant"
	"github.com/gin-gonic/gin"
	"strings"
)

type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Authorizer decides whether the caller may perform action on tenantID.
// A denial should wrap custom_errors.ErrForbidden.
type Authorizer interface {
	Authorize(c *gin.Context, tenantID string, action Action) error
}

// AllowAll accepts every caller. It suits deployments where a gateway in
// front of the API already checks tenant membership.
type AllowAll struct{}

func (AllowAll) Authorize(*gin.Context, string, Action) error { return nil }

// TokenAuthorizer accepts a bearer token per tenant.
type TokenAuthorizer map[string]string

func (t TokenAuthorizer) Authorize(c *gin.Context, tenantID string, _ Action) error {
	want, ok := t[tenantID]
	if !ok || want == "" {
		return custom_errors.ErrForbidden
	}
	got, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !found || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return custom_errors.ErrForbidden
	}
	return nil
}

const tenantKey = "tenant_id"

// requireTenant reads the tenant header, checks it against the directory
// when one is set, and scopes the request context to it.
func (s *Server) requireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(TenantHeader))
		if tenantID == "" {
			s.fail(c, custom_errors.ErrTenantRequired)
			return
		}
		if s.directory != nil {
			if _, err := s.directory.Get(c.Request.Context(), tenantID); err != nil {
				s.fail(c, err)
				return
			}
		}
		c.Set(tenantKey, tenantID)
		c.Request = c.Request.WithContext(tenant.WithTenant(c.Request.Context(), tenantID))
		c.Next()
	}
}

func (s *Server) authorize(action Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.auth.Authorize(c, c.GetString(tenantKey), action); err != nil {
			s.fail(c, err)
			return
		}
		c.Next()
	}
}

func tenantOf(c *gin.Context) string {
	return c.GetString(tenantKey)
}
