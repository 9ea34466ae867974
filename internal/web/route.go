// Package web exposes the enrichment engine over HTTP.
package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seclens/vuln-triage/internal/advisory"
	"github.com/seclens/vuln-triage/internal/enrich"
	"github.com/seclens/vuln-triage/internal/store"
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "success",
		Data:    data,
	})
}

// fail reports application errors inside a 200 envelope; transport-level
// status stays 200 so clients always parse the same shape.
func fail(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

type Server struct {
	Enricher *enrich.Enricher
	Store    *store.Store
	Log      *zap.Logger
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.POST("/findings/:id/enrich", s.handleEnrich)
	v1.PUT("/orgs/:orgId/integrations/:source", s.handleSetIntegration)

	return r
}

// identity pulls the acting organization and member from the request
// headers set by the authenticating gateway.
func identity(c *gin.Context) advisory.Identity {
	return advisory.Identity{
		OrgID:       c.GetHeader("X-Org-ID"),
		MemberEmail: c.GetHeader("X-Member-Email"),
	}
}

func (s *Server) handleEnrich(c *gin.Context) {
	id := identity(c)
	if id.OrgID == "" {
		fail(c, http.StatusUnauthorized, "missing X-Org-ID header")
		return
	}
	findingID := c.Param("id")
	seen, _ := strconv.ParseBool(c.DefaultQuery("seen", "false"))

	expanded, err := s.Enricher.Enrich(c.Request.Context(), id, findingID, seen)
	if err != nil {
		s.Log.Error("enrichment failed",
			zap.String("finding_id", findingID),
			zap.String("org_id", id.OrgID),
			zap.Error(err),
		)
		switch {
		case errors.Is(err, advisory.ErrIntegrationDisabled):
			fail(c, http.StatusForbidden, "advisory integration is disabled for this organization")
		case errors.Is(err, advisory.ErrMalformedAdvisory):
			fail(c, http.StatusUnprocessableEntity, "upstream advisory is malformed")
		case errors.Is(err, advisory.ErrUpstreamUnavailable):
			fail(c, http.StatusBadGateway, "advisory source is unavailable")
		default:
			fail(c, http.StatusInternalServerError, err.Error())
		}
		return
	}
	success(c, expanded)
}

func (s *Server) handleSetIntegration(c *gin.Context) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	orgID := c.Param("orgId")
	source := c.Param("source")
	if err := s.Store.SetEnabled(c.Request.Context(), orgID, source, body.Enabled); err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	success(c, gin.H{"orgId": orgID, "source": source, "enabled": body.Enabled})
}
