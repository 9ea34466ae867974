package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{Log: zap.NewNop()}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestEnrichRequiresOrgHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{Log: zap.NewNop()}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/findings/f-1/enrich", nil)
	s.Router().ServeHTTP(w, req)

	// Application errors ride inside a 200 envelope.
	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "missing X-Org-ID header", resp.Message)
	assert.Nil(t, resp.Data)
}

func TestIdentityFromHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Request.Header.Set("X-Org-ID", "org-1")
	c.Request.Header.Set("X-Member-Email", "dev@example.com")

	id := identity(c)
	assert.Equal(t, "org-1", id.OrgID)
	assert.Equal(t, "dev@example.com", id.MemberEmail)
}
