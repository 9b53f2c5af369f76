package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"character-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriticalComponentDrivesHealth(t *testing.T) {
	c := NewChecker(logger.Nop(), time.Minute)
	dbErr := errors.New("connection refused")
	c.RegisterDatabaseCheck(func(context.Context) error { return dbErr })
	c.RegisterRedisCheck(func(context.Context) error { return nil })

	var seen []bool
	c.OnChange(func(h bool) { seen = append(seen, h) })

	c.RunChecks(context.Background())
	assert.False(t, c.IsSystemHealthy())
	assert.Equal(t, StatusDown, c.GetStatus()["database"].Status)
	assert.Equal(t, "connection refused", c.GetStatus()["database"].Error)

	dbErr = nil
	c.RunChecks(context.Background())
	assert.True(t, c.IsSystemHealthy())
	assert.Equal(t, []bool{false, true}, seen)
}

func TestNonCriticalFailureKeepsSystemHealthy(t *testing.T) {
	c := NewChecker(logger.Nop(), time.Minute)
	c.RegisterRedisCheck(func(context.Context) error { return errors.New("timeout") })

	c.RunChecks(context.Background())
	assert.True(t, c.IsSystemHealthy())
	assert.Equal(t, StatusDegraded, c.GetStatus()["redis"].Status)
}

func TestHandlerStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := NewChecker(logger.Nop(), time.Minute)
	c.RegisterDatabaseCheck(func(context.Context) error { return errors.New("down") })
	c.RunChecks(context.Background())

	r := gin.New()
	r.GET("/health", c.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status     string               `json:"status"`
		Components map[string]Component `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Contains(t, body.Components, "database")
}
