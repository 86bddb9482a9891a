package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GradeSim/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestRequestLogging_Levels(t *testing.T) {
	logger := testutil.NewMockLogger()
	router := gin.New()
	router.Use(RequestLogging(logger, DefaultLoggingConfig()))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, http.MethodGet, "/ok")
	serve(router, http.MethodGet, "/bad")
	serve(router, http.MethodGet, "/boom")
	serve(router, http.MethodGet, "/healthz")

	msgs := logger.GetMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "info", msgs[0].Level)
	assert.Equal(t, "warn", msgs[1].Level)
	assert.Equal(t, "error", msgs[2].Level)
	assert.Equal(t, "http", msgs[0].Logger)
}

func TestRequestLogging_Slow(t *testing.T) {
	logger := testutil.NewMockLogger()
	router := gin.New()
	router.Use(RequestLogging(logger, LoggingConfig{SlowThreshold: time.Nanosecond}))
	router.GET("/slow", func(c *gin.Context) {
		time.Sleep(time.Millisecond)
		c.Status(http.StatusOK)
	})

	serve(router, http.MethodGet, "/slow")
	assert.True(t, logger.HasMessage("warn", "slow request"))
}

type observation struct {
	method, route string
	status        int
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []observation
}

func (r *recordingObserver) ObserveHTTP(method, route string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{method, route, status})
}

func TestMetrics_RouteTemplate(t *testing.T) {
	obs := &recordingObserver{}
	router := gin.New()
	router.Use(Metrics(obs))
	router.GET("/runs/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	serve(router, http.MethodGet, "/runs/abc")
	serve(router, http.MethodGet, "/nowhere")

	require.Len(t, obs.obs, 2)
	assert.Equal(t, observation{http.MethodGet, "/runs/:id", http.StatusNoContent}, obs.obs[0])
	assert.Equal(t, observation{http.MethodGet, "unmatched", http.StatusNotFound}, obs.obs[1])
}

func TestClientLimiter_PerKeyBurst(t *testing.T) {
	l := NewClientLimiter(0.001, 2, 0)
	defer l.Stop()

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.Clients())
}

func TestClientLimiter_Cleanup(t *testing.T) {
	l := NewClientLimiter(1, 1, 0)
	l.idle = time.Minute
	now := time.Now()
	l.reserve("old", now.Add(-2*time.Minute))
	l.reserve("new", now)

	l.cleanup(now)
	assert.Equal(t, 1, l.Clients())
	l.Stop()
	l.Stop()
}

func TestRateLimit_Rejects(t *testing.T) {
	l := NewClientLimiter(0.5, 1, 0)
	defer l.Stop()
	router := gin.New()
	router.Use(RateLimit(l, RateLimitConfig{RequestsPerSecond: 0.5}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/x").Code)
	w := serve(router, http.MethodGet, "/x")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
}
