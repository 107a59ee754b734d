package utils

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Go_Pic/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen = logging.GetCorrelationID(c.Request.Context())
		Success(c, nil)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"http://localhost:5173"}))
	r.GET("/", func(c *gin.Context) { Success(c, "ok") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(1, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("1.1.1.1"))
}

func TestIPRateLimiterMiddleware(t *testing.T) {
	l := NewIPRateLimiter(0.001, 1)
	r := gin.New()
	r.GET("/", l.Middleware(), func(c *gin.Context) { Success(c, nil) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"too many requests"}`, w.Body.String())
}

func TestRedactPath(t *testing.T) {
	tests := map[string]string{
		"/api/share/0123456789abcdef":          "/api/share/0123***cdef",
		"/api/share/0123456789abcdef/download": "/api/share/0123***cdef/download",
		"/api/share/short":                     "/api/share/***",
		"/api/share/manage/id-1":               "/api/share/manage/id-1",
		"/api/share":                           "/api/share",
		"/api/images/abc":                      "/api/images/abc",
	}
	for in, want := range tests {
		assert.Equal(t, want, RedactPath(in), in)
	}
}

func TestAccessLoggerDropsQueryAndToken(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(AccessLogger(&buf))
	r.GET("/api/share/:token", func(c *gin.Context) { Success(c, nil) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/share/0123456789abcdef?password=s3cretPW", nil))
	line := buf.String()
	assert.Contains(t, line, "/api/share/0123***cdef")
	assert.NotContains(t, line, "s3cretPW")
	assert.NotContains(t, line, "0123456789abcdef")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(line), `"/api/share/0123***cdef"`), line)
}
