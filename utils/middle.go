package utils

import (
	"fmt"
	"io"
	"strings"

	"Go_Pic/internal/logging"

	"github.com/gin-gonic/gin"
)

const RequestIDHeader = "X-Request-ID"

const sharePathPrefix = "/api/share/"

// RequestIDMiddleware puts a correlation id on the request context and echoes it back.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logging.WithCorrelationID(c.Request.Context(), c.GetHeader(RequestIDHeader))
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, logging.GetCorrelationID(ctx))
		c.Next()
	}
}

// RedactPath masks the token segment of public share paths.
func RedactPath(path string) string {
	rest, ok := strings.CutPrefix(path, sharePathPrefix)
	if !ok || rest == "" {
		return path
	}
	token, tail, _ := strings.Cut(rest, "/")
	if token == "manage" {
		return path
	}
	if tail != "" {
		tail = "/" + tail
	}
	return sharePathPrefix + logging.MaskToken(token) + tail
}

// AccessLogFormatter is gin's default line without the query string. Share passwords
// travel in the query.
func AccessLogFormatter(param gin.LogFormatterParams) string {
	path := ""
	if param.Request != nil && param.Request.URL != nil {
		path = RedactPath(param.Request.URL.Path)
	}
	return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
		param.TimeStamp.Format("2006/01/02 - 15:04:05"),
		param.StatusCode,
		param.Latency,
		param.ClientIP,
		param.Method,
		path,
		param.ErrorMessage,
	)
}

// AccessLogger writes one redacted line per request to out.
func AccessLogger(out io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: AccessLogFormatter,
		Output:    out,
	})
}
