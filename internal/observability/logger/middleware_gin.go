package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const headerRequestID = "X-Request-Id"

// MiddlewareConfig controls request logging.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier returns the error type and code written on failed
	// requests.
	ErrorClassifier func(err error) (string, string)
	// Base defaults to the global logger.
	Base *zap.Logger
}

// GinMiddleware assigns a request id and writes one access log line per
// request, tagged with the document type and number the handler touched.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFrom(c)
		c.Set("request_id", requestID)
		c.Header(headerRequestID, requestID)
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		base := cfg.Base
		if base == nil {
			base = zap.L()
		}
		var errType, errCode string
		lastErr := c.Errors.Last()
		if lastErr != nil && cfg.ErrorClassifier != nil {
			errType, errCode = cfg.ErrorClassifier(lastErr.Err)
		}
		ce := WithContext(c.Request.Context(), base).Check(accessLevel(route, status, errType), "http_request")
		if ce == nil {
			return
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		for _, key := range []string{"document_type", "document_number"} {
			if v := strings.TrimSpace(c.GetString(key)); v != "" {
				fields = append(fields, zap.String(key, v))
			}
		}
		if id := strings.TrimSpace(c.Param("id")); id != "" {
			fields = append(fields, zap.String("document_id", id))
		}
		if lastErr != nil {
			fields = append(fields, zap.String("error_type", errType), zap.String("error_code", errCode))
			if status >= http.StatusInternalServerError {
				fields = append(fields, zap.NamedError("cause", lastErr.Err))
			}
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}
		ce.Write(fields...)
	}
}

func requestIDFrom(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(headerRequestID)); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.NewString()
}

// accessLevel keeps probes and client mistakes out of the info stream.
func accessLevel(route string, status int, errType string) zapcore.Level {
	switch {
	case route == "/health" || route == "/metrics":
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status == http.StatusTooManyRequests || status == http.StatusConflict:
		return zapcore.WarnLevel
	case errType == "validation_error" || status == http.StatusNotFound:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
