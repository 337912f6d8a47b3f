package httpgin

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const ctxRequestID = "request_id"

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}

		c.Writer.Header().Set("X-Request-ID", reqID)
		c.Set(ctxRequestID, reqID)

		c.Next()
	}
}

func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"X-Request-ID",
			"Idempotency-Key",
			"If-None-Match",
			"Last-Event-ID",
		},
		ExposeHeaders: []string{
			"X-Request-ID",
			"ETag",
			"Idempotency-Key",
			"Retry-After",
		},
		MaxAge: 12 * time.Hour,
	})
}

// LoggingMiddleware writes one "http" record per request. Wizard routes also
// carry the session ID.
func LoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		reqID, _ := c.Get(ctxRequestID)

		attrs := []any{
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("ip", c.ClientIP()),
			slog.Any("request_id", reqID),
			slog.Duration("latency", time.Since(start)),
			slog.Int("bytes_out", c.Writer.Size()),
		}
		if id := c.Param("id"); id != "" {
			attrs = append(attrs, slog.String("session_id", id))
		}

		if len(c.Errors) > 0 || c.Writer.Status() >= 500 {
			logger.Error("http", slog.Group("http", attrs...))
		} else {
			logger.Info("http", slog.Group("http", attrs...))
		}
	}
}
