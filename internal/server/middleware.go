package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wsu/workorderpro/api"
	"github.com/wsu/workorderpro/internal/limiter"
	"github.com/wsu/workorderpro/internal/metrics"
)

const headerRequestID = "X-Request-ID"

// requestID propagates an incoming X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(headerRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString(headerRequestID),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.Last().Err)
		}
		ctx := c.Request.Context()
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "request", attrs...)
		case status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "request", attrs...)
		default:
			logger.InfoContext(ctx, "request", attrs...)
		}
	}
}

func observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// rateLimit rejects clients over their allowance with 429. A limiter backend
// failure fails the request with 500.
func rateLimit(l *limiter.Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := l.Allow(c.Request.Context(), c.ClientIP())
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, limiter.ErrRateLimited):
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, api.Envelope{Meta: api.Meta{Message: "Too many requests."}})
		default:
			logger.ErrorContext(c.Request.Context(), "rate limiter unavailable", "error", err)
			api.RespondError(c, err)
		}
	}
}
