// Package httpmw holds gin middleware shared by the server's HTTP routes.
package httpmw

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TayTech/claude-remote/internal/common/logger"
)

// RequestLogger logs each request after the handler completes. The
// websocket upgrade route logs once when the connection closes.
func RequestLogger(log *logger.Logger, serverName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		route := routeOf(c)

		c.Next()

		status := c.Writer.Status()
		size := max(c.Writer.Size(), 0)
		fields := []zap.Field{
			zap.String("server", serverName),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int("bytes", size),
		}
		if status >= 500 {
			log.Error("http", fields...)
			return
		}
		log.Debug("http", fields...)
	}
}
