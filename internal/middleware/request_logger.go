package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
)

// RequestLogger logs one structured line per request after it finishes.
func RequestLogger(baseLog *logger.Logger) gin.HandlerFunc {
	log := baseLog.With("component", "HTTP")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("Request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
