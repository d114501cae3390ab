package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"dynamokv/internal/logging"
)

// Logger returns a Gin middleware that logs every request with
// method, path, status, and latency, prefixed with the node id so
// multi-node local runs stay attributable in a shared terminal.
func Logger(nodeID string) gin.HandlerFunc {
	logger := logging.New(nodeID)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Printf("%s %s | %d | %s",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// Recovery replaces Gin's default recovery: it logs panics with the
// node id and answers 500.
func Recovery(nodeID string) gin.HandlerFunc {
	logger := logging.New(nodeID)
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Printf("PANIC recovered: %v", err)
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
