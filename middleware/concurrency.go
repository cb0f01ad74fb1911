package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskforge/guardkit/logger"
	"github.com/taskforge/guardkit/resilience"
)

// ConcurrencyOptions configures the concurrency guard middleware.
type ConcurrencyOptions struct {
	// MaxConcurrent caps in-flight requests. Non-positive defaults to 10.
	MaxConcurrent int
	// MaxWait is how long a request may wait for a slot before 503.
	// Zero rejects immediately when saturated.
	MaxWait time.Duration
	// Logger receives saturation logs. Nil disables logging.
	Logger *logger.Logger
}

// Concurrency returns a Gin middleware that bounds in-flight requests with a
// bulkhead. Saturated requests receive 503 without reaching the handler.
func Concurrency(opts ConcurrencyOptions) gin.HandlerFunc {
	log := opts.Logger.WithComponent("concurrency")
	b := resilience.NewBulkhead(resilience.BulkheadConfig{
		Name:          "http",
		MaxConcurrent: opts.MaxConcurrent,
		MaxWait:       opts.MaxWait,
		OnReject: func(name string) {
			log.Warn("request rejected at concurrency limit", "bulkhead", name)
		},
	})

	return func(c *gin.Context) {
		if err := b.Acquire(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Server is busy, please retry shortly",
			})
			return
		}
		defer b.Release()
		c.Next()
	}
}
