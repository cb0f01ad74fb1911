package middleware

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/taskforge/guardkit/config"
	"github.com/taskforge/guardkit/errors"
	"github.com/taskforge/guardkit/ratelimit"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitOptions configures the rate limiting middleware.
type RateLimitOptions struct {
	// Limiter performs the admission checks. Required.
	Limiter *ratelimit.Limiter
	// KeyFunc derives the client key. Defaults to ratelimit.ByIPUserAgent.
	KeyFunc ratelimit.KeyFunc
	// Routes holds per-route limit overrides. The lookup table is built once
	// here; requests never scan the route list.
	Routes []config.RouteLimit
}

// routeTable resolves a request to its configured override, if any.
// Keys are "METHOD path"; method "*" matches any method.
type routeTable map[string]config.RouteLimit

func buildRouteTable(routes []config.RouteLimit) routeTable {
	table := make(routeTable, len(routes))
	for _, r := range routes {
		method := r.Method
		if method == "" {
			method = "*"
		}
		table[method+" "+r.Path] = r
	}
	return table
}

func (t routeTable) lookup(method, path string) (config.RouteLimit, bool) {
	if r, ok := t[method+" "+path]; ok {
		return r, true
	}
	r, ok := t["* "+path]
	return r, ok
}

// RateLimit returns a Gin middleware that admits requests through the
// sliding-window limiter. Denied requests receive 429 with a Retry-After
// header; every response carries X-RateLimit-Limit/Remaining/Reset.
func RateLimit(opts RateLimitOptions) gin.HandlerFunc {
	keyFn := opts.KeyFunc
	if keyFn == nil {
		keyFn = ratelimit.ByIPUserAgent()
	}
	table := buildRouteTable(opts.Routes)
	defaultLimit := opts.Limiter.Limit()

	return func(c *gin.Context) {
		key := keyFn(c.Request)

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		var res ratelimit.Result
		limit := defaultLimit
		if rule, ok := table.lookup(c.Request.Method, path); ok {
			// Scope the window per route so overrides don't share buckets.
			limit = rule.MaxRequests
			res = opts.Limiter.CheckLimit(path+"|"+key, rule.MaxRequests, rule.Window)
		} else {
			res = opts.Limiter.Check(key)
		}

		c.Header(HeaderRateLimitLimit, strconv.Itoa(limit))
		c.Header(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
		if !res.ResetAt.IsZero() {
			c.Header(HeaderRateLimitReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
		}

		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header(HeaderRetryAfter, strconv.Itoa(retryAfter))
			appErr := errors.RateLimited(res.RetryAfter)
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.ToResponse())
			return
		}

		c.Next()
	}
}
