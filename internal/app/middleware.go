package app

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"calendar-service/internal/logging"
	"calendar-service/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger tags the request with an id, logs one line when it is done
// and records the request metrics.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = logging.NewRequestID()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logging.WithFields(c.Request.Context(), logging.Fields{RequestID: id}))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.RecordAPIRequest(c.Request.Method, route, strconv.Itoa(status), elapsed)

		ev := logging.Ctx(c.Request.Context()).Info()
		if status >= 500 {
			ev = logging.Ctx(c.Request.Context()).Error()
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("request")
	}
}
