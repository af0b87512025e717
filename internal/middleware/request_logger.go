package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/pkg/logger"
	"github.com/rs/zerolog"
)

// routeEntities maps a route prefix to the log field its :id names
var routeEntities = []struct {
	prefix string
	field  string
}{
	{"/api/v1/admin/gigs/:id", "gig_id"},
	{"/api/v1/gigs/:id", "gig_id"},
	{"/api/v1/bids/:id", "bid_id"},
	{"/api/v1/conversations/:id", "conversation_id"},
}

// RequestLogger returns a gin middleware that logs every request with the
// route template, the gig, bid or conversation it addressed and the domain
// error code of a failed call. Requests to /health and /metrics log at debug.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()[:8]
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		log := logger.GetLogger()

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		case route == "/health" || route == "/metrics":
			event = log.Debug()
		default:
			event = log.Info()
		}

		event = event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Str("query", c.Request.URL.RawQuery).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("user_id", GetUserID(c)).
			Int("body_size", c.Writer.Size())
		addEntityFields(event, c, route)
		if code := c.GetString(common.ErrorCodeKey); code != "" {
			event = event.Str("error_code", code)
		}
		event.Msg("request")
	}
}

func addEntityFields(event *zerolog.Event, c *gin.Context, route string) {
	for _, e := range routeEntities {
		if strings.HasPrefix(route, e.prefix) {
			event.Str(e.field, c.Param("id"))
			break
		}
	}
	if id := c.Param("bidId"); id != "" {
		event.Str("bid_id", id)
	}
}
