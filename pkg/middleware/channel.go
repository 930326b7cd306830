package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

// Key type so the value cannot collide with other context keys.
type channelKey struct{}

var ChannelContextKey = channelKey{}

// deriveChannelFromAPIKey guesses the calling channel from the API key pattern.
func deriveChannelFromAPIKey(key string) string {
	switch {
	case strings.HasPrefix(key, "mob_"):
		return "mobile"
	case strings.HasPrefix(key, "web_"):
		return "web"
	case strings.HasPrefix(key, "partner_"):
		return "partner"
	default:
		return "api"
	}
}

// Channel tags the request context with the originating channel based on
// the x-api-key header.
func Channel() gin.HandlerFunc {
	return func(c *gin.Context) {
		channel := deriveChannelFromAPIKey(c.GetHeader("x-api-key"))
		ctx := context.WithValue(c.Request.Context(), ChannelContextKey, channel)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetChannel returns the current channel string (default "api").
func GetChannel(ctx context.Context) string {
	ch, ok := ctx.Value(ChannelContextKey).(string)
	if !ok {
		return "api"
	}
	return ch
}
