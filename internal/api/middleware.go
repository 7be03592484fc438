package api

import (
	"net/http"
	"strconv"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Headers set by the auth gateway in front of the service
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

const (
	identityKey      = "identity"
	cartCookieMaxAge = 30 * 24 * 60 * 60
)

// identityMiddleware resolves the caller from the cart session cookie and the
// gateway headers. A missing cookie is issued here so every browser has a cart session.
func identityMiddleware(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionCartID, err := c.Cookie(cookieName)
		if err != nil || sessionCartID == "" {
			sessionCartID = uuid.New().String()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(cookieName, sessionCartID, cartCookieMaxAge, "/", "", false, true)
		}

		id := models.Identity{
			SessionCartID: sessionCartID,
			UserID:        c.GetHeader(headerUserID),
		}
		if id.UserID != "" {
			id.Role = c.GetHeader(headerUserRole)
			if id.Role == "" {
				id.Role = models.RoleUser
			}
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

func identity(c *gin.Context) models.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(models.Identity); ok {
			return id
		}
	}
	return models.Identity{}
}

// requireAdmin stops non-admin callers before the handler runs
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identity(c)
		if id.IsAdmin() {
			c.Next()
			return
		}

		status := http.StatusForbidden
		if !id.Authenticated() {
			status = http.StatusUnauthorized
		}
		c.AbortWithStatusJSON(status, gin.H{"success": false, "message": "Admin only"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
