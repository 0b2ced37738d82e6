package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tg11/boundless/internal/auth"
	"github.com/tg11/boundless/internal/core"
	"github.com/tg11/boundless/internal/metrics"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyUsername is the context key for storing username.
	ContextKeyUsername = "username"
	// ContextKeyIdentity is the context key for the caller's core.Identity.
	ContextKeyIdentity = "identity"
)

// AuthMiddleware validates the bearer token from the Authorization header.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		who, err := authenticate(authService, c.Request, false)
		if err != nil {
			logger.Debug().Err(err).Msg("request not authenticated")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
			return
		}

		c.Set(ContextKeyUserID, who.ID)
		c.Set(ContextKeyUsername, who.Username)
		c.Set(ContextKeyIdentity, who.Identity)

		c.Next()
	}
}

type caller struct {
	core.Identity
	Username string
}

var (
	errMissingToken = errors.New("missing authorization")
	errInvalidToken = errors.New("invalid token")
)

// authenticate resolves the caller of r. With allowQuery a ?token= query
// parameter is accepted too, for browser WebSocket clients that cannot set
// headers.
func authenticate(authService *auth.Service, r *http.Request, allowQuery bool) (caller, error) {
	token, ok := requestToken(r, allowQuery)
	if !ok {
		return caller{}, errMissingToken
	}
	claims, err := authService.ValidateToken(token)
	if err != nil {
		return caller{}, errInvalidToken
	}

	name := claims.Name
	if name == "" {
		name = claims.Username
	}
	return caller{Identity: core.Identity{ID: claims.UserID, Name: name}, Username: claims.Username}, nil
}

func requestToken(r *http.Request, allowQuery bool) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if allowQuery {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, true
		}
	}
	return "", false
}

// identityFrom returns the authenticated caller set by AuthMiddleware.
func identityFrom(c *gin.Context) (core.Identity, bool) {
	v, ok := c.Get(ContextKeyIdentity)
	if !ok {
		return core.Identity{}, false
	}
	id, ok := v.(core.Identity)
	return id, ok
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// MetricsMiddleware counts requests by route template and status.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequest(route, c.Writer.Status())
	}
}
