package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by Middleware
const (
	ContextKeyOperator = "operator"
	ContextKeyClaims   = "operator_claims"
)

// Middleware requires a valid bearer token when the manager is enabled. The
// token may also be passed as ?token= for websocket clients.
func Middleware(m *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		tokenString := c.Query("token")
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				abort(c, http.StatusUnauthorized, ErrUnauthorized, "invalid authorization header format")
				return
			}
			tokenString = parts[1]
		}
		if tokenString == "" {
			abort(c, http.StatusUnauthorized, ErrUnauthorized, "missing authorization header")
			return
		}

		claims, err := m.Validate(tokenString)
		if err != nil {
			authErr, ok := err.(AuthError)
			if !ok {
				authErr = ErrInvalidToken
			}
			abort(c, http.StatusUnauthorized, authErr, authErr.Message)
			return
		}

		c.Set(ContextKeyOperator, claims.Operator)
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// RequireCommands rejects tokens issued without command scope. Must run after Middleware.
func RequireCommands(m *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		v, _ := c.Get(ContextKeyClaims)
		claims, ok := v.(*Claims)
		if !ok || !claims.Commands {
			abort(c, http.StatusForbidden, ErrForbidden, ErrForbidden.Message)
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, err AuthError, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   err.Code,
		"message": message,
	})
}
