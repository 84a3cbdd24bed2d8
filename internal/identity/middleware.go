package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxTokenClaims = "auditledger_token_claims"

// RequireRole returns a Gin middleware that enforces a valid Bearer role token
// granting role.
//
// On success it injects the *RoleTokenClaims into the context under the
// "auditledger_token_claims" key.
func RequireRole(tokens *TokenIssuer, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		if !claims.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": role + " role required",
			})
			return
		}

		c.Set(ctxTokenClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the role token claims injected by RequireRole.
// Returns nil if no token is present in the context.
func ClaimsFromCtx(c *gin.Context) *RoleTokenClaims {
	v, _ := c.Get(ctxTokenClaims)
	claims, _ := v.(*RoleTokenClaims)
	return claims
}
