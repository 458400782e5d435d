package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	QueryToken  = "token"
	HeaderToken = "X-Relay-Token"
)

// RequireToken aborts requests whose token does not pass v.
func RequireToken(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil || v.Validate(requestToken(c.Request)) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "unauthorized",
			})
			return
		}
		c.Next()
	}
}

// requestToken checks the query string first, then headers.
func requestToken(r *http.Request) string {
	if token := r.URL.Query().Get(QueryToken); token != "" {
		return token
	}
	if token := strings.TrimSpace(r.Header.Get(HeaderToken)); token != "" {
		return token
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}
