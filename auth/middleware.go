package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ClaimsKey GinMiddleware 存放 Claims 的键
const ClaimsKey = "auth:claims"

func (a *jwtAuth) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := a.bearer(c.GetHeader(a.cfg.HeaderName))
		if err == nil {
			var claims *Claims
			if claims, err = a.ValidateToken(c.Request.Context(), token); err == nil {
				c.Set(ClaimsKey, claims)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	}
}

// RequireRoles 要求拥有全部角色，需在 GinMiddleware 之后使用
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
			return
		}
		for _, role := range roles {
			if !claims.HasRole(role) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden: missing role " + role})
				return
			}
		}
		c.Next()
	}
}

// GetClaims 读取 GinMiddleware 存入的 Claims
func GetClaims(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
