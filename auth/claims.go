package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Claims JWT 载荷，内嵌标准声明
type Claims struct {
	jwt.RegisteredClaims

	Username string   `json:"uname,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// HasRole 是否拥有指定角色
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}
