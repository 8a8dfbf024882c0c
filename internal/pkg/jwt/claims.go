// internal/pkg/jwt/claims.go
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

const (
	// RoleGateway is held by the chat gateway acting for customers and agents.
	RoleGateway = "gateway"
	RoleStaff   = "staff"
	RoleAdmin   = "admin"

	PurposeAccess = "access"
)

// Claims represents the JWT claims. Subject identifies the caller: the gateway
// instance or the staff member.
type Claims struct {
	Roles   []string `json:"roles,omitempty"`
	Purpose string   `json:"purpose"`
	jwt.RegisteredClaims
}

// HasRole checks if the claims contain a specific role
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks if the claims contain any of the roles
func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if c.HasRole(role) {
			return true
		}
	}
	return false
}

// VerifyAudience checks if the expected audience is listed in the claims.
func (c *Claims) VerifyAudience(audience string, required bool) bool {
	if len(c.Audience) == 0 {
		return !required
	}

	for _, aud := range c.Audience {
		if aud == audience {
			return true
		}
	}

	return false
}
