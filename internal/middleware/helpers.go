// internal/middleware/helpers.go
package middleware

import (
	"settlement-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	subjectKey = "subject"
	jtiKey     = "jti"
	rolesKey   = "roles"
)

// GetSubject gets the authenticated caller from context
func GetSubject(c *gin.Context) (string, bool) {
	subject, exists := c.Get(subjectKey)
	if !exists {
		return "", false
	}

	s, ok := subject.(string)
	return s, ok && s != ""
}

// MustGetSubject gets the caller from context or panics
func MustGetSubject(c *gin.Context) string {
	subject, exists := GetSubject(c)
	if !exists {
		panic("subject not found in context")
	}
	return subject
}

// GetRoles gets caller roles from context
func GetRoles(c *gin.Context) []string {
	roles, exists := c.Get(rolesKey)
	if !exists {
		return []string{}
	}

	rolesList, ok := roles.([]string)
	if !ok {
		return []string{}
	}

	return rolesList
}

// GetRequestID returns the id assigned by LoggingMiddleware
func GetRequestID(c *gin.Context) string {
	return c.GetString(response.RequestIDKey)
}

// GetTokenID returns the jti of the verified token
func GetTokenID(c *gin.Context) string {
	return c.GetString(jtiKey)
}
