package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oisdev/appraisal/internal/utils"
	"github.com/oisdev/appraisal/pkg/response"
)

const (
	ContextEmail = "email"
	ContextName  = "name"
	ContextRole  = "role"
)

// AuthRequired checks for a valid Bearer session token.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(parts[1])
		if err != nil || claims.Email == "" {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextEmail, claims.Email)
		c.Set(ContextName, claims.Name)
		c.Set(ContextRole, claims.Role)

		c.Next()
	}
}

// RoleRequired allows only the listed roles. Must run after AuthRequired.
func RoleRequired(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "access denied for role "+role)
		c.Abort()
	}
}

func GetEmail(c *gin.Context) string {
	return c.GetString(ContextEmail)
}

func GetName(c *gin.Context) string {
	return c.GetString(ContextName)
}

func GetRole(c *gin.Context) string {
	return c.GetString(ContextRole)
}
