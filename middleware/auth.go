package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"cleanspot/models"
	"cleanspot/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Actor roles carried in the JWT "role" claim.
const (
	RoleWorker = "worker"
	RoleAdmin  = "admin"
)

// AuthMiddleware validates JWT bearer tokens and requires one of the
// given roles. The actor id and role land in the gin context.
func AuthMiddleware(jwtSecret string, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		tokenString := extractToken(authHeader)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			c.Abort()
			return
		}

		actorID, role, err := validateToken(tokenString, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		if !roleAllowed(role, roles) {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			c.Abort()
			return
		}

		c.Set("actor_id", actorID)
		c.Set("actor_role", role)
		c.Next()
	}
}

// extractToken extracts the token from the Authorization header
func extractToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func roleAllowed(role string, allowed []string) bool {
	// Admins pass every gate.
	if role == RoleAdmin {
		return true
	}
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

func validateToken(tokenString, jwtSecret string) (string, string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || role == "" {
		return "", "", fmt.Errorf("token missing sub or role claim")
	}
	return sub, role, nil
}

// MintToken issues a signed token for an actor. Exposed for operational
// tooling and tests; production tokens come from the identity service.
func MintToken(jwtSecret, actorID, role string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  actorID,
		"role": role,
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	})
	return token.SignedString([]byte(jwtSecret))
}

// RateLimitMiddleware throttles by client IP using the shared cache
// counters, answering 429 with a Retry-After header.
func RateLimitMiddleware(limiter *ratelimit.Limiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ratelimit.Key("ip", c.ClientIP())
		if err := limiter.Allow(c.Request.Context(), key, limit, window); err != nil {
			de := models.AsError(err)
			if de.Code == models.CodeRateLimited {
				c.Header("Retry-After", fmt.Sprintf("%d", de.RetryAfterSec))
			}
			c.JSON(de.HTTPStatus(), de)
			c.Abort()
			return
		}
		c.Next()
	}
}

// SecurityHeaders adds security headers to responses
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Writer.Header().Set("X-Frame-Options", "DENY")
		c.Writer.Header().Set("X-XSS-Protection", "1; mode=block")
		c.Writer.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Next()
	}
}
