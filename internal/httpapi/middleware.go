package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	tenantKey = "tenant_id"
	// DefaultTenant owns every request when auth is disabled.
	DefaultTenant = "default"
)

// auth resolves the tenant of a request. Without a JWT secret every request
// belongs to DefaultTenant.
func (s *Server) auth() gin.HandlerFunc {
	secret := []byte(s.opts.JWTSecret)
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Set(tenantKey, DefaultTenant)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			s.abort(c, http.StatusUnauthorized, "missing authorization header")
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			s.abort(c, http.StatusUnauthorized, "invalid authorization format, use 'Bearer <token>'")
			return
		}

		tenant, err := tenantFromToken(strings.TrimSpace(token), secret)
		if err != nil {
			s.abort(c, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}
		c.Set(tenantKey, tenant)
		c.Next()
	}
}

func tenantFromToken(tokenString string, secret []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}
	if tenant, _ := claims["tenant_id"].(string); tenant != "" {
		return tenant, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", errors.New("token has no tenant")
}

// SignToken issues an HS256 token for tenant. It is used by tests and the CLI.
func SignToken(secret, tenant string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"tenant_id": tenant,
		"exp":       time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func tenantOf(c *gin.Context) string {
	if t := c.GetString(tenantKey); t != "" {
		return t
	}
	return DefaultTenant
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.opts.Collectors.Reject("rate_limited")
			c.Header("Retry-After", "1")
			s.abort(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		if path == "/health" || path == "/metrics" {
			return
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if t := c.GetString(tenantKey); t != "" {
			fields = append(fields, zap.String("tenant_id", t))
		}
		switch {
		case status >= 500:
			s.logger.Error("Server error", append(fields, zap.String("error", c.Errors.String()))...)
		case status >= 400:
			s.logger.Warn("Client error", fields...)
		default:
			s.logger.Info("Request completed", fields...)
		}
	}
}

func (s *Server) abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
