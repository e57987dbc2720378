package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/mir00r/region-failover/internal/config"
	"github.com/mir00r/region-failover/internal/errors"
	"github.com/mir00r/region-failover/pkg/logger"
)

const claimsContextKey contextKey = "jwtClaims"

// JWTClaims are the claims carried by operator tokens
type JWTClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether role is among the token's roles
func (c *JWTClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// JWTAuthMiddleware guards the mutating admin endpoints with HMAC-signed tokens
type JWTAuthMiddleware struct {
	config config.AuthConfig
	logger *logger.Logger
}

// NewJWTAuthMiddleware creates the middleware. A disabled config yields a
// middleware that lets every request through.
func NewJWTAuthMiddleware(cfg config.AuthConfig, log *logger.Logger) *JWTAuthMiddleware {
	jm := &JWTAuthMiddleware{
		config: cfg,
		logger: log.MiddlewareLogger("jwt_auth"),
	}
	if cfg.Enabled {
		jm.logger.WithFields(map[string]interface{}{
			"issuer":        cfg.Issuer,
			"required_role": cfg.RequiredRole,
		}).Info("JWT authentication enabled")
	}
	return jm
}

// Require returns middleware that rejects requests without a valid token
// carrying the configured role.
func (jm *JWTAuthMiddleware) Require() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !jm.config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				jm.logger.WithFields(map[string]interface{}{
					"path":   r.URL.Path,
					"method": r.Method,
					"ip":     r.RemoteAddr,
				}).Warn("JWT token missing")
				writeAuthError(w, "authentication required", http.StatusUnauthorized)
				return
			}

			claims, err := jm.ValidateToken(token)
			if err != nil {
				jm.logger.WithFields(map[string]interface{}{
					"error":  err.Error(),
					"path":   r.URL.Path,
					"method": r.Method,
					"ip":     r.RemoteAddr,
				}).Warn("JWT validation failed")
				writeAuthError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			if jm.config.RequiredRole != "" && !claims.HasRole(jm.config.RequiredRole) {
				jm.logger.WithFields(map[string]interface{}{
					"subject":       claims.Subject,
					"roles":         claims.Roles,
					"required_role": jm.config.RequiredRole,
					"path":          r.URL.Path,
				}).Warn("Insufficient role for access")
				writeAuthError(w, "insufficient permissions", http.StatusForbidden)
				return
			}

			jm.logger.WithField("subject", claims.Subject).WithField("path", r.URL.Path).
				Debug("JWT authentication successful")

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsContextKey, claims)))
		})
	}
}

// ValidateToken parses and verifies a token
func (jm *JWTAuthMiddleware) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jm.config.Secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	// exp and nbf are checked during parsing when present
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("token has no expiry")
	}
	if jm.config.Issuer != "" && claims.Issuer != jm.config.Issuer {
		return nil, fmt.Errorf("invalid issuer %q", claims.Issuer)
	}
	return claims, nil
}

// IssueToken signs a token for subject with roles, valid for the configured TTL
func (jm *JWTAuthMiddleware) IssueToken(subject string, roles ...string) (string, error) {
	if jm.config.Secret == "" {
		return "", errors.NewError(errors.ErrCodeConfigLoad, "auth", "auth secret is not configured")
	}
	ttl := jm.config.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := time.Now()
	claims := JWTClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    jm.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jm.config.Secret))
}

// ClaimsFrom returns the claims of an authenticated request
func ClaimsFrom(ctx context.Context) (*JWTClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*JWTClaims)
	return claims, ok
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, message string, status int) {
	code := errors.ErrCodeUnauthorized
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="region-failover"`)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
		"code":  code,
	})
}
