package middleware

import (
	"net/http"
	"os"
	"strings"

	"backend/internal/cache"
	"backend/internal/config"
	"backend/internal/model"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Context keys set by Authenticate for downstream handlers.
const (
	ContextUserID      = "userID"
	ContextUserRole    = "userRole"
	ContextAccessToken = "accessToken"
)

// AuthMiddleware validates access tokens and enforces role ranks.
type AuthMiddleware struct {
	cfg   config.JWTConfig
	cache *cache.Client
	log   *zap.Logger
}

func NewAuthMiddleware(cfg config.JWTConfig, cacheClient *cache.Client, log *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg, cache: cacheClient, log: log}
}

// Authenticate validates the JWT from the access_token cookie or the
// Authorization header and rejects blacklisted tokens. On success the user
// id, role and raw token are stored on the request context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Try cookie first, fallback to Authorization header
		tokenString, cookieErr := c.Cookie("access_token")
		if cookieErr != nil || tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'"))
				return
			}
			tokenString = parts[1]
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(m.cfg.Secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
			return
		}

		blacklisted, err := m.cache.IsTokenBlacklisted(c.Request.Context(), tokenString)
		if err != nil {
			m.log.Warn("token blacklist check failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Could not verify token"))
			return
		}
		if blacklisted {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Token has been revoked"))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token claims"))
			return
		}

		sub, _ := claims["sub"].(string)
		rawRole, _ := claims["role"].(string)
		if _, err := model.ParseRole(rawRole); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Role not found in token"))
			return
		}

		c.Set(ContextUserID, sub)
		c.Set(ContextUserRole, rawRole)
		c.Set(ContextAccessToken, tokenString)

		c.Next()
	}
}

// RequireRole gates a route to users whose role rank meets or exceeds min.
// Delegated authority is resolved inside services, not here: a delegate
// holding borrowed rank still enters with their own role.
func (m *AuthMiddleware) RequireRole(min model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawRole := c.GetString(ContextUserRole)
		role, err := model.ParseRole(rawRole)
		if err != nil || !role.AtLeast(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
			return
		}
		c.Next()
	}
}

// SetTokenCookies sets access_token and refresh_token as HttpOnly cookies
func (m *AuthMiddleware) SetTokenCookies(c *gin.Context, accessToken, refreshToken string) {
	// Production (cross-origin): SameSiteNoneMode + Secure=true
	// Development (same-site):   SameSiteLaxMode  + Secure=false
	sameSite := http.SameSiteLaxMode
	secure := false
	if os.Getenv("GIN_MODE") == "release" {
		sameSite = http.SameSiteNoneMode
		secure = true
	}

	c.SetSameSite(sameSite)
	c.SetCookie("access_token", accessToken, int(m.cfg.AccessTTL.Seconds()), "/", "", secure, true)
	c.SetCookie("refresh_token", refreshToken, int(m.cfg.RefreshTTL.Seconds()), "/", "", secure, true)
}

// ClearTokenCookies removes access_token and refresh_token cookies
func (m *AuthMiddleware) ClearTokenCookies(c *gin.Context) {
	sameSite := http.SameSiteLaxMode
	secure := false
	if os.Getenv("GIN_MODE") == "release" {
		sameSite = http.SameSiteNoneMode
		secure = true
	}

	c.SetSameSite(sameSite)
	c.SetCookie("access_token", "", -1, "/", "", secure, true)
	c.SetCookie("refresh_token", "", -1, "/", "", secure, true)
}
