package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"stockroom/internal/apperror"
	"stockroom/internal/model"
	"stockroom/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Context keys set by the auth middleware
const (
	ContextUserID   = "userID"
	ContextUserRole = "userRole"

	accessTokenCookie = "access_token"
)

// Authenticator validates HS256 access tokens issued at login
type Authenticator struct {
	secret        []byte
	ttl           time.Duration
	secureCookies bool
}

// NewAuthenticator builds an Authenticator. secureCookies switches the cookie to
// SameSite=None + Secure for cross-origin production deployments.
func NewAuthenticator(secret string, ttl time.Duration, secureCookies bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: ttl, secureCookies: secureCookies}
}

// ParseToken verifies the signature and expiry and returns the subject and role
func (a *Authenticator) ParseToken(tokenString string) (uuid.UUID, model.Role, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, "", err
	}
	if !token.Valid {
		return uuid.Nil, "", errors.New("invalid token")
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid subject: %w", err)
	}
	rawRole, _ := claims["role"].(string)
	role, err := model.ParseRole(rawRole)
	if err != nil {
		return uuid.Nil, "", err
	}
	return userID, role, nil
}

// tokenFromRequest reads the cookie first, then falls back to the Authorization header
func tokenFromRequest(c *gin.Context) (string, error) {
	if tokenString, err := c.Cookie(accessTokenCookie); err == nil && tokenString != "" {
		return tokenString, nil
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization is missing")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid authorization format, expected 'Bearer <token>'")
	}
	return parts[1], nil
}

// Authenticated admits any valid token
func (a *Authenticator) Authenticated() gin.HandlerFunc {
	return a.RequireRole(model.RoleAdmin, model.RoleUser)
}

// RequireRole validates the token and checks the caller's role is one of allowedRoles
func (a *Authenticator) RequireRole(allowedRoles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := tokenFromRequest(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				response.ErrorWithCode(http.StatusUnauthorized, apperror.CodeUnauthorized, err.Error()))
			return
		}

		userID, role, err := a.ParseToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				response.ErrorWithCode(http.StatusUnauthorized, apperror.CodeUnauthorized, "invalid token: "+err.Error()))
			return
		}

		roleAllowed := false
		for _, allowed := range allowedRoles {
			if role == allowed {
				roleAllowed = true
				break
			}
		}
		if !roleAllowed {
			c.AbortWithStatusJSON(http.StatusForbidden,
				response.ErrorWithCode(http.StatusForbidden, apperror.CodePermission, "access denied: insufficient permissions"))
			return
		}

		c.Set(ContextUserID, userID.String())
		c.Set(ContextUserRole, role)
		c.Next()
	}
}

// CurrentUser returns the identity stored by RequireRole
func CurrentUser(c *gin.Context) (uuid.UUID, model.Role, bool) {
	userID, err := uuid.Parse(c.GetString(ContextUserID))
	if err != nil {
		return uuid.Nil, "", false
	}
	role, ok := c.Get(ContextUserRole)
	if !ok {
		return uuid.Nil, "", false
	}
	r, ok := role.(model.Role)
	return userID, r, ok
}

func (a *Authenticator) cookieMode() (http.SameSite, bool) {
	if a.secureCookies {
		return http.SameSiteNoneMode, true
	}
	return http.SameSiteLaxMode, false
}

// SetTokenCookie stores the access token as an HttpOnly cookie living as long as the token
func (a *Authenticator) SetTokenCookie(c *gin.Context, token string) {
	sameSite, secure := a.cookieMode()
	c.SetSameSite(sameSite)
	c.SetCookie(accessTokenCookie, token, int(a.ttl.Seconds()), "/", "", secure, true)
}

// ClearTokenCookie expires the access token cookie
func (a *Authenticator) ClearTokenCookie(c *gin.Context) {
	sameSite, secure := a.cookieMode()
	c.SetSameSite(sameSite)
	c.SetCookie(accessTokenCookie, "", -1, "/", "", secure, true)
}
