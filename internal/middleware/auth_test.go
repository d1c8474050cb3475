package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockroom/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(id uuid.UUID, role string) jwt.MapClaims {
	return jwt.MapClaims{"sub": id.String(), "role": role, "exp": time.Now().Add(time.Hour).Unix()}
}

func newRouter(a *Authenticator, roles ...model.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", a.RequireRole(roles...), func(c *gin.Context) {
		id, role, ok := CurrentUser(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id.String(), "role": role})
	})
	return r
}

func TestAuthenticator_ParseToken(t *testing.T) {
	a := NewAuthenticator(testSecret, time.Hour, false)
	id := uuid.New()

	t.Run("valid", func(t *testing.T) {
		gotID, role, err := a.ParseToken(signToken(t, testSecret, validClaims(id, "admin")))
		require.NoError(t, err)
		assert.Equal(t, id, gotID)
		assert.Equal(t, model.RoleAdmin, role)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, _, err := a.ParseToken(signToken(t, "other", validClaims(id, "admin")))
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		claims := validClaims(id, "user")
		claims["exp"] = time.Now().Add(-time.Minute).Unix()
		_, _, err := a.ParseToken(signToken(t, testSecret, claims))
		assert.Error(t, err)
	})

	t.Run("missing expiry", func(t *testing.T) {
		_, _, err := a.ParseToken(signToken(t, testSecret, jwt.MapClaims{"sub": id.String(), "role": "user"}))
		assert.Error(t, err)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, _, err := a.ParseToken(signToken(t, testSecret, validClaims(id, "janitor")))
		assert.Error(t, err)
	})
}

func TestAuthenticator_RequireRole(t *testing.T) {
	a := NewAuthenticator(testSecret, time.Hour, false)
	adminOnly := newRouter(a, model.RoleAdmin)
	id := uuid.New()

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		router *gin.Engine
		want   int
	}{
		{"no credentials", func(r *http.Request) {}, adminOnly, http.StatusUnauthorized},
		{"malformed header", func(r *http.Request) { r.Header.Set("Authorization", "Token abc") }, adminOnly, http.StatusUnauthorized},
		{"user on admin route", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims(id, "user")))
		}, adminOnly, http.StatusForbidden},
		{"admin via bearer", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims(id, "admin")))
		}, adminOnly, http.StatusOK},
		{"user via cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "access_token", Value: signToken(t, testSecret, validClaims(id, "user"))})
		}, newRouter(a, model.RoleAdmin, model.RoleUser), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			tt.router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuthenticator_TokenCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewAuthenticator(testSecret, 2*time.Hour, true)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	a.SetTokenCookie(c, "tok")

	cookie := w.Header().Get("Set-Cookie")
	assert.Contains(t, cookie, "access_token=tok")
	assert.Contains(t, cookie, "Max-Age=7200")
	assert.Contains(t, cookie, "HttpOnly")
	assert.Contains(t, cookie, "Secure")
	assert.Contains(t, cookie, "SameSite=None")
}

func TestBindingErrorMessage(t *testing.T) {
	SetupValidator()
	gin.SetMode(gin.TestMode)

	type payload struct {
		Name     string `json:"name" binding:"required"`
		Quantity int    `json:"quantity" binding:"min=1"`
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Request.Body = http.NoBody

	var p payload
	err := c.ShouldBindJSON(&p)
	require.Error(t, err)

	// Empty body fails before validation runs
	assert.Contains(t, BindingErrorMessage(err), "invalid request body")

	err = binding.Validator.ValidateStruct(&payload{})
	require.Error(t, err)
	msg := BindingErrorMessage(err)
	assert.Contains(t, msg, "name: this field is required")
	assert.Contains(t, msg, "quantity: must be at least 1")
}
