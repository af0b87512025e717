package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lexgig/lexgig-backend/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminRouter(level interface{}) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if level != nil {
		r.Use(func(c *gin.Context) {
			c.Set("userID", "admin")
			c.Set("level", level)
			c.Next()
		})
	}
	r.Use(RequireAdmin())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name  string
		level interface{}
		want  int
	}{
		{"admin level", 10, http.StatusOK},
		{"above admin", 15, http.StatusOK},
		{"member", 5, http.StatusForbidden},
		{"no level", nil, http.StatusForbidden},
		{"wrong type", "10", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			newAdminRouter(tt.level).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	manager := jwt.NewManager("test-secret", time.Minute)
	token, err := manager.GenerateToken("alice", "Alice", 3)
	require.NoError(t, err)

	r := gin.New()
	r.Use(JWTAuth(manager))
	r.GET("/me", func(c *gin.Context) {
		p := GetPrincipal(c)
		c.JSON(http.StatusOK, gin.H{"user_id": p.UserID, "level": p.Level})
	})

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer header", "Bearer " + token, "", http.StatusOK},
		{"query token", "", "?token=" + token, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"malformed", "Token " + token, "", http.StatusUnauthorized},
		{"bad signature", "Bearer " + token + "x", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"user_id":"alice"`)
			}
		})
	}
}
