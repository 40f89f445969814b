package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIssueAndValidate(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)
	token, err := m.Issue("ops", true)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.Operator != "ops" || !claims.Commands {
		t.Errorf("Expected ops with command scope, got %+v", claims)
	}

	other := NewTokenManager("other-secret", time.Hour)
	if _, err := other.Validate(token); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken for a foreign secret, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	m := NewTokenManager("test-secret", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _ := m.Issue("ops", false)

	m.now = time.Now
	if _, err := m.Validate(token); err != ErrTokenExpired {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewTokenManager("test-secret", time.Hour)
	full, _ := m.Issue("ops", true)
	readOnly, _ := m.Issue("viewer", false)

	r := gin.New()
	r.POST("/cmd", Middleware(m), RequireCommands(m), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextKeyOperator))
	})

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bad format", "Token abc", "", http.StatusUnauthorized},
		{"garbage", "Bearer abc", "", http.StatusUnauthorized},
		{"read only", "Bearer " + readOnly, "", http.StatusForbidden},
		{"full", "Bearer " + full, "", http.StatusOK},
		{"query token", "", "?token=" + full, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/cmd"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestDisabledGuardPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewTokenManager("", 0)
	r := gin.New()
	r.POST("/cmd", Middleware(m), RequireCommands(m), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cmd", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 with auth disabled, got %d", w.Code)
	}
	if _, err := m.Issue("ops", true); err == nil {
		t.Errorf("Expected Issue to fail without a secret")
	}
}
