package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jannetahkola/mc-server-manager/internal/auth"
	"github.com/jannetahkola/mc-server-manager/internal/config"
)

const testSecret = "middleware-test-secret"

func signToken(t *testing.T, username string, roles ...string) string {
	t.Helper()
	claims := &auth.Claims{
		Username: username,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func newAuthRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	chain := append([]gin.HandlerFunc{Auth(auth.NewJWTManager(testSecret, "", 0))}, handlers...)
	chain = append(chain, func(c *gin.Context) {
		c.String(http.StatusOK, Principal(c))
	})
	router.GET("/protected", chain...)
	return router
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"https://example.com"}

	if !IsOriginAllowed("https://example.com", allowed) {
		t.Fatalf("expected origin to be allowed")
	}
	if IsOriginAllowed("https://evil.example", allowed) {
		t.Fatalf("expected unknown origin to be rejected")
	}
	if !IsOriginAllowed("https://anything.local", []string{"*"}) {
		t.Fatalf("expected wildcard allowlist to permit origin")
	}
	if !IsOriginAllowed("", allowed) {
		t.Fatalf("expected empty origin to be allowed")
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := newRateLimiter(2)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	key := "127.0.0.1"

	for i := 0; i < 2; i++ {
		if _, ok := limiter.allow(key); !ok {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}
	wait, ok := limiter.allow(key)
	if ok {
		t.Fatalf("expected third request to be rate limited")
	}
	if wait <= 0 || wait > 31*time.Second {
		t.Fatalf("unexpected retry delay %s", wait)
	}

	if _, ok := limiter.allow("10.0.0.2"); !ok {
		t.Fatalf("other clients have their own bucket")
	}

	now = now.Add(31 * time.Second)
	if _, ok := limiter.allow(key); !ok {
		t.Fatalf("expected a token to be refilled after 31s")
	}
	if _, ok := limiter.allow(key); ok {
		t.Fatalf("expected only one refilled token")
	}
}

func TestRateLimiterDropsIdleBuckets(t *testing.T) {
	limiter := newRateLimiter(60)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.allow("a")
	now = now.Add(2 * time.Minute)
	limiter.allow("b")

	if _, ok := limiter.buckets["a"]; ok {
		t.Fatalf("expected idle bucket to be removed")
	}
	if _, ok := limiter.buckets["b"]; !ok {
		t.Fatalf("expected active bucket to remain")
	}
}

func TestAuthAcceptsBearerAndQueryToken(t *testing.T) {
	router := newAuthRouter()
	token := signToken(t, "steve")

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "steve" {
		t.Fatalf("bearer token: got %d %q", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/protected?token="+token, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("query token: got %d", w.Code)
	}
}

func TestAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	router := newAuthRouter()

	cases := map[string]string{
		"missing":   "",
		"malformed": "Token abc",
		"invalid":   "Bearer not-a-jwt",
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, w.Code)
		}
	}
}

func TestRequireRole(t *testing.T) {
	router := newAuthRouter(RequireRole(auth.RoleAdmin))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "viewer", auth.RoleViewer))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "admin", auth.RoleAdmin))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS(config.CORSConfig{AllowedOrigins: []string{"https://panel.example"}}))
	router.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://panel.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://panel.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disallowed origin, got %d", w.Code)
	}
}
