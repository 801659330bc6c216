package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func testRouter(t *testing.T, roles ...string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/", UserAuth("key", "fitpass"))
	if len(roles) > 0 {
		group = group.Group("/", RequireRoles(roles...))
	}
	group.GET("/ping", func(c *gin.Context) {
		claims, _ := FromContext(c)
		c.JSON(http.StatusOK, gin.H{"user": claims.UserID})
	})
	return r
}

func doRequest(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUserAuthMissingToken(t *testing.T) {
	if w := doRequest(testRouter(t), ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestUserAuthBadToken(t *testing.T) {
	if w := doRequest(testRouter(t), "not-a-token"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestUserAuthValidToken(t *testing.T) {
	pair, err := Issue("u1", RoleStudent, "S", "fitpass", "key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if w := doRequest(testRouter(t), pair.AccessToken); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequireRoles(t *testing.T) {
	r := testRouter(t, RoleTeacher, RoleAdmin)

	studentPair, _ := Issue("u1", RoleStudent, "S", "fitpass", "key", time.Minute, time.Hour)
	if w := doRequest(r, studentPair.AccessToken); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student, got %d", w.Code)
	}

	teacherPair, _ := Issue("u2", RoleTeacher, "T", "fitpass", "key", time.Minute, time.Hour)
	if w := doRequest(r, teacherPair.AccessToken); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for teacher, got %d", w.Code)
	}
}
