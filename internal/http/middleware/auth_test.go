// README: Tests for Firebase auth middleware, role resolution and role gates.
package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"

	"hometaste/internal/http/middleware"
	"hometaste/internal/infra"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

type stubUsers map[types.ID]*user.User

func (s stubUsers) Get(_ context.Context, id types.ID) (*user.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func newTestRouter(verifier infra.TokenVerifier, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.Use(extra...)
	r.GET("/test", func(c *gin.Context) {
		uid := middleware.CallerUID(c)
		role := middleware.CallerRole(c)
		c.JSON(http.StatusOK, gin.H{"uid": uid, "role": role})
	})
	return r
}

func get(r http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeader(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}})
	w := get(r, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"kind":"unauthorized"`) {
		t.Errorf("expected unauthorized kind, got %s", w.Body.String())
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}})
	if w := get(r, "Token sometoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_VerifierError(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("bad token")})
	if w := get(r, "Bearer invalidtoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_ValidToken_UIDAndRolePopulated(t *testing.T) {
	token := &infra.FirebaseToken{
		UID:    "partner123",
		Claims: map[string]interface{}{"role": "delivery_partner"},
	}
	w := get(newTestRouter(&stubVerifier{token: token}), "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "partner123") {
		t.Errorf("expected uid partner123 in body, got %s", body)
	}
	if !strings.Contains(body, "delivery_partner") {
		t.Errorf("expected role delivery_partner in body, got %s", body)
	}
}

func TestResolve_StoredRoleWins(t *testing.T) {
	token := &infra.FirebaseToken{UID: "u1", Claims: map[string]interface{}{"role": "admin"}}
	users := stubUsers{"u1": {ID: "u1", Role: user.RoleCustomer}}
	w := get(newTestRouter(&stubVerifier{token: token}, middleware.Resolve(users)), "Bearer t")
	if !strings.Contains(w.Body.String(), `"role":"customer"`) {
		t.Errorf("expected stored role, got %s", w.Body.String())
	}
}

func TestResolve_UnregisteredActsAsCustomer(t *testing.T) {
	token := &infra.FirebaseToken{UID: "new", Claims: map[string]interface{}{"role": "home_kitchen"}}
	r := newTestRouter(&stubVerifier{token: token}, middleware.Resolve(stubUsers{}))
	r.GET("/claim", func(c *gin.Context) {
		c.String(http.StatusOK, middleware.ClaimedRole(c))
	})

	w := get(r, "Bearer t")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"uid":"new"`) || !strings.Contains(w.Body.String(), `"role":"customer"`) {
		t.Errorf("expected unregistered caller to be a customer, got %s", w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/claim", nil)
	req.Header.Set("Authorization", "Bearer t")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Body.String() != "home_kitchen" {
		t.Errorf("expected claim to stay readable, got %q", rec.Body.String())
	}

	gated := newTestRouter(&stubVerifier{token: token}, middleware.Resolve(stubUsers{}), middleware.RequireRole(user.RoleKitchen))
	if w := get(gated, "Bearer t"); w.Code != http.StatusForbidden {
		t.Errorf("unregistered caller must not pass a kitchen gate, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	token := &infra.FirebaseToken{UID: "k1"}
	users := stubUsers{"k1": {ID: "k1", Role: user.RoleKitchen}}

	allowed := newTestRouter(&stubVerifier{token: token}, middleware.Resolve(users), middleware.RequireRole(user.RoleKitchen, user.RoleAdmin))
	if w := get(allowed, "Bearer t"); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	denied := newTestRouter(&stubVerifier{token: token}, middleware.Resolve(users), middleware.RequireRole(user.RoleDeliveryPartner))
	if w := get(denied, "Bearer t"); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log, hook := test.NewNullLogger()
	r := gin.New()
	r.Use(middleware.Recovery(log))
	r.GET("/test", func(*gin.Context) { panic("boom") })

	w := get(r, "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if len(hook.Entries) != 1 || hook.LastEntry().Message != "handler panicked" {
		t.Errorf("expected panic to be logged, got %v", hook.Entries)
	}
}
