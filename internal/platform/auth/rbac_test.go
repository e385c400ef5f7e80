package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(req *http.Request, roles ...string) *http.Request {
	return req.WithContext(WithActor(req.Context(), "u-1", "", roles))
}

func TestRequireRole_Allowed(t *testing.T) {
	e := echo.New()
	req := contextWithRoles(httptest.NewRequest(http.MethodGet, "/", nil), RoleNurse)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := RequireRole(RoleNurse, RolePharmacist)(okHandler)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	e := echo.New()
	req := contextWithRoles(httptest.NewRequest(http.MethodGet, "/", nil), RolePhysician)
	c := e.NewContext(req, httptest.NewRecorder())

	err := RequireRole(RoleSupervisor)(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	e := echo.New()
	req := contextWithRoles(httptest.NewRequest(http.MethodGet, "/", nil), RoleAdmin)
	c := e.NewContext(req, httptest.NewRecorder())

	if err := RequireRole(RoleSupervisor)(okHandler)(c); err != nil {
		t.Error("admin should bypass role checks")
	}
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		held   []string
		wanted []string
		want   bool
	}{
		{[]string{RoleNurse}, []string{RoleNurse}, true},
		{[]string{RoleNurse}, []string{RoleSupervisor}, false},
		{[]string{RoleAdmin}, []string{RoleSupervisor}, true},
		{nil, []string{RoleNurse}, false},
		{[]string{RolePharmacist, RoleNurse}, []string{RoleNurse}, true},
	}
	for _, tt := range tests {
		if got := HasRole(tt.held, tt.wanted...); got != tt.want {
			t.Errorf("HasRole(%v, %v) = %v, want %v", tt.held, tt.wanted, got, tt.want)
		}
	}
}

func TestActorFromEcho(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_, err := ActorFromEcho(c)
	expectStatus(t, err, http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithActor(context.Background(), "nurse-b", "W1", nil))
	c = e.NewContext(req, httptest.NewRecorder())
	actor, err := ActorFromEcho(c)
	if err != nil || actor != "nurse-b" {
		t.Errorf("expected nurse-b, got %q (%v)", actor, err)
	}
}
