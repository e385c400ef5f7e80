package rx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/wardmed/internal/platform/auth"
)

func physicianRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithActor(req.Context(), "physician-1", "W1", []string{auth.RolePhysician}))
}

func TestHandler_ReceiveDiffApply(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	body := `{"patient_id":"P-1","version_id":"v1","lines":[{"order_id":"A","drug_code":"PARA500","dose":"1","dose_unit":"tab","route":"PO","frequency":2}]}`
	rec := httptest.NewRecorder()
	if err := h.ReceiveVersion(e.NewContext(physicianRequest(http.MethodPost, body), rec)); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c := e.NewContext(physicianRequest(http.MethodPost, ""), rec)
	c.SetParamNames("patient")
	c.SetParamValues(patient)
	if err := h.Diff(c); err != nil {
		t.Fatalf("diff: %v", err)
	}
	var item InboxItem
	json.Unmarshal(rec.Body.Bytes(), &item)
	if len(item.Details) != 1 || item.Details[0].Change != ChangeAdd {
		t.Fatalf("expected one ADD, got %+v", item.Details)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(physicianRequest(http.MethodPost, `{"external_version_id":"v1"}`), rec)
	c.SetParamNames("patient")
	c.SetParamValues(patient)
	if err := h.Apply(c); err != nil {
		t.Fatalf("apply: %v", err)
	}
	var res ApplyResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Scheduled != 2 {
		t.Errorf("expected 2 doses scheduled, got %d", res.Scheduled)
	}
}

func TestHandler_Apply_Stale(t *testing.T) {
	f := newFixture(t)
	f.push(t, "v1", line("A", "PARA500", 1, 1))
	if _, err := f.svc.Diff(physicianRequest(http.MethodPost, "").Context(), patient); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(f.svc)
	e := echo.New()

	c := e.NewContext(physicianRequest(http.MethodPost, `{"external_version_id":"v0"}`), httptest.NewRecorder())
	c.SetParamNames("patient")
	c.SetParamValues(patient)
	err := h.Apply(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestHandler_Apply_NoActor(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"external_version_id":"v1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("patient")
	c.SetParamValues(patient)
	err := h.Apply(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHandler_Reject(t *testing.T) {
	f := newFixture(t)
	f.push(t, "v1", line("A", "PARA500", 1, 1))
	if _, err := f.svc.Diff(physicianRequest(http.MethodPost, "").Context(), patient); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(f.svc)
	e := echo.New()

	c := e.NewContext(physicianRequest(http.MethodPost, `{}`), httptest.NewRecorder())
	c.SetParamNames("patient")
	c.SetParamValues(patient)
	httpErr, ok := h.Reject(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a reason, got %v", httpErr)
	}

	rec := httptest.NewRecorder()
	c = e.NewContext(physicianRequest(http.MethodPost, `{"reason":"entered on wrong patient"}`), rec)
	c.SetParamNames("patient")
	c.SetParamValues(patient)
	if err := h.Reject(c); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_Applied_NotFound(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	c := e.NewContext(physicianRequest(http.MethodGet, ""), httptest.NewRecorder())
	c.SetParamNames("patient")
	c.SetParamValues("P-404")
	httpErr, ok := h.Applied(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", httpErr)
	}
}
