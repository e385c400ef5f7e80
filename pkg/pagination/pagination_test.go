package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor(t, "")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := paramsFor(t, "?limit=20&offset=10")
	if p.Limit != 20 || p.Offset != 10 {
		t.Errorf("expected 20/10, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := paramsFor(t, "?limit=100000")
	if p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := paramsFor(t, "?offset=-5")
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 5, Params{Limit: 2, Offset: 0})
	if !resp.HasMore {
		t.Error("expected has_more for first page of 5")
	}
	resp = NewResponse([]string{"e"}, 5, Params{Limit: 2, Offset: 4})
	if resp.HasMore {
		t.Error("expected no more results on last page")
	}
}

func TestParams_Window(t *testing.T) {
	tests := []struct {
		p      Params
		n      int
		lo, hi int
	}{
		{Params{Limit: 10, Offset: 0}, 3, 0, 3},
		{Params{Limit: 2, Offset: 2}, 5, 2, 4},
		{Params{Limit: 2, Offset: 9}, 5, 5, 5},
	}
	for _, tt := range tests {
		lo, hi := tt.p.Window(tt.n)
		if lo != tt.lo || hi != tt.hi {
			t.Errorf("%+v.Window(%d) = [%d,%d), want [%d,%d)", tt.p, tt.n, lo, hi, tt.lo, tt.hi)
		}
	}
}
