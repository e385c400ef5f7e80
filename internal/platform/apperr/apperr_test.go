package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lowStockErr struct{ missing int }

func (e lowStockErr) Error() string        { return fmt.Sprintf("short by %d", e.missing) }
func (e lowStockErr) Kind() Kind           { return Precondition }
func (e lowStockErr) Code() string         { return "insufficient_stock" }
func (e lowStockErr) Details() interface{} { return map[string]int{"missing": e.missing} }

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("administer: %w", lowStockErr{missing: 2})
	assert.Equal(t, Precondition, KindOf(err))
	assert.True(t, Is(err, Precondition))
	assert.False(t, Is(nil, Precondition))
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestHTTPError_Classified(t *testing.T) {
	he := HTTPError(fmt.Errorf("wrap: %w", lowStockErr{missing: 3}))
	require.Equal(t, http.StatusConflict, he.Code)

	body, ok := he.Message.(Body)
	require.True(t, ok)
	assert.Equal(t, "insufficient_stock", body.Code)
	assert.Equal(t, "short by 3", body.Message)
	assert.Equal(t, map[string]int{"missing": 3}, body.Details)
}

func TestHTTPError_Unclassified(t *testing.T) {
	he := HTTPError(errors.New("pq: connection reset"))
	require.Equal(t, http.StatusInternalServerError, he.Code)
	body := he.Message.(Body)
	assert.Equal(t, "internal", body.Code)
	assert.NotContains(t, body.Message, "pq")
}

func TestHTTPError_IntegrityKeepsCause(t *testing.T) {
	cause := New(Integrity, "ledger_divergence", "projection 5 != fold 4")
	he := HTTPError(cause)
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	assert.ErrorIs(t, he.Internal, cause)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Status(Validation))
	assert.Equal(t, http.StatusNotFound, Status(NotFound))
	assert.Equal(t, http.StatusForbidden, Status(Forbidden))
	assert.Equal(t, http.StatusConflict, Status(Precondition))
	assert.Equal(t, http.StatusInternalServerError, Status(Integrity))
}

func TestError_WithDetails(t *testing.T) {
	err := Validationf("line %d: dose must be positive", 2).WithDetails([]string{"A"})
	assert.Equal(t, Validation, err.Kind())
	assert.Equal(t, "line 2: dose must be positive", err.Error())
	assert.Equal(t, []string{"A"}, err.Details())
}
