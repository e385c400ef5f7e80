package reason

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/wardmed/internal/platform/apperr"
)

func TestDefaultCatalog_CoversEveryType(t *testing.T) {
	c := DefaultCatalog()
	for typ := range validTypes {
		assert.NotEmpty(t, c.List(typ), "no reasons of type %s", typ)
	}
}

func TestCatalog_Require(t *testing.T) {
	c := DefaultCatalog()

	r, err := c.Require("PATIENT_REFUSED", TypeException)
	require.NoError(t, err)
	assert.Equal(t, "Patient refused", r.Label)

	_, err = c.Require("PATIENT_REFUSED", TypeReturn)
	var unknown *UnknownReasonError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "PATIENT_REFUSED", unknown.ReasonCode)
	assert.Equal(t, "unknown_reason", unknown.Code())
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	_, err = c.Require("NO_SUCH_CODE")
	require.Error(t, err)

	_, err = c.Require("EXPIRED", TypeReturn, TypeAdjustment)
	assert.NoError(t, err)
}

func TestCatalog_ListSorted(t *testing.T) {
	c, err := NewCatalog([]Reason{
		{Code: "B", Label: "b", Type: TypeReturn},
		{Code: "A", Label: "a", Type: TypeReturn},
		{Code: "C", Label: "c", Type: TypeAlert},
	})
	require.NoError(t, err)

	list := c.List(TypeReturn)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].Code)
	assert.Len(t, c.List(""), 3)
}

func TestNewCatalog_Rejects(t *testing.T) {
	_, err := NewCatalog([]Reason{{Code: "X", Type: "BOGUS"}})
	assert.Error(t, err)

	_, err = NewCatalog([]Reason{{Code: "X", Type: TypeAlert}, {Code: "X", Type: TypeReturn}})
	assert.Error(t, err)

	_, err = NewCatalog([]Reason{{Code: " ", Type: TypeAlert}})
	assert.Error(t, err)
}

func TestLoadCatalog_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reasons.yaml")
	content := `reasons:
  - code: NPO
    label: Nil by mouth
    type: exception
  - code: RECOUNT
    label: Recount
    type: ADJUSTMENT
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	r, ok := c.Lookup("NPO")
	require.True(t, ok)
	assert.Equal(t, TypeException, r.Type)
}

func TestLoadCatalog_EmptyPathUsesDefault(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog().Len(), c.Len())
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
