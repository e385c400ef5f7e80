package reason

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ehr/wardmed/internal/platform/apperr"
)

type Type string

const (
	TypeException   Type = "EXCEPTION"
	TypeReturn      Type = "RETURN"
	TypeAdjustment  Type = "ADJUSTMENT"
	TypeDiscrepancy Type = "DISCREPANCY"
	TypeReopen      Type = "REOPEN"
	TypeAlert       Type = "ALERT"
)

var validTypes = map[Type]bool{
	TypeException: true, TypeReturn: true, TypeAdjustment: true,
	TypeDiscrepancy: true, TypeReopen: true, TypeAlert: true,
}

func (t Type) Valid() bool { return validTypes[t] }

type Reason struct {
	Code  string `json:"code" mapstructure:"code"`
	Label string `json:"label" mapstructure:"label"`
	Type  Type   `json:"type" mapstructure:"type"`
}

// UnknownReasonError is returned when a code is absent from the catalog or
// has a type the caller does not accept.
type UnknownReasonError struct {
	ReasonCode string
	Allowed    []Type
}

func (e *UnknownReasonError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("unknown reason code %q", e.ReasonCode)
	}
	names := make([]string, len(e.Allowed))
	for i, t := range e.Allowed {
		names[i] = string(t)
	}
	return fmt.Sprintf("unknown reason code %q for %s", e.ReasonCode, strings.Join(names, "/"))
}

func (e *UnknownReasonError) Kind() apperr.Kind { return apperr.Validation }
func (e *UnknownReasonError) Code() string      { return "unknown_reason" }

// Catalog is an immutable code lookup. Safe for concurrent use.
type Catalog struct {
	byCode map[string]Reason
}

func NewCatalog(reasons []Reason) (*Catalog, error) {
	c := &Catalog{byCode: make(map[string]Reason, len(reasons))}
	for _, r := range reasons {
		r.Code = strings.TrimSpace(r.Code)
		r.Type = Type(strings.ToUpper(string(r.Type)))
		if r.Code == "" {
			return nil, fmt.Errorf("reason with label %q has no code", r.Label)
		}
		if !r.Type.Valid() {
			return nil, fmt.Errorf("reason %s: invalid type %q", r.Code, r.Type)
		}
		if _, dup := c.byCode[r.Code]; dup {
			return nil, fmt.Errorf("duplicate reason code %s", r.Code)
		}
		c.byCode[r.Code] = r
	}
	return c, nil
}

func (c *Catalog) Lookup(code string) (Reason, bool) {
	r, ok := c.byCode[code]
	return r, ok
}

// Require returns the reason for code, failing with UnknownReasonError when
// it is missing or, if types are given, of another type.
func (c *Catalog) Require(code string, types ...Type) (Reason, error) {
	r, ok := c.byCode[code]
	if !ok {
		return Reason{}, &UnknownReasonError{ReasonCode: code, Allowed: types}
	}
	if len(types) == 0 {
		return r, nil
	}
	for _, t := range types {
		if r.Type == t {
			return r, nil
		}
	}
	return Reason{}, &UnknownReasonError{ReasonCode: code, Allowed: types}
}

// List returns reasons sorted by code; an empty t lists all.
func (c *Catalog) List(t Type) []Reason {
	out := make([]Reason, 0, len(c.byCode))
	for _, r := range c.byCode {
		if t == "" || r.Type == t {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (c *Catalog) Len() int { return len(c.byCode) }
