package stock

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/wardmed/internal/platform/apperr"
)

type TransactionType string

const (
	TxImport TransactionType = "IMPORT"
	TxExport TransactionType = "EXPORT"
	TxReturn TransactionType = "RETURN"
	TxAdjust TransactionType = "ADJUST"
	TxBroken TransactionType = "BROKEN"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxImport, TxExport, TxReturn, TxAdjust, TxBroken:
		return true
	}
	return false
}

// DrugStockEntry is the current on-hand quantity of one lot of one drug.
// Quantity always equals the fold of the lot's transactions.
type DrugStockEntry struct {
	DrugCode     string          `json:"drug_code"`
	Lot          string          `json:"lot"`
	Unit         string          `json:"unit"`
	Quantity     decimal.Decimal `json:"quantity"`
	MinThreshold decimal.Decimal `json:"min_threshold"`
	Expiry       *time.Time      `json:"expiry,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// StockTransaction is one append-only ledger line. Seq gives the total order.
type StockTransaction struct {
	ID            uuid.UUID       `json:"id"`
	Seq           int64           `json:"seq"`
	DrugCode      string          `json:"drug_code"`
	Lot           string          `json:"lot"`
	Type          TransactionType `json:"type"`
	Delta         decimal.Decimal `json:"delta"`
	QuantityAfter decimal.Decimal `json:"quantity_after"`
	Reason        string          `json:"reason,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Actor         string          `json:"actor"`
	CreatedAt     time.Time       `json:"created_at"`
}

type TransactionInput struct {
	DrugCode  string          `json:"drug_code"`
	Lot       string          `json:"lot"`
	Type      TransactionType `json:"type"`
	Delta     decimal.Decimal `json:"delta"`
	Reason    string          `json:"reason,omitempty"`
	Reference string          `json:"reference,omitempty"`
	Actor     string          `json:"-"`
	Unit      string          `json:"unit,omitempty"`
	Expiry    *time.Time      `json:"expiry,omitempty"`
}

// checkSign enforces the direction each transaction type may move stock.
func checkSign(t TransactionType, delta decimal.Decimal, reason string) error {
	switch t {
	case TxImport, TxReturn:
		if !delta.IsPositive() {
			return &InvalidDeltaError{Type: t, Delta: delta, Want: "positive"}
		}
	case TxExport, TxBroken:
		if !delta.IsNegative() {
			return &InvalidDeltaError{Type: t, Delta: delta, Want: "negative"}
		}
	case TxAdjust:
		if delta.IsZero() {
			return &InvalidDeltaError{Type: t, Delta: delta, Want: "non-zero"}
		}
		if reason == "" {
			return &MissingReasonError{Type: t}
		}
	default:
		return apperr.Validationf("unknown transaction type %q", t)
	}
	return nil
}

type InsufficientStockError struct {
	DrugCode  string
	Lot       string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	if e.Lot == "" {
		return fmt.Sprintf("insufficient stock of %s: available %s, requested %s", e.DrugCode, e.Available, e.Requested)
	}
	return fmt.Sprintf("insufficient stock of %s lot %s: available %s, requested %s", e.DrugCode, e.Lot, e.Available, e.Requested)
}

func (e *InsufficientStockError) Kind() apperr.Kind { return apperr.Precondition }
func (e *InsufficientStockError) Code() string      { return "insufficient_stock" }
func (e *InsufficientStockError) Details() interface{} {
	return map[string]string{
		"drug_code": e.DrugCode,
		"lot":       e.Lot,
		"available": e.Available.String(),
		"requested": e.Requested.String(),
	}
}

type MissingReasonError struct {
	Type TransactionType
}

func (e *MissingReasonError) Error() string {
	return fmt.Sprintf("%s transaction requires a reason", e.Type)
}
func (e *MissingReasonError) Kind() apperr.Kind { return apperr.Validation }
func (e *MissingReasonError) Code() string      { return "missing_reason" }

type InvalidDeltaError struct {
	Type  TransactionType
	Delta decimal.Decimal
	Want  string
}

func (e *InvalidDeltaError) Error() string {
	return fmt.Sprintf("%s delta must be %s, got %s", e.Type, e.Want, e.Delta)
}
func (e *InvalidDeltaError) Kind() apperr.Kind { return apperr.Validation }
func (e *InvalidDeltaError) Code() string      { return "invalid_delta" }

// IntegrityError means the projection and the ledger disagree. It is never
// a caller mistake.
type IntegrityError struct {
	DrugCode   string
	Lot        string
	Projection decimal.Decimal
	Fold       decimal.Decimal
	Detail     string
}

func (e *IntegrityError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("ledger integrity violation for %s/%s: %s", e.DrugCode, e.Lot, e.Detail)
	}
	return fmt.Sprintf("ledger integrity violation for %s/%s: projection %s, ledger %s",
		e.DrugCode, e.Lot, e.Projection, e.Fold)
}
func (e *IntegrityError) Kind() apperr.Kind { return apperr.Integrity }
func (e *IntegrityError) Code() string      { return "ledger_integrity" }
