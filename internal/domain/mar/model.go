package mar

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/wardmed/internal/platform/apperr"
)

type Status string

const (
	StatusScheduled     Status = "SCHEDULED"
	StatusPrepared      Status = "PREPARED"
	StatusAdministered  Status = "ADMINISTERED"
	StatusHeld          Status = "HELD"
	StatusRefused       Status = "REFUSED"
	StatusMissed        Status = "MISSED"
	StatusReturnPending Status = "RETURN_PENDING"
	StatusReturned      Status = "RETURNED"
	StatusCancelled     Status = "CANCELLED"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusScheduled, StatusPrepared, StatusAdministered, StatusHeld, StatusRefused,
	StatusMissed, StatusReturnPending, StatusReturned, StatusCancelled,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

type VisitStatus string

const (
	VisitNew                VisitStatus = "NEW"
	VisitPartiallyDispensed VisitStatus = "PARTIALLY_DISPENSED"
	VisitFullyDispensed     VisitStatus = "FULLY_DISPENSED"
)

// MedVisit is one inpatient encounter with medication activity. Status is
// derived from the visit's MAR items and never set directly.
type MedVisit struct {
	ID           uuid.UUID   `json:"id"`
	PatientID    string      `json:"patient_id"`
	WardCode     string      `json:"ward_code"`
	Bed          string      `json:"bed,omitempty"`
	Status       VisitStatus `json:"status"`
	AdmittedAt   time.Time   `json:"admitted_at"`
	DischargedAt *time.Time  `json:"discharged_at,omitempty"`
}

// MARItem is one scheduled dose. Dose is expressed in stock units.
type MARItem struct {
	ID             uuid.UUID       `json:"id"`
	VisitID        uuid.UUID       `json:"visit_id"`
	PatientID      string          `json:"patient_id"`
	OrderID        string          `json:"order_id"`
	DrugCode       string          `json:"drug_code"`
	DrugName       string          `json:"drug_name"`
	Dose           decimal.Decimal `json:"dose"`
	DoseUnit       string          `json:"dose_unit"`
	Route          string          `json:"route"`
	ScheduledAt    time.Time       `json:"scheduled_at"`
	Shift          ShiftType       `json:"shift"`
	ShiftDate      string          `json:"shift_date"`
	Status         Status          `json:"status"`
	IsDispensed    bool            `json:"is_dispensed"`
	DispensedQty   decimal.Decimal `json:"dispensed_qty"`
	DispensedLot   string          `json:"dispensed_lot,omitempty"`
	DeliveryProof  string          `json:"delivery_proof,omitempty"`
	AdministeredBy string          `json:"administered_by,omitempty"`
	AdministeredAt *time.Time      `json:"administered_at,omitempty"`
	ReasonCode     string          `json:"reason_code,omitempty"`
	Note           string          `json:"note,omitempty"`
	ReturnedQty    decimal.Decimal `json:"returned_qty"`
	ReturnReason   string          `json:"return_reason,omitempty"`
	OrderStopped   bool            `json:"order_stopped"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Reference is the ledger reference for stock moved on behalf of the item.
func (it *MARItem) Reference() string {
	return "mar:" + it.ID.String()
}

// Outstanding reports whether the dose has not reached a final state.
func (it *MARItem) Outstanding() bool {
	switch it.Status {
	case StatusScheduled, StatusPrepared, StatusHeld, StatusRefused, StatusMissed:
		return true
	}
	return false
}

// StatusCount is the number of a shift's items in one status, split by
// whether the dose has left the cabinet.
type StatusCount struct {
	Status    Status
	Dispensed bool
	Count     int
}

func (it *MARItem) clearDispensing() {
	it.IsDispensed = false
	it.DispensedQty = decimal.Zero
	it.DispensedLot = ""
}

// -- Errors --

type InvalidTransitionError struct {
	ItemID uuid.UUID
	Action Action
	From   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s MAR item %s in status %s", e.Action, e.ItemID, e.From)
}
func (e *InvalidTransitionError) Kind() apperr.Kind { return apperr.Precondition }
func (e *InvalidTransitionError) Code() string      { return "invalid_transition" }
func (e *InvalidTransitionError) Details() interface{} {
	return map[string]interface{}{"action": e.Action, "from": e.From}
}

// OrderStoppedError is returned when an action would give or re-attempt a
// dose whose order has been stopped.
type OrderStoppedError struct {
	ItemID  uuid.UUID
	OrderID string
	Action  Action
}

func (e *OrderStoppedError) Error() string {
	return fmt.Sprintf("cannot %s MAR item %s: order %s is stopped", e.Action, e.ItemID, e.OrderID)
}
func (e *OrderStoppedError) Kind() apperr.Kind { return apperr.Precondition }
func (e *OrderStoppedError) Code() string      { return "order_stopped" }

type NotVerifiedError struct{ ItemID uuid.UUID }

func (e *NotVerifiedError) Error() string {
	return fmt.Sprintf("patient identity not verified for MAR item %s", e.ItemID)
}
func (e *NotVerifiedError) Kind() apperr.Kind { return apperr.Precondition }
func (e *NotVerifiedError) Code() string      { return "not_verified" }

type OutOfStockError struct {
	DrugCode  string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("out of stock for %s: available %s, dose %s", e.DrugCode, e.Available, e.Requested)
}
func (e *OutOfStockError) Kind() apperr.Kind { return apperr.Precondition }
func (e *OutOfStockError) Code() string      { return "out_of_stock" }
func (e *OutOfStockError) Details() interface{} {
	return map[string]interface{}{"drug_code": e.DrugCode, "available": e.Available, "requested": e.Requested}
}

// ShiftLockedError is returned for any change to an item whose shift is
// closed.
type ShiftLockedError struct {
	Shift ShiftType
	Date  string
}

func (e *ShiftLockedError) Error() string {
	return fmt.Sprintf("shift %s %s is locked", e.Shift, e.Date)
}
func (e *ShiftLockedError) Kind() apperr.Kind { return apperr.Precondition }
func (e *ShiftLockedError) Code() string      { return "shift_locked" }

// ConcurrentUpdateError means the item changed between read and write.
type ConcurrentUpdateError struct {
	ItemID  uuid.UUID
	Version int
}

func (e *ConcurrentUpdateError) Error() string {
	return fmt.Sprintf("MAR item %s changed concurrently (expected version %d)", e.ItemID, e.Version)
}
func (e *ConcurrentUpdateError) Kind() apperr.Kind { return apperr.Precondition }
func (e *ConcurrentUpdateError) Code() string      { return "concurrent_update" }
