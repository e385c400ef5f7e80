package mar

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateVisit(ctx context.Context, v *MedVisit) error
	GetVisit(ctx context.Context, id uuid.UUID) (*MedVisit, error)
	// GetVisitForUpdate locks the visit row until the transaction ends.
	GetVisitForUpdate(ctx context.Context, id uuid.UUID) (*MedVisit, error)
	// ActiveVisit returns the patient's undischarged visit.
	ActiveVisit(ctx context.Context, patientID string) (*MedVisit, error)
	SetVisitStatus(ctx context.Context, id uuid.UUID, status VisitStatus) error
	Discharge(ctx context.Context, id uuid.UUID) (*MedVisit, error)
	ListVisits(ctx context.Context, wardCode string, limit, offset int) ([]*MedVisit, int, error)

	GetItem(ctx context.Context, id uuid.UUID) (*MARItem, error)
	GetItemForUpdate(ctx context.Context, id uuid.UUID) (*MARItem, error)
	InsertItems(ctx context.Context, items []*MARItem) error
	// UpdateItem writes it only if the stored version still equals
	// it.Version, then bumps the version. A miss yields ConcurrentUpdateError.
	UpdateItem(ctx context.Context, it *MARItem) error
	ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*MARItem, error)
	ListByShift(ctx context.Context, shift ShiftType, date string) ([]*MARItem, error)
	ListByOrder(ctx context.Context, patientID, orderID string) ([]*MARItem, error)
	CountByShift(ctx context.Context, shift ShiftType, date string) ([]StatusCount, error)
}

// LockChecker reports whether a shift is closed. Implementations read the
// shift row with a shared lock so a concurrent close waits for the caller's
// transaction.
type LockChecker interface {
	IsLocked(ctx context.Context, shift ShiftType, date string) (bool, error)
}
