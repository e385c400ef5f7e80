package shift

import (
	"context"

	"github.com/ehr/wardmed/internal/domain/mar"
)

type Repository interface {
	// Get returns the lock row, or an OPEN value when none exists.
	Get(ctx context.Context, shift mar.ShiftType, date string) (*ShiftLock, error)
	// GetForUpdate creates the row if needed and locks it exclusively.
	GetForUpdate(ctx context.Context, shift mar.ShiftType, date string) (*ShiftLock, error)
	// GetForShare creates the row if needed and takes a shared lock on it.
	GetForShare(ctx context.Context, shift mar.ShiftType, date string) (*ShiftLock, error)
	Save(ctx context.Context, l *ShiftLock) error
	AppendAudit(ctx context.Context, a *AuditEntry) error
	ListAudit(ctx context.Context, shift mar.ShiftType, date string) ([]*AuditEntry, error)
}

// Counter tallies MAR items by status and dispensed state for a shift.
type Counter interface {
	CountByShift(ctx context.Context, shift mar.ShiftType, date string) ([]mar.StatusCount, error)
}
