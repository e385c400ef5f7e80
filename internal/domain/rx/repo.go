package rx

import (
	"context"
)

type Repository interface {
	// GetApplied returns nil when no version was applied yet.
	GetApplied(ctx context.Context, patientID string) (*AppliedVersion, error)
	GetAppliedForUpdate(ctx context.Context, patientID string) (*AppliedVersion, error)
	SaveApplied(ctx context.Context, v *AppliedVersion) error

	// UpsertInbox replaces the patient's pending item.
	UpsertInbox(ctx context.Context, item *InboxItem) error
	GetInboxForUpdate(ctx context.Context, patientID string) (*InboxItem, error)
	DeleteInbox(ctx context.Context, patientID string) error
	ListInbox(ctx context.Context, limit, offset int) ([]*InboxItem, int, error)
}

// OrderSource yields the latest prescription version issued upstream.
type OrderSource interface {
	LatestVersion(ctx context.Context, patientID string) (*OrderVersion, error)
}

// VersionStore records versions pushed by the order system.
type VersionStore interface {
	SaveVersion(ctx context.Context, v *OrderVersion) error
}
