package issuenote

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create stores the note and its items; a taken code yields DuplicateNoteError.
	Create(ctx context.Context, n *IssueNote) error
	GetByID(ctx context.Context, id uuid.UUID) (*IssueNote, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*IssueNote, error)
	GetByCodeForUpdate(ctx context.Context, code string) (*IssueNote, error)
	ReplaceItems(ctx context.Context, noteID uuid.UUID, items []IssueNoteItem) error
	SetUpstreamStatus(ctx context.Context, noteID uuid.UUID, status UpstreamStatus) error
	// SaveConfirmation persists ward status, confirmer and every item's count.
	SaveConfirmation(ctx context.Context, n *IssueNote) error
	List(ctx context.Context, status WardStatus, limit, offset int) ([]*IssueNote, int, error)
}
