package issuenote

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/wardmed/internal/platform/apperr"
)

type WardStatus string

const (
	WardSent        WardStatus = "SENT"
	WardReceived    WardStatus = "RECEIVED"
	WardDiscrepancy WardStatus = "DISCREPANCY"
)

type UpstreamStatus string

const (
	UpstreamNormal   UpstreamStatus = "NORMAL"
	UpstreamUpdated  UpstreamStatus = "UPDATED"
	UpstreamCanceled UpstreamStatus = "CANCELED"
)

// IssueNote is a pharmacy-to-ward transfer document. Once the ward confirms
// it the note is immutable.
type IssueNote struct {
	ID             uuid.UUID       `json:"id"`
	Code           string          `json:"code"`
	WardCode       string          `json:"ward_code"`
	WardStatus     WardStatus      `json:"ward_status"`
	UpstreamStatus UpstreamStatus  `json:"upstream_status"`
	ConfirmedBy    string          `json:"confirmed_by,omitempty"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Items          []IssueNoteItem `json:"items"`
}

type IssueNoteItem struct {
	ID                uuid.UUID        `json:"id"`
	NoteID            uuid.UUID        `json:"note_id"`
	DrugCode          string           `json:"drug_code"`
	DrugName          string           `json:"drug_name"`
	Lot               string           `json:"lot"`
	Expiry            *time.Time       `json:"expiry,omitempty"`
	Unit              string           `json:"unit"`
	SentQty           decimal.Decimal  `json:"sent_qty"`
	ReceivedQty       *decimal.Decimal `json:"received_qty,omitempty"`
	DiscrepancyReason string           `json:"discrepancy_reason,omitempty"`
	EvidenceImage     string           `json:"evidence_image,omitempty"`
}

// CountedItem is the ward's physical count for one note line.
type CountedItem struct {
	ItemID            uuid.UUID       `json:"item_id"`
	ReceivedQty       decimal.Decimal `json:"received_qty"`
	DiscrepancyReason string          `json:"discrepancy_reason,omitempty"`
	EvidenceImage     string          `json:"evidence_image,omitempty"`
}

func (n *IssueNote) Reference() string {
	return "issue-note:" + n.Code
}

func validateItems(items []IssueNoteItem) error {
	if len(items) == 0 {
		return apperr.Validationf("issue note must have at least one item")
	}
	for i, it := range items {
		if strings.TrimSpace(it.DrugCode) == "" || strings.TrimSpace(it.Lot) == "" {
			return apperr.Validationf("item %d: drug_code and lot are required", i)
		}
		if !it.SentQty.IsPositive() {
			return apperr.Validationf("item %d: sent_qty must be positive", i)
		}
	}
	return nil
}

type DuplicateNoteError struct{ NoteCode string }

func (e *DuplicateNoteError) Error() string     { return fmt.Sprintf("issue note %s already exists", e.NoteCode) }
func (e *DuplicateNoteError) Kind() apperr.Kind { return apperr.Validation }
func (e *DuplicateNoteError) Code() string      { return "duplicate_issue_note" }

// NoteCanceledError is returned when the pharmacy canceled the note before
// the ward confirmed it.
type NoteCanceledError struct{ NoteCode string }

func (e *NoteCanceledError) Error() string {
	return fmt.Sprintf("issue note %s was canceled upstream", e.NoteCode)
}
func (e *NoteCanceledError) Kind() apperr.Kind { return apperr.Precondition }
func (e *NoteCanceledError) Code() string      { return "note_canceled" }

// NoteLockedError is returned for any change to a note the ward already
// confirmed.
type NoteLockedError struct {
	NoteCode string
	Status   WardStatus
}

func (e *NoteLockedError) Error() string {
	return fmt.Sprintf("issue note %s is %s and can no longer change", e.NoteCode, e.Status)
}
func (e *NoteLockedError) Kind() apperr.Kind { return apperr.Precondition }
func (e *NoteLockedError) Code() string      { return "note_locked" }

type MissingDiscrepancyReasonError struct {
	ItemIDs []uuid.UUID
}

func (e *MissingDiscrepancyReasonError) Error() string {
	ids := make([]string, len(e.ItemIDs))
	for i, id := range e.ItemIDs {
		ids[i] = id.String()
	}
	return fmt.Sprintf("discrepancy reason required for items: %s", strings.Join(ids, ", "))
}
func (e *MissingDiscrepancyReasonError) Kind() apperr.Kind    { return apperr.Validation }
func (e *MissingDiscrepancyReasonError) Code() string         { return "missing_discrepancy_reason" }
func (e *MissingDiscrepancyReasonError) Details() interface{} { return map[string]interface{}{"item_ids": e.ItemIDs} }
