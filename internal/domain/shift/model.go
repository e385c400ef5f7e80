package shift

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/wardmed/internal/domain/mar"
	"github.com/ehr/wardmed/internal/platform/apperr"
)

type LockStatus string

const (
	Open   LockStatus = "OPEN"
	Locked LockStatus = "LOCKED"
)

type AuditAction string

const (
	AuditClose  AuditAction = "CLOSE"
	AuditReopen AuditAction = "REOPEN"
)

// ShiftLock is the lock state of one (shift, date). A shift without a row
// is OPEN.
type ShiftLock struct {
	Shift    mar.ShiftType `json:"shift"`
	Date     string        `json:"shift_date"`
	Status   LockStatus    `json:"status"`
	LockedBy string        `json:"locked_by,omitempty"`
	LockedAt *time.Time    `json:"locked_at,omitempty"`
}

type AuditEntry struct {
	ID        uuid.UUID     `json:"id"`
	Shift     mar.ShiftType `json:"shift"`
	Date      string        `json:"shift_date"`
	Action    AuditAction   `json:"action"`
	Reason    string        `json:"reason,omitempty"`
	Actor     string        `json:"actor"`
	CreatedAt time.Time     `json:"created_at"`
}

// Summary is the dose tally of a shift. Total excludes cancelled doses.
type Summary struct {
	Shift         mar.ShiftType `json:"shift"`
	Date          string        `json:"shift_date"`
	Total         int           `json:"total"`
	Completed     int           `json:"completed"`
	Pending       int           `json:"pending"`
	ReturnPending int           `json:"return_pending"`
	Cancelled     int           `json:"cancelled"`
	Status        LockStatus    `json:"status"`
	LockedBy      string        `json:"locked_by,omitempty"`
	LockedAt      *time.Time    `json:"locked_at,omitempty"`
}

// Ready reports whether the shift may be closed.
func (s *Summary) Ready() bool {
	return s.Pending == 0 && s.ReturnPending == 0
}

// summarize folds the counts into a Summary. A dispensed MISSED dose
// counts as awaiting return.
func summarize(shift mar.ShiftType, date string, counts []mar.StatusCount) *Summary {
	s := &Summary{Shift: shift, Date: date, Status: Open}
	for _, c := range counts {
		n := c.Count
		switch c.Status {
		case mar.StatusScheduled, mar.StatusPrepared:
			s.Pending += n
		case mar.StatusReturnPending:
			s.ReturnPending += n
		case mar.StatusMissed:
			if c.Dispensed {
				s.ReturnPending += n
			} else {
				s.Completed += n
			}
		case mar.StatusAdministered, mar.StatusReturned, mar.StatusHeld, mar.StatusRefused:
			s.Completed += n
		case mar.StatusCancelled:
			s.Cancelled += n
		}
	}
	s.Total = s.Pending + s.ReturnPending + s.Completed
	return s
}

// -- Errors --

type ShiftNotReadyError struct {
	Shift         mar.ShiftType
	Date          string
	Pending       int
	ReturnPending int
}

func (e *ShiftNotReadyError) Error() string {
	return fmt.Sprintf("shift %s %s not ready to close: %d pending, %d awaiting return",
		e.Shift, e.Date, e.Pending, e.ReturnPending)
}
func (e *ShiftNotReadyError) Kind() apperr.Kind { return apperr.Precondition }
func (e *ShiftNotReadyError) Code() string      { return "shift_not_ready" }
func (e *ShiftNotReadyError) Details() interface{} {
	return map[string]int{"pending": e.Pending, "return_pending": e.ReturnPending}
}

type ShiftAlreadyLockedError struct {
	Shift mar.ShiftType
	Date  string
}

func (e *ShiftAlreadyLockedError) Error() string {
	return fmt.Sprintf("shift %s %s is already locked", e.Shift, e.Date)
}
func (e *ShiftAlreadyLockedError) Kind() apperr.Kind { return apperr.Precondition }
func (e *ShiftAlreadyLockedError) Code() string      { return "shift_already_locked" }

type ShiftNotLockedError struct {
	Shift mar.ShiftType
	Date  string
}

func (e *ShiftNotLockedError) Error() string {
	return fmt.Sprintf("shift %s %s is not locked", e.Shift, e.Date)
}
func (e *ShiftNotLockedError) Kind() apperr.Kind { return apperr.Precondition }
func (e *ShiftNotLockedError) Code() string      { return "shift_not_locked" }

type MissingReopenReasonError struct{}

func (e *MissingReopenReasonError) Error() string     { return "a reason is required to reopen a shift" }
func (e *MissingReopenReasonError) Kind() apperr.Kind { return apperr.Validation }
func (e *MissingReopenReasonError) Code() string      { return "missing_reopen_reason" }
