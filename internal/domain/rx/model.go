package rx

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/wardmed/internal/domain/mar"
	"github.com/ehr/wardmed/internal/platform/apperr"
)

// RxLine is one drug order inside a prescription version.
type RxLine struct {
	OrderID   string          `json:"order_id"`
	DrugCode  string          `json:"drug_code"`
	DrugName  string          `json:"drug_name"`
	Dose      decimal.Decimal `json:"dose"`
	DoseUnit  string          `json:"dose_unit"`
	Route     string          `json:"route"`
	Frequency int             `json:"frequency"`
	Shifts    []mar.ShiftType `json:"shifts,omitempty"`
}

// Alert is an opaque prescriber-side warning carried with a version.
type Alert struct {
	Code  string `json:"code"`
	Label string `json:"label,omitempty"`
	Text  string `json:"text,omitempty"`
}

// OrderVersion is one externally issued prescription version.
type OrderVersion struct {
	PatientID string    `json:"patient_id"`
	VersionID string    `json:"version_id"`
	IssuedAt  time.Time `json:"issued_at"`
	Lines     []RxLine  `json:"lines"`
	Alerts    []Alert   `json:"alerts,omitempty"`
}

// AppliedVersion is the last version applied to the MAR for a patient.
type AppliedVersion struct {
	PatientID string    `json:"patient_id"`
	VersionID string    `json:"version_id"`
	Lines     []RxLine  `json:"lines"`
	AppliedAt time.Time `json:"applied_at"`
	AppliedBy string    `json:"applied_by"`
}

type ChangeKind string

const (
	ChangeAdd      ChangeKind = "ADD"
	ChangeUpdate   ChangeKind = "UPDATE"
	ChangeStop     ChangeKind = "STOP"
	ChangeNoChange ChangeKind = "NO_CHANGE"
)

type ChangeDetail struct {
	OrderID          string     `json:"order_id"`
	DrugCode         string     `json:"drug_code"`
	DrugName         string     `json:"drug_name"`
	Change           ChangeKind `json:"change"`
	Old              *RxLine    `json:"old,omitempty"`
	New              *RxLine    `json:"new,omitempty"`
	ChangedFields    []string   `json:"changed_fields,omitempty"`
	ValidationErrors []string   `json:"validation_errors,omitempty"`
	Conflicts        []string   `json:"conflicts,omitempty"`
}

type InboxStatus string

const (
	InboxPending  InboxStatus = "PENDING"
	InboxApplied  InboxStatus = "APPLIED"
	InboxRejected InboxStatus = "REJECTED"
)

// InboxItem is a computed diff waiting for a clinician. There is at most
// one per patient.
type InboxItem struct {
	PatientID         string         `json:"patient_id"`
	ExternalVersionID string         `json:"external_version_id"`
	ExternalIssuedAt  time.Time      `json:"external_issued_at"`
	AppliedVersionID  string         `json:"applied_version_id,omitempty"`
	Status            InboxStatus    `json:"status"`
	Details           []ChangeDetail `json:"details"`
	Alerts            []Alert        `json:"alerts,omitempty"`
	Lines             []RxLine       `json:"-"`
	CreatedAt         time.Time      `json:"created_at"`
}

// ConflictingOrders lists the orders whose diff lines carry conflicts.
func (i *InboxItem) ConflictingOrders() []string {
	var out []string
	for _, d := range i.Details {
		if len(d.Conflicts) > 0 {
			out = append(out, d.OrderID)
		}
	}
	return out
}

// Acknowledgement is the clinician's acceptance of a diff.
type Acknowledgement struct {
	ExternalVersionID    string `json:"external_version_id"`
	AcknowledgeConflicts bool   `json:"acknowledge_conflicts"`
}

type ApplyResult struct {
	PatientID     string `json:"patient_id"`
	VersionID     string `json:"version_id"`
	Added         int    `json:"added"`
	Updated       int    `json:"updated"`
	Stopped       int    `json:"stopped"`
	Scheduled     int    `json:"scheduled"`
	Cancelled     int    `json:"cancelled"`
	ReturnPending int    `json:"return_pending"`
}

// -- Errors --

type NoPendingChangeError struct {
	PatientID string
	VersionID string
}

func (e *NoPendingChangeError) Error() string {
	return fmt.Sprintf("version %s is already applied for patient %s", e.VersionID, e.PatientID)
}
func (e *NoPendingChangeError) Kind() apperr.Kind { return apperr.Precondition }
func (e *NoPendingChangeError) Code() string      { return "no_pending_change" }

// StaleDiffError means the inbox moved on since the clinician reviewed it.
type StaleDiffError struct {
	Acknowledged string
	Current      string
}

func (e *StaleDiffError) Error() string {
	return fmt.Sprintf("acknowledged version %s but the pending diff is for %s", e.Acknowledged, e.Current)
}
func (e *StaleDiffError) Kind() apperr.Kind { return apperr.Precondition }
func (e *StaleDiffError) Code() string      { return "stale_diff" }

type UnacknowledgedConflictsError struct {
	OrderIDs []string
}

func (e *UnacknowledgedConflictsError) Error() string {
	return fmt.Sprintf("conflicts on orders %s must be acknowledged", strings.Join(e.OrderIDs, ", "))
}
func (e *UnacknowledgedConflictsError) Kind() apperr.Kind { return apperr.Precondition }
func (e *UnacknowledgedConflictsError) Code() string      { return "unacknowledged_conflicts" }
func (e *UnacknowledgedConflictsError) Details() interface{} {
	return map[string]interface{}{"order_ids": e.OrderIDs}
}

type AlreadyAppliedError struct {
	PatientID string
	VersionID string
}

func (e *AlreadyAppliedError) Error() string {
	return fmt.Sprintf("version %s was already applied for patient %s", e.VersionID, e.PatientID)
}
func (e *AlreadyAppliedError) Kind() apperr.Kind { return apperr.Precondition }
func (e *AlreadyAppliedError) Code() string      { return "already_applied" }

// ScheduleGenerationError aborts an apply before anything is written.
type ScheduleGenerationError struct {
	Failures []string
}

func (e *ScheduleGenerationError) Error() string {
	return "schedule generation failed: " + strings.Join(e.Failures, "; ")
}
func (e *ScheduleGenerationError) Kind() apperr.Kind { return apperr.Validation }
func (e *ScheduleGenerationError) Code() string      { return "schedule_generation_failed" }
func (e *ScheduleGenerationError) Details() interface{} {
	return map[string]interface{}{"failures": e.Failures}
}
