package rx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/wardmed/internal/domain/mar"
	"github.com/ehr/wardmed/internal/domain/reason"
	"github.com/ehr/wardmed/internal/platform/apperr"
	"github.com/ehr/wardmed/internal/platform/db"
)

// MAR is the slice of the MAR state machine reconciliation drives.
type MAR interface {
	ActiveVisit(ctx context.Context, patientID string) (*mar.MedVisit, error)
	ListByOrder(ctx context.Context, patientID, orderID string) ([]*mar.MARItem, error)
	StopOrder(ctx context.Context, patientID, orderID, actor string) (cancelled, returnPending int, err error)
	ScheduleItems(ctx context.Context, items []*mar.MARItem) error
}

type Service struct {
	repo     Repository
	source   OrderSource
	versions VersionStore
	mar      MAR
	locks    mar.LockChecker
	reasons  *reason.Catalog
	tx       db.TxRunner
	loc      *time.Location
	horizon  time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

type Options struct {
	Location *time.Location
	Horizon  time.Duration
}

func NewService(repo Repository, source OrderSource, versions VersionStore, m MAR, locks mar.LockChecker,
	reasons *reason.Catalog, tx db.TxRunner, opts Options, logger zerolog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 24 * time.Hour
	}
	return &Service{
		repo:     repo,
		source:   source,
		versions: versions,
		mar:      m,
		locks:    locks,
		reasons:  reasons,
		tx:       tx,
		loc:      opts.Location,
		horizon:  opts.Horizon,
		log:      logger.With().Str("component", "rx").Logger(),
		now:      time.Now,
	}
}

// ReceiveVersion stores a version pushed by the order system.
func (s *Service) ReceiveVersion(ctx context.Context, v *OrderVersion) error {
	v.PatientID = strings.TrimSpace(v.PatientID)
	v.VersionID = strings.TrimSpace(v.VersionID)
	if v.PatientID == "" || v.VersionID == "" {
		return apperr.Validationf("patient_id and version_id are required")
	}
	seen := make(map[string]bool, len(v.Lines))
	for _, l := range v.Lines {
		if strings.TrimSpace(l.OrderID) == "" {
			return apperr.Validationf("every line needs an order_id")
		}
		if seen[l.OrderID] {
			return apperr.Validationf("order %s appears twice in version %s", l.OrderID, v.VersionID)
		}
		seen[l.OrderID] = true
	}
	if v.IssuedAt.IsZero() {
		v.IssuedAt = s.now()
	}
	if v.Lines == nil {
		v.Lines = []RxLine{}
	}
	if v.Alerts == nil {
		v.Alerts = []Alert{}
	}
	if err := s.versions.SaveVersion(ctx, v); err != nil {
		return err
	}
	s.log.Info().Str("patient_id", v.PatientID).Str("version_id", v.VersionID).Int("lines", len(v.Lines)).Msg("rx version received")
	return nil
}

// Diff compares the latest upstream version with the applied one and
// stores the result as the patient's pending inbox item.
func (s *Service) Diff(ctx context.Context, patientID string) (*InboxItem, error) {
	ext, err := s.source.LatestVersion(ctx, patientID)
	if err != nil {
		return nil, err
	}
	applied, err := s.repo.GetApplied(ctx, patientID)
	if err != nil {
		return nil, err
	}

	var prev []RxLine
	item := &InboxItem{
		PatientID:         patientID,
		ExternalVersionID: ext.VersionID,
		ExternalIssuedAt:  ext.IssuedAt,
		Status:            InboxPending,
		Alerts:            s.labelAlerts(ext.Alerts),
		Lines:             ext.Lines,
		Details:           []ChangeDetail{},
	}
	if applied != nil {
		if applied.VersionID == ext.VersionID {
			return nil, &NoPendingChangeError{PatientID: patientID, VersionID: ext.VersionID}
		}
		prev = applied.Lines
		item.AppliedVersionID = applied.VersionID
	}
	if item.Lines == nil {
		item.Lines = []RxLine{}
	}

	for _, d := range DiffLines(prev, ext.Lines) {
		if d.Change == ChangeNoChange {
			continue
		}
		if d.Change == ChangeAdd || d.Change == ChangeUpdate {
			d.ValidationErrors = ValidateLine(*d.New)
		}
		if d.Change == ChangeStop || d.Change == ChangeUpdate {
			outstanding, err := s.mar.ListByOrder(ctx, patientID, d.OrderID)
			if err != nil {
				return nil, err
			}
			d.Conflicts = conflicts(outstanding)
		}
		item.Details = append(item.Details, d)
	}

	if err := s.repo.UpsertInbox(ctx, item); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("patient_id", patientID).
		Str("external_version_id", ext.VersionID).
		Str("applied_version_id", item.AppliedVersionID).
		Int("changes", len(item.Details)).
		Int("conflicting_orders", len(item.ConflictingOrders())).
		Msg("rx diff computed")
	return item, nil
}

func (s *Service) labelAlerts(alerts []Alert) []Alert {
	out := make([]Alert, len(alerts))
	for i, a := range alerts {
		out[i] = a
		if r, ok := s.reasons.Lookup(a.Code); ok && r.Type == reason.TypeAlert && a.Label == "" {
			out[i].Label = r.Label
		}
	}
	return out
}

// Apply accepts the patient's pending diff. Schedules are planned first;
// if any line cannot be scheduled nothing is written. Otherwise stopped
// and updated orders are closed out, new doses inserted and the applied
// pointer advanced in one transaction.
func (s *Service) Apply(ctx context.Context, patientID string, ack Acknowledgement, actor string) (*ApplyResult, error) {
	if strings.TrimSpace(ack.ExternalVersionID) == "" {
		return nil, apperr.Validationf("external_version_id is required")
	}
	if actor == "" {
		return nil, apperr.Validationf("actor is required")
	}

	var res *ApplyResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		applied, err := s.repo.GetAppliedForUpdate(ctx, patientID)
		if err != nil {
			return err
		}
		appliedID := ""
		if applied != nil {
			appliedID = applied.VersionID
		}
		if appliedID == ack.ExternalVersionID {
			return &AlreadyAppliedError{PatientID: patientID, VersionID: appliedID}
		}

		item, err := s.repo.GetInboxForUpdate(ctx, patientID)
		if err != nil {
			return err
		}
		if item.Status != InboxPending {
			return apperr.New(apperr.Precondition, "inbox_not_pending",
				fmt.Sprintf("rx change for patient %s is %s", patientID, item.Status))
		}
		if item.ExternalVersionID != ack.ExternalVersionID {
			return &StaleDiffError{Acknowledged: ack.ExternalVersionID, Current: item.ExternalVersionID}
		}
		if item.AppliedVersionID != appliedID {
			return &StaleDiffError{Acknowledged: item.AppliedVersionID, Current: appliedID}
		}
		if !ack.AcknowledgeConflicts {
			orders, err := s.conflictingOrders(ctx, patientID, item)
			if err != nil {
				return err
			}
			if len(orders) > 0 {
				return &UnacknowledgedConflictsError{OrderIDs: orders}
			}
		}

		planned, err := s.plan(ctx, patientID, item)
		if err != nil {
			return err
		}

		res = &ApplyResult{PatientID: patientID, VersionID: item.ExternalVersionID, Scheduled: len(planned)}
		for _, d := range item.Details {
			switch d.Change {
			case ChangeAdd:
				res.Added++
				continue
			case ChangeUpdate:
				res.Updated++
			case ChangeStop:
				res.Stopped++
			default:
				continue
			}
			cancelled, returnPending, err := s.mar.StopOrder(ctx, patientID, d.OrderID, actor)
			if err != nil {
				return err
			}
			res.Cancelled += cancelled
			res.ReturnPending += returnPending
		}
		if err := s.mar.ScheduleItems(ctx, planned); err != nil {
			return err
		}
		if err := s.repo.SaveApplied(ctx, &AppliedVersion{
			PatientID: patientID,
			VersionID: item.ExternalVersionID,
			Lines:     item.Lines,
			AppliedAt: s.now(),
			AppliedBy: actor,
		}); err != nil {
			return err
		}
		return s.repo.DeleteInbox(ctx, patientID)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("patient_id", patientID).
		Str("version_id", res.VersionID).
		Str("status", string(InboxApplied)).
		Int("scheduled", res.Scheduled).
		Int("cancelled", res.Cancelled).
		Int("return_pending", res.ReturnPending).
		Str("actor", actor).
		Msg("rx change applied")
	return res, nil
}

// conflictingOrders lists the orders whose change needs acknowledging: those
// flagged when the diff was taken, plus any STOP or UPDATE order that has
// gained outstanding doses since.
func (s *Service) conflictingOrders(ctx context.Context, patientID string, item *InboxItem) ([]string, error) {
	var orders []string
	for _, d := range item.Details {
		if len(d.Conflicts) > 0 {
			orders = append(orders, d.OrderID)
			continue
		}
		if d.Change != ChangeStop && d.Change != ChangeUpdate {
			continue
		}
		items, err := s.mar.ListByOrder(ctx, patientID, d.OrderID)
		if err != nil {
			return nil, err
		}
		if len(conflicts(items)) > 0 {
			orders = append(orders, d.OrderID)
		}
	}
	return orders, nil
}

// plan generates the doses for every ADD and UPDATE line without writing.
func (s *Service) plan(ctx context.Context, patientID string, item *InboxItem) ([]*mar.MARItem, error) {
	var lines []RxLine
	for _, d := range item.Details {
		if d.Change == ChangeAdd || d.Change == ChangeUpdate {
			lines = append(lines, *d.New)
		}
	}
	if len(lines) == 0 {
		return nil, nil
	}

	visit, err := s.mar.ActiveVisit(ctx, patientID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil, &ScheduleGenerationError{Failures: []string{err.Error()}}
		}
		return nil, err
	}

	var planned []*mar.MARItem
	var failures []string
	for _, l := range lines {
		if errs := ValidateLine(l); len(errs) > 0 {
			failures = append(failures, fmt.Sprintf("%s: %s", l.OrderID, strings.Join(errs, ", ")))
			continue
		}
		items, err := s.generate(ctx, visit, l)
		if err != nil {
			return nil, err
		}
		planned = append(planned, items...)
	}
	if len(failures) > 0 {
		return nil, &ScheduleGenerationError{Failures: failures}
	}
	return planned, nil
}

// generate lays a line's doses on the canonical slots in
// [now, now+horizon), skipping locked shifts.
func (s *Service) generate(ctx context.Context, visit *mar.MedVisit, l RxLine) ([]*mar.MARItem, error) {
	shifts, err := lineShifts(l)
	if err != nil {
		return nil, &ScheduleGenerationError{Failures: []string{fmt.Sprintf("%s: %v", l.OrderID, err)}}
	}
	now := s.now()
	end := now.Add(s.horizon)
	_, first := mar.Bucket(now, s.loc)
	day, err := time.ParseInLocation(mar.DateLayout, first, s.loc)
	if err != nil {
		return nil, err
	}

	var out []*mar.MARItem
	for ; day.Before(end); day = day.AddDate(0, 0, 1) {
		date := day.Format(mar.DateLayout)
		for _, shift := range shifts {
			at, err := mar.SlotTime(shift, date, s.loc)
			if err != nil {
				return nil, err
			}
			if at.Before(now) || !at.Before(end) {
				continue
			}
			locked, err := s.locks.IsLocked(ctx, shift, date)
			if err != nil {
				return nil, err
			}
			if locked {
				continue
			}
			out = append(out, &mar.MARItem{
				ID:          uuid.New(),
				VisitID:     visit.ID,
				PatientID:   visit.PatientID,
				OrderID:     l.OrderID,
				DrugCode:    l.DrugCode,
				DrugName:    l.DrugName,
				Dose:        l.Dose,
				DoseUnit:    l.DoseUnit,
				Route:       l.Route,
				ScheduledAt: at,
				Shift:       shift,
				ShiftDate:   date,
			})
		}
	}
	return out, nil
}

// Reject discards the patient's pending diff.
func (s *Service) Reject(ctx context.Context, patientID, why, actor string) error {
	why = strings.TrimSpace(why)
	if why == "" {
		return apperr.Validationf("a reason is required to reject an rx change")
	}
	var versionID string
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		item, err := s.repo.GetInboxForUpdate(ctx, patientID)
		if err != nil {
			return err
		}
		versionID = item.ExternalVersionID
		return s.repo.DeleteInbox(ctx, patientID)
	})
	if err != nil {
		return err
	}
	s.log.Info().
		Str("patient_id", patientID).
		Str("version_id", versionID).
		Str("status", string(InboxRejected)).
		Str("reason", why).
		Str("actor", actor).
		Msg("rx change rejected")
	return nil
}

func (s *Service) Inbox(ctx context.Context, limit, offset int) ([]*InboxItem, int, error) {
	return s.repo.ListInbox(ctx, limit, offset)
}

func (s *Service) Applied(ctx context.Context, patientID string) (*AppliedVersion, error) {
	v, err := s.repo.GetApplied(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apperr.NotFoundf("no applied prescription for patient %s", patientID)
	}
	return v, nil
}
