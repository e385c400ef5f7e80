package mar

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/wardmed/internal/domain/reason"
	"github.com/ehr/wardmed/internal/domain/stock"
	"github.com/ehr/wardmed/internal/platform/apperr"
	"github.com/ehr/wardmed/internal/platform/db"
)

// Ledger is the stock side of dispensing.
type Ledger interface {
	Available(ctx context.Context, drugCode string) (decimal.Decimal, error)
	Consume(ctx context.Context, drugCode string, qty decimal.Decimal, reference, actor string) (*stock.StockTransaction, error)
	ApplyTransaction(ctx context.Context, in stock.TransactionInput) (*stock.DrugStockEntry, error)
}

type Service struct {
	repo    Repository
	ledger  Ledger
	reasons *reason.Catalog
	locks   LockChecker
	tx      db.TxRunner
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, ledger Ledger, reasons *reason.Catalog, locks LockChecker, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		ledger:  ledger,
		reasons: reasons,
		locks:   locks,
		tx:      tx,
		log:     logger.With().Str("component", "mar").Logger(),
		now:     time.Now,
	}
}

// AdministerInput carries the bedside evidence. Verified is the outcome of
// the out-of-band identity check.
type AdministerInput struct {
	Verified      bool   `json:"verified"`
	DeliveryProof string `json:"delivery_proof"`
}

// mutate runs one state-machine step on a locked item: it checks the
// action is legal and the shift open, applies fn, writes the item back
// under its version and recomputes the visit.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, action Action, actor string, fn func(ctx context.Context, it *MARItem) error) (*MARItem, error) {
	if actor == "" {
		return nil, apperr.Validationf("actor is required")
	}
	var out *MARItem
	var from Status
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		it, err := s.repo.GetItemForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = it.Status
		if !CanTransition(action, it.Status) {
			return &InvalidTransitionError{ItemID: it.ID, Action: action, From: it.Status}
		}
		if it.OrderStopped && !AllowedAfterStop(action) {
			return &OrderStoppedError{ItemID: it.ID, OrderID: it.OrderID, Action: action}
		}
		if err := s.checkShiftOpen(ctx, it); err != nil {
			return err
		}
		if err := fn(ctx, it); err != nil {
			return err
		}
		if err := s.repo.UpdateItem(ctx, it); err != nil {
			return err
		}
		if err := s.recomputeVisit(ctx, it.VisitID); err != nil {
			return err
		}
		out = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("item_id", out.ID.String()).
		Str("action", string(action)).
		Str("from", string(from)).
		Str("to", string(out.Status)).
		Str("actor", actor).
		Msg("MAR item transitioned")
	return out, nil
}

func (s *Service) checkShiftOpen(ctx context.Context, it *MARItem) error {
	locked, err := s.locks.IsLocked(ctx, it.Shift, it.ShiftDate)
	if err != nil {
		return err
	}
	if locked {
		return &ShiftLockedError{Shift: it.Shift, Date: it.ShiftDate}
	}
	return nil
}

// dispense exports one dose from the ward cabinet, first-expiring lot first.
func (s *Service) dispense(ctx context.Context, it *MARItem, actor string) error {
	available, err := s.ledger.Available(ctx, it.DrugCode)
	if err != nil {
		return err
	}
	if !available.IsPositive() || available.LessThan(it.Dose) {
		return &OutOfStockError{DrugCode: it.DrugCode, Available: available, Requested: it.Dose}
	}
	t, err := s.ledger.Consume(ctx, it.DrugCode, it.Dose, it.Reference(), actor)
	var short *stock.InsufficientStockError
	if errors.As(err, &short) {
		return &OutOfStockError{DrugCode: it.DrugCode, Available: available, Requested: it.Dose}
	}
	if err != nil {
		return err
	}
	it.IsDispensed = true
	it.DispensedQty = it.Dose
	it.DispensedLot = t.Lot
	return nil
}

// Prepare pulls the dose from the cabinet to the bedside.
func (s *Service) Prepare(ctx context.Context, id uuid.UUID, actor string) (*MARItem, error) {
	return s.mutate(ctx, id, ActionPrepare, actor, func(ctx context.Context, it *MARItem) error {
		if err := s.dispense(ctx, it, actor); err != nil {
			return err
		}
		it.Status = StatusPrepared
		return nil
	})
}

// Administer records that the dose was given. A dose not yet prepared is
// dispensed here.
func (s *Service) Administer(ctx context.Context, id uuid.UUID, in AdministerInput, actor string) (*MARItem, error) {
	if !in.Verified {
		return nil, &NotVerifiedError{ItemID: id}
	}
	return s.mutate(ctx, id, ActionAdminister, actor, func(ctx context.Context, it *MARItem) error {
		if !it.IsDispensed {
			if err := s.dispense(ctx, it, actor); err != nil {
				return err
			}
		}
		now := s.now()
		it.Status = StatusAdministered
		it.DeliveryProof = in.DeliveryProof
		it.AdministeredBy = actor
		it.AdministeredAt = &now
		return nil
	})
}

// MarkException records a held, refused or missed dose.
func (s *Service) MarkException(ctx context.Context, id uuid.UUID, kind Status, reasonCode, note, actor string) (*MARItem, error) {
	action, ok := exceptionAction(kind)
	if !ok {
		return nil, apperr.Validationf("exception kind must be HELD, REFUSED or MISSED, got %q", kind)
	}
	reasonCode = strings.TrimSpace(reasonCode)
	if _, err := s.reasons.Require(reasonCode, reason.TypeException); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, action, actor, func(_ context.Context, it *MARItem) error {
		it.Status = exceptionOutcome(kind, it.IsDispensed)
		it.ReasonCode = reasonCode
		it.Note = note
		return nil
	})
}

// Reschedule makes an excepted dose due again. A dose still at the bedside
// goes back to PREPARED.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, actor string) (*MARItem, error) {
	return s.mutate(ctx, id, ActionReschedule, actor, func(_ context.Context, it *MARItem) error {
		it.Status = StatusScheduled
		if it.IsDispensed {
			it.Status = StatusPrepared
		}
		it.ReasonCode = ""
		return nil
	})
}

// ReturnToStock puts an unused dispensed dose back into the lot it came from.
func (s *Service) ReturnToStock(ctx context.Context, id uuid.UUID, qty decimal.Decimal, reasonCode, note, actor string) (*MARItem, error) {
	if !qty.IsPositive() {
		return nil, apperr.Validationf("return quantity must be positive")
	}
	reasonCode = strings.TrimSpace(reasonCode)
	if _, err := s.reasons.Require(reasonCode, reason.TypeReturn); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, ActionReturn, actor, func(ctx context.Context, it *MARItem) error {
		if !it.IsDispensed {
			return &InvalidTransitionError{ItemID: it.ID, Action: ActionReturn, From: it.Status}
		}
		if qty.GreaterThan(it.DispensedQty) {
			return apperr.Validationf("return quantity %s exceeds dispensed %s", qty, it.DispensedQty)
		}
		if _, err := s.ledger.ApplyTransaction(ctx, stock.TransactionInput{
			DrugCode:  it.DrugCode,
			Lot:       it.DispensedLot,
			Type:      stock.TxReturn,
			Delta:     qty,
			Reason:    reasonCode,
			Reference: it.Reference(),
			Actor:     actor,
		}); err != nil {
			return err
		}
		it.Status = StatusReturned
		it.ReturnedQty = qty
		it.ReturnReason = reasonCode
		if note != "" {
			it.Note = note
		}
		return nil
	})
}

// UndoAdministration reverses a recorded administration with a
// compensating IMPORT into the dispensed lot. The dose goes back to
// SCHEDULED, or to CANCELLED when its order has been stopped.
func (s *Service) UndoAdministration(ctx context.Context, id uuid.UUID, actor string) (*MARItem, error) {
	return s.mutate(ctx, id, ActionUndo, actor, func(ctx context.Context, it *MARItem) error {
		if it.IsDispensed && it.DispensedQty.IsPositive() {
			if _, err := s.ledger.ApplyTransaction(ctx, stock.TransactionInput{
				DrugCode:  it.DrugCode,
				Lot:       it.DispensedLot,
				Type:      stock.TxImport,
				Delta:     it.DispensedQty,
				Reason:    "undo administration",
				Reference: it.Reference(),
				Actor:     actor,
			}); err != nil {
				return err
			}
		}
		it.Status = StatusScheduled
		if it.OrderStopped {
			it.Status = StatusCancelled
		}
		it.clearDispensing()
		it.DeliveryProof = ""
		it.AdministeredBy = ""
		it.AdministeredAt = nil
		return nil
	})
}

// StopOrder closes out the order's outstanding doses. Undispensed doses are
// cancelled; dispensed ones wait for return. Every item of the order is
// flagged order_stopped, but the status of doses in locked shifts is left
// alone.
func (s *Service) StopOrder(ctx context.Context, patientID, orderID, actor string) (cancelled, returnPending int, err error) {
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		items, err := s.repo.ListByOrder(ctx, patientID, orderID)
		if err != nil {
			return err
		}
		visits := make(map[uuid.UUID]bool)
		for _, listed := range items {
			if listed.OrderStopped && !CanTransition(ActionCancel, listed.Status) {
				continue
			}
			it, err := s.repo.GetItemForUpdate(ctx, listed.ID)
			if err != nil {
				return err
			}
			cancel := CanTransition(ActionCancel, it.Status)
			if cancel {
				locked, err := s.locks.IsLocked(ctx, it.Shift, it.ShiftDate)
				if err != nil {
					return err
				}
				cancel = !locked
			}
			if it.OrderStopped && !cancel {
				continue
			}
			it.OrderStopped = true
			if cancel {
				it.Status = cancelOutcome(it)
				if it.Status == StatusReturnPending {
					returnPending++
				} else {
					cancelled++
				}
				visits[it.VisitID] = true
			}
			if err := s.repo.UpdateItem(ctx, it); err != nil {
				return err
			}
		}
		for id := range visits {
			if err := s.recomputeVisit(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if cancelled+returnPending > 0 {
		s.log.Info().
			Str("patient_id", patientID).
			Str("order_id", orderID).
			Int("cancelled", cancelled).
			Int("return_pending", returnPending).
			Str("actor", actor).
			Msg("order stopped")
	}
	return cancelled, returnPending, nil
}

// ScheduleItems inserts freshly generated doses as SCHEDULED.
func (s *Service) ScheduleItems(ctx context.Context, items []*MARItem) error {
	if len(items) == 0 {
		return nil
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		visits := make(map[uuid.UUID]bool)
		for _, it := range items {
			if it.ID == uuid.Nil {
				it.ID = uuid.New()
			}
			it.Status = StatusScheduled
			it.Version = 1
			it.clearDispensing()
			it.ReturnedQty = decimal.Zero
			visits[it.VisitID] = true
		}
		if err := s.repo.InsertItems(ctx, items); err != nil {
			return err
		}
		for id := range visits {
			if err := s.recomputeVisit(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// recomputeVisit derives the visit status under the visit row lock, so
// concurrent changes to sibling items are seen before the status is written.
func (s *Service) recomputeVisit(ctx context.Context, visitID uuid.UUID) error {
	v, err := s.repo.GetVisitForUpdate(ctx, visitID)
	if err != nil {
		return err
	}
	items, err := s.repo.ListByVisit(ctx, visitID)
	if err != nil {
		return err
	}
	status := DeriveVisitStatus(items)
	if status == v.Status {
		return nil
	}
	if err := s.repo.SetVisitStatus(ctx, visitID, status); err != nil {
		return err
	}
	s.log.Debug().Str("visit_id", visitID.String()).Str("status", string(status)).Msg("visit status recomputed")
	return nil
}

// -- Visits --

func (s *Service) Admit(ctx context.Context, v *MedVisit) error {
	v.PatientID = strings.TrimSpace(v.PatientID)
	if v.PatientID == "" || strings.TrimSpace(v.WardCode) == "" {
		return apperr.Validationf("patient_id and ward_code are required")
	}
	v.ID = uuid.New()
	v.Status = VisitNew
	v.DischargedAt = nil
	if v.AdmittedAt.IsZero() {
		v.AdmittedAt = s.now()
	}
	if err := s.repo.CreateVisit(ctx, v); err != nil {
		return err
	}
	s.log.Info().Str("visit_id", v.ID.String()).Str("patient_id", v.PatientID).Str("ward_code", v.WardCode).Msg("visit admitted")
	return nil
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*MedVisit, error) {
	return s.repo.GetVisit(ctx, id)
}

func (s *Service) ActiveVisit(ctx context.Context, patientID string) (*MedVisit, error) {
	return s.repo.ActiveVisit(ctx, patientID)
}

func (s *Service) Discharge(ctx context.Context, id uuid.UUID) (*MedVisit, error) {
	return s.repo.Discharge(ctx, id)
}

func (s *Service) ListVisits(ctx context.Context, wardCode string, limit, offset int) ([]*MedVisit, int, error) {
	return s.repo.ListVisits(ctx, wardCode, limit, offset)
}

// -- Read side --

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*MARItem, error) {
	return s.repo.GetItem(ctx, id)
}

func (s *Service) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*MARItem, error) {
	return s.repo.ListByVisit(ctx, visitID)
}

func (s *Service) ListByShift(ctx context.Context, shift ShiftType, date string) ([]*MARItem, error) {
	return s.repo.ListByShift(ctx, shift, date)
}

func (s *Service) ListByOrder(ctx context.Context, patientID, orderID string) ([]*MARItem, error) {
	return s.repo.ListByOrder(ctx, patientID, orderID)
}

func (s *Service) CountByShift(ctx context.Context, shift ShiftType, date string) ([]StatusCount, error) {
	return s.repo.CountByShift(ctx, shift, date)
}

// ShiftCounts is a visit's dose tally for one shift.
type ShiftCounts struct {
	ShiftDate     string    `json:"shift_date"`
	Shift         ShiftType `json:"shift"`
	Used          int       `json:"used"`
	Pending       int       `json:"pending"`
	ReturnPending int       `json:"return_pending"`
	Returned      int       `json:"returned"`
	Exceptions    int       `json:"exceptions"`
	Cancelled     int       `json:"cancelled"`
}

type VisitSummary struct {
	Visit  *MedVisit     `json:"visit"`
	Shifts []ShiftCounts `json:"shifts"`
}

func shiftOrder(t ShiftType) int {
	for i, s := range ShiftTypes {
		if s == t {
			return i
		}
	}
	return len(ShiftTypes)
}

// VisitSummary tallies the visit's doses per shift.
func (s *Service) VisitSummary(ctx context.Context, visitID uuid.UUID) (*VisitSummary, error) {
	v, err := s.repo.GetVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListByVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}

	type key struct {
		date  string
		shift ShiftType
	}
	byShift := make(map[key]*ShiftCounts)
	for _, it := range items {
		k := key{it.ShiftDate, it.Shift}
		c, ok := byShift[k]
		if !ok {
			c = &ShiftCounts{ShiftDate: it.ShiftDate, Shift: it.Shift}
			byShift[k] = c
		}
		switch it.Status {
		case StatusAdministered:
			c.Used++
		case StatusScheduled, StatusPrepared:
			c.Pending++
		case StatusReturnPending:
			c.ReturnPending++
		case StatusReturned:
			c.Returned++
		case StatusMissed:
			if it.IsDispensed {
				c.ReturnPending++
			} else {
				c.Exceptions++
			}
		case StatusHeld, StatusRefused:
			c.Exceptions++
		case StatusCancelled:
			c.Cancelled++
		}
	}

	out := &VisitSummary{Visit: v, Shifts: make([]ShiftCounts, 0, len(byShift))}
	for _, c := range byShift {
		out.Shifts = append(out.Shifts, *c)
	}
	sort.Slice(out.Shifts, func(i, j int) bool {
		a, b := out.Shifts[i], out.Shifts[j]
		if a.ShiftDate != b.ShiftDate {
			return a.ShiftDate < b.ShiftDate
		}
		return shiftOrder(a.Shift) < shiftOrder(b.Shift)
	})
	return out, nil
}
