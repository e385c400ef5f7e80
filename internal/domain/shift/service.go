package shift

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/wardmed/internal/domain/mar"
	"github.com/ehr/wardmed/internal/platform/apperr"
	"github.com/ehr/wardmed/internal/platform/db"
)

type Service struct {
	repo  Repository
	items Counter
	tx    db.TxRunner
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(repo Repository, items Counter, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		items: items,
		tx:    tx,
		log:   logger.With().Str("component", "shift").Logger(),
		now:   time.Now,
	}
}

func (s *Service) summary(ctx context.Context, l *ShiftLock) (*Summary, error) {
	counts, err := s.items.CountByShift(ctx, l.Shift, l.Date)
	if err != nil {
		return nil, err
	}
	sum := summarize(l.Shift, l.Date, counts)
	sum.Status = l.Status
	sum.LockedBy = l.LockedBy
	sum.LockedAt = l.LockedAt
	return sum, nil
}

// GetSummary tallies the shift's doses. It has no side effects.
func (s *Service) GetSummary(ctx context.Context, shift mar.ShiftType, date string) (*Summary, error) {
	l, err := s.repo.Get(ctx, shift, date)
	if err != nil {
		return nil, err
	}
	return s.summary(ctx, l)
}

// Close locks the shift once every dose is resolved. The recount and the
// lock happen under the shift row lock, so a concurrent MAR mutation either
// finishes first and is counted or fails with a locked shift.
func (s *Service) Close(ctx context.Context, shift mar.ShiftType, date, actor string) (*Summary, error) {
	if actor == "" {
		return nil, apperr.Validationf("actor is required")
	}
	var out *Summary
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		l, err := s.repo.GetForUpdate(ctx, shift, date)
		if err != nil {
			return err
		}
		if l.Status == Locked {
			return &ShiftAlreadyLockedError{Shift: shift, Date: date}
		}
		sum, err := s.summary(ctx, l)
		if err != nil {
			return err
		}
		if !sum.Ready() {
			return &ShiftNotReadyError{Shift: shift, Date: date, Pending: sum.Pending, ReturnPending: sum.ReturnPending}
		}

		now := s.now()
		l.Status = Locked
		l.LockedBy = actor
		l.LockedAt = &now
		if err := s.repo.Save(ctx, l); err != nil {
			return err
		}
		if err := s.repo.AppendAudit(ctx, &AuditEntry{
			ID: uuid.New(), Shift: shift, Date: date, Action: AuditClose, Actor: actor,
		}); err != nil {
			return err
		}
		sum.Status = l.Status
		sum.LockedBy = l.LockedBy
		sum.LockedAt = l.LockedAt
		out = sum
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("shift", string(shift)).
		Str("shift_date", date).
		Int("completed", out.Completed).
		Str("actor", actor).
		Msg("shift closed")
	return out, nil
}

// Reopen unlocks a closed shift. It is a supervisory override and always
// leaves an audit entry.
func (s *Service) Reopen(ctx context.Context, shift mar.ShiftType, date, reason, actor string) (*Summary, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &MissingReopenReasonError{}
	}
	if actor == "" {
		return nil, apperr.Validationf("actor is required")
	}
	var out *Summary
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		l, err := s.repo.GetForUpdate(ctx, shift, date)
		if err != nil {
			return err
		}
		if l.Status != Locked {
			return &ShiftNotLockedError{Shift: shift, Date: date}
		}
		l.Status = Open
		l.LockedBy = ""
		l.LockedAt = nil
		if err := s.repo.Save(ctx, l); err != nil {
			return err
		}
		if err := s.repo.AppendAudit(ctx, &AuditEntry{
			ID: uuid.New(), Shift: shift, Date: date, Action: AuditReopen, Reason: reason, Actor: actor,
		}); err != nil {
			return err
		}
		out, err = s.summary(ctx, l)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Warn().
		Str("shift", string(shift)).
		Str("shift_date", date).
		Str("reason", reason).
		Str("actor", actor).
		Msg("shift reopened")
	return out, nil
}

// IsLocked reads the shift under a shared lock; inside a transaction it
// holds off a concurrent Close until that transaction ends.
func (s *Service) IsLocked(ctx context.Context, shift mar.ShiftType, date string) (bool, error) {
	l, err := s.repo.GetForShare(ctx, shift, date)
	if err != nil {
		return false, err
	}
	return l.Status == Locked, nil
}

func (s *Service) Audit(ctx context.Context, shift mar.ShiftType, date string) ([]*AuditEntry, error) {
	return s.repo.ListAudit(ctx, shift, date)
}
