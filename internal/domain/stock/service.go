package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/wardmed/internal/platform/apperr"
	"github.com/ehr/wardmed/internal/platform/db"
)

type Service struct {
	repo Repository
	tx   db.TxRunner
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		tx:   tx,
		log:  logger.With().Str("component", "stock").Logger(),
		now:  time.Now,
	}
}

// ApplyTransaction appends one ledger line and moves the (drug, lot)
// projection by its delta. Nothing is written when the result would be
// negative.
func (s *Service) ApplyTransaction(ctx context.Context, in TransactionInput) (*DrugStockEntry, error) {
	var out *DrugStockEntry
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		e, _, err := s.apply(ctx, in)
		out = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) apply(ctx context.Context, in TransactionInput) (*DrugStockEntry, *StockTransaction, error) {
	in.DrugCode = strings.TrimSpace(in.DrugCode)
	in.Lot = strings.TrimSpace(in.Lot)
	in.Reason = strings.TrimSpace(in.Reason)
	if in.DrugCode == "" || in.Lot == "" {
		return nil, nil, apperr.Validationf("drug_code and lot are required")
	}
	if in.Actor == "" {
		return nil, nil, apperr.Validationf("actor is required")
	}
	if err := checkSign(in.Type, in.Delta, in.Reason); err != nil {
		return nil, nil, err
	}

	entry, err := s.repo.GetEntryForUpdate(ctx, in.DrugCode, in.Lot)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		if in.Delta.IsNegative() {
			return nil, nil, &InsufficientStockError{
				DrugCode: in.DrugCode, Lot: in.Lot,
				Available: decimal.Zero, Requested: in.Delta.Neg(),
			}
		}
		entry, err = s.repo.CreateEntry(ctx, &DrugStockEntry{
			DrugCode:     in.DrugCode,
			Lot:          in.Lot,
			Unit:         in.Unit,
			MinThreshold: decimal.Zero,
			Expiry:       in.Expiry,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	next := entry.Quantity.Add(in.Delta)
	if next.IsNegative() {
		return nil, nil, &InsufficientStockError{
			DrugCode: in.DrugCode, Lot: in.Lot,
			Available: entry.Quantity, Requested: in.Delta.Neg(),
		}
	}

	t := &StockTransaction{
		ID:            uuid.New(),
		DrugCode:      in.DrugCode,
		Lot:           in.Lot,
		Type:          in.Type,
		Delta:         in.Delta,
		QuantityAfter: next,
		Reason:        in.Reason,
		Reference:     in.Reference,
		Actor:         in.Actor,
	}
	if err := s.repo.AppendTransaction(ctx, t); err != nil {
		return nil, nil, err
	}

	ok, err := s.repo.UpdateQuantity(ctx, in.DrugCode, in.Lot, entry.Quantity, next)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		ierr := &IntegrityError{
			DrugCode: in.DrugCode, Lot: in.Lot,
			Detail: fmt.Sprintf("projection moved away from %s while locked", entry.Quantity),
		}
		s.log.Error().Err(ierr).Str("transaction_id", t.ID.String()).Msg("stock compare-and-set failed")
		return nil, nil, ierr
	}

	entry.Quantity = next
	entry.UpdatedAt = s.now()

	s.log.Info().
		Str("transaction_id", t.ID.String()).
		Str("drug_code", t.DrugCode).
		Str("lot", t.Lot).
		Str("type", string(t.Type)).
		Str("delta", t.Delta.String()).
		Str("quantity_after", next.String()).
		Str("reference", t.Reference).
		Str("actor", t.Actor).
		Msg("stock transaction applied")

	return entry, t, nil
}

func (s *Service) Import(ctx context.Context, drugCode, lot string, qty decimal.Decimal, reference, actor string) (*DrugStockEntry, error) {
	return s.ApplyTransaction(ctx, TransactionInput{
		DrugCode: drugCode, Lot: lot, Type: TxImport, Delta: qty, Reference: reference, Actor: actor,
	})
}

func (s *Service) Export(ctx context.Context, drugCode, lot string, qty decimal.Decimal, reference, actor string) (*DrugStockEntry, error) {
	return s.ApplyTransaction(ctx, TransactionInput{
		DrugCode: drugCode, Lot: lot, Type: TxExport, Delta: qty.Neg(), Reference: reference, Actor: actor,
	})
}

func (s *Service) Return(ctx context.Context, drugCode, lot string, qty decimal.Decimal, reason, reference, actor string) (*DrugStockEntry, error) {
	return s.ApplyTransaction(ctx, TransactionInput{
		DrugCode: drugCode, Lot: lot, Type: TxReturn, Delta: qty, Reason: reason, Reference: reference, Actor: actor,
	})
}

// Adjust applies a signed correction; reason is mandatory.
func (s *Service) Adjust(ctx context.Context, drugCode, lot string, delta decimal.Decimal, reason, actor string) (*DrugStockEntry, error) {
	return s.ApplyTransaction(ctx, TransactionInput{
		DrugCode: drugCode, Lot: lot, Type: TxAdjust, Delta: delta, Reason: reason, Actor: actor,
	})
}

func (s *Service) Broken(ctx context.Context, drugCode, lot string, qty decimal.Decimal, reason, actor string) (*DrugStockEntry, error) {
	return s.ApplyTransaction(ctx, TransactionInput{
		DrugCode: drugCode, Lot: lot, Type: TxBroken, Delta: qty.Neg(), Reason: reason, Actor: actor,
	})
}

// Consume exports qty of a drug from the first-expiring unexpired lot that
// holds enough of it.
func (s *Service) Consume(ctx context.Context, drugCode string, qty decimal.Decimal, reference, actor string) (*StockTransaction, error) {
	if !qty.IsPositive() {
		return nil, &InvalidDeltaError{Type: TxExport, Delta: qty, Want: "positive"}
	}

	var out *StockTransaction
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		entries, err := s.repo.ListEntries(ctx, drugCode)
		if err != nil {
			return err
		}
		now := s.now()
		available := decimal.Zero
		for _, e := range entries {
			if e.Expiry != nil && e.Expiry.Before(now) {
				continue
			}
			available = available.Add(e.Quantity)
			if e.Quantity.LessThan(qty) {
				continue
			}
			_, t, err := s.apply(ctx, TransactionInput{
				DrugCode: drugCode, Lot: e.Lot, Type: TxExport,
				Delta: qty.Neg(), Reference: reference, Actor: actor,
			})
			var short *InsufficientStockError
			if errors.As(err, &short) {
				// The listing was read unlocked; the lot drained meanwhile.
				continue
			}
			if err != nil {
				return err
			}
			out = t
			return nil
		}
		return &InsufficientStockError{DrugCode: drugCode, Available: available, Requested: qty}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Available sums the drug's unexpired lots.
func (s *Service) Available(ctx context.Context, drugCode string) (decimal.Decimal, error) {
	entries, err := s.repo.ListEntries(ctx, drugCode)
	if err != nil {
		return decimal.Zero, err
	}
	now := s.now()
	total := decimal.Zero
	for _, e := range entries {
		if e.Expiry != nil && e.Expiry.Before(now) {
			continue
		}
		total = total.Add(e.Quantity)
	}
	return total, nil
}

func (s *Service) ListEntries(ctx context.Context, drugCode string) ([]*DrugStockEntry, error) {
	return s.repo.ListEntries(ctx, drugCode)
}

func (s *Service) LowStock(ctx context.Context) ([]*DrugStockEntry, error) {
	return s.repo.LowStock(ctx)
}

func (s *Service) SetThreshold(ctx context.Context, drugCode, lot string, threshold decimal.Decimal) (*DrugStockEntry, error) {
	if threshold.IsNegative() {
		return nil, apperr.Validationf("min_threshold must not be negative")
	}
	return s.repo.SetThreshold(ctx, drugCode, lot, threshold)
}

// GetHistory lists a drug's transactions, most recent first.
func (s *Service) GetHistory(ctx context.Context, drugCode string, limit, offset int) ([]*StockTransaction, int, error) {
	return s.repo.History(ctx, drugCode, limit, offset)
}

// Verify replays the lot's ledger and compares it with the projection.
func (s *Service) Verify(ctx context.Context, drugCode, lot string) error {
	var entry *DrugStockEntry
	var txs []*StockTransaction
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if entry, err = s.repo.GetEntryForUpdate(ctx, drugCode, lot); err != nil {
			return err
		}
		txs, err = s.repo.Transactions(ctx, drugCode, lot)
		return err
	})
	if err != nil {
		return err
	}
	if entry == nil {
		if len(txs) > 0 {
			return s.integrity(&IntegrityError{DrugCode: drugCode, Lot: lot, Detail: "transactions without a stock entry"})
		}
		return apperr.NotFoundf("stock entry %s/%s not found", drugCode, lot)
	}

	fold := decimal.Zero
	for _, t := range txs {
		fold = fold.Add(t.Delta)
		if fold.IsNegative() {
			return s.integrity(&IntegrityError{
				DrugCode: drugCode, Lot: lot,
				Detail: fmt.Sprintf("ledger goes negative at seq %d", t.Seq),
			})
		}
		if !fold.Equal(t.QuantityAfter) {
			return s.integrity(&IntegrityError{
				DrugCode: drugCode, Lot: lot,
				Detail: fmt.Sprintf("seq %d records quantity_after %s, replay gives %s", t.Seq, t.QuantityAfter, fold),
			})
		}
	}
	if !fold.Equal(entry.Quantity) {
		return s.integrity(&IntegrityError{DrugCode: drugCode, Lot: lot, Projection: entry.Quantity, Fold: fold})
	}
	return nil
}

// VerifyAll checks every lot (of drugCode, or all drugs when empty) and
// returns the violations found.
func (s *Service) VerifyAll(ctx context.Context, drugCode string) (int, []*IntegrityError, error) {
	entries, err := s.repo.ListEntries(ctx, drugCode)
	if err != nil {
		return 0, nil, err
	}
	var violations []*IntegrityError
	for _, e := range entries {
		err := s.Verify(ctx, e.DrugCode, e.Lot)
		var ierr *IntegrityError
		switch {
		case err == nil:
		case errors.As(err, &ierr):
			violations = append(violations, ierr)
		default:
			return 0, nil, err
		}
	}
	return len(entries), violations, nil
}

func (s *Service) integrity(err *IntegrityError) error {
	s.log.Error().Err(err).Str("drug_code", err.DrugCode).Str("lot", err.Lot).Msg("ledger integrity violation")
	return err
}
