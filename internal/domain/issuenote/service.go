package issuenote

import (
	"context"
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

// Ledger is the stock side of receiving.
type Ledger interface {
	ApplyTransaction(ctx context.Context, in stock.TransactionInput) (*stock.DrugStockEntry, error)
}

type Service struct {
	repo    Repository
	ledger  Ledger
	reasons *reason.Catalog
	tx      db.TxRunner
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, ledger Ledger, reasons *reason.Catalog, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		ledger:  ledger,
		reasons: reasons,
		tx:      tx,
		log:     logger.With().Str("component", "issuenote").Logger(),
		now:     time.Now,
	}
}

// Receive ingests a note sent by the pharmacy.
func (s *Service) Receive(ctx context.Context, n *IssueNote) error {
	n.Code = strings.TrimSpace(n.Code)
	if n.Code == "" {
		return apperr.Validationf("code is required")
	}
	if err := validateItems(n.Items); err != nil {
		return err
	}
	n.ID = uuid.New()
	n.WardStatus = WardSent
	n.UpstreamStatus = UpstreamNormal
	n.ConfirmedBy = ""
	n.ConfirmedAt = nil
	for i := range n.Items {
		n.Items[i].ID = uuid.New()
		n.Items[i].NoteID = n.ID
		n.Items[i].ReceivedQty = nil
		n.Items[i].DiscrepancyReason = ""
	}

	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, n)
	}); err != nil {
		return err
	}
	s.log.Info().Str("note_code", n.Code).Int("items", len(n.Items)).Msg("issue note received")
	return nil
}

// UpdateUpstream applies a pharmacy-side revision. UPDATED replaces the
// items; CANCELED voids the note. Both require the ward not to have
// confirmed yet.
func (s *Service) UpdateUpstream(ctx context.Context, code string, status UpstreamStatus, items []IssueNoteItem) (*IssueNote, error) {
	switch status {
	case UpstreamUpdated:
		if err := validateItems(items); err != nil {
			return nil, err
		}
	case UpstreamCanceled:
	default:
		return nil, apperr.Validationf("upstream status must be UPDATED or CANCELED, got %q", status)
	}

	var out *IssueNote
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		n, err := s.repo.GetByCodeForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if n.WardStatus != WardSent {
			return &NoteLockedError{NoteCode: n.Code, Status: n.WardStatus}
		}
		if n.UpstreamStatus == UpstreamCanceled {
			return &NoteCanceledError{NoteCode: n.Code}
		}
		if status == UpstreamUpdated {
			for i := range items {
				items[i].ID = uuid.New()
				items[i].NoteID = n.ID
				items[i].ReceivedQty = nil
			}
			if err := s.repo.ReplaceItems(ctx, n.ID, items); err != nil {
				return err
			}
			n.Items = items
		}
		if err := s.repo.SetUpstreamStatus(ctx, n.ID, status); err != nil {
			return err
		}
		n.UpstreamStatus = status
		out = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("note_code", code).Str("upstream_status", string(status)).Msg("issue note revised upstream")
	return out, nil
}

// ConfirmReceipt records the ward's count and imports what arrived. Every
// line must be counted; mismatched lines need a discrepancy reason. The
// ledger is untouched unless the whole confirmation succeeds.
func (s *Service) ConfirmReceipt(ctx context.Context, noteID uuid.UUID, counted []CountedItem, actor string) (*IssueNote, error) {
	if actor == "" {
		return nil, apperr.Validationf("actor is required")
	}

	var out *IssueNote
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		n, err := s.repo.GetForUpdate(ctx, noteID)
		if err != nil {
			return err
		}
		if n.UpstreamStatus == UpstreamCanceled {
			return &NoteCanceledError{NoteCode: n.Code}
		}
		if n.WardStatus != WardSent {
			return &NoteLockedError{NoteCode: n.Code, Status: n.WardStatus}
		}

		byItem, err := indexCounts(n, counted)
		if err != nil {
			return err
		}

		var missing []uuid.UUID
		clean := true
		for i := range n.Items {
			it := &n.Items[i]
			c := byItem[it.ID]
			received := c.ReceivedQty
			it.ReceivedQty = &received
			it.EvidenceImage = c.EvidenceImage
			it.DiscrepancyReason = ""
			if received.Equal(it.SentQty) {
				continue
			}
			clean = false
			code := strings.TrimSpace(c.DiscrepancyReason)
			if code == "" {
				missing = append(missing, it.ID)
				continue
			}
			if _, err := s.reasons.Require(code, reason.TypeDiscrepancy); err != nil {
				return err
			}
			it.DiscrepancyReason = code
		}
		if len(missing) > 0 {
			return &MissingDiscrepancyReasonError{ItemIDs: missing}
		}

		for _, it := range n.Items {
			if !it.ReceivedQty.IsPositive() {
				continue
			}
			if _, err := s.ledger.ApplyTransaction(ctx, stock.TransactionInput{
				DrugCode:  it.DrugCode,
				Lot:       it.Lot,
				Type:      stock.TxImport,
				Delta:     *it.ReceivedQty,
				Reason:    it.DiscrepancyReason,
				Reference: n.Reference(),
				Actor:     actor,
				Unit:      it.Unit,
				Expiry:    it.Expiry,
			}); err != nil {
				return err
			}
		}

		now := s.now()
		n.WardStatus = WardReceived
		if !clean {
			n.WardStatus = WardDiscrepancy
		}
		n.ConfirmedBy = actor
		n.ConfirmedAt = &now
		if err := s.repo.SaveConfirmation(ctx, n); err != nil {
			return err
		}
		out = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("note_code", out.Code).
		Str("ward_status", string(out.WardStatus)).
		Str("received_total", receivedTotal(out).String()).
		Str("actor", actor).
		Msg("issue note confirmed")
	return out, nil
}

func indexCounts(n *IssueNote, counted []CountedItem) (map[uuid.UUID]CountedItem, error) {
	known := make(map[uuid.UUID]bool, len(n.Items))
	for _, it := range n.Items {
		known[it.ID] = true
	}
	byItem := make(map[uuid.UUID]CountedItem, len(counted))
	for _, c := range counted {
		if !known[c.ItemID] {
			return nil, apperr.Validationf("item %s is not on note %s", c.ItemID, n.Code)
		}
		if _, dup := byItem[c.ItemID]; dup {
			return nil, apperr.Validationf("item %s counted twice", c.ItemID)
		}
		if c.ReceivedQty.IsNegative() {
			return nil, apperr.Validationf("item %s: received_qty must not be negative", c.ItemID)
		}
		byItem[c.ItemID] = c
	}
	if len(byItem) != len(n.Items) {
		return nil, apperr.Validationf("all %d items of note %s must be counted, got %d", len(n.Items), n.Code, len(byItem))
	}
	return byItem, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*IssueNote, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, status WardStatus, limit, offset int) ([]*IssueNote, int, error) {
	return s.repo.List(ctx, status, limit, offset)
}

// receivedTotal is the sum of counted quantities, zero before confirmation.
func receivedTotal(n *IssueNote) decimal.Decimal {
	total := decimal.Zero
	for _, it := range n.Items {
		if it.ReceivedQty != nil {
			total = total.Add(*it.ReceivedQty)
		}
	}
	return total
}
