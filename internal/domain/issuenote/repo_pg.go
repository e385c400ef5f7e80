package issuenote

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/wardmed/internal/platform/apperr"
	"github.com/ehr/wardmed/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const noteCols = `id, code, ward_code, ward_status, upstream_status, confirmed_by, confirmed_at, created_at, updated_at`

const itemCols = `id, note_id, drug_code, drug_name, lot, expiry, unit, sent_qty, received_qty,
	discrepancy_reason, evidence_image`

func scanNote(row pgx.Row) (*IssueNote, error) {
	var n IssueNote
	err := row.Scan(&n.ID, &n.Code, &n.WardCode, &n.WardStatus, &n.UpstreamStatus,
		&n.ConfirmedBy, &n.ConfirmedAt, &n.CreatedAt, &n.UpdatedAt)
	return &n, err
}

func (r *repoPG) Create(ctx context.Context, n *IssueNote) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO issue_note (id, code, ward_code, ward_status, upstream_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		n.ID, n.Code, n.WardCode, n.WardStatus, n.UpstreamStatus,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &DuplicateNoteError{NoteCode: n.Code}
		}
		return fmt.Errorf("insert issue note: %w", err)
	}
	return r.insertItems(ctx, n.ID, n.Items)
}

func (r *repoPG) insertItems(ctx context.Context, noteID uuid.UUID, items []IssueNoteItem) error {
	for i := range items {
		it := &items[i]
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.NoteID = noteID
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO issue_note_item (id, note_id, drug_code, drug_name, lot, expiry, unit, sent_qty)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			it.ID, noteID, it.DrugCode, it.DrugName, it.Lot, it.Expiry, it.Unit, it.SentQty)
		if err != nil {
			return fmt.Errorf("insert issue note item: %w", err)
		}
	}
	return nil
}

func (r *repoPG) loadItems(ctx context.Context, n *IssueNote) error {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM issue_note_item WHERE note_id = $1 ORDER BY drug_code, lot, id`, n.ID)
	if err != nil {
		return fmt.Errorf("load issue note items: %w", err)
	}
	defer rows.Close()
	n.Items = n.Items[:0]
	for rows.Next() {
		var it IssueNoteItem
		if err := rows.Scan(&it.ID, &it.NoteID, &it.DrugCode, &it.DrugName, &it.Lot, &it.Expiry,
			&it.Unit, &it.SentQty, &it.ReceivedQty, &it.DiscrepancyReason, &it.EvidenceImage); err != nil {
			return err
		}
		n.Items = append(n.Items, it)
	}
	return rows.Err()
}

func (r *repoPG) getOne(ctx context.Context, where string, arg interface{}, label string) (*IssueNote, error) {
	n, err := scanNote(r.conn(ctx).QueryRow(ctx, `SELECT `+noteCols+` FROM issue_note WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("issue note %s not found", label)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue note %s: %w", label, err)
	}
	if err := r.loadItems(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*IssueNote, error) {
	return r.getOne(ctx, `id = $1`, id, id.String())
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*IssueNote, error) {
	return r.getOne(ctx, `id = $1 FOR UPDATE`, id, id.String())
}

func (r *repoPG) GetByCodeForUpdate(ctx context.Context, code string) (*IssueNote, error) {
	return r.getOne(ctx, `code = $1 FOR UPDATE`, code, code)
}

func (r *repoPG) ReplaceItems(ctx context.Context, noteID uuid.UUID, items []IssueNoteItem) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM issue_note_item WHERE note_id = $1`, noteID); err != nil {
		return fmt.Errorf("clear issue note items: %w", err)
	}
	return r.insertItems(ctx, noteID, items)
}

func (r *repoPG) SetUpstreamStatus(ctx context.Context, noteID uuid.UUID, status UpstreamStatus) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE issue_note SET upstream_status = $2, updated_at = NOW() WHERE id = $1`, noteID, status)
	if err != nil {
		return fmt.Errorf("set upstream status: %w", err)
	}
	return nil
}

func (r *repoPG) SaveConfirmation(ctx context.Context, n *IssueNote) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE issue_note SET ward_status = $2, confirmed_by = $3, confirmed_at = $4, updated_at = NOW()
		WHERE id = $1`, n.ID, n.WardStatus, n.ConfirmedBy, n.ConfirmedAt)
	if err != nil {
		return fmt.Errorf("save confirmation: %w", err)
	}
	for _, it := range n.Items {
		_, err := r.conn(ctx).Exec(ctx, `
			UPDATE issue_note_item SET received_qty = $2, discrepancy_reason = $3, evidence_image = $4
			WHERE id = $1`, it.ID, it.ReceivedQty, it.DiscrepancyReason, it.EvidenceImage)
		if err != nil {
			return fmt.Errorf("save item count: %w", err)
		}
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, status WardStatus, limit, offset int) ([]*IssueNote, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM issue_note WHERE $1 = '' OR ward_status = $1`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count issue notes: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+noteCols+` FROM issue_note
		WHERE $1 = '' OR ward_status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list issue notes: %w", err)
	}
	var notes []*IssueNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		notes = append(notes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, n := range notes {
		if err := r.loadItems(ctx, n); err != nil {
			return nil, 0, err
		}
	}
	return notes, total, nil
}
