package shift

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/wardmed/internal/domain/mar"
	"github.com/ehr/wardmed/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const lockCols = `shift, shift_date::text, status, locked_by, locked_at`

func scanLock(row pgx.Row) (*ShiftLock, error) {
	var l ShiftLock
	err := row.Scan(&l.Shift, &l.Date, &l.Status, &l.LockedBy, &l.LockedAt)
	return &l, err
}

func (r *repoPG) Get(ctx context.Context, shift mar.ShiftType, date string) (*ShiftLock, error) {
	l, err := scanLock(r.conn(ctx).QueryRow(ctx,
		`SELECT `+lockCols+` FROM shift_lock WHERE shift = $1 AND shift_date = $2::text::date`, shift, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return &ShiftLock{Shift: shift, Date: date, Status: Open}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get shift lock: %w", err)
	}
	return l, nil
}

func (r *repoPG) lockRow(ctx context.Context, shift mar.ShiftType, date, mode string) (*ShiftLock, error) {
	if _, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO shift_lock (shift, shift_date, status)
		VALUES ($1, $2::text::date, 'OPEN')
		ON CONFLICT (shift, shift_date) DO NOTHING`, shift, date); err != nil {
		return nil, fmt.Errorf("ensure shift lock row: %w", err)
	}
	l, err := scanLock(r.conn(ctx).QueryRow(ctx,
		`SELECT `+lockCols+` FROM shift_lock WHERE shift = $1 AND shift_date = $2::text::date `+mode, shift, date))
	if err != nil {
		return nil, fmt.Errorf("lock shift %s %s: %w", shift, date, err)
	}
	return l, nil
}

func (r *repoPG) GetForUpdate(ctx context.Context, shift mar.ShiftType, date string) (*ShiftLock, error) {
	return r.lockRow(ctx, shift, date, "FOR UPDATE")
}

func (r *repoPG) GetForShare(ctx context.Context, shift mar.ShiftType, date string) (*ShiftLock, error) {
	return r.lockRow(ctx, shift, date, "FOR SHARE")
}

func (r *repoPG) Save(ctx context.Context, l *ShiftLock) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE shift_lock SET status = $3, locked_by = $4, locked_at = $5
		WHERE shift = $1 AND shift_date = $2::text::date`,
		l.Shift, l.Date, l.Status, l.LockedBy, l.LockedAt)
	if err != nil {
		return fmt.Errorf("save shift lock: %w", err)
	}
	return nil
}

func (r *repoPG) AppendAudit(ctx context.Context, a *AuditEntry) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO shift_audit (id, shift, shift_date, action, reason, actor)
		VALUES ($1, $2, $3::text::date, $4, $5, $6)
		RETURNING created_at`,
		a.ID, a.Shift, a.Date, a.Action, a.Reason, a.Actor).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert shift audit: %w", err)
	}
	return nil
}

func (r *repoPG) ListAudit(ctx context.Context, shift mar.ShiftType, date string) ([]*AuditEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, shift, shift_date::text, action, reason, actor, created_at
		FROM shift_audit WHERE shift = $1 AND shift_date = $2::text::date
		ORDER BY created_at, id`, shift, date)
	if err != nil {
		return nil, fmt.Errorf("list shift audit: %w", err)
	}
	defer rows.Close()
	var out []*AuditEntry
	for rows.Next() {
		var a AuditEntry
		if err := rows.Scan(&a.ID, &a.Shift, &a.Date, &a.Action, &a.Reason, &a.Actor, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
