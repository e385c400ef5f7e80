package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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

const entryCols = `drug_code, lot, unit, quantity, min_threshold, expiry, updated_at`

func scanEntry(row pgx.Row) (*DrugStockEntry, error) {
	var e DrugStockEntry
	err := row.Scan(&e.DrugCode, &e.Lot, &e.Unit, &e.Quantity, &e.MinThreshold, &e.Expiry, &e.UpdatedAt)
	return &e, err
}

func collectEntries(rows pgx.Rows) ([]*DrugStockEntry, error) {
	defer rows.Close()
	var out []*DrugStockEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repoPG) GetEntryForUpdate(ctx context.Context, drugCode, lot string) (*DrugStockEntry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM drug_stock_entry WHERE drug_code = $1 AND lot = $2 FOR UPDATE`,
		drugCode, lot))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock stock entry %s/%s: %w", drugCode, lot, err)
	}
	return e, nil
}

func (r *repoPG) CreateEntry(ctx context.Context, e *DrugStockEntry) (*DrugStockEntry, error) {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO drug_stock_entry (drug_code, lot, unit, quantity, min_threshold, expiry)
		VALUES ($1, $2, $3, 0, $4, $5)
		ON CONFLICT (drug_code, lot) DO NOTHING`,
		e.DrugCode, e.Lot, e.Unit, e.MinThreshold, e.Expiry)
	if err != nil {
		return nil, fmt.Errorf("create stock entry %s/%s: %w", e.DrugCode, e.Lot, err)
	}
	return r.GetEntryForUpdate(ctx, e.DrugCode, e.Lot)
}

func (r *repoPG) UpdateQuantity(ctx context.Context, drugCode, lot string, prev, next decimal.Decimal) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE drug_stock_entry SET quantity = $4, updated_at = NOW()
		WHERE drug_code = $1 AND lot = $2 AND quantity = $3`,
		drugCode, lot, prev, next)
	if err != nil {
		return false, fmt.Errorf("update stock entry %s/%s: %w", drugCode, lot, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) AppendTransaction(ctx context.Context, t *StockTransaction) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO stock_transaction (id, drug_code, lot, type, delta, quantity_after, reason, reference, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq, created_at`,
		t.ID, t.DrugCode, t.Lot, t.Type, t.Delta, t.QuantityAfter, t.Reason, t.Reference, t.Actor,
	).Scan(&t.Seq, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("append stock transaction: %w", err)
	}
	return nil
}

func (r *repoPG) ListEntries(ctx context.Context, drugCode string) ([]*DrugStockEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM drug_stock_entry
		WHERE $1 = '' OR drug_code = $1
		ORDER BY drug_code, expiry ASC NULLS LAST, lot`, drugCode)
	if err != nil {
		return nil, fmt.Errorf("list stock entries: %w", err)
	}
	return collectEntries(rows)
}

func (r *repoPG) LowStock(ctx context.Context) ([]*DrugStockEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM drug_stock_entry
		WHERE min_threshold > 0 AND quantity <= min_threshold
		ORDER BY drug_code, lot`)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	return collectEntries(rows)
}

func (r *repoPG) SetThreshold(ctx context.Context, drugCode, lot string, threshold decimal.Decimal) (*DrugStockEntry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE drug_stock_entry SET min_threshold = $3, updated_at = NOW()
		WHERE drug_code = $1 AND lot = $2
		RETURNING `+entryCols, drugCode, lot, threshold))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("stock entry %s/%s not found", drugCode, lot)
	}
	if err != nil {
		return nil, fmt.Errorf("set threshold %s/%s: %w", drugCode, lot, err)
	}
	return e, nil
}

const txCols = `id, seq, drug_code, lot, type, delta, quantity_after, reason, reference, actor, created_at`

func scanTx(row pgx.Row) (*StockTransaction, error) {
	var t StockTransaction
	err := row.Scan(&t.ID, &t.Seq, &t.DrugCode, &t.Lot, &t.Type, &t.Delta, &t.QuantityAfter,
		&t.Reason, &t.Reference, &t.Actor, &t.CreatedAt)
	return &t, err
}

func collectTx(rows pgx.Rows) ([]*StockTransaction, error) {
	defer rows.Close()
	var out []*StockTransaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repoPG) History(ctx context.Context, drugCode string, limit, offset int) ([]*StockTransaction, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_transaction WHERE drug_code = $1`, drugCode).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count stock history: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+txCols+` FROM stock_transaction
		WHERE drug_code = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3`, drugCode, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("stock history: %w", err)
	}
	items, err := collectTx(rows)
	return items, total, err
}

func (r *repoPG) Transactions(ctx context.Context, drugCode, lot string) ([]*StockTransaction, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+txCols+` FROM stock_transaction
		WHERE drug_code = $1 AND lot = $2
		ORDER BY seq ASC`, drugCode, lot)
	if err != nil {
		return nil, fmt.Errorf("stock transactions %s/%s: %w", drugCode, lot, err)
	}
	return collectTx(rows)
}
