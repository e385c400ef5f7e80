package mar

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

// -- Visits --

const visitCols = `id, patient_id, ward_code, bed, status, admitted_at, discharged_at`

func scanVisit(row pgx.Row) (*MedVisit, error) {
	var v MedVisit
	err := row.Scan(&v.ID, &v.PatientID, &v.WardCode, &v.Bed, &v.Status, &v.AdmittedAt, &v.DischargedAt)
	return &v, err
}

func (r *repoPG) CreateVisit(ctx context.Context, v *MedVisit) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO med_visit (id, patient_id, ward_code, bed, status, admitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.PatientID, v.WardCode, v.Bed, v.Status, v.AdmittedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Validationf("patient %s already has an active visit", v.PatientID)
		}
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (r *repoPG) GetVisit(ctx context.Context, id uuid.UUID) (*MedVisit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM med_visit WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("visit %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get visit: %w", err)
	}
	return v, nil
}

func (r *repoPG) GetVisitForUpdate(ctx context.Context, id uuid.UUID) (*MedVisit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM med_visit WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("visit %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock visit: %w", err)
	}
	return v, nil
}

func (r *repoPG) ActiveVisit(ctx context.Context, patientID string) (*MedVisit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM med_visit WHERE patient_id = $1 AND discharged_at IS NULL`, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("no active visit for patient %s", patientID)
	}
	if err != nil {
		return nil, fmt.Errorf("get active visit: %w", err)
	}
	return v, nil
}

func (r *repoPG) SetVisitStatus(ctx context.Context, id uuid.UUID, status VisitStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE med_visit SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update visit status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("visit %s not found", id)
	}
	return nil
}

func (r *repoPG) Discharge(ctx context.Context, id uuid.UUID) (*MedVisit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `
		UPDATE med_visit SET discharged_at = COALESCE(discharged_at, NOW())
		WHERE id = $1
		RETURNING `+visitCols, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("visit %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("discharge visit: %w", err)
	}
	return v, nil
}

func (r *repoPG) ListVisits(ctx context.Context, wardCode string, limit, offset int) ([]*MedVisit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM med_visit WHERE $1 = '' OR ward_code = $1`, wardCode).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count visits: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+visitCols+` FROM med_visit
		WHERE $1 = '' OR ward_code = $1
		ORDER BY admitted_at DESC
		LIMIT $2 OFFSET $3`, wardCode, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()
	var out []*MedVisit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

// -- MAR items --

const itemCols = `id, visit_id, patient_id, order_id, drug_code, drug_name, dose, dose_unit, route,
	scheduled_at, shift, shift_date::text, status, is_dispensed, dispensed_qty, dispensed_lot,
	delivery_proof, administered_by, administered_at, reason_code, note, returned_qty, return_reason,
	order_stopped, version, created_at, updated_at`

func scanItem(row pgx.Row) (*MARItem, error) {
	var it MARItem
	err := row.Scan(&it.ID, &it.VisitID, &it.PatientID, &it.OrderID, &it.DrugCode, &it.DrugName,
		&it.Dose, &it.DoseUnit, &it.Route, &it.ScheduledAt, &it.Shift, &it.ShiftDate, &it.Status,
		&it.IsDispensed, &it.DispensedQty, &it.DispensedLot, &it.DeliveryProof, &it.AdministeredBy,
		&it.AdministeredAt, &it.ReasonCode, &it.Note, &it.ReturnedQty, &it.ReturnReason,
		&it.OrderStopped, &it.Version, &it.CreatedAt, &it.UpdatedAt)
	return &it, err
}

func collectItems(rows pgx.Rows) ([]*MARItem, error) {
	defer rows.Close()
	var out []*MARItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *repoPG) GetItem(ctx context.Context, id uuid.UUID) (*MARItem, error) {
	it, err := scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM mar_item WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("MAR item %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get MAR item: %w", err)
	}
	return it, nil
}

func (r *repoPG) GetItemForUpdate(ctx context.Context, id uuid.UUID) (*MARItem, error) {
	it, err := scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM mar_item WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("MAR item %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock MAR item: %w", err)
	}
	return it, nil
}

func (r *repoPG) InsertItems(ctx context.Context, items []*MARItem) error {
	for _, it := range items {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO mar_item (id, visit_id, patient_id, order_id, drug_code, drug_name, dose, dose_unit,
				route, scheduled_at, shift, shift_date, status, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::text::date, $13, $14)
			RETURNING created_at, updated_at`,
			it.ID, it.VisitID, it.PatientID, it.OrderID, it.DrugCode, it.DrugName, it.Dose, it.DoseUnit,
			it.Route, it.ScheduledAt, it.Shift, it.ShiftDate, it.Status, it.Version,
		).Scan(&it.CreatedAt, &it.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert MAR item %s: %w", it.OrderID, err)
		}
	}
	return nil
}

func (r *repoPG) UpdateItem(ctx context.Context, it *MARItem) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE mar_item SET
			status = $3, is_dispensed = $4, dispensed_qty = $5, dispensed_lot = $6,
			delivery_proof = $7, administered_by = $8, administered_at = $9,
			reason_code = $10, note = $11, returned_qty = $12, return_reason = $13,
			order_stopped = $14, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		it.ID, it.Version, it.Status, it.IsDispensed, it.DispensedQty, it.DispensedLot,
		it.DeliveryProof, it.AdministeredBy, it.AdministeredAt,
		it.ReasonCode, it.Note, it.ReturnedQty, it.ReturnReason, it.OrderStopped,
	).Scan(&it.Version, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &ConcurrentUpdateError{ItemID: it.ID, Version: it.Version}
	}
	if err != nil {
		return fmt.Errorf("update MAR item: %w", err)
	}
	return nil
}

func (r *repoPG) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*MARItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM mar_item WHERE visit_id = $1
		ORDER BY scheduled_at, drug_code`, visitID)
	if err != nil {
		return nil, fmt.Errorf("list MAR items by visit: %w", err)
	}
	return collectItems(rows)
}

func (r *repoPG) ListByShift(ctx context.Context, shift ShiftType, date string) ([]*MARItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM mar_item WHERE shift = $1 AND shift_date = $2::text::date
		ORDER BY scheduled_at, drug_code`, shift, date)
	if err != nil {
		return nil, fmt.Errorf("list MAR items by shift: %w", err)
	}
	return collectItems(rows)
}

func (r *repoPG) ListByOrder(ctx context.Context, patientID, orderID string) ([]*MARItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM mar_item WHERE patient_id = $1 AND order_id = $2
		ORDER BY scheduled_at`, patientID, orderID)
	if err != nil {
		return nil, fmt.Errorf("list MAR items by order: %w", err)
	}
	return collectItems(rows)
}

func (r *repoPG) CountByShift(ctx context.Context, shift ShiftType, date string) ([]StatusCount, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, is_dispensed, COUNT(*) FROM mar_item
		WHERE shift = $1 AND shift_date = $2::text::date
		GROUP BY status, is_dispensed`, shift, date)
	if err != nil {
		return nil, fmt.Errorf("count MAR items: %w", err)
	}
	defer rows.Close()
	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Dispensed, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
