package rx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
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

func (r *repoPG) getApplied(ctx context.Context, lock string, patientID string) (*AppliedVersion, error) {
	var v AppliedVersion
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT patient_id, version_id, lines, applied_at, applied_by
		FROM rx_applied_version WHERE patient_id = $1 `+lock, patientID).
		Scan(&v.PatientID, &v.VersionID, &v.Lines, &v.AppliedAt, &v.AppliedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get applied version: %w", err)
	}
	return &v, nil
}

func (r *repoPG) GetApplied(ctx context.Context, patientID string) (*AppliedVersion, error) {
	return r.getApplied(ctx, "", patientID)
}

func (r *repoPG) GetAppliedForUpdate(ctx context.Context, patientID string) (*AppliedVersion, error) {
	return r.getApplied(ctx, "FOR UPDATE", patientID)
}

func (r *repoPG) SaveApplied(ctx context.Context, v *AppliedVersion) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO rx_applied_version (patient_id, version_id, lines, applied_at, applied_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (patient_id) DO UPDATE SET
			version_id = EXCLUDED.version_id, lines = EXCLUDED.lines,
			applied_at = EXCLUDED.applied_at, applied_by = EXCLUDED.applied_by`,
		v.PatientID, v.VersionID, v.Lines, v.AppliedAt, v.AppliedBy)
	if err != nil {
		return fmt.Errorf("save applied version: %w", err)
	}
	return nil
}

const inboxCols = `patient_id, external_version_id, external_issued_at, applied_version_id, status,
	details, alerts, lines, created_at`

func scanInbox(row pgx.Row) (*InboxItem, error) {
	var i InboxItem
	err := row.Scan(&i.PatientID, &i.ExternalVersionID, &i.ExternalIssuedAt, &i.AppliedVersionID,
		&i.Status, &i.Details, &i.Alerts, &i.Lines, &i.CreatedAt)
	return &i, err
}

func (r *repoPG) UpsertInbox(ctx context.Context, i *InboxItem) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO rx_inbox (patient_id, external_version_id, external_issued_at, applied_version_id,
			status, details, alerts, lines)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (patient_id) DO UPDATE SET
			external_version_id = EXCLUDED.external_version_id,
			external_issued_at = EXCLUDED.external_issued_at,
			applied_version_id = EXCLUDED.applied_version_id,
			status = EXCLUDED.status, details = EXCLUDED.details,
			alerts = EXCLUDED.alerts, lines = EXCLUDED.lines, created_at = NOW()
		RETURNING created_at`,
		i.PatientID, i.ExternalVersionID, i.ExternalIssuedAt, i.AppliedVersionID,
		i.Status, i.Details, i.Alerts, i.Lines).Scan(&i.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert rx inbox: %w", err)
	}
	return nil
}

func (r *repoPG) GetInboxForUpdate(ctx context.Context, patientID string) (*InboxItem, error) {
	i, err := scanInbox(r.conn(ctx).QueryRow(ctx,
		`SELECT `+inboxCols+` FROM rx_inbox WHERE patient_id = $1 FOR UPDATE`, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("no pending rx change for patient %s", patientID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock rx inbox: %w", err)
	}
	return i, nil
}

func (r *repoPG) DeleteInbox(ctx context.Context, patientID string) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM rx_inbox WHERE patient_id = $1`, patientID); err != nil {
		return fmt.Errorf("delete rx inbox: %w", err)
	}
	return nil
}

func (r *repoPG) ListInbox(ctx context.Context, limit, offset int) ([]*InboxItem, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM rx_inbox WHERE status = 'PENDING'`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rx inbox: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+inboxCols+` FROM rx_inbox WHERE status = 'PENDING'
		ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list rx inbox: %w", err)
	}
	defer rows.Close()
	var out []*InboxItem
	for rows.Next() {
		i, err := scanInbox(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, i)
	}
	return out, total, rows.Err()
}

// ExternalVersionRepository stores versions pushed by the order system and
// serves them as an OrderSource.
type ExternalVersionRepository struct{ pool *pgxpool.Pool }

func NewExternalVersionRepository(pool *pgxpool.Pool) *ExternalVersionRepository {
	return &ExternalVersionRepository{pool: pool}
}

func (r *ExternalVersionRepository) SaveVersion(ctx context.Context, v *OrderVersion) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO rx_external_version (patient_id, version_id, issued_at, lines, alerts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (patient_id, version_id) DO NOTHING`,
		v.PatientID, v.VersionID, v.IssuedAt, v.Lines, v.Alerts)
	if err != nil {
		return fmt.Errorf("save external rx version: %w", err)
	}
	return nil
}

func (r *ExternalVersionRepository) LatestVersion(ctx context.Context, patientID string) (*OrderVersion, error) {
	var v OrderVersion
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT patient_id, version_id, issued_at, lines, alerts
		FROM rx_external_version WHERE patient_id = $1
		ORDER BY issued_at DESC, received_at DESC LIMIT 1`, patientID).
		Scan(&v.PatientID, &v.VersionID, &v.IssuedAt, &v.Lines, &v.Alerts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("no prescription for patient %s", patientID)
	}
	if err != nil {
		return nil, fmt.Errorf("latest external rx version: %w", err)
	}
	return &v, nil
}
