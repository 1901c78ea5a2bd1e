package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/masslabs/passport/internal/models"
)

// ServiceRecordRepository 服务记录仓库，记录只追加
type ServiceRecordRepository struct {
	db *DB
}

// NewServiceRecordRepository 创建服务记录仓库
func NewServiceRecordRepository(db *DB) *ServiceRecordRepository {
	return &ServiceRecordRepository{db: db}
}

const serviceRecordColumns = `
	id, org_id, vehicle_id, rule_id, performed_at, mileage_at_service,
	description, COALESCE(technician, ''), verified, verified_at, COALESCE(verified_by, ''), created_at
`

func scanServiceRecord(row pgx.Row) (*models.ServiceRecord, error) {
	rec := &models.ServiceRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.OrgID,
		&rec.VehicleID,
		&rec.RuleID,
		&rec.PerformedAt,
		&rec.MileageAtService,
		&rec.Description,
		&rec.Technician,
		&rec.Verified,
		&rec.VerifiedAt,
		&rec.VerifiedBy,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Create 追加服务记录
func (r *ServiceRecordRepository) Create(ctx context.Context, rec *models.ServiceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	query := `
		INSERT INTO service_records (
			id, org_id, vehicle_id, rule_id, performed_at, mileage_at_service,
			description, technician, verified, verified_at, verified_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	now := time.Now()
	_, err := r.db.Pool.Exec(ctx, query,
		rec.ID,
		rec.OrgID,
		rec.VehicleID,
		rec.RuleID,
		rec.PerformedAt,
		rec.MileageAtService,
		rec.Description,
		rec.Technician,
		rec.Verified,
		rec.VerifiedAt,
		rec.VerifiedBy,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert service record: %w", err)
	}
	rec.CreatedAt = now
	return nil
}

// GetByID 通过 ID 获取服务记录
func (r *ServiceRecordRepository) GetByID(ctx context.Context, id string) (*models.ServiceRecord, error) {
	query := `SELECT ` + serviceRecordColumns + ` FROM service_records WHERE id = $1`
	rec, err := scanServiceRecord(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrServiceRecordNotFound
		}
		return nil, fmt.Errorf("get service record: %w", err)
	}
	return rec, nil
}

// ListByVehicle 车辆的全部服务记录，按时间倒序
func (r *ServiceRecordRepository) ListByVehicle(ctx context.Context, vehicleID string) ([]models.ServiceRecord, error) {
	query := `
		SELECT ` + serviceRecordColumns + `
		FROM service_records
		WHERE vehicle_id = $1
		ORDER BY performed_at DESC, mileage_at_service DESC
	`
	return r.list(ctx, query, vehicleID)
}

// ListForVehicles 批量获取多辆车的服务记录
func (r *ServiceRecordRepository) ListForVehicles(ctx context.Context, vehicleIDs []string) ([]models.ServiceRecord, error) {
	if len(vehicleIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + serviceRecordColumns + `
		FROM service_records
		WHERE vehicle_id = ANY($1)
		ORDER BY vehicle_id, performed_at DESC
	`
	return r.list(ctx, query, vehicleIDs)
}

func (r *ServiceRecordRepository) list(ctx context.Context, query string, args ...any) ([]models.ServiceRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list service records: %w", err)
	}
	defer rows.Close()

	var records []models.ServiceRecord
	for rows.Next() {
		rec, err := scanServiceRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Verify 标记为已核验，这是服务记录唯一允许的修改
func (r *ServiceRecordRepository) Verify(ctx context.Context, id, verifiedBy string, at time.Time) (*models.ServiceRecord, error) {
	query := `
		UPDATE service_records SET
			verified = true,
			verified_at = COALESCE(verified_at, $2),
			verified_by = COALESCE(NULLIF(verified_by, ''), $3)
		WHERE id = $1
		RETURNING ` + serviceRecordColumns
	rec, err := scanServiceRecord(r.db.Pool.QueryRow(ctx, query, id, at, verifiedBy))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrServiceRecordNotFound
		}
		return nil, fmt.Errorf("verify service record: %w", err)
	}
	return rec, nil
}
