package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/masslabs/passport/internal/models"
)

// VehicleRepository 车辆数据仓库
type VehicleRepository struct {
	db *DB
}

// NewVehicleRepository 创建车辆仓库
func NewVehicleRepository(db *DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

const vehicleColumns = `
	id, org_id, COALESCE(passport_id, ''), make, model, year,
	COALESCE(vin, ''), COALESCE(license_plate, ''), COALESCE(color, ''), COALESCE(fuel_type, ''),
	current_mileage, COALESCE(mileage_reading_at, intake_at), intake_mileage, intake_at,
	registration_expiry, insurance_expiry,
	COALESCE(owner_name, ''), COALESCE(owner_phone, ''), COALESCE(owner_email, ''),
	archived_at, created_at, updated_at
`

func scanVehicle(row pgx.Row) (*models.Vehicle, error) {
	v := &models.Vehicle{}
	err := row.Scan(
		&v.ID,
		&v.OrgID,
		&v.PassportID,
		&v.Make,
		&v.Model,
		&v.Year,
		&v.VIN,
		&v.LicensePlate,
		&v.Color,
		&v.FuelType,
		&v.CurrentMileage,
		&v.MileageReadingAt,
		&v.IntakeMileage,
		&v.IntakeAt,
		&v.RegistrationExpiry,
		&v.InsuranceExpiry,
		&v.OwnerName,
		&v.OwnerPhone,
		&v.OwnerEmail,
		&v.ArchivedAt,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Create 登记车辆
func (r *VehicleRepository) Create(ctx context.Context, v *models.Vehicle) error {
	query := `
		INSERT INTO vehicles (
			id, org_id, passport_id, make, model, year, vin, license_plate, color, fuel_type,
			current_mileage, mileage_reading_at, intake_mileage, intake_at,
			registration_expiry, insurance_expiry, owner_name, owner_phone, owner_email,
			created_at, updated_at
		)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	now := time.Now()
	_, err := r.db.Pool.Exec(ctx, query,
		v.ID,
		v.OrgID,
		v.PassportID,
		v.Make,
		v.Model,
		v.Year,
		v.VIN,
		v.LicensePlate,
		v.Color,
		string(v.FuelType),
		v.CurrentMileage,
		v.MileageReadingAt,
		v.IntakeMileage,
		v.IntakeAt,
		v.RegistrationExpiry,
		v.InsuranceExpiry,
		v.OwnerName,
		v.OwnerPhone,
		v.OwnerEmail,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert vehicle: %w", err)
	}

	v.CreatedAt = now
	v.UpdatedAt = now
	return nil
}

// GetVehicle 通过 ID 获取车辆
func (r *VehicleRepository) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE id = $1`
	v, err := scanVehicle(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrVehicleNotFound
		}
		return nil, fmt.Errorf("get vehicle by id: %w", err)
	}
	return v, nil
}

// GetByPassportID 通过护照 ID 获取车辆
func (r *VehicleRepository) GetByPassportID(ctx context.Context, passportID string) (*models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE passport_id = $1`
	v, err := scanVehicle(r.db.Pool.QueryRow(ctx, query, passportID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrPassportNotFound
		}
		return nil, fmt.Errorf("get vehicle by passport_id: %w", err)
	}
	return v, nil
}

// ListActive 未归档车辆，orgID 为空时返回所有租户
func (r *VehicleRepository) ListActive(ctx context.Context, orgID string) ([]models.Vehicle, error) {
	query := `
		SELECT ` + vehicleColumns + `
		FROM vehicles
		WHERE archived_at IS NULL AND ($1 = '' OR org_id = $1)
		ORDER BY org_id, id
	`
	rows, err := r.db.Pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		vehicles = append(vehicles, *v)
	}
	return vehicles, rows.Err()
}

// UpdateMileage 更新里程读数，里程不能回退
func (r *VehicleRepository) UpdateMileage(ctx context.Context, id string, mileage int64, readingAt time.Time) error {
	query := `
		UPDATE vehicles SET
			current_mileage = $2,
			mileage_reading_at = $3,
			updated_at = NOW()
		WHERE id = $1 AND current_mileage <= $2
	`
	tag, err := r.db.Pool.Exec(ctx, query, id, mileage, readingAt)
	if err != nil {
		return fmt.Errorf("update mileage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetVehicle(ctx, id); err != nil {
			return err
		}
		return &models.ValidationError{VehicleID: id, Field: "current_mileage", Reason: "must not decrease"}
	}
	return nil
}

// UpdateDocumentExpiry 更新登记或保险到期日
func (r *VehicleRepository) UpdateDocumentExpiry(ctx context.Context, id string, doc models.DocumentType, expiry time.Time) error {
	var query string
	switch doc {
	case models.DocumentRegistration:
		query = `UPDATE vehicles SET registration_expiry = $2, updated_at = NOW() WHERE id = $1`
	case models.DocumentInsurance:
		query = `UPDATE vehicles SET insurance_expiry = $2, updated_at = NOW() WHERE id = $1`
	default:
		return fmt.Errorf("unknown document type %q", doc)
	}

	tag, err := r.db.Pool.Exec(ctx, query, id, expiry)
	if err != nil {
		return fmt.Errorf("update %s expiry: %w", doc, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrVehicleNotFound
	}
	return nil
}
