package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/masslabs/passport/internal/models"
)

// pgUniqueViolation PostgreSQL 唯一约束冲突错误码
const pgUniqueViolation = "23505"

// ReminderRepository 提醒仓库，更新一律按 version 做比较替换
type ReminderRepository struct {
	db *DB
}

// NewReminderRepository 创建提醒仓库
func NewReminderRepository(db *DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

const reminderColumns = `
	id, org_id, vehicle_id, trigger_type, rule_id, COALESCE(service, ''), severity,
	due_at_mileage, due_at_date, overdue_magnitude, overdue_km, overdue_days,
	status, channel, eligible_at, last_notified_at, attempts, COALESCE(last_error, ''),
	version, created_at, updated_at, completed_at
`

func scanReminder(row pgx.Row) (*models.ReminderItem, error) {
	it := &models.ReminderItem{}
	err := row.Scan(
		&it.ID,
		&it.OrgID,
		&it.VehicleID,
		&it.Trigger,
		&it.RuleID,
		&it.Service,
		&it.Severity,
		&it.DueAtMileage,
		&it.DueAtDate,
		&it.OverdueMagnitude,
		&it.OverdueDistance,
		&it.OverdueDays,
		&it.Status,
		&it.Channel,
		&it.EligibleAt,
		&it.LastNotifiedAt,
		&it.Attempts,
		&it.LastError,
		&it.Version,
		&it.CreatedAt,
		&it.UpdatedAt,
		&it.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Insert 新建提醒，同键已有未完成提醒时返回 ErrDuplicateReminder
func (r *ReminderRepository) Insert(ctx context.Context, it *models.ReminderItem) error {
	query := `
		INSERT INTO reminders (
			id, org_id, vehicle_id, trigger_type, rule_id, service, severity,
			due_at_mileage, due_at_date, overdue_magnitude, overdue_km, overdue_days,
			status, channel, eligible_at, last_notified_at, attempts, last_error,
			version, created_at, updated_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		it.ID,
		it.OrgID,
		it.VehicleID,
		string(it.Trigger),
		it.RuleID,
		it.Service,
		string(it.Severity),
		it.DueAtMileage,
		it.DueAtDate,
		it.OverdueMagnitude,
		it.OverdueDistance,
		it.OverdueDays,
		string(it.Status),
		string(it.Channel),
		it.EligibleAt,
		it.LastNotifiedAt,
		it.Attempts,
		it.LastError,
		it.Version,
		it.CreatedAt,
		it.UpdatedAt,
		it.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return models.ErrDuplicateReminder
		}
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

// UpdateReminder 当前版本等于 expectedVersion 时更新，成功后 it.Version = expectedVersion+1
func (r *ReminderRepository) UpdateReminder(ctx context.Context, it *models.ReminderItem, expectedVersion int64) error {
	query := `
		UPDATE reminders SET
			service = $3,
			severity = $4,
			due_at_mileage = $5,
			due_at_date = $6,
			overdue_magnitude = $7,
			overdue_km = $8,
			overdue_days = $9,
			status = $10,
			channel = $11,
			eligible_at = $12,
			last_notified_at = $13,
			attempts = $14,
			last_error = $15,
			updated_at = $16,
			completed_at = $17,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`
	var version int64
	err := r.db.Pool.QueryRow(ctx, query,
		it.ID,
		expectedVersion,
		it.Service,
		string(it.Severity),
		it.DueAtMileage,
		it.DueAtDate,
		it.OverdueMagnitude,
		it.OverdueDistance,
		it.OverdueDays,
		string(it.Status),
		string(it.Channel),
		it.EligibleAt,
		it.LastNotifiedAt,
		it.Attempts,
		it.LastError,
		it.UpdatedAt,
		it.CompletedAt,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetReminder(ctx, it.ID); getErr != nil {
				return getErr
			}
			return models.ErrVersionConflict
		}
		return fmt.Errorf("update reminder: %w", err)
	}

	it.Version = version
	return nil
}

// GetReminder 通过 ID 获取提醒
func (r *ReminderRepository) GetReminder(ctx context.Context, id string) (*models.ReminderItem, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE id = $1`
	it, err := scanReminder(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrReminderNotFound
		}
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	return it, nil
}

// ListOpen 未完成的提醒，orgID 为空时返回所有租户
func (r *ReminderRepository) ListOpen(ctx context.Context, orgID string) ([]models.ReminderItem, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE status <> 'completed' AND ($1 = '' OR org_id = $1)
	`
	return r.list(ctx, query, orgID)
}

// ListOpenByVehicle 某辆车未完成的提醒
func (r *ReminderRepository) ListOpenByVehicle(ctx context.Context, vehicleID string) ([]models.ReminderItem, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE status <> 'completed' AND vehicle_id = $1
	`
	return r.list(ctx, query, vehicleID)
}

// ListByStatus 按状态筛选
func (r *ReminderRepository) ListByStatus(ctx context.Context, orgID string, statuses []models.ReminderStatus) ([]models.ReminderItem, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE status = ANY($2) AND ($1 = '' OR org_id = $1)
	`
	return r.list(ctx, query, orgID, names)
}

func (r *ReminderRepository) list(ctx context.Context, query string, args ...any) ([]models.ReminderItem, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var items []models.ReminderItem
	for rows.Next() {
		it, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}
