package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 建表（幂等）
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateVehicles,
		migrationCreateServiceRecords,
		migrationCreateReminders,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

const migrationCreateVehicles = `
CREATE TABLE IF NOT EXISTS vehicles (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    passport_id TEXT UNIQUE,
    make VARCHAR(100) NOT NULL,
    model VARCHAR(100) NOT NULL,
    year INT NOT NULL,
    vin VARCHAR(17),
    license_plate VARCHAR(32),
    color VARCHAR(50),
    fuel_type VARCHAR(20),
    current_mileage BIGINT NOT NULL DEFAULT 0,
    mileage_reading_at TIMESTAMP WITH TIME ZONE,
    intake_mileage BIGINT NOT NULL DEFAULT 0,
    intake_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    registration_expiry TIMESTAMP WITH TIME ZONE,
    insurance_expiry TIMESTAMP WITH TIME ZONE,
    owner_name VARCHAR(255),
    owner_phone VARCHAR(32),
    owner_email VARCHAR(255),
    archived_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_vehicles_org_id ON vehicles(org_id);
`

// 服务记录只追加，唯一允许的修改是 verified
const migrationCreateServiceRecords = `
CREATE TABLE IF NOT EXISTS service_records (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    vehicle_id TEXT NOT NULL REFERENCES vehicles(id),
    rule_id VARCHAR(64),
    performed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    mileage_at_service BIGINT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    technician VARCHAR(255),
    verified BOOLEAN NOT NULL DEFAULT false,
    verified_at TIMESTAMP WITH TIME ZONE,
    verified_by VARCHAR(255),
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_service_records_vehicle_id ON service_records(vehicle_id);
CREATE INDEX IF NOT EXISTS idx_service_records_performed_at ON service_records(performed_at);
`

// 同一 (vehicle_id, trigger_type, rule_id) 最多一条未完成提醒
const migrationCreateReminders = `
CREATE TABLE IF NOT EXISTS reminders (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    vehicle_id TEXT NOT NULL REFERENCES vehicles(id),
    trigger_type VARCHAR(32) NOT NULL,
    rule_id VARCHAR(64) NOT NULL DEFAULT '',
    service VARCHAR(255),
    severity VARCHAR(16) NOT NULL,
    due_at_mileage BIGINT,
    due_at_date TIMESTAMP WITH TIME ZONE,
    overdue_magnitude DOUBLE PRECISION NOT NULL DEFAULT 0,
    overdue_km BIGINT,
    overdue_days INT,
    status VARCHAR(16) NOT NULL,
    channel VARCHAR(8) NOT NULL,
    eligible_at TIMESTAMP WITH TIME ZONE NOT NULL,
    last_notified_at TIMESTAMP WITH TIME ZONE,
    attempts INT NOT NULL DEFAULT 0,
    last_error TEXT,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    completed_at TIMESTAMP WITH TIME ZONE
);
CREATE INDEX IF NOT EXISTS idx_reminders_vehicle_id ON reminders(vehicle_id);
CREATE INDEX IF NOT EXISTS idx_reminders_status ON reminders(status);
CREATE UNIQUE INDEX IF NOT EXISTS uq_reminders_open_key
    ON reminders(vehicle_id, trigger_type, rule_id)
    WHERE status <> 'completed';
`
