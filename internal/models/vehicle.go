package models

import (
	"strings"
	"time"
)

// FuelType 燃料类型
type FuelType string

const (
	FuelGasoline FuelType = "gasoline"
	FuelDiesel   FuelType = "diesel"
	FuelElectric FuelType = "electric"
	FuelHybrid   FuelType = "hybrid"
)

// Valid 是否为已知燃料类型（空值视为未知，不算非法）
func (f FuelType) Valid() bool {
	switch f {
	case "", FuelGasoline, FuelDiesel, FuelElectric, FuelHybrid:
		return true
	}
	return false
}

// Vehicle 车辆信息（由车间在接车时创建，只做软归档）
type Vehicle struct {
	ID           string   `json:"id" db:"id"`
	OrgID        string   `json:"org_id" db:"org_id"`
	PassportID   string   `json:"passport_id,omitempty" db:"passport_id"`
	Make         string   `json:"make" db:"make"`
	Model        string   `json:"model" db:"model"`
	Year         int      `json:"year" db:"year"`
	VIN          string   `json:"vin,omitempty" db:"vin"`
	LicensePlate string   `json:"license_plate,omitempty" db:"license_plate"`
	Color        string   `json:"color,omitempty" db:"color"`
	FuelType     FuelType `json:"fuel_type,omitempty" db:"fuel_type"`

	// 里程 (km)
	CurrentMileage   int64     `json:"current_mileage" db:"current_mileage"`
	MileageReadingAt time.Time `json:"mileage_reading_at" db:"mileage_reading_at"`
	IntakeMileage    int64     `json:"intake_mileage" db:"intake_mileage"`
	IntakeAt         time.Time `json:"intake_at" db:"intake_at"`

	// 合规文件到期日
	RegistrationExpiry *time.Time `json:"registration_expiry,omitempty" db:"registration_expiry"`
	InsuranceExpiry    *time.Time `json:"insurance_expiry,omitempty" db:"insurance_expiry"`

	// 车主联系方式（提醒接收人）
	OwnerName  string `json:"owner_name,omitempty" db:"owner_name"`
	OwnerPhone string `json:"owner_phone,omitempty" db:"owner_phone"`
	OwnerEmail string `json:"owner_email,omitempty" db:"owner_email"`

	ArchivedAt *time.Time `json:"archived_at,omitempty" db:"archived_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Validate 校验规则匹配所依赖的字段
// 字段缺失直接报错，不能当作"没有到期项"处理
func (v *Vehicle) Validate() error {
	if v == nil {
		return &ValidationError{Field: "vehicle", Reason: "is nil"}
	}
	if strings.TrimSpace(v.ID) == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if strings.TrimSpace(v.Make) == "" {
		return &ValidationError{VehicleID: v.ID, Field: "make", Reason: "is required"}
	}
	if strings.TrimSpace(v.Model) == "" {
		return &ValidationError{VehicleID: v.ID, Field: "model", Reason: "is required"}
	}
	if v.Year == 0 {
		return &ValidationError{VehicleID: v.ID, Field: "year", Reason: "is required"}
	}
	if v.Year < 1900 || v.Year > 2100 {
		return &ValidationError{VehicleID: v.ID, Field: "year", Reason: "is out of range"}
	}
	if v.CurrentMileage < 0 {
		return &ValidationError{VehicleID: v.ID, Field: "current_mileage", Reason: "must not be negative"}
	}
	if v.IntakeMileage < 0 || v.IntakeMileage > v.CurrentMileage {
		return &ValidationError{VehicleID: v.ID, Field: "intake_mileage", Reason: "must be between 0 and current_mileage"}
	}
	if v.IntakeAt.IsZero() {
		return &ValidationError{VehicleID: v.ID, Field: "intake_at", Reason: "is required"}
	}
	if !v.FuelType.Valid() {
		return &ValidationError{VehicleID: v.ID, Field: "fuel_type", Reason: "is unknown"}
	}
	return nil
}

// IsArchived 是否已软归档
func (v *Vehicle) IsArchived() bool {
	return v.ArchivedAt != nil
}
