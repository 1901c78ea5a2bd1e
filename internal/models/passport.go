package models

import "time"

// PassportVehicle 护照中公开的车辆信息
type PassportVehicle struct {
	Make         string   `json:"make"`
	Model        string   `json:"model"`
	Year         int      `json:"year"`
	LicensePlate string   `json:"license_plate,omitempty"`
	Color        string   `json:"color,omitempty"`
	FuelType     FuelType `json:"fuel_type,omitempty"`
	VINMasked    string   `json:"vin,omitempty"`
	Mileage      int64    `json:"mileage"`
}

// VehiclePassport 车辆护照（只读投影，可公开分享）
type VehiclePassport struct {
	VehicleID      string               `json:"vehicle_id"`
	PassportID     string               `json:"passport_id"`
	URL            string               `json:"url"`
	Vehicle        PassportVehicle      `json:"vehicle"`
	ServiceHistory []ServiceRecord      `json:"service_history"`
	Documents      []ComplianceDocument `json:"documents"`
	Upcoming       []DueStatus          `json:"upcoming,omitempty"`
	VerifiedStatus bool                 `json:"verified_status"`
	GeneratedAt    time.Time            `json:"generated_at"`
}
