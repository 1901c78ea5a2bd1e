package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/masslabs/passport/internal/models"
)

// BuildPassport 构建车辆护照
// 只保留已核验的服务记录；verifiedStatus 要求至少一条已核验记录且两份文件均未过期
func BuildPassport(v *models.Vehicle, records []models.ServiceRecord, now time.Time) models.VehiclePassport {
	verified := make([]models.ServiceRecord, 0, len(records))
	for _, r := range records {
		if r.VehicleID == v.ID && r.Verified {
			verified = append(verified, r)
		}
	}
	sortHistory(verified)

	docs := TrackDocuments(v, now)

	status := len(verified) > 0
	for _, d := range docs {
		if d.IsExpired {
			status = false
		}
	}

	return models.VehiclePassport{
		VehicleID:      v.ID,
		PassportID:     v.PassportID,
		Vehicle:        passportVehicle(v),
		ServiceHistory: verified,
		Documents:      docs,
		VerifiedStatus: status,
		GeneratedAt:    now,
	}
}

// BuildInternalPassport 内部视图，包含未核验记录；verifiedStatus 计算方式不变
func BuildInternalPassport(v *models.Vehicle, records []models.ServiceRecord, now time.Time) models.VehiclePassport {
	p := BuildPassport(v, records, now)

	all := make([]models.ServiceRecord, 0, len(records))
	for _, r := range records {
		if r.VehicleID == v.ID {
			all = append(all, r)
		}
	}
	sortHistory(all)
	p.ServiceHistory = all
	p.Vehicle.VINMasked = v.VIN
	return p
}

// PassportURL 公开分享链接
func PassportURL(baseURL, passportID string) string {
	return strings.TrimRight(baseURL, "/") + "/verify/" + passportID
}

// MaskVIN 只保留最后 6 位
func MaskVIN(vin string) string {
	vin = strings.TrimSpace(vin)
	if len(vin) <= 6 {
		return vin
	}
	return strings.Repeat("*", len(vin)-6) + vin[len(vin)-6:]
}

func passportVehicle(v *models.Vehicle) models.PassportVehicle {
	return models.PassportVehicle{
		Make:         v.Make,
		Model:        v.Model,
		Year:         v.Year,
		LicensePlate: v.LicensePlate,
		Color:        v.Color,
		FuelType:     v.FuelType,
		VINMasked:    MaskVIN(v.VIN),
		Mileage:      v.CurrentMileage,
	}
}

// 最新的在前
func sortHistory(records []models.ServiceRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].PerformedAt.Equal(records[j].PerformedAt) {
			return records[i].PerformedAt.After(records[j].PerformedAt)
		}
		return records[i].MileageAtService > records[j].MileageAtService
	})
}
