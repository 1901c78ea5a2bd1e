package reminder

import (
	"fmt"
	"time"

	"github.com/masslabs/passport/internal/engine"
	"github.com/masslabs/passport/internal/models"
)

// VehicleError 单辆车处理失败，不影响其他车辆
type VehicleError struct {
	VehicleID string
	Err       error
}

func (e VehicleError) Error() string {
	return fmt.Sprintf("vehicle %s: %v", e.VehicleID, e.Err)
}

func (e VehicleError) Unwrap() error {
	return e.Err
}

// BuildQueue 为一批车辆生成提醒，按优先级排序
// 已归档车辆跳过；字段非法的车辆记入错误列表，继续处理其他车辆
func BuildQueue(vehicles []models.Vehicle, catalog engine.RuleSource, records []models.ServiceRecord, now time.Time, policy Policy) ([]models.ReminderItem, []VehicleError) {
	byVehicle := GroupRecords(records)

	var (
		items []models.ReminderItem
		errs  []VehicleError
	)
	for i := range vehicles {
		v := &vehicles[i]
		if v.IsArchived() {
			continue
		}
		vi, err := BuildVehicle(v, catalog, byVehicle[v.ID], now, policy)
		if err != nil {
			errs = append(errs, VehicleError{VehicleID: v.ID, Err: err})
			continue
		}
		items = append(items, vi...)
	}

	Sort(items)
	return items, errs
}

// BuildVehicle 单辆车的提醒：每条到期规则一条，每份过期/即将过期的文件一条
// 纯函数，可并发调用
func BuildVehicle(v *models.Vehicle, catalog engine.RuleSource, records []models.ServiceRecord, now time.Time, policy Policy) ([]models.ReminderItem, error) {
	due, err := engine.ComputeAllDue(catalog, v, records, now, policy.Lead)
	if err != nil {
		return nil, err
	}

	slot := policy.NextSlot(now)
	var items []models.ReminderItem

	for _, d := range due {
		if !d.IsDue {
			continue
		}
		it := models.ReminderItem{
			OrgID:            v.OrgID,
			VehicleID:        v.ID,
			Trigger:          models.TriggerServiceDue,
			RuleID:           d.RuleID,
			Service:          d.Service,
			Severity:         d.Severity,
			DueAtMileage:     d.DueAtMileage,
			DueAtDate:        d.DueAtDate,
			OverdueMagnitude: d.OverdueRatio,
			Status:           models.ReminderPending,
			Channel:          policy.ChannelFor(models.TriggerServiceDue),
			EligibleAt:       slot,
		}
		if d.RemainingMileage != nil {
			over := -*d.RemainingMileage
			it.OverdueDistance = &over
		}
		if d.RemainingDays != nil {
			over := -*d.RemainingDays
			it.OverdueDays = &over
		}
		if d.IsPastDue {
			it.Status = models.ReminderOverdue
		}
		items = append(items, it)
	}

	for _, doc := range engine.TrackDocuments(v, now) {
		if !engine.NeedsAttention(doc) {
			continue
		}
		trigger := models.TriggerForDocument(doc.Type)
		it := models.ReminderItem{
			OrgID:            v.OrgID,
			VehicleID:        v.ID,
			Trigger:          trigger,
			Service:          documentService(doc.Type),
			Severity:         models.SeverityImportant,
			DueAtDate:        doc.ExpiryDate,
			OverdueMagnitude: engine.DocumentOverdue(doc),
			Status:           models.ReminderPending,
			Channel:          policy.ChannelFor(trigger),
			EligibleAt:       slot,
		}
		if doc.ExpiryDate != nil {
			over := -doc.DaysRemaining
			it.OverdueDays = &over
		}
		if doc.IsExpired {
			it.Severity = models.SeverityCritical
			it.Status = models.ReminderOverdue
		}
		items = append(items, it)
	}

	return items, nil
}

// GroupRecords 按车辆分组服务记录
func GroupRecords(records []models.ServiceRecord) map[string][]models.ServiceRecord {
	out := make(map[string][]models.ServiceRecord)
	for _, r := range records {
		out[r.VehicleID] = append(out[r.VehicleID], r)
	}
	return out
}

func documentService(d models.DocumentType) string {
	if d == models.DocumentInsurance {
		return "Insurance renewal"
	}
	return "Registration renewal"
}
