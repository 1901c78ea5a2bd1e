package engine

import (
	"math"
	"time"

	"github.com/masslabs/passport/internal/models"
)

// daysPerMonth 月间隔换算为天数时使用（仅用于超期比例）
const daysPerMonth = 30

// LeadWindow 提前提醒窗口
type LeadWindow struct {
	Distance int64 // km
	Days     int
}

// ComputeDueStatus 计算单条规则的到期状态
//
// 基准为该车最近一次完成此规则的服务记录（按 performedAt，其次里程）；
// 没有记录时使用接车时的里程与日期，不会推测历史保养。
// 里程与时间间隔同时存在时，任一达到即到期。
func ComputeDueStatus(rule models.MaintenanceRule, v *models.Vehicle, records []models.ServiceRecord, now time.Time, lead LeadWindow) models.DueStatus {
	st := models.DueStatus{
		RuleID:   rule.ID,
		Service:  rule.Service,
		Category: rule.Category,
		Severity: rule.Severity,
	}

	if last := lastFulfilling(rule.ID, v.ID, records); last != nil {
		st.Baseline = models.BaselineServiceRecord
		st.LastMileage = last.MileageAtService
		st.LastDate = last.PerformedAt
		st.LastRecordID = last.ID
	} else {
		st.Baseline = models.BaselineIntake
		st.LastMileage = v.IntakeMileage
		st.LastDate = v.IntakeAt
	}

	ratio := math.Inf(-1)

	if rule.HasDistance() {
		interval := *rule.IntervalDistance
		dueAt := st.LastMileage + interval
		remaining := dueAt - v.CurrentMileage
		st.DueAtMileage = &dueAt
		st.RemainingMileage = &remaining

		if remaining < 0 {
			st.IsPastDue = true
		}
		if remaining <= lead.Distance {
			st.IsDue = true
		}
		ratio = math.Max(ratio, float64(-remaining)/float64(interval))
	}

	if rule.HasDuration() {
		months := *rule.IntervalMonths
		dueAt := st.LastDate.AddDate(0, months, 0)
		remaining := DaysBetween(now, dueAt)
		st.DueAtDate = &dueAt
		st.RemainingDays = &remaining

		if remaining < 0 {
			st.IsPastDue = true
		}
		if remaining <= lead.Days {
			st.IsDue = true
		}
		ratio = math.Max(ratio, float64(-remaining)/float64(months*daysPerMonth))
	}

	if st.IsPastDue {
		st.IsDue = true
	}
	if !math.IsInf(ratio, -1) {
		st.OverdueRatio = ratio
	}

	return st
}

// ComputeAllDue 匹配规则并计算每条规则的到期状态，顺序与 MatchRules 一致
func ComputeAllDue(catalog RuleSource, v *models.Vehicle, records []models.ServiceRecord, now time.Time, lead LeadWindow) ([]models.DueStatus, error) {
	rules, err := MatchRules(catalog, v)
	if err != nil {
		return nil, err
	}

	out := make([]models.DueStatus, 0, len(rules))
	for _, r := range rules {
		out = append(out, ComputeDueStatus(r, v, records, now, lead))
	}
	return out, nil
}

// DaysBetween 向下取整的天数差 (to - from)
func DaysBetween(from, to time.Time) int {
	return int(math.Floor(to.Sub(from).Hours() / 24))
}

func lastFulfilling(ruleID, vehicleID string, records []models.ServiceRecord) *models.ServiceRecord {
	var last *models.ServiceRecord
	for i := range records {
		r := &records[i]
		if r.VehicleID != vehicleID || !r.Fulfils(ruleID) {
			continue
		}
		if last == nil ||
			r.PerformedAt.After(last.PerformedAt) ||
			(r.PerformedAt.Equal(last.PerformedAt) && r.MileageAtService > last.MileageAtService) {
			last = r
		}
	}
	return last
}
