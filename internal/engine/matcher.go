package engine

import (
	"sort"

	"github.com/masslabs/passport/internal/models"
)

// RuleSource 规则来源（*catalog.RuleCatalog 实现）
type RuleSource interface {
	Rules() []models.MaintenanceRule
}

// MatchRules 返回适用于车辆的规则
// 车辆字段非法时返回 ValidationError；没有匹配不是错误，返回空列表
// 结果按里程间隔升序（无里程间隔的排最后），相同时按规则 ID
func MatchRules(catalog RuleSource, v *models.Vehicle) ([]models.MaintenanceRule, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	matched := make([]models.MaintenanceRule, 0)
	for _, r := range catalog.Rules() {
		if RuleAdmits(&r, v) {
			matched = append(matched, r)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		switch {
		case a.HasDistance() && b.HasDistance():
			if *a.IntervalDistance != *b.IntervalDistance {
				return *a.IntervalDistance < *b.IntervalDistance
			}
		case a.HasDistance() != b.HasDistance():
			return a.HasDistance()
		}
		return a.ID < b.ID
	})

	return matched, nil
}

// RuleAdmits 规则是否适用于车辆：品牌、车型、年份、燃料类型同时满足
// 品牌和车型的通配互相独立
func RuleAdmits(r *models.MaintenanceRule, v *models.Vehicle) bool {
	if !r.Make.Admits(v.Make) || !r.Model.Admits(v.Model) {
		return false
	}
	if v.Year < r.YearFrom || v.Year > r.YearTo {
		return false
	}
	if r.FuelType != "" && r.FuelType != v.FuelType {
		return false
	}
	return true
}
