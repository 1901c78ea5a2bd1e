package reminder

import (
	"sort"

	"github.com/masslabs/passport/internal/models"
)

// Less 优先级：严重程度降序，超期程度降序，车辆 ID 升序，再按触发类型与规则 ID
func Less(a, b *models.ReminderItem) bool {
	if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
		return ra > rb
	}
	if a.OverdueMagnitude != b.OverdueMagnitude {
		return a.OverdueMagnitude > b.OverdueMagnitude
	}
	if a.VehicleID != b.VehicleID {
		return a.VehicleID < b.VehicleID
	}
	if a.Trigger != b.Trigger {
		return a.Trigger < b.Trigger
	}
	return a.RuleID < b.RuleID
}

// Sort 按优先级原地排序
func Sort(items []models.ReminderItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return Less(&items[i], &items[j])
	})
}

// Filter 按状态过滤，statuses 为空时返回全部
func Filter(items []models.ReminderItem, statuses ...models.ReminderStatus) []models.ReminderItem {
	if len(statuses) == 0 {
		return items
	}
	out := make([]models.ReminderItem, 0, len(items))
	for _, it := range items {
		for _, s := range statuses {
			if it.Status == s {
				out = append(out, it)
				break
			}
		}
	}
	return out
}
