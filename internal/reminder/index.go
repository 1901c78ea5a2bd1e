package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/masslabs/passport/internal/models"
	"github.com/masslabs/passport/internal/state"
)

// Index 未完成提醒的索引，键为 (vehicleId, triggerType, ruleId)
// 每个键最多一条未完成提醒；所有修改都是带版本号的比较替换
type Index struct {
	mu    sync.RWMutex
	byKey map[models.ReminderKey]*models.ReminderItem
	byID  map[string]models.ReminderKey
	done  map[string]models.ReminderItem
}

// Change 一次修改及修改前的版本号（持久化时用作 CAS 条件）
type Change struct {
	Item        models.ReminderItem
	PrevVersion int64
}

// MergeResult 一次聚合合并的结果
type MergeResult struct {
	Created   []models.ReminderItem
	Updated   []Change
	Completed []Change
}

// Changed 变更总数
func (r MergeResult) Changed() int {
	return len(r.Created) + len(r.Updated) + len(r.Completed)
}

// NewIndex 从现有提醒快照创建索引，已完成的提醒被忽略
// 同一个键出现多条未完成提醒时保留最近更新的一条
func NewIndex(existing []models.ReminderItem) *Index {
	ix := &Index{
		byKey: make(map[models.ReminderKey]*models.ReminderItem),
		byID:  make(map[string]models.ReminderKey),
		done:  make(map[string]models.ReminderItem),
	}
	for i := range existing {
		it := existing[i]
		if !it.Status.IsOpen() {
			continue
		}
		if cur, ok := ix.byKey[it.Key()]; ok && !it.UpdatedAt.After(cur.UpdatedAt) {
			continue
		}
		ix.put(&it)
	}
	return ix
}

// Len 未完成提醒数量
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byKey)
}

// ActiveCount 活跃 (pending/sent/overdue) 提醒数量
func (ix *Index) ActiveCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, it := range ix.byKey {
		if it.Status.IsActive() {
			n++
		}
	}
	return n
}

// Snapshot 按优先级排序的未完成提醒副本
func (ix *Index) Snapshot() []models.ReminderItem {
	ix.mu.RLock()
	out := make([]models.ReminderItem, 0, len(ix.byKey))
	for _, it := range ix.byKey {
		out = append(out, *it)
	}
	ix.mu.RUnlock()

	Sort(out)
	return out
}

// Lookup 按键查找未完成提醒
func (ix *Index) Lookup(key models.ReminderKey) (models.ReminderItem, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	it, ok := ix.byKey[key]
	if !ok {
		return models.ReminderItem{}, false
	}
	return *it, true
}

// Merge 将一次聚合产生的提醒合并进索引
//
// 已有同键提醒则原地更新（超期程度、到期点，未发送或发送时尚未超期的升级为 overdue），否则新建。
// processed 中的车辆若有未完成提醒本次未再产生，视为已完成；
// 未处理到的车辆（例如批处理被取消）保持不变。
func (ix *Index) Merge(produced []models.ReminderItem, processed []string, now time.Time) MergeResult {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var res MergeResult
	seen := make(map[models.ReminderKey]bool, len(produced))
	created := make(map[models.ReminderKey]int)

	for _, p := range produced {
		key := p.Key()
		seen[key] = true

		cur, ok := ix.byKey[key]
		if !ok {
			p.ID = uuid.NewString()
			p.Version = 1
			p.CreatedAt = now
			p.UpdatedAt = now
			ix.put(&p)
			created[key] = len(res.Created)
			res.Created = append(res.Created, p)
			continue
		}

		next := *cur
		refresh(&next, &p)
		// 发送时已超期的 sent 提醒保持 sent，由发送器在去重窗口后重发
		if p.Status == models.ReminderOverdue && (cur.Status == models.ReminderPending || !cur.IsPastDue()) &&
			state.Can(&next, state.EventEscalate) {
			_ = state.Apply(&next, state.EventEscalate)
		}
		if sameItem(cur, &next) {
			continue
		}

		next.UpdatedAt = now
		if i, fresh := created[key]; fresh {
			ix.put(&next)
			res.Created[i] = next
			continue
		}
		prev := cur.Version
		next.Version = prev + 1
		ix.put(&next)
		res.Updated = append(res.Updated, Change{Item: next, PrevVersion: prev})
	}

	done := make(map[string]bool, len(processed))
	for _, id := range processed {
		done[id] = true
	}
	for key, cur := range ix.byKey {
		if !done[key.VehicleID] || seen[key] {
			continue
		}
		next := *cur
		if err := state.Apply(&next, state.EventComplete); err != nil {
			continue
		}
		completedAt := now
		next.CompletedAt = &completedAt
		next.UpdatedAt = now
		prev := cur.Version
		next.Version = prev + 1
		ix.remove(cur)
		ix.done[next.ID] = next
		res.Completed = append(res.Completed, Change{Item: next, PrevVersion: prev})
	}

	return res
}

// CompareAndSwap 当前版本等于 expected 时替换，新版本号为 expected+1
func (ix *Index) CompareAndSwap(next models.ReminderItem, expected int64) (models.ReminderItem, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	key, ok := ix.byID[next.ID]
	if !ok {
		if _, closed := ix.done[next.ID]; closed {
			return models.ReminderItem{}, models.ErrVersionConflict
		}
		return models.ReminderItem{}, models.ErrReminderNotFound
	}
	cur := ix.byKey[key]
	if cur.Version != expected {
		return models.ReminderItem{}, models.ErrVersionConflict
	}
	if next.Key() != key {
		return models.ReminderItem{}, models.ErrVersionConflict
	}

	next.Version = expected + 1
	if next.Status.IsOpen() {
		ix.put(&next)
	} else {
		ix.remove(cur)
		ix.done[next.ID] = next
	}
	return next, nil
}

// GetReminder 按 ID 获取（含已完成）
func (ix *Index) GetReminder(_ context.Context, id string) (*models.ReminderItem, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if key, ok := ix.byID[id]; ok {
		it := *ix.byKey[key]
		return &it, nil
	}
	if it, ok := ix.done[id]; ok {
		return &it, nil
	}
	return nil, models.ErrReminderNotFound
}

// UpdateReminder CAS 更新，成功后 item.Version 为新版本号
func (ix *Index) UpdateReminder(_ context.Context, item *models.ReminderItem, expectedVersion int64) error {
	next, err := ix.CompareAndSwap(*item, expectedVersion)
	if err != nil {
		return err
	}
	item.Version = next.Version
	return nil
}

func (ix *Index) put(it *models.ReminderItem) {
	cp := *it
	ix.byKey[cp.Key()] = &cp
	ix.byID[cp.ID] = cp.Key()
}

func (ix *Index) remove(it *models.ReminderItem) {
	delete(ix.byKey, it.Key())
	delete(ix.byID, it.ID)
}

// refresh 用新一轮的计算结果刷新调度相关字段，保留发送状态
func refresh(dst, src *models.ReminderItem) {
	dst.Service = src.Service
	dst.Severity = src.Severity
	dst.DueAtMileage = src.DueAtMileage
	dst.DueAtDate = src.DueAtDate
	dst.OverdueMagnitude = src.OverdueMagnitude
	dst.OverdueDistance = src.OverdueDistance
	dst.OverdueDays = src.OverdueDays
	dst.Channel = src.Channel
	if dst.EligibleAt.IsZero() {
		dst.EligibleAt = src.EligibleAt
	}
}

func sameItem(a, b *models.ReminderItem) bool {
	return a.Status == b.Status &&
		a.Service == b.Service &&
		a.Severity == b.Severity &&
		a.OverdueMagnitude == b.OverdueMagnitude &&
		a.Channel == b.Channel &&
		a.EligibleAt.Equal(b.EligibleAt) &&
		eqInt64(a.DueAtMileage, b.DueAtMileage) &&
		eqInt64(a.OverdueDistance, b.OverdueDistance) &&
		eqInt(a.OverdueDays, b.OverdueDays) &&
		eqTime(a.DueAtDate, b.DueAtDate)
}

func eqInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
