package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/masslabs/passport/internal/models"
	"github.com/masslabs/passport/internal/notify"
	"github.com/masslabs/passport/pkg/ws"
)

type memVehicles struct {
	mu sync.Mutex
	m  map[string]*models.Vehicle
}

func newMemVehicles(vs ...models.Vehicle) *memVehicles {
	s := &memVehicles{m: make(map[string]*models.Vehicle)}
	for i := range vs {
		v := vs[i]
		s.m[v.ID] = &v
	}
	return s
}

func (s *memVehicles) GetVehicle(_ context.Context, id string) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[id]
	if !ok {
		return nil, models.ErrVehicleNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *memVehicles) GetByPassportID(_ context.Context, passportID string) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.m {
		if v.PassportID == passportID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, models.ErrPassportNotFound
}

func (s *memVehicles) ListActive(_ context.Context, orgID string) ([]models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Vehicle
	for _, v := range s.m {
		if v.ArchivedAt == nil && (orgID == "" || v.OrgID == orgID) {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memVehicles) Create(_ context.Context, v *models.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[v.ID]; ok {
		return fmt.Errorf("insert vehicle: duplicate id %s", v.ID)
	}
	cp := *v
	s.m[v.ID] = &cp
	return nil
}

func (s *memVehicles) UpdateMileage(_ context.Context, id string, mileage int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[id]
	if !ok {
		return models.ErrVehicleNotFound
	}
	v.CurrentMileage = mileage
	v.MileageReadingAt = at
	return nil
}

func (s *memVehicles) UpdateDocumentExpiry(_ context.Context, id string, doc models.DocumentType, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[id]
	if !ok {
		return models.ErrVehicleNotFound
	}
	if doc == models.DocumentInsurance {
		v.InsuranceExpiry = &expiry
	} else {
		v.RegistrationExpiry = &expiry
	}
	return nil
}

type memRecords struct {
	mu   sync.Mutex
	list []models.ServiceRecord
	seq  int
}

func (s *memRecords) Create(_ context.Context, rec *models.ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		s.seq++
		rec.ID = fmt.Sprintf("rec-%d", s.seq)
	}
	s.list = append(s.list, *rec)
	return nil
}

func (s *memRecords) GetByID(_ context.Context, id string) (*models.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		if s.list[i].ID == id {
			cp := s.list[i]
			return &cp, nil
		}
	}
	return nil, models.ErrServiceRecordNotFound
}

func (s *memRecords) ListByVehicle(_ context.Context, vehicleID string) ([]models.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ServiceRecord
	for _, r := range s.list {
		if r.VehicleID == vehicleID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memRecords) ListForVehicles(_ context.Context, ids []string) ([]models.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.ServiceRecord
	for _, r := range s.list {
		if want[r.VehicleID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memRecords) Verify(_ context.Context, id, by string, at time.Time) (*models.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		if s.list[i].ID == id {
			s.list[i].Verified = true
			s.list[i].VerifiedAt = &at
			s.list[i].VerifiedBy = by
			cp := s.list[i]
			return &cp, nil
		}
	}
	return nil, models.ErrServiceRecordNotFound
}

// memReminders 与 ReminderRepository 语义一致：唯一未完成键 + 版本号 CAS
type memReminders struct {
	mu sync.Mutex
	m  map[string]models.ReminderItem
}

func newMemReminders() *memReminders {
	return &memReminders{m: make(map[string]models.ReminderItem)}
}

func (s *memReminders) Insert(_ context.Context, it *models.ReminderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.m {
		if cur.Status.IsOpen() && cur.Key() == it.Key() {
			return models.ErrDuplicateReminder
		}
	}
	s.m[it.ID] = *it
	return nil
}

func (s *memReminders) UpdateReminder(_ context.Context, it *models.ReminderItem, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[it.ID]
	if !ok {
		return models.ErrReminderNotFound
	}
	if cur.Version != expected {
		return models.ErrVersionConflict
	}
	it.Version = expected + 1
	s.m[it.ID] = *it
	return nil
}

func (s *memReminders) GetReminder(_ context.Context, id string) (*models.ReminderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.m[id]
	if !ok {
		return nil, models.ErrReminderNotFound
	}
	return &it, nil
}

func (s *memReminders) filter(keep func(models.ReminderItem) bool) []models.ReminderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReminderItem
	for _, it := range s.m {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func (s *memReminders) ListOpen(_ context.Context, orgID string) ([]models.ReminderItem, error) {
	return s.filter(func(it models.ReminderItem) bool {
		return it.Status.IsOpen() && (orgID == "" || it.OrgID == orgID)
	}), nil
}

func (s *memReminders) ListOpenByVehicle(_ context.Context, vehicleID string) ([]models.ReminderItem, error) {
	return s.filter(func(it models.ReminderItem) bool {
		return it.Status.IsOpen() && it.VehicleID == vehicleID
	}), nil
}

func (s *memReminders) ListByStatus(_ context.Context, orgID string, statuses []models.ReminderStatus) ([]models.ReminderItem, error) {
	return s.filter(func(it models.ReminderItem) bool {
		if orgID != "" && it.OrgID != orgID {
			return false
		}
		for _, st := range statuses {
			if it.Status == st {
				return true
			}
		}
		return false
	}), nil
}

func (s *memReminders) all() []models.ReminderItem {
	return s.filter(func(models.ReminderItem) bool { return true })
}

type recordingDispatcher struct {
	mu     sync.Mutex
	queues [][]models.ReminderItem
}

func (d *recordingDispatcher) Dispatch(_ context.Context, queue []models.ReminderItem) notify.DispatchReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues = append(d.queues, queue)
	return notify.DispatchReport{Total: len(queue), Skipped: len(queue)}
}

type broadcast struct {
	orgID   string
	msgType string
}

type recordingHub struct {
	mu   sync.Mutex
	msgs []broadcast
}

func (h *recordingHub) BroadcastMessage(orgID, msgType string, _ interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, broadcast{orgID: orgID, msgType: msgType})
}

func (h *recordingHub) BroadcastReminderUpdate(orgID string, reminder interface{}) {
	h.BroadcastMessage(orgID, ws.MsgTypeReminderUpdate, reminder)
}

func (h *recordingHub) count(msgType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.msgs {
		if m.msgType == msgType {
			n++
		}
	}
	return n
}
