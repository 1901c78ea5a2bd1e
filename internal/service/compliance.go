package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/masslabs/passport/internal/catalog"
	"github.com/masslabs/passport/internal/models"
	"github.com/masslabs/passport/internal/notify"
	"github.com/masslabs/passport/internal/reminder"
	"github.com/masslabs/passport/internal/state"
	"github.com/masslabs/passport/pkg/ws"
)

// ErrBatchRunning 已有批处理在运行
var ErrBatchRunning = errors.New("batch already running")

const persistTimeout = 30 * time.Second

// Options 合规服务参数
type Options struct {
	Interval     time.Duration
	Workers      int
	AutoDispatch bool
}

// Event 推送给订阅者的事件
type Event struct {
	Type     string               `json:"type"`
	Reminder *models.ReminderItem `json:"reminder,omitempty"`
	Batch    *BatchReport         `json:"batch,omitempty"`
}

// BatchError 单辆车的失败
type BatchError struct {
	VehicleID string `json:"vehicle_id"`
	Error     string `json:"error"`
}

// BatchReport 一次批处理的结果
type BatchReport struct {
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Vehicles   int                    `json:"vehicles"`
	Processed  int                    `json:"processed"`
	Errors     []BatchError           `json:"errors,omitempty"`
	Created    int                    `json:"created"`
	Updated    int                    `json:"updated"`
	Completed  int                    `json:"completed"`
	Conflicts  int                    `json:"conflicts"`
	Open       int                    `json:"open"`
	Active     int                    `json:"active"`
	Cancelled  bool                   `json:"cancelled"`
	Dispatch   *notify.DispatchReport `json:"dispatch,omitempty"`
}

// ComplianceService 提醒聚合与编排：定时批处理 + 单车即时重算
type ComplianceService struct {
	logger     *zap.Logger
	opts       Options
	catalogs   *catalog.Set
	policy     reminder.Policy
	vehicles   VehicleStore
	records    ServiceRecordStore
	reminders  ReminderStore
	dispatcher Dispatcher
	hub        Broadcaster
	now        func() time.Time

	batchMu sync.Mutex

	mu          sync.RWMutex
	stopCh      chan struct{}
	wg          sync.WaitGroup
	subscribers []chan Event
	running     bool
	lastBatch   *BatchReport
}

// NewComplianceService 创建合规服务，dispatcher 和 hub 可以为 nil
func NewComplianceService(
	logger *zap.Logger,
	opts Options,
	catalogs *catalog.Set,
	policy reminder.Policy,
	vehicles VehicleStore,
	records ServiceRecordStore,
	reminders ReminderStore,
	dispatcher Dispatcher,
	hub Broadcaster,
) *ComplianceService {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	return &ComplianceService{
		logger:     logger,
		opts:       opts,
		catalogs:   catalogs,
		policy:     policy,
		vehicles:   vehicles,
		records:    records,
		reminders:  reminders,
		dispatcher: dispatcher,
		hub:        hub,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// Catalogs 规则目录集合
func (s *ComplianceService) Catalogs() *catalog.Set {
	return s.catalogs
}

// Policy 发送策略
func (s *ComplianceService) Policy() reminder.Policy {
	return s.policy
}

// Start 启动定时批处理
func (s *ComplianceService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Compliance service already running, skipping start")
		return nil
	}
	s.stopCh = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting compliance service", zap.Duration("interval", s.opts.Interval))

	s.wg.Add(1)
	go s.batchLoop(ctx)
	return nil
}

// Stop 停止定时批处理，正在运行的批处理会被取消
func (s *ComplianceService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping compliance service")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Compliance service stopped")
}

// Subscribe 订阅提醒变更
func (s *ComplianceService) Subscribe() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, 64)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// LastBatch 最近一次批处理结果
func (s *ComplianceService) LastBatch() *BatchReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastBatch
}

func (s *ComplianceService) batchLoop(parent context.Context) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	// 启动时立即执行一次
	s.runScheduled(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScheduled(ctx)
		}
	}
}

func (s *ComplianceService) runScheduled(ctx context.Context) {
	if _, err := s.RunBatch(ctx); err != nil && !errors.Is(err, ErrBatchRunning) {
		s.logger.Error("Scheduled batch failed", zap.Error(err))
	}
}

type vehicleOutcome struct {
	done  bool
	items []models.ReminderItem
	err   error
}

// RunBatch 对所有未归档车辆重算提醒队列并持久化
// 取消时只提交已处理完的车辆，未处理车辆的提醒保持不变
func (s *ComplianceService) RunBatch(ctx context.Context) (*BatchReport, error) {
	if !s.batchMu.TryLock() {
		return nil, ErrBatchRunning
	}
	defer s.batchMu.Unlock()

	now := s.now()
	report := &BatchReport{StartedAt: now}

	vehicles, err := s.vehicles.ListActive(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	ids := make([]string, len(vehicles))
	for i := range vehicles {
		ids[i] = vehicles[i].ID
	}
	records, err := s.records.ListForVehicles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list service records: %w", err)
	}
	open, err := s.reminders.ListOpen(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list open reminders: %w", err)
	}
	report.Vehicles = len(vehicles)

	byVehicle := reminder.GroupRecords(records)
	outcomes := make([]vehicleOutcome, len(vehicles))

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i := range vehicles {
		i := i
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			v := &vehicles[i]
			items, err := reminder.BuildVehicle(v, s.catalogs.For(v.OrgID), byVehicle[v.ID], now, s.policy)
			outcomes[i] = vehicleOutcome{done: true, items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		produced  []models.ReminderItem
		processed []string
	)
	for i, o := range outcomes {
		if !o.done {
			continue
		}
		if o.err != nil {
			s.logger.Warn("Skipping vehicle in batch", zap.String("vehicle_id", vehicles[i].ID), zap.Error(o.err))
			report.Errors = append(report.Errors, BatchError{VehicleID: vehicles[i].ID, Error: o.err.Error()})
			continue
		}
		produced = append(produced, o.items...)
		processed = append(processed, vehicles[i].ID)
	}
	report.Processed = len(processed)
	report.Cancelled = ctx.Err() != nil

	ix := reminder.NewIndex(open)
	merged := ix.Merge(produced, processed, now)

	// 已处理车辆的结果即使在取消后也要提交
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	s.persist(pctx, merged, report)
	report.Open = ix.Len()
	report.Active = ix.ActiveCount()

	if s.opts.AutoDispatch && s.dispatcher != nil && ctx.Err() == nil {
		queue := reminder.Filter(ix.Snapshot(), models.ReminderPending, models.ReminderOverdue, models.ReminderSent)
		dr := s.dispatcher.Dispatch(ctx, queue)
		report.Dispatch = &dr
	}

	report.FinishedAt = s.now()
	s.mu.Lock()
	s.lastBatch = report
	s.mu.Unlock()

	s.logger.Info("Batch finished",
		zap.Int("vehicles", report.Vehicles),
		zap.Int("processed", report.Processed),
		zap.Int("errors", len(report.Errors)),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("completed", report.Completed),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("active", report.Active),
		zap.Bool("cancelled", report.Cancelled),
	)
	s.publish("", Event{Type: ws.MsgTypeBatchComplete, Batch: report})
	return report, nil
}

// RecomputeVehicle 单车即时重算（新增服务记录、更新里程或续期后调用）
func (s *ComplianceService) RecomputeVehicle(ctx context.Context, vehicleID string) ([]models.ReminderItem, error) {
	v, err := s.vehicles.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	records, err := s.records.ListByVehicle(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("list service records: %w", err)
	}
	open, err := s.reminders.ListOpenByVehicle(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("list open reminders: %w", err)
	}

	now := s.now()
	var produced []models.ReminderItem
	if !v.IsArchived() {
		produced, err = reminder.BuildVehicle(v, s.catalogs.For(v.OrgID), records, now, s.policy)
		if err != nil {
			return nil, err
		}
	}

	ix := reminder.NewIndex(open)
	merged := ix.Merge(produced, []string{vehicleID}, now)

	report := &BatchReport{}
	s.persist(ctx, merged, report)
	if report.Conflicts > 0 {
		s.logger.Warn("Recompute hit version conflicts", zap.String("vehicle_id", vehicleID), zap.Int("conflicts", report.Conflicts))
	}

	s.logger.Debug("Recomputed vehicle reminders",
		zap.String("vehicle_id", vehicleID),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("completed", report.Completed),
	)
	return ix.Snapshot(), nil
}

// persist 写入合并结果；版本冲突只记录，下一次批处理会重新收敛
func (s *ComplianceService) persist(ctx context.Context, merged reminder.MergeResult, report *BatchReport) {
	for i := range merged.Created {
		it := merged.Created[i]
		if err := s.reminders.Insert(ctx, &it); err != nil {
			s.persistFailed(report, &it, err)
			continue
		}
		report.Created++
		s.publish(it.OrgID, Event{Type: ws.MsgTypeReminderUpdate, Reminder: &it})
	}

	for _, group := range []struct {
		changes []reminder.Change
		count   *int
	}{
		{merged.Updated, &report.Updated},
		{merged.Completed, &report.Completed},
	} {
		for _, ch := range group.changes {
			it := ch.Item
			if err := s.reminders.UpdateReminder(ctx, &it, ch.PrevVersion); err != nil {
				s.persistFailed(report, &it, err)
				continue
			}
			*group.count++
			s.publish(it.OrgID, Event{Type: ws.MsgTypeReminderUpdate, Reminder: &it})
		}
	}
}

func (s *ComplianceService) persistFailed(report *BatchReport, it *models.ReminderItem, err error) {
	if errors.Is(err, models.ErrVersionConflict) || errors.Is(err, models.ErrDuplicateReminder) {
		report.Conflicts++
		s.logger.Info("Reminder changed concurrently, will reconcile next run",
			zap.String("reminder_id", it.ID),
			zap.String("key", it.Key().String()),
		)
		return
	}
	s.logger.Error("Failed to persist reminder", zap.String("reminder_id", it.ID), zap.Error(err))
	report.Errors = append(report.Errors, BatchError{VehicleID: it.VehicleID, Error: err.Error()})
}

// ListReminders 按优先级排序的提醒；未指定状态时返回所有未完成提醒
func (s *ComplianceService) ListReminders(ctx context.Context, orgID string, statuses ...models.ReminderStatus) ([]models.ReminderItem, error) {
	var (
		items []models.ReminderItem
		err   error
	)
	if len(statuses) == 0 {
		items, err = s.reminders.ListOpen(ctx, orgID)
	} else {
		items, err = s.reminders.ListByStatus(ctx, orgID, statuses)
	}
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.ReminderItem{}
	}
	reminder.Sort(items)
	return items, nil
}

// Requeue 人工将 failed 提醒重新排队，立即可发送
func (s *ComplianceService) Requeue(ctx context.Context, orgID, reminderID string) (*models.ReminderItem, error) {
	it, err := s.reminders.GetReminder(ctx, reminderID)
	if err != nil {
		return nil, err
	}
	if orgID != "" && it.OrgID != orgID {
		return nil, models.ErrReminderNotFound
	}

	prev := it.Version
	if err := state.Apply(it, state.EventRequeue); err != nil {
		return nil, fmt.Errorf("requeue reminder %s: %w", reminderID, err)
	}
	now := s.now()
	it.EligibleAt = now
	it.LastError = ""
	it.UpdatedAt = now

	if err := s.reminders.UpdateReminder(ctx, it, prev); err != nil {
		return nil, err
	}
	s.publish(it.OrgID, Event{Type: ws.MsgTypeReminderUpdate, Reminder: it})
	return it, nil
}

// DispatchNow 立即发送租户的活跃提醒
func (s *ComplianceService) DispatchNow(ctx context.Context, orgID string) (*notify.DispatchReport, error) {
	if s.dispatcher == nil {
		return nil, errors.New("no dispatcher configured")
	}
	queue, err := s.ListReminders(ctx, orgID, models.ReminderPending, models.ReminderOverdue, models.ReminderSent)
	if err != nil {
		return nil, err
	}
	report := s.dispatcher.Dispatch(ctx, queue)
	return &report, nil
}

// OnReminderUpdate 发送器写回提醒后调用
func (s *ComplianceService) OnReminderUpdate(it models.ReminderItem) {
	s.publish(it.OrgID, Event{Type: ws.MsgTypeReminderUpdate, Reminder: &it})
}

func (s *ComplianceService) publish(orgID string, ev Event) {
	s.mu.RLock()
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// 跳过慢消费者
		}
	}
	s.mu.RUnlock()

	if s.hub == nil {
		return
	}
	switch {
	case ev.Reminder != nil:
		s.hub.BroadcastReminderUpdate(orgID, ev.Reminder)
	case ev.Batch != nil:
		s.hub.BroadcastMessage(orgID, ev.Type, ev.Batch)
	}
}
