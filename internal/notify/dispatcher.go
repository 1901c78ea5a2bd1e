package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/masslabs/passport/internal/config"
	"github.com/masslabs/passport/internal/models"
	"github.com/masslabs/passport/internal/state"
)

// Outcome 单条提醒的处理结果
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

const (
	persistTimeout   = 5 * time.Second
	persistRetries   = 3
	errNoDeliverable = "no deliverable channel"
)

// ReminderStore 提醒读写，UpdateReminder 为版本号 CAS
type ReminderStore interface {
	GetReminder(ctx context.Context, id string) (*models.ReminderItem, error)
	UpdateReminder(ctx context.Context, item *models.ReminderItem, expectedVersion int64) error
}

// VehicleLookup 查询车辆（收件人信息）
type VehicleLookup interface {
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
}

// Options 发送参数
type Options struct {
	Workers       int
	Timeout       time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffMax    time.Duration
	DedupWindow   time.Duration
}

// OptionsFromConfig 从配置构建发送参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:       cfg.DispatchWorkers,
		Timeout:       cfg.SendTimeout,
		MaxAttempts:   cfg.SendMaxAttempts,
		BackoffBase:   cfg.SendBackoffBase,
		BackoffFactor: cfg.SendBackoffFactor,
		BackoffMax:    cfg.SendBackoffMax,
		DedupWindow:   cfg.DedupWindow,
	}
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = 1
	}
	return o
}

// Backoff 第 n 次重试前的等待时间：base * factor^(n-1)，不超过 max
func (o Options) Backoff(n int) time.Duration {
	if n < 1 || o.BackoffBase <= 0 {
		return 0
	}
	d := float64(o.BackoffBase) * math.Pow(o.BackoffFactor, float64(n-1))
	if o.BackoffMax > 0 && d > float64(o.BackoffMax) {
		return o.BackoffMax
	}
	return time.Duration(d)
}

// Result 单条提醒的发送结果
type Result struct {
	ReminderID string                `json:"reminder_id"`
	VehicleID  string                `json:"vehicle_id"`
	Trigger    models.TriggerType    `json:"trigger_type"`
	Outcome    Outcome               `json:"outcome"`
	Reason     string                `json:"reason,omitempty"`
	Channels   []models.Channel      `json:"channels,omitempty"`
	Attempts   int                   `json:"attempts"`
	Status     models.ReminderStatus `json:"status,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// DispatchReport 一次发送的汇总
type DispatchReport struct {
	Total   int      `json:"total"`
	Sent    int      `json:"sent"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

// Dispatcher 提醒发送器
type Dispatcher struct {
	logger   *zap.Logger
	opts     Options
	gateways map[models.Channel]Gateway
	store    ReminderStore
	vehicles VehicleLookup
	renderer *Renderer
	guard    Guard

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	onUpdate func(item models.ReminderItem)
}

// NewDispatcher 创建发送器，guard 为 nil 时使用进程内锁
func NewDispatcher(
	logger *zap.Logger,
	opts Options,
	gateways map[models.Channel]Gateway,
	store ReminderStore,
	vehicles VehicleLookup,
	renderer *Renderer,
	guard Guard,
) *Dispatcher {
	if guard == nil {
		guard = NewMemoryGuard()
	}
	return &Dispatcher{
		logger:   logger,
		opts:     opts.withDefaults(),
		gateways: gateways,
		store:    store,
		vehicles: vehicles,
		renderer: renderer,
		guard:    guard,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// OnUpdate 提醒状态写入成功后的回调（用于 WebSocket 推送）
func (d *Dispatcher) OnUpdate(fn func(item models.ReminderItem)) {
	d.onUpdate = fn
}

// Dispatch 按队列顺序发送，单条失败不影响其他提醒
func (d *Dispatcher) Dispatch(ctx context.Context, queue []models.ReminderItem) DispatchReport {
	results := make([]Result, len(queue))

	var g errgroup.Group
	g.SetLimit(d.opts.Workers)

	for i := range queue {
		i := i
		item := queue[i]
		if ctx.Err() != nil {
			results[i] = skipped(&item, "cancelled")
			continue
		}
		g.Go(func() error {
			results[i] = d.dispatchOne(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	report := DispatchReport{Total: len(queue), Results: results}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeSent:
			report.Sent++
		case OutcomeFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}

	d.logger.Info("Dispatch finished",
		zap.Int("total", report.Total),
		zap.Int("sent", report.Sent),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report
}

func (d *Dispatcher) dispatchOne(ctx context.Context, queued models.ReminderItem) Result {
	log := d.logger.With(
		zap.String("reminder_id", queued.ID),
		zap.String("vehicle_id", queued.VehicleID),
		zap.String("trigger", string(queued.Trigger)),
	)

	item, err := d.store.GetReminder(ctx, queued.ID)
	if err != nil {
		if errors.Is(err, models.ErrReminderNotFound) {
			return skipped(&queued, "not found")
		}
		log.Warn("Failed to load reminder", zap.Error(err))
		return failed(&queued, err)
	}

	now := d.now()
	switch {
	case !item.Status.IsActive():
		return skipped(item, "status "+string(item.Status))
	case item.NotifiedWithin(d.opts.DedupWindow, now):
		return skipped(item, "notified within dedup window")
	case now.Before(item.EligibleAt):
		return skipped(item, "not eligible yet")
	}

	lockKey := item.Key().String()
	ok, err := d.guard.Acquire(ctx, lockKey, d.opts.DedupWindow)
	if err != nil {
		log.Warn("Dedup lock unavailable, skipping", zap.Error(err))
		return skipped(item, "dedup lock unavailable")
	}
	if !ok {
		return skipped(item, "dedup lock held")
	}
	release := func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := d.guard.Release(rctx, lockKey); err != nil {
			log.Warn("Failed to release dedup lock", zap.Error(err))
		}
	}

	v, err := d.vehicles.GetVehicle(ctx, item.VehicleID)
	if err != nil {
		release()
		log.Warn("Failed to load vehicle for reminder", zap.Error(err))
		return failed(item, err)
	}
	msg, err := d.renderer.Render(item, v)
	if err != nil {
		release()
		log.Error("Failed to render reminder", zap.Error(err))
		return failed(item, err)
	}

	targets := d.targets(item, v, log)
	delivered, attempts, sendErr := d.deliver(ctx, targets, msg, log)

	if len(delivered) == 0 && ctx.Err() != nil {
		release()
		return skipped(item, "cancelled")
	}

	base := *item
	event := state.EventNotify
	if len(delivered) == 0 {
		event = state.EventFail
		release()
	}
	apply := func(it *models.ReminderItem) error {
		if err := state.Apply(it, event); err != nil {
			return err
		}
		it.Attempts += attempts
		it.UpdatedAt = now
		if event == state.EventNotify {
			it.LastNotifiedAt = &now
		}
		switch {
		case len(targets) == 0:
			it.LastError = errNoDeliverable
		case sendErr != nil:
			it.LastError = sendErr.Error()
		default:
			it.LastError = ""
		}
		return nil
	}

	saved, err := d.persist(ctx, &base, apply)
	if err != nil {
		log.Error("Failed to persist reminder after dispatch", zap.Error(err))
		return Result{
			ReminderID: item.ID,
			VehicleID:  item.VehicleID,
			Trigger:    item.Trigger,
			Outcome:    OutcomeFailed,
			Channels:   delivered,
			Attempts:   attempts,
			Status:     item.Status,
			Error:      err.Error(),
		}
	}

	res := Result{
		ReminderID: saved.ID,
		VehicleID:  saved.VehicleID,
		Trigger:    saved.Trigger,
		Outcome:    OutcomeSent,
		Channels:   delivered,
		Attempts:   attempts,
		Status:     saved.Status,
		Error:      saved.LastError,
	}
	if len(delivered) == 0 {
		res.Outcome = OutcomeFailed
		log.Warn("Reminder delivery failed", zap.Int("attempts", attempts), zap.String("error", saved.LastError))
	} else {
		log.Info("Reminder sent", zap.String("channels", channelNames(delivered)))
	}
	return res
}

type target struct {
	channel models.Channel
	address string
	gateway Gateway
}

func (d *Dispatcher) targets(item *models.ReminderItem, v *models.Vehicle, log *zap.Logger) []target {
	var out []target
	for _, ch := range item.Channel.Targets() {
		gw, ok := d.gateways[ch]
		if !ok || gw == nil {
			log.Warn("No gateway configured for channel", zap.String("channel", string(ch)))
			continue
		}
		addr, err := AddressFor(v, ch)
		if err != nil {
			log.Warn("Owner has no address for channel", zap.String("channel", string(ch)))
			continue
		}
		out = append(out, target{channel: ch, address: addr, gateway: gw})
	}
	return out
}

// deliver 按渠道发送并重试，重试只针对尚未成功的渠道
func (d *Dispatcher) deliver(ctx context.Context, targets []target, msg Message, log *zap.Logger) ([]models.Channel, int, error) {
	var (
		delivered []models.Channel
		lastErr   error
		attempts  int
	)
	remaining := targets

	for n := 1; n <= d.opts.MaxAttempts && len(remaining) > 0; n++ {
		if n > 1 {
			if err := d.sleep(ctx, d.opts.Backoff(n-1)); err != nil {
				break
			}
		}
		attempts++

		var retry []target
		for _, t := range remaining {
			actx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
			err := t.gateway.Send(actx, t.address, msg)
			cancel()
			if err != nil {
				lastErr = fmt.Errorf("%s: %w", t.channel, err)
				retry = append(retry, t)
				log.Debug("Send attempt failed",
					zap.Int("attempt", n),
					zap.String("channel", string(t.channel)),
					zap.Error(err),
				)
				continue
			}
			delivered = append(delivered, t.channel)
		}
		remaining = retry
		if ctx.Err() != nil {
			break
		}
	}

	if len(remaining) == 0 {
		lastErr = nil
	}
	return delivered, attempts, lastErr
}

// persist 写回提醒；版本冲突时重新读取并在最新版本上重放
func (d *Dispatcher) persist(ctx context.Context, item *models.ReminderItem, apply func(*models.ReminderItem) error) (*models.ReminderItem, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	cur := item
	for i := 0; i < persistRetries; i++ {
		next := *cur
		if err := apply(&next); err != nil {
			return nil, err
		}
		err := d.store.UpdateReminder(pctx, &next, cur.Version)
		if err == nil {
			if d.onUpdate != nil {
				d.onUpdate(next)
			}
			return &next, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return nil, fmt.Errorf("update reminder: %w", err)
		}

		latest, err := d.store.GetReminder(pctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("reload reminder: %w", err)
		}
		if !latest.Status.IsOpen() {
			return nil, fmt.Errorf("reminder %s closed concurrently: %w", item.ID, models.ErrVersionConflict)
		}
		cur = latest
	}
	return nil, fmt.Errorf("update reminder %s: %w", item.ID, models.ErrVersionConflict)
}

func skipped(item *models.ReminderItem, reason string) Result {
	return Result{
		ReminderID: item.ID,
		VehicleID:  item.VehicleID,
		Trigger:    item.Trigger,
		Outcome:    OutcomeSkipped,
		Reason:     reason,
		Status:     item.Status,
	}
}

func failed(item *models.ReminderItem, err error) Result {
	return Result{
		ReminderID: item.ID,
		VehicleID:  item.VehicleID,
		Trigger:    item.Trigger,
		Outcome:    OutcomeFailed,
		Status:     item.Status,
		Error:      err.Error(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func channelNames(chs []models.Channel) string {
	names := make([]string, len(chs))
	for i, ch := range chs {
		names[i] = string(ch)
	}
	return strings.Join(names, ",")
}
