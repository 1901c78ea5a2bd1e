package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	"github.com/masslabs/passport/internal/models"
)

// 事件常量
const (
	EventNotify   = "notify"   // 发送成功
	EventEscalate = "escalate" // 按计划已超期
	EventFail     = "fail"     // 重试耗尽
	EventRequeue  = "requeue"  // 人工重新排队
	EventComplete = "complete" // 已完成保养/续期
)

var (
	statePending   = string(models.ReminderPending)
	stateSent      = string(models.ReminderSent)
	stateOverdue   = string(models.ReminderOverdue)
	stateFailed    = string(models.ReminderFailed)
	stateCompleted = string(models.ReminderCompleted)
)

// Machine 提醒状态机
type Machine struct {
	mu            sync.RWMutex
	reminderID    string
	fsm           *fsm.FSM
	onStateChange func(reminderID string, from, to models.ReminderStatus)
}

// NewMachine 创建状态机
func NewMachine(reminderID string, initial models.ReminderStatus, onStateChange func(reminderID string, from, to models.ReminderStatus)) *Machine {
	if initial == "" {
		initial = models.ReminderPending
	}

	m := &Machine{
		reminderID:    reminderID,
		onStateChange: onStateChange,
	}

	m.fsm = fsm.NewFSM(
		string(initial),
		fsm.Events{
			{Name: EventNotify, Src: []string{statePending, stateOverdue, stateSent}, Dst: stateSent},
			{Name: EventEscalate, Src: []string{statePending, stateSent}, Dst: stateOverdue},
			{Name: EventFail, Src: []string{statePending, stateOverdue, stateSent}, Dst: stateFailed},
			{Name: EventRequeue, Src: []string{stateFailed}, Dst: statePending},
			{Name: EventComplete, Src: []string{statePending, stateSent, stateOverdue, stateFailed}, Dst: stateCompleted},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(m.reminderID, models.ReminderStatus(e.Src), models.ReminderStatus(e.Dst))
				}
			},
		},
	)

	return m
}

// Current 当前状态
func (m *Machine) Current() models.ReminderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.ReminderStatus(m.fsm.Current())
}

// Trigger 触发事件
// 再次发送 (sent -> sent) 是合法的自环，不算错误
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			return fmt.Errorf("trigger event %s: %w", event, err)
		}
	}

	return nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// Apply 对提醒执行事件并写回状态
func Apply(item *models.ReminderItem, event string) error {
	return ApplyWithHook(item, event, nil)
}

// ApplyWithHook 同 Apply，状态变化时回调
func ApplyWithHook(item *models.ReminderItem, event string, onChange func(reminderID string, from, to models.ReminderStatus)) error {
	m := NewMachine(item.ID, item.Status, onChange)
	if err := m.Trigger(event); err != nil {
		return err
	}
	item.Status = m.Current()
	return nil
}

// Can 提醒当前状态下是否允许该事件
func Can(item *models.ReminderItem, event string) bool {
	return NewMachine(item.ID, item.Status, nil).CanTransition(event)
}

// IsInvalidTransition 当前状态不允许该事件
func IsInvalidTransition(err error) bool {
	var invalid fsm.InvalidEventError
	return errors.As(err, &invalid)
}
