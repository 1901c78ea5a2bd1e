package models

import "time"

// TriggerType 提醒触发类型
type TriggerType string

const (
	TriggerServiceDue         TriggerType = "service-due"
	TriggerRegistrationExpiry TriggerType = "registration-expiry"
	TriggerInsuranceExpiry    TriggerType = "insurance-expiry"
)

func (t TriggerType) Valid() bool {
	switch t {
	case TriggerServiceDue, TriggerRegistrationExpiry, TriggerInsuranceExpiry:
		return true
	}
	return false
}

// TriggerForDocument 合规文件对应的触发类型
func TriggerForDocument(d DocumentType) TriggerType {
	if d == DocumentInsurance {
		return TriggerInsuranceExpiry
	}
	return TriggerRegistrationExpiry
}

// ReminderStatus 提醒状态
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderOverdue   ReminderStatus = "overdue"
	ReminderFailed    ReminderStatus = "failed" // 重试耗尽，进入人工处理队列
	ReminderCompleted ReminderStatus = "completed"
)

// IsActive pending/sent/overdue 为活跃状态，同一 key 最多一条
func (s ReminderStatus) IsActive() bool {
	return s == ReminderPending || s == ReminderSent || s == ReminderOverdue
}

// IsOpen 尚未完成（含 failed）
func (s ReminderStatus) IsOpen() bool {
	return s.IsActive() || s == ReminderFailed
}

func (s ReminderStatus) Valid() bool {
	return s.IsOpen() || s == ReminderCompleted
}

// Channel 发送渠道
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelBoth  Channel = "both"
)

// Targets 实际需要发送的渠道
func (c Channel) Targets() []Channel {
	switch c {
	case ChannelSMS:
		return []Channel{ChannelSMS}
	case ChannelEmail:
		return []Channel{ChannelEmail}
	case ChannelBoth:
		return []Channel{ChannelSMS, ChannelEmail}
	}
	return nil
}

// ReminderKey 去重键：(vehicleId, triggerType, ruleId)
type ReminderKey struct {
	VehicleID string      `json:"vehicle_id"`
	Trigger   TriggerType `json:"trigger_type"`
	RuleID    string      `json:"rule_id,omitempty"`
}

func (k ReminderKey) String() string {
	if k.RuleID == "" {
		return k.VehicleID + "/" + string(k.Trigger)
	}
	return k.VehicleID + "/" + string(k.Trigger) + "/" + k.RuleID
}

// ReminderItem 提醒条目
type ReminderItem struct {
	ID        string      `json:"id" db:"id"`
	OrgID     string      `json:"org_id" db:"org_id"`
	VehicleID string      `json:"vehicle_id" db:"vehicle_id"`
	Trigger   TriggerType `json:"trigger_type" db:"trigger_type"`
	RuleID    string      `json:"rule_id,omitempty" db:"rule_id"`
	Service   string      `json:"service,omitempty" db:"service"`
	Severity  Severity    `json:"severity" db:"severity"`

	DueAtMileage *int64     `json:"due_at_mileage,omitempty" db:"due_at_mileage"`
	DueAtDate    *time.Time `json:"due_at_date,omitempty" db:"due_at_date"`

	// OverdueMagnitude 归一化的超期程度，未到期为负，用于排序
	OverdueMagnitude float64 `json:"overdue_magnitude" db:"overdue_magnitude"`
	OverdueDistance  *int64  `json:"overdue_km,omitempty" db:"overdue_km"`
	OverdueDays      *int    `json:"overdue_days,omitempty" db:"overdue_days"`

	Status         ReminderStatus `json:"status" db:"status"`
	Channel        Channel        `json:"channel" db:"channel"`
	EligibleAt     time.Time      `json:"eligible_at" db:"eligible_at"`
	LastNotifiedAt *time.Time     `json:"last_notified_at,omitempty" db:"last_notified_at"`
	Attempts       int            `json:"attempts" db:"attempts"`
	LastError      string         `json:"last_error,omitempty" db:"last_error"`

	Version     int64      `json:"version" db:"version"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Key 去重键
func (r *ReminderItem) Key() ReminderKey {
	return ReminderKey{VehicleID: r.VehicleID, Trigger: r.Trigger, RuleID: r.RuleID}
}

// IsPastDue 是否已超期（相对于仅进入提醒窗口）
func (r *ReminderItem) IsPastDue() bool {
	return r.OverdueMagnitude > 0
}

// NotifiedWithin 是否在去重窗口内已发送
func (r *ReminderItem) NotifiedWithin(window time.Duration, now time.Time) bool {
	if r.LastNotifiedAt == nil || window <= 0 {
		return false
	}
	return now.Sub(*r.LastNotifiedAt) < window
}
