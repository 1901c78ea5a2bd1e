package models

import "time"

// DocumentType 合规文件类型
type DocumentType string

const (
	DocumentRegistration DocumentType = "registration"
	DocumentInsurance    DocumentType = "insurance"
)

func (d DocumentType) Valid() bool {
	return d == DocumentRegistration || d == DocumentInsurance
}

// ComplianceDocument 合规文件状态（由车辆字段推导，不单独存储）
// 未设置到期日视为已过期
type ComplianceDocument struct {
	Type           DocumentType `json:"type"`
	ExpiryDate     *time.Time   `json:"expiry_date"`
	DaysRemaining  int          `json:"days_remaining"`
	IsExpiringSoon bool         `json:"is_expiring_soon"`
	IsExpired      bool         `json:"is_expired"`
}

// BaselineSource 到期计算的基准来源
type BaselineSource string

const (
	BaselineServiceRecord BaselineSource = "service-record"
	BaselineIntake        BaselineSource = "intake"
)

// DueStatus 单条规则的到期状态
type DueStatus struct {
	RuleID   string   `json:"rule_id"`
	Service  string   `json:"service"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`

	Baseline     BaselineSource `json:"baseline"`
	LastMileage  int64          `json:"last_mileage"`
	LastDate     time.Time      `json:"last_date"`
	LastRecordID string         `json:"last_record_id,omitempty"`

	DueAtMileage     *int64     `json:"due_at_mileage,omitempty"`
	DueAtDate        *time.Time `json:"due_at_date,omitempty"`
	RemainingMileage *int64     `json:"remaining_mileage,omitempty"`
	RemainingDays    *int       `json:"remaining_days,omitempty"`

	IsPastDue bool `json:"is_past_due"`
	// IsDue 已过期或进入提前提醒窗口
	IsDue bool `json:"is_due"`
	// OverdueRatio 超出间隔的比例，未到期为负
	OverdueRatio float64 `json:"overdue_ratio"`
}
