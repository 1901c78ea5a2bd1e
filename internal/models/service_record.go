package models

import "time"

// ServiceKind 服务记录类型
type ServiceKind string

const (
	ServiceRuleBased ServiceKind = "rule-based" // 对应目录规则
	ServiceFreeform  ServiceKind = "freeform"   // 临时服务，不关联规则
)

// ServiceRecord 服务记录（只追加，写入后仅 verified 可修改）
type ServiceRecord struct {
	ID               string     `json:"id" db:"id"`
	OrgID            string     `json:"org_id" db:"org_id"`
	VehicleID        string     `json:"vehicle_id" db:"vehicle_id"`
	RuleID           *string    `json:"rule_id,omitempty" db:"rule_id"`
	PerformedAt      time.Time  `json:"performed_at" db:"performed_at"`
	MileageAtService int64      `json:"mileage_at_service" db:"mileage_at_service"`
	Description      string     `json:"description" db:"description"`
	Technician       string     `json:"technician,omitempty" db:"technician"`
	Verified         bool       `json:"verified" db:"verified"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	VerifiedBy       string     `json:"verified_by,omitempty" db:"verified_by"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// Kind 记录类型
func (r *ServiceRecord) Kind() ServiceKind {
	if r.RuleID == nil || *r.RuleID == "" {
		return ServiceFreeform
	}
	return ServiceRuleBased
}

// Fulfils 是否完成了指定规则（临时服务永远返回 false）
func (r *ServiceRecord) Fulfils(ruleID string) bool {
	return r.Kind() == ServiceRuleBased && *r.RuleID == ruleID
}

// RuleRef 规则 ID，临时服务为空
func (r *ServiceRecord) RuleRef() string {
	if r.RuleID == nil {
		return ""
	}
	return *r.RuleID
}
