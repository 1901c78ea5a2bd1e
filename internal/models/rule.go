package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

type scopeKind uint8

const (
	scopeUnset scopeKind = iota
	scopeAny
	scopeSpecific
)

// Scope 规则的品牌/车型范围：通配 (ALL) 或指定名称
// 零值为未设置，目录加载时视为配置错误
type Scope struct {
	kind scopeKind
	name string
}

// AnyScope 通配范围
func AnyScope() Scope {
	return Scope{kind: scopeAny}
}

// SpecificScope 指定名称范围
func SpecificScope(name string) Scope {
	name = strings.TrimSpace(name)
	if name == "" {
		return Scope{}
	}
	return Scope{kind: scopeSpecific, name: name}
}

// ParseScope 解析目录中的范围字段，"ALL"、"All Models"、"All Makes"、"*" 视为通配
func ParseScope(s string) Scope {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return Scope{}
	case "all", "*", "all models", "all makes":
		return AnyScope()
	}
	return SpecificScope(s)
}

func (s Scope) IsSet() bool { return s.kind != scopeUnset }
func (s Scope) IsAny() bool { return s.kind == scopeAny }

// Name 指定名称，通配或未设置时为空
func (s Scope) Name() string {
	if s.kind != scopeSpecific {
		return ""
	}
	return s.name
}

// Admits 范围是否包含该值（忽略大小写与首尾空白）
func (s Scope) Admits(value string) bool {
	switch s.kind {
	case scopeAny:
		return true
	case scopeSpecific:
		return strings.EqualFold(s.name, strings.TrimSpace(value))
	}
	return false
}

func (s Scope) String() string {
	switch s.kind {
	case scopeAny:
		return "ALL"
	case scopeSpecific:
		return s.name
	}
	return ""
}

func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Scope) UnmarshalText(text []byte) error {
	*s = ParseScope(string(text))
	return nil
}

// Category 保养类别
type Category string

const (
	CategoryOil        Category = "oil"
	CategoryBrakes     Category = "brakes"
	CategoryTiming     Category = "timing"
	CategoryFilters    Category = "filters"
	CategoryFluids     Category = "fluids"
	CategoryInspection Category = "inspection"
	CategoryTires      Category = "tires"
	CategoryElectrical Category = "electrical"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryOil, CategoryBrakes, CategoryTiming, CategoryFilters,
		CategoryFluids, CategoryInspection, CategoryTires, CategoryElectrical:
		return true
	}
	return false
}

// Severity 紧急程度
type Severity string

const (
	SeverityRoutine   Severity = "routine"
	SeverityImportant Severity = "important"
	SeverityCritical  Severity = "critical"
)

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Rank 排序权重，critical 最高，未知为 0
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityImportant:
		return 2
	case SeverityRoutine:
		return 1
	}
	return 0
}

// MaintenanceRule 保养规则（目录条目，加载后只读）
type MaintenanceRule struct {
	ID       string   `json:"id" yaml:"id"`
	Make     Scope    `json:"make" yaml:"make"`
	Model    Scope    `json:"model" yaml:"model"`
	YearFrom int      `json:"year_from" yaml:"year_from"`
	YearTo   int      `json:"year_to" yaml:"year_to"`
	FuelType FuelType `json:"fuel_type,omitempty" yaml:"fuel_type,omitempty"`

	Service  string   `json:"service" yaml:"service"`
	Category Category `json:"category" yaml:"category"`
	Severity Severity `json:"severity" yaml:"severity"`

	// 间隔：里程 (km) 与月数至少设置一个，先到先触发
	IntervalDistance *int64 `json:"interval_km,omitempty" yaml:"interval_km,omitempty"`
	IntervalMonths   *int   `json:"interval_months,omitempty" yaml:"interval_months,omitempty"`

	EstimatedCost decimal.Decimal `json:"estimated_cost" yaml:"estimated_cost"`
	LaborHours    float64         `json:"labor_hours" yaml:"labor_hours"`
	Notes         string          `json:"notes,omitempty" yaml:"notes,omitempty"`
}

func (r *MaintenanceRule) HasDistance() bool {
	return r.IntervalDistance != nil && *r.IntervalDistance > 0
}

func (r *MaintenanceRule) HasDuration() bool {
	return r.IntervalMonths != nil && *r.IntervalMonths > 0
}
