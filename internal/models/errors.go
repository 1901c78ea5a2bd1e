package models

import (
	"errors"
	"fmt"
)

var (
	ErrVehicleNotFound       = errors.New("vehicle not found")
	ErrServiceRecordNotFound = errors.New("service record not found")
	ErrReminderNotFound      = errors.New("reminder not found")
	ErrPassportNotFound      = errors.New("passport not found")
	ErrVersionConflict       = errors.New("reminder version conflict")
	ErrDuplicateReminder     = errors.New("open reminder already exists for key")
)

// ValidationError 车辆字段缺失或非法，在规则匹配前抛出
type ValidationError struct {
	VehicleID string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.VehicleID == "" {
		return fmt.Sprintf("invalid vehicle: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid vehicle %s: %s %s", e.VehicleID, e.Field, e.Reason)
}

// ConfigurationError 规则目录配置错误，在加载时检测
type ConfigurationError struct {
	Source string
	RuleID string
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Source != "" && e.RuleID != "":
		return fmt.Sprintf("catalog %s: rule %s: %s", e.Source, e.RuleID, e.Reason)
	case e.RuleID != "":
		return fmt.Sprintf("catalog: rule %s: %s", e.RuleID, e.Reason)
	case e.Source != "":
		return fmt.Sprintf("catalog %s: %s", e.Source, e.Reason)
	}
	return "catalog: " + e.Reason
}
