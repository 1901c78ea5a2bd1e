package reminder

import (
	"fmt"
	"time"

	"github.com/masslabs/passport/internal/config"
	"github.com/masslabs/passport/internal/engine"
	"github.com/masslabs/passport/internal/models"
)

// Policy 发送策略：各触发类型的渠道与每日固定发送时间
type Policy struct {
	Channels map[models.TriggerType]models.Channel
	SendHour int
	SendMin  int
	Location *time.Location
	Lead     engine.LeadWindow
}

// PolicyFromConfig 从配置构建策略
func PolicyFromConfig(cfg *config.Config) (Policy, error) {
	hour, min, err := ParseTimeOfDay(cfg.SendTimeOfDay)
	if err != nil {
		return Policy{}, err
	}
	loc, err := time.LoadLocation(cfg.SendTimezone)
	if err != nil {
		return Policy{}, fmt.Errorf("load timezone: %w", err)
	}

	return Policy{
		Channels: map[models.TriggerType]models.Channel{
			models.TriggerServiceDue:         models.Channel(cfg.ServiceDueChannel),
			models.TriggerRegistrationExpiry: models.Channel(cfg.RegistrationChannel),
			models.TriggerInsuranceExpiry:    models.Channel(cfg.InsuranceChannel),
		},
		SendHour: hour,
		SendMin:  min,
		Location: loc,
		Lead:     engine.LeadWindow{Distance: cfg.LeadDistanceKm, Days: cfg.LeadDays},
	}, nil
}

// ParseTimeOfDay 解析 "HH:MM"
func ParseTimeOfDay(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("parse send time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// ChannelFor 触发类型对应的渠道，未配置时为 sms
func (p Policy) ChannelFor(t models.TriggerType) models.Channel {
	if ch, ok := p.Channels[t]; ok && ch != "" {
		return ch
	}
	return models.ChannelSMS
}

// NextSlot now 之后（含）最近的发送时间
func (p Policy) NextSlot(now time.Time) time.Time {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	slot := time.Date(local.Year(), local.Month(), local.Day(), p.SendHour, p.SendMin, 0, 0, loc)
	if slot.Before(local) {
		slot = slot.AddDate(0, 0, 1)
	}
	return slot
}
