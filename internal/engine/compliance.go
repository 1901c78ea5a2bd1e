package engine

import (
	"time"

	"github.com/masslabs/passport/internal/models"
)

// ExpiringSoonDays 即将到期阈值
const ExpiringSoonDays = 30

// TrackDocuments 返回行驶证与保险两份文件的状态（总是两份）
// 未设置到期日按已过期处理
func TrackDocuments(v *models.Vehicle, now time.Time) []models.ComplianceDocument {
	return []models.ComplianceDocument{
		trackDocument(models.DocumentRegistration, v.RegistrationExpiry, now),
		trackDocument(models.DocumentInsurance, v.InsuranceExpiry, now),
	}
}

func trackDocument(typ models.DocumentType, expiry *time.Time, now time.Time) models.ComplianceDocument {
	doc := models.ComplianceDocument{Type: typ}
	if expiry == nil {
		doc.IsExpired = true
		return doc
	}

	exp := *expiry
	doc.ExpiryDate = &exp
	doc.DaysRemaining = DaysBetween(now, exp)
	doc.IsExpired = exp.Before(now)
	doc.IsExpiringSoon = doc.DaysRemaining >= 0 && doc.DaysRemaining <= ExpiringSoonDays
	return doc
}

// NeedsAttention 已过期或即将到期
func NeedsAttention(doc models.ComplianceDocument) bool {
	return doc.IsExpired || doc.IsExpiringSoon
}

// DocumentOverdue 文件的超期程度（以 30 天为单位），未设置到期日记为 1
func DocumentOverdue(doc models.ComplianceDocument) float64 {
	if doc.ExpiryDate == nil {
		return 1
	}
	return float64(-doc.DaysRemaining) / daysPerMonth
}
