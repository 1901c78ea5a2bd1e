package service

import (
	"context"
	"time"

	"github.com/masslabs/passport/internal/models"
	"github.com/masslabs/passport/internal/notify"
)

// VehicleStore 车辆存储（repository.VehicleRepository 实现）
type VehicleStore interface {
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	GetByPassportID(ctx context.Context, passportID string) (*models.Vehicle, error)
	ListActive(ctx context.Context, orgID string) ([]models.Vehicle, error)
	Create(ctx context.Context, v *models.Vehicle) error
	UpdateMileage(ctx context.Context, id string, mileage int64, readingAt time.Time) error
	UpdateDocumentExpiry(ctx context.Context, id string, doc models.DocumentType, expiry time.Time) error
}

// ServiceRecordStore 服务记录存储（repository.ServiceRecordRepository 实现）
type ServiceRecordStore interface {
	Create(ctx context.Context, rec *models.ServiceRecord) error
	GetByID(ctx context.Context, id string) (*models.ServiceRecord, error)
	ListByVehicle(ctx context.Context, vehicleID string) ([]models.ServiceRecord, error)
	ListForVehicles(ctx context.Context, vehicleIDs []string) ([]models.ServiceRecord, error)
	Verify(ctx context.Context, id, verifiedBy string, at time.Time) (*models.ServiceRecord, error)
}

// ReminderStore 提醒存储（repository.ReminderRepository 实现）
type ReminderStore interface {
	Insert(ctx context.Context, it *models.ReminderItem) error
	UpdateReminder(ctx context.Context, it *models.ReminderItem, expectedVersion int64) error
	GetReminder(ctx context.Context, id string) (*models.ReminderItem, error)
	ListOpen(ctx context.Context, orgID string) ([]models.ReminderItem, error)
	ListOpenByVehicle(ctx context.Context, vehicleID string) ([]models.ReminderItem, error)
	ListByStatus(ctx context.Context, orgID string, statuses []models.ReminderStatus) ([]models.ReminderItem, error)
}

// Dispatcher 提醒发送（notify.Dispatcher 实现）
type Dispatcher interface {
	Dispatch(ctx context.Context, queue []models.ReminderItem) notify.DispatchReport
}

// Broadcaster 实时推送（ws.Hub 实现）
type Broadcaster interface {
	BroadcastMessage(orgID, msgType string, data interface{})
	BroadcastReminderUpdate(orgID string, reminder interface{})
}
