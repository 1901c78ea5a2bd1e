package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/masslabs/passport/internal/api/middleware"
	"github.com/masslabs/passport/internal/catalog"
	"github.com/masslabs/passport/internal/models"
	"github.com/masslabs/passport/internal/notify"
	"github.com/masslabs/passport/internal/service"
	"github.com/masslabs/passport/internal/state"
	"github.com/masslabs/passport/pkg/ws"
)

// ComplianceAPI 提醒与批处理（*service.ComplianceService 实现）
type ComplianceAPI interface {
	Catalogs() *catalog.Set
	ListReminders(ctx context.Context, orgID string, statuses ...models.ReminderStatus) ([]models.ReminderItem, error)
	Requeue(ctx context.Context, orgID, reminderID string) (*models.ReminderItem, error)
	DispatchNow(ctx context.Context, orgID string) (*notify.DispatchReport, error)
	RunBatch(ctx context.Context) (*service.BatchReport, error)
	LastBatch() *service.BatchReport
}

// VehicleAPI 车辆读写（*service.VehicleOps 实现）
type VehicleAPI interface {
	Get(ctx context.Context, orgID, vehicleID string) (*models.Vehicle, error)
	RegisterVehicle(ctx context.Context, orgID string, v *models.Vehicle) (*service.VehicleView, error)
	MatchedRules(ctx context.Context, orgID, vehicleID string) ([]models.MaintenanceRule, error)
	DueStatuses(ctx context.Context, orgID, vehicleID string) ([]models.DueStatus, error)
	Documents(ctx context.Context, orgID, vehicleID string) ([]models.ComplianceDocument, error)
	UpdateMileage(ctx context.Context, orgID, vehicleID string, mileage int64, readingAt time.Time) (*service.VehicleView, error)
	RenewDocument(ctx context.Context, orgID, vehicleID string, doc models.DocumentType, expiry time.Time) (*service.VehicleView, error)
	AddServiceRecord(ctx context.Context, orgID string, rec *models.ServiceRecord) (*service.VehicleView, error)
	VerifyServiceRecord(ctx context.Context, orgID, recordID, verifiedBy string) (*models.ServiceRecord, error)
}

// PassportAPI 车辆护照（*service.PassportService 实现）
type PassportAPI interface {
	Lookup(ctx context.Context, passportID string) (*models.VehiclePassport, error)
	Internal(ctx context.Context, orgID, vehicleID string) (*models.VehiclePassport, error)
	QRCode(ctx context.Context, passportID string) ([]byte, error)
}

// Handler HTTP 处理器
type Handler struct {
	logger     *zap.Logger
	jwtSecret  []byte
	compliance ComplianceAPI
	vehicles   VehicleAPI
	passports  PassportAPI
	wsHub      *ws.Hub
	upgrader   websocket.Upgrader
}

// NewHandler 创建处理器；wsHub 为 nil 时不提供 /ws
func NewHandler(
	logger *zap.Logger,
	jwtSecret []byte,
	compliance ComplianceAPI,
	vehicles VehicleAPI,
	passports PassportAPI,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:     logger,
		jwtSecret:  jwtSecret,
		compliance: compliance,
		vehicles:   vehicles,
		passports:  passports,
		wsHub:      wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 已经过 JWT 校验
			},
		},
	}
}

// HandleWebSocket WebSocket 处理，只推送本组织的提醒
func (h *Handler) HandleWebSocket(c *gin.Context) {
	if h.wsHub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WebSocket disabled"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn, middleware.OrgID(c))
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.wsHub != nil {
		resp["ws_clients"] = h.wsHub.ClientCount()
	}
	if last := h.compliance.LastBatch(); last != nil {
		resp["last_batch"] = last.FinishedAt
	}
	c.JSON(http.StatusOK, resp)
}

// respondError 按错误类型映射状态码；未知错误记日志并返回 500
func (h *Handler) respondError(c *gin.Context, err error, action string) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, models.ErrVehicleNotFound),
		errors.Is(err, models.ErrServiceRecordNotFound),
		errors.Is(err, models.ErrReminderNotFound),
		errors.Is(err, models.ErrPassportNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrVersionConflict),
		errors.Is(err, models.ErrDuplicateReminder),
		errors.Is(err, service.ErrBatchRunning),
		state.IsInvalidTransition(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", zap.String("action", action), zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action})
	}
}
