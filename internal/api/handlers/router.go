package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/masslabs/passport/internal/api/middleware"
)

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// 公开护照
	r.GET("/verify/:passportId", h.GetPublicPassport)
	r.GET("/verify/:passportId/qr.png", h.GetPassportQR)

	// 健康检查
	r.GET("/health", h.HealthCheck)

	// 内部 API
	api := r.Group("/api", middleware.AuthRequired(h.jwtSecret))
	{
		// 规则目录
		api.GET("/catalog", h.GetCatalog)

		// 车辆
		api.POST("/vehicles", h.RegisterVehicle)
		api.GET("/vehicles/:id", h.GetVehicle)
		api.GET("/vehicles/:id/rules", h.GetMatchedRules)
		api.GET("/vehicles/:id/due", h.GetDueStatuses)
		api.GET("/vehicles/:id/documents", h.GetDocuments)
		api.GET("/vehicles/:id/passport", h.GetInternalPassport)
		api.POST("/vehicles/:id/mileage", h.UpdateMileage)
		api.POST("/vehicles/:id/documents/:type", h.RenewDocument)
		api.POST("/vehicles/:id/services", h.AddServiceRecord)

		// 服务记录核验
		api.POST("/services/:id/verify",
			middleware.RoleRequired(middleware.RoleManager, middleware.RoleAdmin), h.VerifyServiceRecord)

		// 提醒
		api.GET("/reminders", h.ListReminders)
		api.GET("/reminders/failed", h.ListFailedReminders)
		api.POST("/reminders/:id/requeue",
			middleware.RoleRequired(middleware.RoleManager, middleware.RoleAdmin), h.RequeueReminder)
		api.POST("/reminders/dispatch",
			middleware.RoleRequired(middleware.RoleManager, middleware.RoleAdmin), h.DispatchReminders)

		// 批处理覆盖所有组织
		api.POST("/batch/run", middleware.RoleRequired(middleware.RoleAdmin), h.RunBatch)
	}

	// WebSocket
	r.GET("/ws", middleware.AuthRequired(h.jwtSecret), h.HandleWebSocket)
}
