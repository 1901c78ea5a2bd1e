package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/masslabs/passport/internal/api/middleware"
	"github.com/masslabs/passport/internal/models"
)

// GetCatalog 当前组织生效的规则目录
// GET /api/catalog
func (h *Handler) GetCatalog(c *gin.Context) {
	cat := h.compliance.Catalogs().For(middleware.OrgID(c))
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"source": cat.Source(),
			"rules":  cat.Rules(),
		},
	})
}

// ListReminders 按优先级排序的提醒
// GET /api/reminders?status=pending,overdue
func (h *Handler) ListReminders(c *gin.Context) {
	var statuses []models.ReminderStatus
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := models.ReminderStatus(strings.TrimSpace(s))
			if !st.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status: " + string(st)})
				return
			}
			statuses = append(statuses, st)
		}
	}

	items, err := h.compliance.ListReminders(c.Request.Context(), middleware.OrgID(c), statuses...)
	if err != nil {
		h.respondError(c, err, "list reminders")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "total": len(items)})
}

// ListFailedReminders 重试耗尽、等待人工处理的提醒
// GET /api/reminders/failed
func (h *Handler) ListFailedReminders(c *gin.Context) {
	items, err := h.compliance.ListReminders(c.Request.Context(), middleware.OrgID(c), models.ReminderFailed)
	if err != nil {
		h.respondError(c, err, "list failed reminders")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "total": len(items)})
}

// RequeueReminder 将 failed 提醒重新排队
// POST /api/reminders/:id/requeue
func (h *Handler) RequeueReminder(c *gin.Context) {
	it, err := h.compliance.Requeue(c.Request.Context(), middleware.OrgID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "requeue reminder")
		return
	}

	h.logger.Info("Reminder requeued via API", zap.String("reminder_id", it.ID), zap.String("user_id", middleware.UserID(c)))
	c.JSON(http.StatusOK, gin.H{"data": it})
}

// DispatchReminders 立即发送本组织的活跃提醒
// POST /api/reminders/dispatch
func (h *Handler) DispatchReminders(c *gin.Context) {
	// 客户端断开不应中断已开始的发送
	ctx := context.WithoutCancel(c.Request.Context())
	report, err := h.compliance.DispatchNow(ctx, middleware.OrgID(c))
	if err != nil {
		h.respondError(c, err, "dispatch reminders")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

// RunBatch 手动触发一次批处理
// POST /api/batch/run
func (h *Handler) RunBatch(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	report, err := h.compliance.RunBatch(ctx)
	if err != nil {
		h.respondError(c, err, "run batch")
		return
	}

	h.logger.Info("Batch run via API",
		zap.String("user_id", middleware.UserID(c)),
		zap.Int("created", report.Created),
		zap.Int("completed", report.Completed),
	)
	c.JSON(http.StatusOK, gin.H{"data": report})
}
