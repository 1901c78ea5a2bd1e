package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/masslabs/passport/internal/api/middleware"
	"github.com/masslabs/passport/internal/models"
)

// vehicleRequest 接车登记
type vehicleRequest struct {
	Make               string     `json:"make" binding:"required"`
	Model              string     `json:"model" binding:"required"`
	Year               int        `json:"year" binding:"required"`
	VIN                string     `json:"vin"`
	LicensePlate       string     `json:"license_plate"`
	Color              string     `json:"color"`
	FuelType           string     `json:"fuel_type"`
	Mileage            *int64     `json:"mileage" binding:"required"`
	IntakeMileage      *int64     `json:"intake_mileage"`
	IntakeAt           time.Time  `json:"intake_at"`
	RegistrationExpiry *time.Time `json:"registration_expiry"`
	InsuranceExpiry    *time.Time `json:"insurance_expiry"`
	OwnerName          string     `json:"owner_name"`
	OwnerPhone         string     `json:"owner_phone"`
	OwnerEmail         string     `json:"owner_email"`
}

// mileageRequest 里程读数
type mileageRequest struct {
	Mileage   *int64    `json:"mileage" binding:"required"`
	ReadingAt time.Time `json:"reading_at"`
}

// documentRequest 文件续期
type documentRequest struct {
	ExpiryDate time.Time `json:"expiry_date" binding:"required"`
}

// serviceRequest 新增服务记录
type serviceRequest struct {
	RuleID           *string   `json:"rule_id"`
	Description      string    `json:"description"`
	PerformedAt      time.Time `json:"performed_at"`
	MileageAtService *int64    `json:"mileage_at_service" binding:"required"`
	Technician       string    `json:"technician"`
}

// RegisterVehicle 接车登记
// POST /api/vehicles
func (h *Handler) RegisterVehicle(c *gin.Context) {
	var req vehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v := &models.Vehicle{
		Make:               req.Make,
		Model:              req.Model,
		Year:               req.Year,
		VIN:                req.VIN,
		LicensePlate:       req.LicensePlate,
		Color:              req.Color,
		FuelType:           models.FuelType(req.FuelType),
		CurrentMileage:     *req.Mileage,
		IntakeMileage:      *req.Mileage,
		IntakeAt:           req.IntakeAt,
		RegistrationExpiry: req.RegistrationExpiry,
		InsuranceExpiry:    req.InsuranceExpiry,
		OwnerName:          req.OwnerName,
		OwnerPhone:         req.OwnerPhone,
		OwnerEmail:         req.OwnerEmail,
	}
	if req.IntakeMileage != nil {
		v.IntakeMileage = *req.IntakeMileage
	}

	view, err := h.vehicles.RegisterVehicle(c.Request.Context(), middleware.OrgID(c), v)
	if err != nil {
		h.respondError(c, err, "register vehicle")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": view})
}

// GetVehicle 车辆详情
// GET /api/vehicles/:id
func (h *Handler) GetVehicle(c *gin.Context) {
	v, err := h.vehicles.Get(c.Request.Context(), middleware.OrgID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "get vehicle")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": v})
}

// GetMatchedRules 车辆适用的规则
// GET /api/vehicles/:id/rules
func (h *Handler) GetMatchedRules(c *gin.Context) {
	rules, err := h.vehicles.MatchedRules(c.Request.Context(), middleware.OrgID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "match rules")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rules})
}

// GetDueStatuses 每条规则的到期状态
// GET /api/vehicles/:id/due
func (h *Handler) GetDueStatuses(c *gin.Context) {
	due, err := h.vehicles.DueStatuses(c.Request.Context(), middleware.OrgID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "compute due statuses")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": due})
}

// GetDocuments 行驶证与保险状态
// GET /api/vehicles/:id/documents
func (h *Handler) GetDocuments(c *gin.Context) {
	docs, err := h.vehicles.Documents(c.Request.Context(), middleware.OrgID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "track documents")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": docs})
}

// GetInternalPassport 内部护照视图（含未核验记录）
// GET /api/vehicles/:id/passport
func (h *Handler) GetInternalPassport(c *gin.Context) {
	p, err := h.passports.Internal(c.Request.Context(), middleware.OrgID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "build passport")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}

// UpdateMileage 录入里程
// POST /api/vehicles/:id/mileage
func (h *Handler) UpdateMileage(c *gin.Context) {
	var req mileageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	view, err := h.vehicles.UpdateMileage(c.Request.Context(), middleware.OrgID(c), c.Param("id"), *req.Mileage, req.ReadingAt)
	if err != nil {
		h.respondError(c, err, "update mileage")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

// RenewDocument 更新行驶证/保险到期日
// POST /api/vehicles/:id/documents/:type
func (h *Handler) RenewDocument(c *gin.Context) {
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	doc := models.DocumentType(c.Param("type"))
	view, err := h.vehicles.RenewDocument(c.Request.Context(), middleware.OrgID(c), c.Param("id"), doc, req.ExpiryDate)
	if err != nil {
		h.respondError(c, err, "renew document")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

// AddServiceRecord 新增服务记录，记录总是以未核验状态写入
// POST /api/vehicles/:id/services
func (h *Handler) AddServiceRecord(c *gin.Context) {
	var req serviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	rec := &models.ServiceRecord{
		VehicleID:        c.Param("id"),
		RuleID:           req.RuleID,
		Description:      req.Description,
		PerformedAt:      req.PerformedAt,
		MileageAtService: *req.MileageAtService,
		Technician:       req.Technician,
	}
	view, err := h.vehicles.AddServiceRecord(c.Request.Context(), middleware.OrgID(c), rec)
	if err != nil {
		h.respondError(c, err, "add service record")
		return
	}

	h.logger.Info("Service record added via API",
		zap.String("vehicle_id", rec.VehicleID),
		zap.String("record_id", rec.ID),
		zap.String("user_id", middleware.UserID(c)),
	)
	c.JSON(http.StatusCreated, gin.H{"data": gin.H{"record": rec, "vehicle": view}})
}

// VerifyServiceRecord 核验服务记录
// POST /api/services/:id/verify
func (h *Handler) VerifyServiceRecord(c *gin.Context) {
	by := middleware.UserID(c)
	if by == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token has no subject"})
		return
	}

	rec, err := h.vehicles.VerifyServiceRecord(c.Request.Context(), middleware.OrgID(c), c.Param("id"), by)
	if err != nil {
		h.respondError(c, err, "verify service record")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}
