package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/masslabs/passport/internal/engine"
	"github.com/masslabs/passport/internal/models"
)

// VehicleOps 车辆写操作，每次修改后即时重算该车的提醒
type VehicleOps struct {
	logger     *zap.Logger
	vehicles   VehicleStore
	records    ServiceRecordStore
	compliance *ComplianceService
	now        func() time.Time
}

// NewVehicleOps 创建车辆操作服务
func NewVehicleOps(logger *zap.Logger, vehicles VehicleStore, records ServiceRecordStore, compliance *ComplianceService) *VehicleOps {
	return &VehicleOps{
		logger:     logger,
		vehicles:   vehicles,
		records:    records,
		compliance: compliance,
		now:        time.Now,
	}
}

// VehicleView 车辆及其当前状态
type VehicleView struct {
	Vehicle   *models.Vehicle             `json:"vehicle"`
	Reminders []models.ReminderItem       `json:"reminders"`
	Documents []models.ComplianceDocument `json:"documents,omitempty"`
}

// Get 获取租户下的车辆，其他租户的车辆视为不存在
func (o *VehicleOps) Get(ctx context.Context, orgID, vehicleID string) (*models.Vehicle, error) {
	v, err := o.vehicles.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if orgID != "" && v.OrgID != orgID {
		return nil, models.ErrVehicleNotFound
	}
	return v, nil
}

// MatchedRules 车辆适用的规则
func (o *VehicleOps) MatchedRules(ctx context.Context, orgID, vehicleID string) ([]models.MaintenanceRule, error) {
	v, err := o.Get(ctx, orgID, vehicleID)
	if err != nil {
		return nil, err
	}
	return engine.MatchRules(o.compliance.Catalogs().For(v.OrgID), v)
}

// DueStatuses 每条适用规则的到期状态
func (o *VehicleOps) DueStatuses(ctx context.Context, orgID, vehicleID string) ([]models.DueStatus, error) {
	v, err := o.Get(ctx, orgID, vehicleID)
	if err != nil {
		return nil, err
	}
	records, err := o.records.ListByVehicle(ctx, v.ID)
	if err != nil {
		return nil, fmt.Errorf("list service records: %w", err)
	}
	return engine.ComputeAllDue(o.compliance.Catalogs().For(v.OrgID), v, records, o.now(), o.compliance.Policy().Lead)
}

// Documents 行驶证与保险状态
func (o *VehicleOps) Documents(ctx context.Context, orgID, vehicleID string) ([]models.ComplianceDocument, error) {
	v, err := o.Get(ctx, orgID, vehicleID)
	if err != nil {
		return nil, err
	}
	return engine.TrackDocuments(v, o.now()), nil
}

// RegisterVehicle 接车登记，登记后立即计算提醒
func (o *VehicleOps) RegisterVehicle(ctx context.Context, orgID string, v *models.Vehicle) (*VehicleView, error) {
	now := o.now()
	v.ID = uuid.NewString()
	v.OrgID = orgID
	if v.PassportID == "" {
		v.PassportID = uuid.NewString()
	}
	if v.IntakeAt.IsZero() {
		v.IntakeAt = now
	}
	if v.MileageReadingAt.IsZero() {
		v.MileageReadingAt = v.IntakeAt
	}
	v.ArchivedAt = nil
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if v.IntakeAt.After(now) {
		return nil, &models.ValidationError{VehicleID: v.ID, Field: "intake_at", Reason: "must not be in the future"}
	}

	if err := o.vehicles.Create(ctx, v); err != nil {
		return nil, err
	}
	o.logger.Info("Vehicle registered",
		zap.String("vehicle_id", v.ID),
		zap.String("org_id", v.OrgID),
		zap.String("passport_id", v.PassportID),
	)
	return o.recompute(ctx, v.ID)
}

// UpdateMileage 录入里程读数
func (o *VehicleOps) UpdateMileage(ctx context.Context, orgID, vehicleID string, mileage int64, readingAt time.Time) (*VehicleView, error) {
	v, err := o.Get(ctx, orgID, vehicleID)
	if err != nil {
		return nil, err
	}
	if mileage < 0 {
		return nil, &models.ValidationError{VehicleID: v.ID, Field: "current_mileage", Reason: "must be non-negative"}
	}
	if mileage < v.CurrentMileage {
		return nil, &models.ValidationError{VehicleID: v.ID, Field: "current_mileage", Reason: "must not decrease"}
	}
	if readingAt.IsZero() {
		readingAt = o.now()
	}

	if err := o.vehicles.UpdateMileage(ctx, v.ID, mileage, readingAt); err != nil {
		return nil, err
	}
	o.logger.Info("Mileage updated", zap.String("vehicle_id", v.ID), zap.Int64("mileage", mileage))
	return o.recompute(ctx, v.ID)
}

// RenewDocument 更新行驶证或保险到期日
func (o *VehicleOps) RenewDocument(ctx context.Context, orgID, vehicleID string, doc models.DocumentType, expiry time.Time) (*VehicleView, error) {
	if !doc.Valid() {
		return nil, &models.ValidationError{VehicleID: vehicleID, Field: "document_type", Reason: fmt.Sprintf("unknown type %q", doc)}
	}
	if expiry.IsZero() {
		return nil, &models.ValidationError{VehicleID: vehicleID, Field: "expiry_date", Reason: "is required"}
	}
	v, err := o.Get(ctx, orgID, vehicleID)
	if err != nil {
		return nil, err
	}

	if err := o.vehicles.UpdateDocumentExpiry(ctx, v.ID, doc, expiry); err != nil {
		return nil, err
	}
	o.logger.Info("Document renewed", zap.String("vehicle_id", v.ID), zap.String("document", string(doc)), zap.Time("expiry", expiry))
	return o.recompute(ctx, v.ID)
}

// AddServiceRecord 追加服务记录；记录里程高于当前里程时同步更新车辆里程
func (o *VehicleOps) AddServiceRecord(ctx context.Context, orgID string, rec *models.ServiceRecord) (*VehicleView, error) {
	v, err := o.Get(ctx, orgID, rec.VehicleID)
	if err != nil {
		return nil, err
	}
	if err := o.validateRecord(v, rec); err != nil {
		return nil, err
	}

	rec.OrgID = v.OrgID
	if rec.PerformedAt.IsZero() {
		rec.PerformedAt = o.now()
	}
	if rec.Verified {
		// 核验只能通过 VerifyServiceRecord
		rec.Verified = false
	}

	if err := o.records.Create(ctx, rec); err != nil {
		return nil, err
	}
	if rec.MileageAtService > v.CurrentMileage {
		if err := o.vehicles.UpdateMileage(ctx, v.ID, rec.MileageAtService, rec.PerformedAt); err != nil {
			return nil, err
		}
	}

	o.logger.Info("Service record added",
		zap.String("vehicle_id", v.ID),
		zap.String("record_id", rec.ID),
		zap.String("rule_id", rec.RuleRef()),
	)
	return o.recompute(ctx, v.ID)
}

// VerifyServiceRecord 工作人员核验服务记录
func (o *VehicleOps) VerifyServiceRecord(ctx context.Context, orgID, recordID, verifiedBy string) (*models.ServiceRecord, error) {
	rec, err := o.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if orgID != "" && rec.OrgID != orgID {
		return nil, models.ErrServiceRecordNotFound
	}

	verified, err := o.records.Verify(ctx, recordID, verifiedBy, o.now())
	if err != nil {
		return nil, err
	}
	o.logger.Info("Service record verified", zap.String("record_id", recordID), zap.String("verified_by", verifiedBy))

	if _, err := o.compliance.RecomputeVehicle(ctx, verified.VehicleID); err != nil {
		o.logger.Warn("Recompute after verification failed", zap.String("vehicle_id", verified.VehicleID), zap.Error(err))
	}
	return verified, nil
}

func (o *VehicleOps) validateRecord(v *models.Vehicle, rec *models.ServiceRecord) error {
	if rec.MileageAtService < 0 {
		return &models.ValidationError{VehicleID: v.ID, Field: "mileage_at_service", Reason: "must be non-negative"}
	}
	if rec.Description == "" && rec.RuleID == nil {
		return &models.ValidationError{VehicleID: v.ID, Field: "description", Reason: "is required for freeform services"}
	}
	if rec.RuleID != nil {
		if *rec.RuleID == "" {
			rec.RuleID = nil
			return o.validateRecord(v, rec)
		}
		rule, ok := o.compliance.Catalogs().For(v.OrgID).Get(*rec.RuleID)
		if !ok {
			return &models.ValidationError{VehicleID: v.ID, Field: "rule_id", Reason: fmt.Sprintf("unknown rule %q", *rec.RuleID)}
		}
		if rec.Description == "" {
			rec.Description = rule.Service
		}
	}
	if !rec.PerformedAt.IsZero() && rec.PerformedAt.After(o.now()) {
		return &models.ValidationError{VehicleID: v.ID, Field: "performed_at", Reason: "must not be in the future"}
	}
	return nil
}

func (o *VehicleOps) recompute(ctx context.Context, vehicleID string) (*VehicleView, error) {
	reminders, err := o.compliance.RecomputeVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	v, err := o.vehicles.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	return &VehicleView{
		Vehicle:   v,
		Reminders: reminders,
		Documents: engine.TrackDocuments(v, o.now()),
	}, nil
}
