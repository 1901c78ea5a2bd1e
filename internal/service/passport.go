package service

import (
	"context"
	"fmt"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/masslabs/passport/internal/catalog"
	"github.com/masslabs/passport/internal/engine"
	"github.com/masslabs/passport/internal/models"
)

// qrSize 二维码边长（像素）
const qrSize = 256

// PassportService 车辆护照查询
type PassportService struct {
	vehicles VehicleStore
	records  ServiceRecordStore
	catalogs *catalog.Set
	lead     engine.LeadWindow
	baseURL  string
	now      func() time.Time
}

// NewPassportService 创建护照服务
func NewPassportService(vehicles VehicleStore, records ServiceRecordStore, catalogs *catalog.Set, lead engine.LeadWindow, baseURL string) *PassportService {
	return &PassportService{
		vehicles: vehicles,
		records:  records,
		catalogs: catalogs,
		lead:     lead,
		baseURL:  baseURL,
		now:      time.Now,
	}
}

// Lookup 公开查询，passportID 未知时返回 ErrPassportNotFound
func (s *PassportService) Lookup(ctx context.Context, passportID string) (*models.VehiclePassport, error) {
	if passportID == "" {
		return nil, models.ErrPassportNotFound
	}
	v, err := s.vehicles.GetByPassportID(ctx, passportID)
	if err != nil {
		return nil, err
	}
	if v.IsArchived() {
		return nil, models.ErrPassportNotFound
	}
	return s.build(ctx, v, engine.BuildPassport)
}

// Internal 内部视图，包含未核验记录和完整 VIN
func (s *PassportService) Internal(ctx context.Context, orgID, vehicleID string) (*models.VehiclePassport, error) {
	v, err := s.vehicles.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if orgID != "" && v.OrgID != orgID {
		return nil, models.ErrVehicleNotFound
	}
	return s.build(ctx, v, engine.BuildInternalPassport)
}

// QRCode 护照分享链接的 PNG 二维码
func (s *PassportService) QRCode(ctx context.Context, passportID string) ([]byte, error) {
	p, err := s.Lookup(ctx, passportID)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(p.URL, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}

func (s *PassportService) build(
	ctx context.Context,
	v *models.Vehicle,
	project func(*models.Vehicle, []models.ServiceRecord, time.Time) models.VehiclePassport,
) (*models.VehiclePassport, error) {
	records, err := s.records.ListByVehicle(ctx, v.ID)
	if err != nil {
		return nil, fmt.Errorf("list service records: %w", err)
	}

	now := s.now()
	p := project(v, records, now)
	if v.PassportID != "" {
		p.URL = engine.PassportURL(s.baseURL, v.PassportID)
	}

	// 车辆数据不完整时护照仍然可以展示，只是没有保养计划
	upcoming, err := engine.ComputeAllDue(s.catalogs.For(v.OrgID), v, records, now, s.lead)
	if err == nil {
		p.Upcoming = upcoming
	}
	return &p, nil
}
