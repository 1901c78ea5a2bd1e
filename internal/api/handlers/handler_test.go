package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/masslabs/passport/internal/api/middleware"
	"github.com/masslabs/passport/internal/catalog"
	"github.com/masslabs/passport/internal/models"
	"github.com/masslabs/passport/internal/notify"
	"github.com/masslabs/passport/internal/service"
	"github.com/masslabs/passport/internal/state"
)

var testSecret = []byte("handler-secret")

func intPtr(v int) *int { return &v }

type fakeCompliance struct {
	catalogs  *catalog.Set
	reminders []models.ReminderItem
	statuses  []models.ReminderStatus
	batchErr  error
	batches   int
}

func (f *fakeCompliance) Catalogs() *catalog.Set { return f.catalogs }

func (f *fakeCompliance) ListReminders(_ context.Context, orgID string, statuses ...models.ReminderStatus) ([]models.ReminderItem, error) {
	f.statuses = statuses
	out := []models.ReminderItem{}
	for _, it := range f.reminders {
		if it.OrgID == orgID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeCompliance) Requeue(_ context.Context, orgID, id string) (*models.ReminderItem, error) {
	for i := range f.reminders {
		it := &f.reminders[i]
		if it.ID != id || it.OrgID != orgID {
			continue
		}
		if err := state.Apply(it, state.EventRequeue); err != nil {
			return nil, fmt.Errorf("requeue reminder %s: %w", id, err)
		}
		return it, nil
	}
	return nil, models.ErrReminderNotFound
}

func (f *fakeCompliance) DispatchNow(context.Context, string) (*notify.DispatchReport, error) {
	return &notify.DispatchReport{Total: 2, Sent: 1, Skipped: 1}, nil
}

func (f *fakeCompliance) RunBatch(context.Context) (*service.BatchReport, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	f.batches++
	return &service.BatchReport{Vehicles: 3, Processed: 3, Created: 2}, nil
}

func (f *fakeCompliance) LastBatch() *service.BatchReport { return nil }

type fakeVehicles struct {
	lastRecord *models.ServiceRecord
	verifiedBy string
	registered *models.Vehicle
}

func (f *fakeVehicles) RegisterVehicle(_ context.Context, orgID string, v *models.Vehicle) (*service.VehicleView, error) {
	v.ID = "veh-new"
	v.OrgID = orgID
	if err := v.Validate(); err != nil {
		return nil, err
	}
	f.registered = v
	return &service.VehicleView{Vehicle: v, Reminders: []models.ReminderItem{}}, nil
}

func (f *fakeVehicles) Get(_ context.Context, orgID, id string) (*models.Vehicle, error) {
	if id != "veh-1" || orgID != "org-1" {
		return nil, models.ErrVehicleNotFound
	}
	return &models.Vehicle{ID: id, OrgID: orgID, Make: "Toyota", Model: "Hilux", Year: 2018}, nil
}

func (f *fakeVehicles) MatchedRules(ctx context.Context, orgID, id string) ([]models.MaintenanceRule, error) {
	if _, err := f.Get(ctx, orgID, id); err != nil {
		return nil, err
	}
	return []models.MaintenanceRule{{ID: "TOY-OIL-004"}}, nil
}

func (f *fakeVehicles) DueStatuses(_ context.Context, _, id string) ([]models.DueStatus, error) {
	if id == "veh-bad" {
		return nil, &models.ValidationError{VehicleID: id, Field: "year", Reason: "is required"}
	}
	return []models.DueStatus{{RuleID: "TOY-OIL-004", IsDue: true}}, nil
}

func (f *fakeVehicles) Documents(context.Context, string, string) ([]models.ComplianceDocument, error) {
	return nil, fmt.Errorf("load vehicle: %w", context.DeadlineExceeded)
}

func (f *fakeVehicles) UpdateMileage(_ context.Context, orgID, id string, mileage int64, _ time.Time) (*service.VehicleView, error) {
	if mileage < 1000 {
		return nil, &models.ValidationError{VehicleID: id, Field: "current_mileage", Reason: "must not decrease"}
	}
	return &service.VehicleView{Vehicle: &models.Vehicle{ID: id, OrgID: orgID, CurrentMileage: mileage}}, nil
}

func (f *fakeVehicles) RenewDocument(_ context.Context, orgID, id string, doc models.DocumentType, expiry time.Time) (*service.VehicleView, error) {
	if !doc.Valid() {
		return nil, &models.ValidationError{VehicleID: id, Field: "document_type", Reason: "unknown"}
	}
	return &service.VehicleView{Vehicle: &models.Vehicle{ID: id, OrgID: orgID, InsuranceExpiry: &expiry}}, nil
}

func (f *fakeVehicles) AddServiceRecord(_ context.Context, orgID string, rec *models.ServiceRecord) (*service.VehicleView, error) {
	rec.ID = "rec-1"
	rec.OrgID = orgID
	f.lastRecord = rec
	return &service.VehicleView{Vehicle: &models.Vehicle{ID: rec.VehicleID}}, nil
}

func (f *fakeVehicles) VerifyServiceRecord(_ context.Context, _, id, by string) (*models.ServiceRecord, error) {
	f.verifiedBy = by
	return &models.ServiceRecord{ID: id, Verified: true, VerifiedBy: by}, nil
}

type fakePassports struct{}

func (fakePassports) Lookup(_ context.Context, id string) (*models.VehiclePassport, error) {
	if id != "pp-1" {
		return nil, models.ErrPassportNotFound
	}
	return &models.VehiclePassport{PassportID: id, VerifiedStatus: true}, nil
}

func (fakePassports) Internal(_ context.Context, _, vehicleID string) (*models.VehiclePassport, error) {
	return &models.VehiclePassport{VehicleID: vehicleID}, nil
}

func (fakePassports) QRCode(_ context.Context, id string) ([]byte, error) {
	if id != "pp-1" {
		return nil, models.ErrPassportNotFound
	}
	return []byte("\x89PNG\r\n"), nil
}

type testServer struct {
	router     *gin.Engine
	compliance *fakeCompliance
	vehicles   *fakeVehicles
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	def, err := catalog.New("test", []models.MaintenanceRule{{
		ID:             "GEN-INS-001",
		Make:           models.AnyScope(),
		Model:          models.AnyScope(),
		YearFrom:       1980,
		YearTo:         2030,
		Service:        "Annual Roadworthiness Inspection",
		Category:       models.CategoryInspection,
		Severity:       models.SeverityCritical,
		IntervalMonths: intPtr(12),
	}})
	require.NoError(t, err)

	ts := &testServer{
		compliance: &fakeCompliance{
			catalogs: catalog.NewSet(def, nil),
			reminders: []models.ReminderItem{
				{ID: "rem-1", OrgID: "org-1", Status: models.ReminderFailed},
				{ID: "rem-2", OrgID: "org-1", Status: models.ReminderPending},
				{ID: "rem-3", OrgID: "org-2", Status: models.ReminderFailed},
			},
		},
		vehicles: &fakeVehicles{},
	}
	h := NewHandler(zap.NewNop(), testSecret, ts.compliance, ts.vehicles, fakePassports{}, nil)
	ts.router = gin.New()
	h.RegisterRoutes(ts.router)
	return ts
}

func token(t *testing.T, orgID, role, subject string) string {
	t.Helper()
	claims := middleware.Claims{
		OrgID:            orgID,
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return s
}

func (ts *testServer) do(method, path, tok, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestPublicPassport(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/verify/pp-1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "pp-1", data["passport_id"])
	assert.Equal(t, true, data["verified_status"])

	w = ts.do(http.MethodGet, "/verify/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, "/verify/pp-1/qr.png", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"))
}

func TestInternalRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/catalog", "/api/reminders", "/api/vehicles/veh-1/due"} {
		w := ts.do(http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := ts.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetCatalog(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/catalog", token(t, "org-1", middleware.RoleStaff, "u1"), "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "test", data["source"])
	assert.Len(t, data["rules"], 1)
}

func TestVehicleRoutes(t *testing.T) {
	ts := newTestServer(t)
	staff := token(t, "org-1", middleware.RoleStaff, "u1")

	w := ts.do(http.MethodGet, "/api/vehicles/veh-1", staff, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/api/vehicles/veh-1/rules", token(t, "org-2", middleware.RoleStaff, "u2"), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, "/api/vehicles/veh-bad/due", staff, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "year", decode(t, w)["field"])

	w = ts.do(http.MethodGet, "/api/vehicles/veh-1/documents", staff, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to track documents", decode(t, w)["error"])

	w = ts.do(http.MethodGet, "/api/vehicles/veh-1/passport", staff, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterVehicle(t *testing.T) {
	ts := newTestServer(t)
	staff := token(t, "org-1", middleware.RoleStaff, "u1")

	w := ts.do(http.MethodPost, "/api/vehicles", staff,
		`{"make": "Toyota", "model": "Hilux", "year": 2018, "mileage": 32000, "intake_at": "2024-03-01T00:00:00Z", "owner_phone": "+254700000001"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	vehicle := decode(t, w)["data"].(map[string]interface{})["vehicle"].(map[string]interface{})
	assert.Equal(t, "veh-new", vehicle["id"])
	require.NotNil(t, ts.vehicles.registered)
	assert.Equal(t, "org-1", ts.vehicles.registered.OrgID)
	assert.Equal(t, int64(32000), ts.vehicles.registered.IntakeMileage)

	w = ts.do(http.MethodPost, "/api/vehicles", staff,
		`{"make": "Toyota", "model": "Hilux", "year": 2018, "mileage": 32000, "intake_mileage": 20000, "intake_at": "2024-03-01T00:00:00Z"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int64(20000), ts.vehicles.registered.IntakeMileage)

	w = ts.do(http.MethodPost, "/api/vehicles", staff,
		`{"make": "Toyota", "model": "Hilux", "year": 2018, "mileage": 1000, "intake_mileage": 5000, "intake_at": "2024-03-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "intake_mileage", decode(t, w)["field"])

	w = ts.do(http.MethodPost, "/api/vehicles", staff, `{"make": "Toyota", "year": 2018}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateMileage(t *testing.T) {
	ts := newTestServer(t)
	staff := token(t, "org-1", middleware.RoleStaff, "u1")

	w := ts.do(http.MethodPost, "/api/vehicles/veh-1/mileage", staff, `{"mileage": 42000}`)
	require.Equal(t, http.StatusOK, w.Code)
	vehicle := decode(t, w)["data"].(map[string]interface{})["vehicle"].(map[string]interface{})
	assert.Equal(t, float64(42000), vehicle["current_mileage"])

	w = ts.do(http.MethodPost, "/api/vehicles/veh-1/mileage", staff, `{"mileage": 10}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(http.MethodPost, "/api/vehicles/veh-1/mileage", staff, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRenewDocument(t *testing.T) {
	ts := newTestServer(t)
	staff := token(t, "org-1", middleware.RoleStaff, "u1")

	w := ts.do(http.MethodPost, "/api/vehicles/veh-1/documents/insurance", staff, `{"expiry_date": "2025-06-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodPost, "/api/vehicles/veh-1/documents/logbook", staff, `{"expiry_date": "2025-06-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(http.MethodPost, "/api/vehicles/veh-1/documents/insurance", staff, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddAndVerifyServiceRecord(t *testing.T) {
	ts := newTestServer(t)
	staff := token(t, "org-1", middleware.RoleStaff, "u1")

	w := ts.do(http.MethodPost, "/api/vehicles/veh-1/services", staff,
		`{"rule_id": "TOY-OIL-004", "mileage_at_service": 31000, "technician": "J. Mwangi", "verified": true}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, ts.vehicles.lastRecord)
	assert.Equal(t, "veh-1", ts.vehicles.lastRecord.VehicleID)
	assert.Equal(t, "TOY-OIL-004", ts.vehicles.lastRecord.RuleRef())
	assert.False(t, ts.vehicles.lastRecord.Verified)

	w = ts.do(http.MethodPost, "/api/services/rec-1/verify", staff, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodPost, "/api/services/rec-1/verify", token(t, "org-1", middleware.RoleManager, "mgr-9"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mgr-9", ts.vehicles.verifiedBy)

	w = ts.do(http.MethodPost, "/api/services/rec-1/verify", token(t, "org-1", middleware.RoleManager, ""), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListReminders(t *testing.T) {
	ts := newTestServer(t)
	staff := token(t, "org-1", middleware.RoleStaff, "u1")

	w := ts.do(http.MethodGet, "/api/reminders", staff, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["total"])
	assert.Empty(t, ts.compliance.statuses)

	w = ts.do(http.MethodGet, "/api/reminders?status=pending,overdue", staff, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.ReminderStatus{models.ReminderPending, models.ReminderOverdue}, ts.compliance.statuses)

	w = ts.do(http.MethodGet, "/api/reminders?status=snoozed", staff, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, "/api/reminders/failed", staff, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.ReminderStatus{models.ReminderFailed}, ts.compliance.statuses)
}

func TestRequeueReminder(t *testing.T) {
	ts := newTestServer(t)
	manager := token(t, "org-1", middleware.RoleManager, "mgr-1")

	w := ts.do(http.MethodPost, "/api/reminders/rem-3/requeue", manager, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodPost, "/api/reminders/rem-2/requeue", manager, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(http.MethodPost, "/api/reminders/rem-1/requeue", manager, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decode(t, w)["data"].(map[string]interface{})["status"])
}

func TestDispatchAndBatch(t *testing.T) {
	ts := newTestServer(t)
	manager := token(t, "org-1", middleware.RoleManager, "mgr-1")
	admin := token(t, "org-1", middleware.RoleAdmin, "adm-1")

	w := ts.do(http.MethodPost, "/api/reminders/dispatch", manager, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["data"].(map[string]interface{})["sent"])

	w = ts.do(http.MethodPost, "/api/batch/run", manager, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodPost, "/api/batch/run", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.compliance.batches)

	ts.compliance.batchErr = service.ErrBatchRunning
	w = ts.do(http.MethodPost, "/api/batch/run", admin, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestWebSocketDisabled(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/ws", token(t, "org-1", middleware.RoleStaff, "u1"), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
