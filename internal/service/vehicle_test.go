package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masslabs/passport/internal/models"
)

func TestVehicleOps_UpdateMileage(t *testing.T) {
	v := hilux("veh-1")
	v.CurrentMileage = 29000
	f := newFixture(t, v)
	ctx := context.Background()

	_, err := f.ops.UpdateMileage(ctx, "org-1", "veh-1", 28000, time.Time{})
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "current_mileage", verr.Field)

	// 29000 -> 29600：进入 500 km 提前窗口
	view, err := f.ops.UpdateMileage(ctx, "org-1", "veh-1", 29600, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(29600), view.Vehicle.CurrentMileage)
	assert.Equal(t, testNow, view.Vehicle.MileageReadingAt)
	require.Len(t, view.Reminders, 1)
	assert.Equal(t, models.ReminderPending, view.Reminders[0].Status)

	// 超过到期点后升级为 overdue，同一条提醒
	view2, err := f.ops.UpdateMileage(ctx, "org-1", "veh-1", 30500, time.Time{})
	require.NoError(t, err)
	require.Len(t, view2.Reminders, 1)
	assert.Equal(t, view.Reminders[0].ID, view2.Reminders[0].ID)
	assert.Equal(t, models.ReminderOverdue, view2.Reminders[0].Status)
	assert.Equal(t, int64(2), view2.Reminders[0].Version)
}

func TestVehicleOps_OtherTenantIsNotFound(t *testing.T) {
	f := newFixture(t, hilux("veh-1"))

	_, err := f.ops.UpdateMileage(context.Background(), "org-2", "veh-1", 40000, time.Time{})
	assert.ErrorIs(t, err, models.ErrVehicleNotFound)

	_, err = f.ops.DueStatuses(context.Background(), "org-2", "veh-1")
	assert.ErrorIs(t, err, models.ErrVehicleNotFound)
}

func TestVehicleOps_RenewDocumentCompletesReminder(t *testing.T) {
	v := hilux("veh-1")
	v.CurrentMileage = 20000
	soon := testNow.AddDate(0, 0, 15)
	v.RegistrationExpiry = &soon
	f := newFixture(t, v)
	ctx := context.Background()

	_, err := f.svc.RunBatch(ctx)
	require.NoError(t, err)
	open := f.open("veh-1")
	require.Len(t, open, 1)
	assert.Equal(t, models.TriggerRegistrationExpiry, open[0].Trigger)
	assert.Equal(t, models.ChannelBoth, open[0].Channel)

	_, err = f.ops.RenewDocument(ctx, "org-1", "veh-1", models.DocumentType("passport"), testNow)
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))

	view, err := f.ops.RenewDocument(ctx, "org-1", "veh-1", models.DocumentRegistration, testNow.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, view.Reminders)
	assert.Empty(t, f.open("veh-1"))
	for _, d := range view.Documents {
		assert.False(t, d.IsExpired)
		assert.False(t, d.IsExpiringSoon)
	}
}

func TestVehicleOps_AddServiceRecordValidation(t *testing.T) {
	f := newFixture(t, hilux("veh-1"))
	ctx := context.Background()

	tests := []struct {
		name  string
		rec   models.ServiceRecord
		field string
	}{
		{"unknown rule", models.ServiceRecord{VehicleID: "veh-1", RuleID: ptr("NOPE-001"), MileageAtService: 100}, "rule_id"},
		{"freeform without description", models.ServiceRecord{VehicleID: "veh-1", MileageAtService: 100}, "description"},
		{"negative mileage", models.ServiceRecord{VehicleID: "veh-1", Description: "wash", MileageAtService: -1}, "mileage_at_service"},
		{"future date", models.ServiceRecord{VehicleID: "veh-1", Description: "wash", PerformedAt: testNow.Add(time.Hour)}, "performed_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec
			_, err := f.ops.AddServiceRecord(ctx, "org-1", &rec)
			var verr *models.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	recs, _ := f.records.ListByVehicle(ctx, "veh-1")
	assert.Empty(t, recs)
}

func TestVehicleOps_FreeformDoesNotResetRules(t *testing.T) {
	f := newFixture(t, hilux("veh-1"))
	ctx := context.Background()

	view, err := f.ops.AddServiceRecord(ctx, "org-1", &models.ServiceRecord{
		VehicleID:        "veh-1",
		Description:      "Replace wiper blades",
		PerformedAt:      testNow.Add(-time.Hour),
		MileageAtService: 32000,
	})
	require.NoError(t, err)
	require.Len(t, view.Reminders, 1)
	assert.Equal(t, "TOY-OIL-004", view.Reminders[0].RuleID)
}

func TestVehicleOps_VerifyServiceRecord(t *testing.T) {
	f := newFixture(t, hilux("veh-1"))
	ctx := context.Background()

	rec := &models.ServiceRecord{
		VehicleID:        "veh-1",
		RuleID:           ptr("TOY-OIL-004"),
		PerformedAt:      testNow.AddDate(0, 0, -1),
		MileageAtService: 31000,
		Verified:         true,
	}
	_, err := f.ops.AddServiceRecord(ctx, "org-1", rec)
	require.NoError(t, err)
	assert.False(t, rec.Verified, "records are created unverified")

	_, err = f.ops.VerifyServiceRecord(ctx, "org-2", rec.ID, "manager@org2")
	assert.ErrorIs(t, err, models.ErrServiceRecordNotFound)

	got, err := f.ops.VerifyServiceRecord(ctx, "org-1", rec.ID, "manager@org1")
	require.NoError(t, err)
	assert.True(t, got.Verified)
	assert.Equal(t, "manager@org1", got.VerifiedBy)
	require.NotNil(t, got.VerifiedAt)
	assert.Equal(t, testNow, *got.VerifiedAt)
}

func TestVehicleOps_ReadViews(t *testing.T) {
	f := newFixture(t, hilux("veh-1"))
	ctx := context.Background()

	rules, err := f.ops.MatchedRules(ctx, "org-1", "veh-1")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "TOY-OIL-004", rules[0].ID)
	assert.Equal(t, "GEN-INS-001", rules[1].ID)

	due, err := f.ops.DueStatuses(ctx, "org-1", "veh-1")
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.True(t, due[0].IsPastDue)
	assert.False(t, due[1].IsDue)

	docs, err := f.ops.Documents(ctx, "org-1", "veh-1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, models.DocumentRegistration, docs[0].Type)
}

func TestVehicleOps_RegisterVehicle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := hilux("")
	v.OrgID = "org-9"
	v.PassportID = ""
	v.IntakeAt = time.Time{}

	view, err := f.ops.RegisterVehicle(ctx, "org-1", &v)
	require.NoError(t, err)
	require.NotEmpty(t, view.Vehicle.ID)
	assert.Equal(t, "org-1", view.Vehicle.OrgID)
	assert.NotEmpty(t, view.Vehicle.PassportID)
	assert.Equal(t, testNow, view.Vehicle.IntakeAt)
	assert.Equal(t, testNow, view.Vehicle.MileageReadingAt)

	// 20000 km 接车，当前 32000 km：机油保养已超期
	require.Len(t, view.Reminders, 1)
	assert.Equal(t, "TOY-OIL-004", view.Reminders[0].RuleID)
	assert.Equal(t, models.ReminderOverdue, view.Reminders[0].Status)
	assert.Len(t, f.open(view.Vehicle.ID), 1)

	got, err := f.ops.Get(ctx, "org-1", view.Vehicle.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hilux", got.Model)
}

func TestVehicleOps_RegisterVehicleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(v *models.Vehicle)
		field  string
	}{
		{"missing make", func(v *models.Vehicle) { v.Make = "" }, "make"},
		{"missing year", func(v *models.Vehicle) { v.Year = 0 }, "year"},
		{"intake above current", func(v *models.Vehicle) { v.IntakeMileage = 40000 }, "intake_mileage"},
		{"future intake", func(v *models.Vehicle) { v.IntakeAt = testNow.Add(time.Hour) }, "intake_at"},
		{"unknown fuel", func(v *models.Vehicle) { v.FuelType = "steam" }, "fuel_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := hilux("")
			tt.mutate(&v)

			_, err := f.ops.RegisterVehicle(ctx, "org-1", &v)
			var verr *models.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	assert.Empty(t, f.vehicles.m)
}
