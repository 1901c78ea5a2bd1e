package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/masslabs/passport/internal/catalog"
	"github.com/masslabs/passport/internal/engine"
	"github.com/masslabs/passport/internal/models"
	"github.com/masslabs/passport/internal/reminder"
	"github.com/masslabs/passport/pkg/ws"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func testCatalogs(t *testing.T) *catalog.Set {
	t.Helper()
	def, err := catalog.New("test", []models.MaintenanceRule{
		{
			ID:               "TOY-OIL-004",
			Make:             models.SpecificScope("Toyota"),
			Model:            models.SpecificScope("Hilux"),
			YearFrom:         2015,
			YearTo:           2025,
			Service:          "Engine Oil & Filter Change",
			Category:         models.CategoryOil,
			Severity:         models.SeverityRoutine,
			IntervalDistance: ptr(int64(10000)),
			EstimatedCost:    decimal.NewFromInt(85),
		},
		{
			ID:             "GEN-INS-001",
			Make:           models.AnyScope(),
			Model:          models.AnyScope(),
			YearFrom:       1980,
			YearTo:         2030,
			Service:        "Annual Roadworthiness Inspection",
			Category:       models.CategoryInspection,
			Severity:       models.SeverityCritical,
			IntervalMonths: ptr(12),
			EstimatedCost:  decimal.NewFromInt(30),
		},
	})
	require.NoError(t, err)
	return catalog.NewSet(def, nil)
}

func testPolicy() reminder.Policy {
	return reminder.Policy{
		Channels: map[models.TriggerType]models.Channel{
			models.TriggerServiceDue:         models.ChannelSMS,
			models.TriggerRegistrationExpiry: models.ChannelBoth,
			models.TriggerInsuranceExpiry:    models.ChannelBoth,
		},
		SendHour: 9,
		Location: time.UTC,
		Lead:     engine.LeadWindow{Distance: 500, Days: 14},
	}
}

// hilux 32000 km，接车 20000 km：机油保养超期 2000 km
func hilux(id string) models.Vehicle {
	far := testNow.AddDate(1, 0, 0)
	return models.Vehicle{
		ID:                 id,
		OrgID:              "org-1",
		PassportID:         "pp-" + id,
		Make:               "Toyota",
		Model:              "Hilux",
		Year:               2018,
		VIN:                "JTFST22P100123456",
		CurrentMileage:     32000,
		IntakeMileage:      20000,
		IntakeAt:           testNow.AddDate(0, -3, 0),
		RegistrationExpiry: &far,
		InsuranceExpiry:    &far,
		OwnerPhone:         "+254700000001",
	}
}

type fixture struct {
	vehicles   *memVehicles
	records    *memRecords
	reminders  *memReminders
	dispatcher *recordingDispatcher
	hub        *recordingHub
	svc        *ComplianceService
	ops        *VehicleOps
}

func newFixture(t *testing.T, vehicles ...models.Vehicle) *fixture {
	t.Helper()
	f := &fixture{
		vehicles:   newMemVehicles(vehicles...),
		records:    &memRecords{},
		reminders:  newMemReminders(),
		dispatcher: &recordingDispatcher{},
		hub:        &recordingHub{},
	}
	f.svc = NewComplianceService(zap.NewNop(), Options{Workers: 2, AutoDispatch: true},
		testCatalogs(t), testPolicy(), f.vehicles, f.records, f.reminders, f.dispatcher, f.hub)
	f.svc.now = func() time.Time { return testNow }
	f.ops = NewVehicleOps(zap.NewNop(), f.vehicles, f.records, f.svc)
	f.ops.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) open(vehicleID string) []models.ReminderItem {
	var out []models.ReminderItem
	for _, it := range f.reminders.all() {
		if it.VehicleID == vehicleID && it.Status.IsOpen() {
			out = append(out, it)
		}
	}
	return out
}

func TestRunBatch_CreatesOncePerKey(t *testing.T) {
	f := newFixture(t, hilux("veh-1"))
	ctx := context.Background()

	report, err := f.svc.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Vehicles)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Open)
	assert.Equal(t, 1, report.Active)
	require.NotNil(t, report.Dispatch)

	open := f.open("veh-1")
	require.Len(t, open, 1)
	assert.Equal(t, "TOY-OIL-004", open[0].RuleID)
	assert.Equal(t, models.ReminderOverdue, open[0].Status)
	assert.Equal(t, int64(30000), *open[0].DueAtMileage)
	assert.Equal(t, int64(2000), *open[0].OverdueDistance)

	again, err := f.svc.RunBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Created)
	assert.Zero(t, again.Updated)
	assert.Len(t, f.reminders.all(), 1)

	require.Len(t, f.dispatcher.queues, 2)
	assert.Len(t, f.dispatcher.queues[1], 1)
	assert.Equal(t, 2, f.hub.count(ws.MsgTypeBatchComplete))
	assert.Equal(t, 1, f.hub.count(ws.MsgTypeReminderUpdate))
	assert.Same(t, again, f.svc.LastBatch())
}

func TestRunBatch_BadVehicleDoesNotAbort(t *testing.T) {
	bad := hilux("veh-bad")
	bad.Year = 0
	f := newFixture(t, hilux("veh-1"), bad)

	// 坏数据车辆已有的提醒保持不变
	existing := models.ReminderItem{
		ID:        "rem-old",
		OrgID:     "org-1",
		VehicleID: "veh-bad",
		Trigger:   models.TriggerServiceDue,
		RuleID:    "TOY-OIL-004",
		Severity:  models.SeverityRoutine,
		Status:    models.ReminderSent,
		Channel:   models.ChannelSMS,
		Version:   4,
	}
	require.NoError(t, f.reminders.Insert(context.Background(), &existing))

	report, err := f.svc.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Vehicles)
	assert.Equal(t, 1, report.Processed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "veh-bad", report.Errors[0].VehicleID)
	assert.Contains(t, report.Errors[0].Error, "year")

	old, err := f.reminders.GetReminder(context.Background(), "rem-old")
	require.NoError(t, err)
	assert.Equal(t, models.ReminderSent, old.Status)
	assert.Equal(t, int64(4), old.Version)
}

func TestRunBatch_CancelledLeavesRemindersUntouched(t *testing.T) {
	f := newFixture(t, hilux("veh-1"))
	existing := models.ReminderItem{
		ID:        "rem-reg",
		OrgID:     "org-1",
		VehicleID: "veh-1",
		Trigger:   models.TriggerRegistrationExpiry,
		Severity:  models.SeverityImportant,
		Status:    models.ReminderPending,
		Channel:   models.ChannelBoth,
		Version:   1,
	}
	require.NoError(t, f.reminders.Insert(context.Background(), &existing))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.svc.RunBatch(ctx)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Zero(t, report.Processed)
	assert.Zero(t, report.Completed)
	assert.Nil(t, report.Dispatch)
	assert.Empty(t, f.dispatcher.queues)

	got, err := f.reminders.GetReminder(context.Background(), "rem-reg")
	require.NoError(t, err)
	assert.Equal(t, models.ReminderPending, got.Status)
}

func TestRunBatch_RejectsOverlap(t *testing.T) {
	f := newFixture(t, hilux("veh-1"))
	f.svc.batchMu.Lock()
	defer f.svc.batchMu.Unlock()

	_, err := f.svc.RunBatch(context.Background())
	assert.ErrorIs(t, err, ErrBatchRunning)
}

func TestRunBatch_ArchivedVehicleSkipped(t *testing.T) {
	archived := hilux("veh-2")
	archived.ArchivedAt = ptr(testNow.AddDate(0, -1, 0))
	f := newFixture(t, hilux("veh-1"), archived)

	report, err := f.svc.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Vehicles)
	assert.Empty(t, f.open("veh-2"))
}

func TestRecomputeVehicle_CompletesAfterService(t *testing.T) {
	f := newFixture(t, hilux("veh-1"))
	ctx := context.Background()

	_, err := f.svc.RunBatch(ctx)
	require.NoError(t, err)
	require.Len(t, f.open("veh-1"), 1)

	view, err := f.ops.AddServiceRecord(ctx, "org-1", &models.ServiceRecord{
		VehicleID:        "veh-1",
		RuleID:           ptr("TOY-OIL-004"),
		PerformedAt:      testNow.Add(-time.Hour),
		MileageAtService: 32100,
		Technician:       "J. Mwangi",
	})
	require.NoError(t, err)
	assert.Empty(t, view.Reminders)
	assert.Equal(t, int64(32100), view.Vehicle.CurrentMileage)
	assert.Empty(t, f.open("veh-1"))

	var completed []models.ReminderItem
	for _, it := range f.reminders.all() {
		if it.Status == models.ReminderCompleted {
			completed = append(completed, it)
		}
	}
	require.Len(t, completed, 1)
	assert.NotNil(t, completed[0].CompletedAt)
	assert.Equal(t, int64(2), completed[0].Version)

	recs, _ := f.records.ListByVehicle(ctx, "veh-1")
	require.Len(t, recs, 1)
	assert.Equal(t, "Engine Oil & Filter Change", recs[0].Description)
	assert.False(t, recs[0].Verified)
	assert.Equal(t, "org-1", recs[0].OrgID)
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	f := newFixture(t, hilux("veh-1"))
	ch := f.svc.Subscribe()

	_, err := f.svc.RunBatch(context.Background())
	require.NoError(t, err)

	var types []string
	for len(ch) > 0 {
		ev := <-ch
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{ws.MsgTypeReminderUpdate, ws.MsgTypeBatchComplete}, types)
}

func TestRequeue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	failed := models.ReminderItem{
		ID:        "rem-1",
		OrgID:     "org-1",
		VehicleID: "veh-1",
		Trigger:   models.TriggerServiceDue,
		RuleID:    "TOY-OIL-004",
		Severity:  models.SeverityRoutine,
		Status:    models.ReminderFailed,
		Channel:   models.ChannelSMS,
		Attempts:  3,
		LastError: "sms: gateway unavailable",
		Version:   5,
	}
	require.NoError(t, f.reminders.Insert(ctx, &failed))

	_, err := f.svc.Requeue(ctx, "org-2", "rem-1")
	assert.ErrorIs(t, err, models.ErrReminderNotFound)

	it, err := f.svc.Requeue(ctx, "org-1", "rem-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReminderPending, it.Status)
	assert.Equal(t, int64(6), it.Version)
	assert.Equal(t, testNow, it.EligibleAt)
	assert.Empty(t, it.LastError)

	_, err = f.svc.Requeue(ctx, "org-1", "rem-1")
	assert.Error(t, err, "pending reminders cannot be requeued")
}

func TestListReminders_PriorityOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, it := range []models.ReminderItem{
		{ID: "a", OrgID: "org-1", VehicleID: "veh-b", Trigger: models.TriggerServiceDue, RuleID: "X", Severity: models.SeverityRoutine, OverdueMagnitude: 0.9, Status: models.ReminderOverdue},
		{ID: "b", OrgID: "org-1", VehicleID: "veh-a", Trigger: models.TriggerInsuranceExpiry, Severity: models.SeverityCritical, OverdueMagnitude: 0.1, Status: models.ReminderOverdue},
		{ID: "c", OrgID: "org-1", VehicleID: "veh-a", Trigger: models.TriggerServiceDue, RuleID: "Y", Severity: models.SeverityRoutine, OverdueMagnitude: 0.9, Status: models.ReminderPending},
		{ID: "d", OrgID: "org-2", VehicleID: "veh-z", Trigger: models.TriggerServiceDue, RuleID: "Y", Severity: models.SeverityCritical, Status: models.ReminderPending},
		{ID: "e", OrgID: "org-1", VehicleID: "veh-c", Trigger: models.TriggerServiceDue, RuleID: "Y", Severity: models.SeverityCritical, Status: models.ReminderFailed},
	} {
		it := it
		require.NoError(t, f.reminders.Insert(ctx, &it))
	}

	items, err := f.svc.ListReminders(ctx, "org-1")
	require.NoError(t, err)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{"b", "e", "c", "a"}, ids)

	failed, err := f.svc.ListReminders(ctx, "org-1", models.ReminderFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "e", failed[0].ID)

	none, err := f.svc.ListReminders(ctx, "org-3")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestStartStop_RunsInitialBatch(t *testing.T) {
	f := newFixture(t, hilux("veh-1"))
	f.svc.opts.Interval = time.Hour

	require.NoError(t, f.svc.Start(context.Background()))
	require.Eventually(t, func() bool { return f.svc.LastBatch() != nil }, 2*time.Second, 10*time.Millisecond)
	f.svc.Stop()
	f.svc.Stop()

	assert.Equal(t, 1, f.svc.LastBatch().Created)
}
