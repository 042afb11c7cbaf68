// Package schedule owns the recurring task set: registration of the
// managed repeatable jobs and the maintenance handlers they trigger.
package schedule

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/frameward/jobcore/internal/domain"
	"github.com/frameward/jobcore/internal/records"
)

// Managed name prefixes. Every repeatable under one of these prefixes is
// owned by this registrar and removed before the current desired set is
// added, so a pattern change in a new deploy cannot leave a ghost
// schedule behind.
var managedPrefixes = []string{
	"notify:", "reminders:", "autoclose:", "tempfs:", "integration:", "schedule:",
}

// Repeatables is the job-store surface the registrar drives.
type Repeatables interface {
	ListRepeatables(ctx context.Context) ([]domain.RecurringSchedule, error)
	RegisterRepeatable(ctx context.Context, sched domain.RecurringSchedule) error
	RemoveRepeatables(ctx context.Context, names ...string) error
}

// Settings reads the integration configuration that drives the optional
// pull schedules.
type Settings interface {
	IntegrationSettings(ctx context.Context) ([]records.IntegrationSetting, error)
}

type Registrar struct {
	Jobs     Repeatables
	Settings Settings
	Log      *zap.Logger
}

func NewRegistrar(jobs Repeatables, settings Settings, log *zap.Logger) *Registrar {
	return &Registrar{Jobs: jobs, Settings: settings, Log: log}
}

// desired is the static managed set; integration pulls are appended from
// settings at sync time.
func desired() []domain.RecurringSchedule {
	return []domain.RecurringSchedule{
		{
			Name: "notify:hourly-sweep", Queue: domain.QueueNotify, Pattern: "0 * * * *",
			Payload: domain.MustPayload(domain.NotifyPayload{Kind: domain.SweepHourly}),
		},
		{
			Name: "reminders:project", Queue: domain.QueueMaintenance, Pattern: "*/15 * * * *",
			Payload: domain.MustPayload(domain.MaintenancePayload{Task: domain.TaskProjectKeyDates}),
		},
		{
			Name: "reminders:user", Queue: domain.QueueMaintenance, Pattern: "*/15 * * * *",
			Payload: domain.MustPayload(domain.MaintenancePayload{Task: domain.TaskUserKeyDates}),
		},
		{
			Name: "autoclose:daily", Queue: domain.QueueMaintenance, Pattern: "30 3 * * *",
			Payload: domain.MustPayload(domain.MaintenancePayload{Task: domain.TaskAutoClose}),
		},
		{
			Name: "tempfs:sweep", Queue: domain.QueueMaintenance, Pattern: "15 * * * *",
			Payload: domain.MustPayload(domain.MaintenancePayload{Task: domain.TaskTempSweep}),
		},
		{
			// settings can change between deploys; re-sync hourly so
			// integration schedules follow the configuration
			Name: "schedule:resync", Queue: domain.QueueMaintenance, Pattern: "45 * * * *",
			Payload: domain.MustPayload(domain.MaintenancePayload{Task: domain.TaskScheduleResync}),
		},
	}
}

func cadencePattern(cadence string) string {
	if cadence == "weekly" {
		return "0 5 * * 1"
	}
	return "0 5 * * *" // daily
}

// Sync makes the active repeatable set exactly the desired one: every
// stale managed registration is removed first, then the current set is
// added. Safe to run repeatedly and from multiple hosts.
func (r *Registrar) Sync(ctx context.Context) error {
	existing, err := r.Jobs.ListRepeatables(ctx)
	if err != nil {
		return err
	}
	var stale []string
	for _, sched := range existing {
		if managed(sched.Name) {
			stale = append(stale, sched.Name)
		}
	}
	if len(stale) > 0 {
		if err := r.Jobs.RemoveRepeatables(ctx, stale...); err != nil {
			return err
		}
	}

	want := desired()
	settings, err := r.Settings.IntegrationSettings(ctx)
	if err != nil {
		return err
	}
	for _, s := range settings {
		if !s.Enabled {
			continue
		}
		want = append(want, domain.RecurringSchedule{
			Name:    "integration:" + s.ID,
			Queue:   domain.QueueMaintenance,
			Pattern: cadencePattern(s.Cadence),
			Payload: domain.MustPayload(domain.MaintenancePayload{
				Task: domain.TaskIntegrationPull, IntegrationID: s.ID,
			}),
		})
	}

	for _, sched := range want {
		if err := r.Jobs.RegisterRepeatable(ctx, sched); err != nil {
			return err
		}
	}
	r.Log.Info("recurring schedules synced",
		zap.Int("removed", len(stale)), zap.Int("registered", len(want)))
	return nil
}

func managed(name string) bool {
	for _, p := range managedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
