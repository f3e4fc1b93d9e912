package database

import (
	"context"

	"github.com/fieldline/fieldline/pkg/models"
)

// AlarmBatch is one cycle's worth of alarm mutations, committed atomically at
// the cycle boundary
type AlarmBatch struct {
	Activate []models.ActiveAlarm
	Clear    []string
	History  []models.AlarmHistoryEntry
}

// Empty reports whether the batch carries no mutations
func (b AlarmBatch) Empty() bool {
	return len(b.Activate) == 0 && len(b.Clear) == 0 && len(b.History) == 0
}

// ConfigStore is the engine's view of the configuration database. The CRUD
// validation layer owns writes to the configuration tables; processors are
// read-mostly and refresh on a 60-second cadence. Runtime mutations (write
// items, active alarms, tuning sessions, execution counters) go through the
// dedicated methods below.
type ConfigStore interface {
	// Ping reports whether the database is reachable; the scheduler
	// harness blocks on it at startup
	Ping(ctx context.Context) error

	Points(ctx context.Context) ([]models.Point, error)
	Alarms(ctx context.Context) ([]models.Alarm, error)
	PIDMemories(ctx context.Context) ([]models.PIDMemory, error)
	TotalizerMemories(ctx context.Context) ([]models.TotalizerMemory, error)
	RateOfChangeMemories(ctx context.Context) ([]models.RateOfChangeMemory, error)
	MovingAverageMemories(ctx context.Context) ([]models.MovingAverageMemory, error)
	DeadbandMemories(ctx context.Context) ([]models.DeadbandMemory, error)
	ScheduleMemories(ctx context.Context) ([]models.ScheduleMemory, error)
	ComparisonMemories(ctx context.Context) ([]models.ComparisonMemory, error)
	MinMaxMemories(ctx context.Context) ([]models.MinMaxMemory, error)
	IfMemories(ctx context.Context) ([]models.IfMemory, error)
	StatisticalMemories(ctx context.Context) ([]models.StatisticalMemory, error)
	WriteActionMemories(ctx context.Context) ([]models.WriteActionMemory, error)

	// UpsertWriteItem queues a pending driver write, one row per point;
	// a new write replaces the pending value
	UpsertWriteItem(ctx context.Context, item models.WriteItem) error

	// CommitAlarmBatch applies one cycle's alarm mutations in a single
	// transaction
	CommitAlarmBatch(ctx context.Context, batch AlarmBatch) error

	// ActiveAlarms returns the alarms currently latched active, so the
	// alarm state machine can resume them after a restart
	ActiveAlarms(ctx context.Context) ([]models.ActiveAlarm, error)

	// Tuning session lifecycle
	TuningSessions(ctx context.Context) ([]models.TuningSession, error)
	UpdateTuningSession(ctx context.Context, session models.TuningSession) error

	// UpdatePIDGains is the operator's apply-selected-gains action
	UpdatePIDGains(ctx context.Context, pidID string, kp, ki, kd float64) error

	// UpdateWriteActionCount persists a write-action execution counter
	UpdateWriteActionCount(ctx context.Context, id string, count int) error

	// ClearTotalizerReset consumes a manual reset request
	ClearTotalizerReset(ctx context.Context, id string) error
}
