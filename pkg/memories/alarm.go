package memories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldline/fieldline/pkg/database"
	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/utils"
)

// AlarmProcessor evaluates comparative and timeout alarms every cycle, drives
// the NoAlarm/Suspicious/HasAlarm state machine, fans out external alarms
// through the any-true aggregator and commits all database mutations in one
// batch at the cycle boundary.
type AlarmProcessor struct {
	Deps

	alarms []models.Alarm
	states map[string]*models.MonitorAlarmState
}

// NewAlarmProcessor makes an alarm processor
func NewAlarmProcessor(deps Deps) *AlarmProcessor {
	return &AlarmProcessor{Deps: deps, states: map[string]*models.MonitorAlarmState{}}
}

func (p *AlarmProcessor) Name() string { return "alarm" }

func (p *AlarmProcessor) Refresh(ctx context.Context) error {
	alarms, err := p.Config.Alarms(ctx)
	if err != nil {
		return err
	}
	p.alarms = alarms

	valid := map[string]struct{}{}
	for _, alarm := range alarms {
		valid[alarm.ID] = struct{}{}
	}
	for id := range p.states {
		if _, ok := valid[id]; !ok {
			delete(p.states, id)
		}
	}

	// resume alarms latched active before a restart, so their clear path
	// still fires; live in-memory state wins over the persisted row
	active, err := p.Config.ActiveAlarms(ctx)
	if err != nil {
		return err
	}
	for _, row := range active {
		if _, ok := valid[row.AlarmID]; !ok {
			continue
		}
		if _, ok := p.states[row.AlarmID]; ok {
			continue
		}
		p.states[row.AlarmID] = &models.MonitorAlarmState{
			Status:         models.HasAlarm,
			LastTransition: row.Since,
		}
	}
	return nil
}

func (p *AlarmProcessor) Cycle(ctx context.Context, now time.Time) error {
	var batch database.AlarmBatch
	for _, alarm := range p.alarms {
		alarm := alarm
		engine.SafeBlock(p.Log, p.Metrics, p.Name(), alarm.ID, func() error {
			return p.step(ctx, alarm, now.Unix(), &batch)
		})
	}
	if batch.Empty() {
		return nil
	}
	return p.Config.CommitAlarmBatch(ctx, batch)
}

func (p *AlarmProcessor) step(ctx context.Context, alarm models.Alarm, now int64, batch *database.AlarmBatch) error {
	state, ok := p.states[alarm.ID]
	if !ok {
		state = &models.MonitorAlarmState{}
		p.states[alarm.ID] = state
	}

	if !alarm.Enabled {
		if state.Status == models.HasAlarm {
			p.emitClear(ctx, alarm, now, batch)
		}
		state.Status = models.NoAlarm
		return nil
	}

	value, found, err := p.Store.Final(ctx, alarm.PointID)
	if err != nil {
		return err
	}
	if !found {
		// frozen input leaves the alarm in its previous state
		return nil
	}

	trigger, ok := p.rawTrigger(alarm, value, now)
	if !ok {
		return fmt.Errorf("unparsable input %q for point %s", value.Value, alarm.PointID)
	}

	switch {
	case !trigger:
		if state.Status == models.HasAlarm {
			p.emitClear(ctx, alarm, now, batch)
		}
		if state.Status != models.NoAlarm {
			state.Status = models.NoAlarm
			state.LastTransition = now
		}
	case state.Status == models.NoAlarm:
		state.Status = models.Suspicious
		state.LastTransition = now
	case state.Status == models.Suspicious && now-state.LastTransition >= alarm.DelaySeconds:
		state.Status = models.HasAlarm
		state.LastTransition = now
		p.emitTrigger(ctx, alarm, now, batch)
	}
	return nil
}

func (p *AlarmProcessor) rawTrigger(alarm models.Alarm, value models.StoredValue, now int64) (bool, bool) {
	if alarm.Kind == models.AlarmTimeout {
		return now-value.Time > alarm.TimeoutSeconds, true
	}

	v, ok := utils.ParseFloat(value.Value)
	if !ok {
		return false, false
	}
	switch alarm.Comparison {
	case models.CompareGreaterOrEqual:
		return v >= alarm.Value1, true
	case models.CompareLessOrEqual:
		return v <= alarm.Value1, true
	case models.CompareEqual:
		return v == alarm.Value1, true
	case models.CompareNotEqual:
		return v != alarm.Value1, true
	case models.CompareBetween:
		return v >= alarm.Value1 && v <= alarm.Value2, true
	}
	return false, false
}

func (p *AlarmProcessor) emitTrigger(ctx context.Context, alarm models.Alarm, now int64, batch *database.AlarmBatch) {
	batch.Activate = append(batch.Activate, models.ActiveAlarm{AlarmID: alarm.ID, Since: now})
	batch.History = append(batch.History, historyEntry(alarm, true, now))
	p.fanOut(ctx, alarm, true)
}

func (p *AlarmProcessor) emitClear(ctx context.Context, alarm models.Alarm, now int64, batch *database.AlarmBatch) {
	batch.Clear = append(batch.Clear, alarm.ID)
	batch.History = append(batch.History, historyEntry(alarm, false, now))
	p.fanOut(ctx, alarm, false)
}

// fanOut pushes every external entry's contribution into the any-true
// aggregator. A disabled entry, or a cleared alarm, contributes the inverted
// value.
func (p *AlarmProcessor) fanOut(ctx context.Context, alarm models.Alarm, active bool) {
	for _, external := range alarm.Externals {
		contribution := !external.Value
		if active && external.Enabled {
			contribution = external.Value
		}
		p.AnyTrue.Set(ctx, external.TargetPointID, alarm.ID+":"+external.ID, contribution)
	}
}

func historyEntry(alarm models.Alarm, active bool, now int64) models.AlarmHistoryEntry {
	snapshot, err := json.Marshal(alarm)
	if err != nil {
		snapshot = nil
	}
	return models.AlarmHistoryEntry{
		AlarmID:  alarm.ID,
		Active:   active,
		Time:     now,
		Snapshot: string(snapshot),
	}
}
