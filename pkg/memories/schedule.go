package memories

import (
	"context"
	"time"

	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/models"
	"github.com/samber/lo"
)

const minutesPerDay = 24 * 60

// ScheduleProcessor writes a value according to a weekly schedule with
// optional holiday override. All evaluation is in UTC.
type ScheduleProcessor struct {
	Deps

	gate   *intervalGate
	blocks []models.ScheduleMemory
}

// NewScheduleProcessor makes a schedule processor
func NewScheduleProcessor(deps Deps) *ScheduleProcessor {
	return &ScheduleProcessor{Deps: deps, gate: newIntervalGate()}
}

func (p *ScheduleProcessor) Name() string { return "schedule" }

func (p *ScheduleProcessor) Refresh(ctx context.Context) error {
	blocks, err := p.Config.ScheduleMemories(ctx)
	if err != nil {
		return err
	}
	p.blocks = blocks

	valid := map[string]struct{}{}
	for _, block := range blocks {
		valid[block.ID] = struct{}{}
	}
	p.gate.prune(valid)
	return nil
}

func (p *ScheduleProcessor) Cycle(ctx context.Context, now time.Time) error {
	for _, block := range p.blocks {
		if !block.Enabled {
			continue
		}
		due, _ := p.gate.due(block.ID, block.IntervalSeconds, now.Unix())
		if !due {
			continue
		}
		block := block
		engine.SafeBlock(p.Log, p.Metrics, p.Name(), block.ID, func() error {
			value := Resolve(block, now.UTC())
			p.Dispatcher.WriteOrAdd(ctx, block.OutputPointID, value, nil, block.DurationSeconds)
			return nil
		})
	}
	return nil
}

// Resolve evaluates the schedule at the given UTC instant: holiday override
// first, then the active entry with the highest priority (ties broken by
// earliest start), then the default.
func Resolve(block models.ScheduleMemory, now time.Time) string {
	if lo.Contains(block.Holidays, now.Format("2006-01-02")) {
		if block.HolidayValue != nil {
			return *block.HolidayValue
		}
		return block.DefaultValue
	}

	minute := now.Hour()*60 + now.Minute()
	weekday := now.Weekday()

	var best *models.ScheduleEntry
	for i := range block.Entries {
		entry := &block.Entries[i]
		if !entryActive(*entry, weekday, minute) {
			continue
		}
		if best == nil || entry.Priority > best.Priority ||
			(entry.Priority == best.Priority && entry.Start < best.Start) {
			best = entry
		}
	}
	if best != nil {
		return best.Value
	}
	return block.DefaultValue
}

// entryActive handles the three interval shapes: normal, cross-midnight
// (start > end matches late on the entry's day and early on the next), and
// null end per the configured behavior
func entryActive(entry models.ScheduleEntry, weekday time.Weekday, minute int) bool {
	end := minutesPerDay
	if entry.End != nil {
		end = *entry.End
	} else if entry.NullEnd != models.ExtendToEndOfDay {
		// UseDefault: a null end contributes nothing
		return false
	}

	switch {
	case entry.Start < end:
		return entry.Day == weekday && entry.Start <= minute && minute < end
	case entry.Start > end:
		if entry.Day == weekday && minute >= entry.Start {
			return true
		}
		return nextWeekday(entry.Day) == weekday && minute < end
	}
	return false
}

func nextWeekday(day time.Weekday) time.Weekday {
	return time.Weekday((int(day) + 1) % 7)
}
