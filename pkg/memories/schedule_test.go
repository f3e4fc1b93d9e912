package memories

import (
	"testing"
	"time"

	"github.com/fieldline/fieldline/pkg/models"
	"github.com/stretchr/testify/assert"
)

func weekdaySchedule() models.ScheduleMemory {
	return models.ScheduleMemory{
		ID:              "s1",
		Enabled:         true,
		IntervalSeconds: 1,
		OutputPointID:   "setpoint",
		DefaultValue:    "16",
		Entries: []models.ScheduleEntry{
			{Day: time.Monday, Start: 8 * 60, End: intPtr(18 * 60), Value: "21"},
		},
	}
}

func at(hour, minute int) time.Time {
	// a Monday
	return time.Date(2026, 8, 24, hour, minute, 0, 0, time.UTC)
}

func TestScheduleResolveWeekdayWindow(t *testing.T) {
	block := weekdaySchedule()

	assert.Equal(t, "16", Resolve(block, at(7, 59)))
	assert.Equal(t, "21", Resolve(block, at(8, 0)))
	assert.Equal(t, "21", Resolve(block, at(17, 59)))
	assert.Equal(t, "16", Resolve(block, at(18, 0)))

	// Tuesday is outside the entry's day
	assert.Equal(t, "16", Resolve(block, at(12, 0).AddDate(0, 0, 1)))
}

func TestSchedulePriorityAndTieBreak(t *testing.T) {
	block := weekdaySchedule()
	block.Entries = []models.ScheduleEntry{
		{Day: time.Monday, Start: 8 * 60, End: intPtr(18 * 60), Priority: 1, Value: "21"},
		{Day: time.Monday, Start: 12 * 60, End: intPtr(14 * 60), Priority: 2, Value: "24"},
	}

	assert.Equal(t, "21", Resolve(block, at(11, 0)))
	assert.Equal(t, "24", Resolve(block, at(13, 0)))

	// equal priority: earliest start wins
	block.Entries[1].Priority = 1
	assert.Equal(t, "21", Resolve(block, at(13, 0)))
}

// A cross-midnight entry covers late hours of its day and early hours of the
// next.
func TestScheduleCrossMidnight(t *testing.T) {
	block := weekdaySchedule()
	block.Entries = []models.ScheduleEntry{
		{Day: time.Monday, Start: 22 * 60, End: intPtr(6 * 60), Value: "night"},
	}

	assert.Equal(t, "16", Resolve(block, at(21, 59)))
	assert.Equal(t, "night", Resolve(block, at(23, 0)))

	// Tuesday before 06:00 still matches
	tuesday := at(3, 0).AddDate(0, 0, 1)
	assert.Equal(t, "night", Resolve(block, tuesday))
	assert.Equal(t, "16", Resolve(block, at(7, 0).AddDate(0, 0, 1)))
}

func TestScheduleNullEndBehaviors(t *testing.T) {
	block := weekdaySchedule()
	block.Entries = []models.ScheduleEntry{
		{Day: time.Monday, Start: 8 * 60, End: nil, NullEnd: models.ExtendToEndOfDay, Value: "on"},
	}
	assert.Equal(t, "on", Resolve(block, at(23, 59)))
	assert.Equal(t, "16", Resolve(block, at(7, 0)))

	block.Entries[0].NullEnd = models.UseDefault
	assert.Equal(t, "16", Resolve(block, at(12, 0)))
}

func TestScheduleHolidayOverride(t *testing.T) {
	block := weekdaySchedule()
	block.Holidays = []string{"2026-08-24"}

	// no holiday value configured: the default applies all day
	assert.Equal(t, "16", Resolve(block, at(12, 0)))

	block.HolidayValue = stringPtr("0")
	assert.Equal(t, "0", Resolve(block, at(12, 0)))

	// the day after is scheduled normally again
	block.Entries[0].Day = time.Tuesday
	assert.Equal(t, "21", Resolve(block, at(12, 0).AddDate(0, 0, 1)))
}

// The processor writes the resolved value through the dispatcher every
// interval.
func TestScheduleProcessorWritesResolvedValue(t *testing.T) {
	f := newFixture()
	block := weekdaySchedule()
	// the fixture clock sits in the first hours of the epoch, a Thursday
	block.Entries = []models.ScheduleEntry{
		{Day: time.Thursday, Start: 0, End: intPtr(60), Value: "on"},
	}
	f.config.SetScheduleMemories([]models.ScheduleMemory{block})

	p := NewScheduleProcessor(f.deps)
	f.refresh(t, p)
	f.tick(t, p)

	value, ok := f.raw(t, "setpoint")
	assert.True(t, ok)
	assert.Equal(t, "on", value)
}
