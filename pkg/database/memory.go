package database

import (
	"context"
	"fmt"

	"github.com/fieldline/fieldline/pkg/models"
	"github.com/samber/lo"
	"github.com/sasha-s/go-deadlock"
)

// MemoryStore is the in-process ConfigStore used in development and tests.
// Setters replace whole configuration sets, mirroring how the CRUD layer owns
// the tables in production.
type MemoryStore struct {
	mutex deadlock.RWMutex

	points         []models.Point
	alarms         []models.Alarm
	pids           []models.PIDMemory
	totalizers     []models.TotalizerMemory
	rates          []models.RateOfChangeMemory
	averages       []models.MovingAverageMemory
	deadbands      []models.DeadbandMemory
	schedules      []models.ScheduleMemory
	comparisons    []models.ComparisonMemory
	minmaxes       []models.MinMaxMemory
	conditionals   []models.IfMemory
	statisticals   []models.StatisticalMemory
	writeActions   []models.WriteActionMemory
	tuningSessions []models.TuningSession

	writeItems   map[string]models.WriteItem
	activeAlarms map[string]models.ActiveAlarm
	alarmHistory []models.AlarmHistoryEntry
}

// NewMemoryStore makes an empty in-process config store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		writeItems:   map[string]models.WriteItem{},
		activeAlarms: map[string]models.ActiveAlarm{},
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Points(ctx context.Context) ([]models.Point, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.Point(nil), s.points...), nil
}

func (s *MemoryStore) Alarms(ctx context.Context) ([]models.Alarm, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.Alarm(nil), s.alarms...), nil
}

func (s *MemoryStore) PIDMemories(ctx context.Context) ([]models.PIDMemory, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.PIDMemory(nil), s.pids...), nil
}

func (s *MemoryStore) TotalizerMemories(ctx context.Context) ([]models.TotalizerMemory, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.TotalizerMemory(nil), s.totalizers...), nil
}

func (s *MemoryStore) RateOfChangeMemories(ctx context.Context) ([]models.RateOfChangeMemory, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.RateOfChangeMemory(nil), s.rates...), nil
}

func (s *MemoryStore) MovingAverageMemories(ctx context.Context) ([]models.MovingAverageMemory, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.MovingAverageMemory(nil), s.averages...), nil
}

func (s *MemoryStore) DeadbandMemories(ctx context.Context) ([]models.DeadbandMemory, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.DeadbandMemory(nil), s.deadbands...), nil
}

func (s *MemoryStore) ScheduleMemories(ctx context.Context) ([]models.ScheduleMemory, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.ScheduleMemory(nil), s.schedules...), nil
}

func (s *MemoryStore) ComparisonMemories(ctx context.Context) ([]models.ComparisonMemory, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.ComparisonMemory(nil), s.comparisons...), nil
}

func (s *MemoryStore) MinMaxMemories(ctx context.Context) ([]models.MinMaxMemory, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.MinMaxMemory(nil), s.minmaxes...), nil
}

func (s *MemoryStore) IfMemories(ctx context.Context) ([]models.IfMemory, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.IfMemory(nil), s.conditionals...), nil
}

func (s *MemoryStore) StatisticalMemories(ctx context.Context) ([]models.StatisticalMemory, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.StatisticalMemory(nil), s.statisticals...), nil
}

func (s *MemoryStore) WriteActionMemories(ctx context.Context) ([]models.WriteActionMemory, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.WriteActionMemory(nil), s.writeActions...), nil
}

func (s *MemoryStore) UpsertWriteItem(ctx context.Context, item models.WriteItem) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.writeItems[item.PointID] = item
	return nil
}

func (s *MemoryStore) CommitAlarmBatch(ctx context.Context, batch AlarmBatch) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, active := range batch.Activate {
		s.activeAlarms[active.AlarmID] = active
	}
	for _, id := range batch.Clear {
		delete(s.activeAlarms, id)
	}
	s.alarmHistory = append(s.alarmHistory, batch.History...)
	return nil
}

func (s *MemoryStore) TuningSessions(ctx context.Context) ([]models.TuningSession, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.TuningSession(nil), s.tuningSessions...), nil
}

func (s *MemoryStore) UpdateTuningSession(ctx context.Context, session models.TuningSession) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for i := range s.tuningSessions {
		if s.tuningSessions[i].ID == session.ID {
			s.tuningSessions[i] = session
			return nil
		}
	}
	return fmt.Errorf("tuning session %s not found", session.ID)
}

func (s *MemoryStore) UpdatePIDGains(ctx context.Context, pidID string, kp, ki, kd float64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for i := range s.pids {
		if s.pids[i].ID == pidID {
			s.pids[i].Kp = kp
			s.pids[i].Ki = ki
			s.pids[i].Kd = kd
			return nil
		}
	}
	return fmt.Errorf("pid memory %s not found", pidID)
}

func (s *MemoryStore) UpdateWriteActionCount(ctx context.Context, id string, count int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for i := range s.writeActions {
		if s.writeActions[i].ID == id {
			s.writeActions[i].CurrentExecutionCount = count
			return nil
		}
	}
	return fmt.Errorf("write action %s not found", id)
}

func (s *MemoryStore) ClearTotalizerReset(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for i := range s.totalizers {
		if s.totalizers[i].ID == id {
			s.totalizers[i].ResetRequested = false
			return nil
		}
	}
	return fmt.Errorf("totalizer %s not found", id)
}

// Setters, used by tests and the development harness

func (s *MemoryStore) SetPoints(points []models.Point) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.points = points
}

func (s *MemoryStore) SetAlarms(alarms []models.Alarm) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.alarms = alarms
}

func (s *MemoryStore) SetPIDMemories(pids []models.PIDMemory) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.pids = pids
}

func (s *MemoryStore) SetTotalizerMemories(totalizers []models.TotalizerMemory) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.totalizers = totalizers
}

func (s *MemoryStore) SetRateOfChangeMemories(rates []models.RateOfChangeMemory) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.rates = rates
}

func (s *MemoryStore) SetMovingAverageMemories(averages []models.MovingAverageMemory) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.averages = averages
}

func (s *MemoryStore) SetDeadbandMemories(deadbands []models.DeadbandMemory) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.deadbands = deadbands
}

func (s *MemoryStore) SetScheduleMemories(schedules []models.ScheduleMemory) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.schedules = schedules
}

func (s *MemoryStore) SetComparisonMemories(comparisons []models.ComparisonMemory) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.comparisons = comparisons
}

func (s *MemoryStore) SetMinMaxMemories(minmaxes []models.MinMaxMemory) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.minmaxes = minmaxes
}

func (s *MemoryStore) SetIfMemories(conditionals []models.IfMemory) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.conditionals = conditionals
}

func (s *MemoryStore) SetStatisticalMemories(statisticals []models.StatisticalMemory) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.statisticals = statisticals
}

func (s *MemoryStore) SetWriteActionMemories(writeActions []models.WriteActionMemory) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.writeActions = writeActions
}

func (s *MemoryStore) SetTuningSessions(sessions []models.TuningSession) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.tuningSessions = sessions
}

// WriteItems returns the pending driver writes, for tests and the drivers
func (s *MemoryStore) WriteItems() []models.WriteItem {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return lo.Values(s.writeItems)
}

// WriteItem returns the pending driver write of one point
func (s *MemoryStore) WriteItem(pointID string) (models.WriteItem, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	item, ok := s.writeItems[pointID]
	return item, ok
}

// ActiveAlarms returns the alarms currently latched active
func (s *MemoryStore) ActiveAlarms(ctx context.Context) ([]models.ActiveAlarm, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return lo.Values(s.activeAlarms), nil
}

// AlarmHistory returns the append-only trigger/clear trail
func (s *MemoryStore) AlarmHistory() []models.AlarmHistoryEntry {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]models.AlarmHistoryEntry(nil), s.alarmHistory...)
}
