package database

import (
	"context"
	"encoding/json"

	"github.com/fieldline/fieldline/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PostgresStore is the production ConfigStore. Access is through short-lived
// pooled connections; every mutation group commits in a single transaction at
// the cycle boundary. Nested configuration (external alarms, schedule entries,
// comparison groups, branches, inputs) lives in jsonb columns.
type PostgresStore struct {
	Log  *logrus.Entry
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the configuration database
func NewPostgresStore(ctx context.Context, log *logrus.Entry, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{Log: log, pool: pool}, nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Points(ctx context.Context) ([]models.Point, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, interface, range_min, range_max, calibration_a, calibration_b,
		       number_of_samples, smoothing, save_interval, save_historical_interval, writable
		FROM points`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.Point
	for rows.Next() {
		var p models.Point
		if err := rows.Scan(&p.ID, &p.Kind, &p.Interface, &p.RangeMin, &p.RangeMax,
			&p.CalibrationA, &p.CalibrationB, &p.NumberOfSamples, &p.Smoothing,
			&p.SaveInterval, &p.SaveHistoricalInterval, &p.Writable); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *PostgresStore) Alarms(ctx context.Context) ([]models.Alarm, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, enabled, point_id, kind, comparison, value1, value2,
		       timeout_seconds, delay_seconds, externals
		FROM alarms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alarms []models.Alarm
	for rows.Next() {
		var a models.Alarm
		var externals []byte
		if err := rows.Scan(&a.ID, &a.Enabled, &a.PointID, &a.Kind, &a.Comparison,
			&a.Value1, &a.Value2, &a.TimeoutSeconds, &a.DelaySeconds, &externals); err != nil {
			return nil, err
		}
		if err := unmarshalColumn(externals, &a.Externals); err != nil {
			s.Log.WithField("alarmId", a.ID).Warn("skipping alarm with invalid externals json")
			continue
		}
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}

func (s *PostgresStore) PIDMemories(ctx context.Context) ([]models.PIDMemory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, enabled, interval_seconds, input_point_id, output_point_id,
		       set_point, is_auto, manual_value, reverse_output,
		       kp, ki, kd, out_min, out_max, feed_forward, derivative_filter_alpha,
		       max_output_slew_rate, dead_zone, cascade_level, parent_id,
		       digital_output, duration_seconds
		FROM pid_memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pids []models.PIDMemory
	for rows.Next() {
		var m models.PIDMemory
		var setPoint, isAuto, manual, reverse, digital []byte
		var parentID *string
		if err := rows.Scan(&m.ID, &m.Enabled, &m.IntervalSeconds, &m.InputPointID, &m.OutputPointID,
			&setPoint, &isAuto, &manual, &reverse,
			&m.Kp, &m.Ki, &m.Kd, &m.OutMin, &m.OutMax, &m.FeedForward, &m.DerivativeFilterAlpha,
			&m.MaxOutputSlewRate, &m.DeadZone, &m.CascadeLevel, &parentID,
			&digital, &m.DurationSeconds); err != nil {
			return nil, err
		}
		if parentID != nil {
			m.ParentID = *parentID
		}
		ok := unmarshalColumn(setPoint, &m.SetPoint) == nil &&
			unmarshalColumn(isAuto, &m.IsAuto) == nil &&
			unmarshalColumn(manual, &m.ManualValue) == nil &&
			unmarshalColumn(reverse, &m.ReverseOutput) == nil &&
			unmarshalColumn(digital, &m.DigitalOutput) == nil
		if !ok {
			s.Log.WithField("pidId", m.ID).Warn("skipping pid memory with invalid reference json")
			continue
		}
		pids = append(pids, m)
	}
	return pids, rows.Err()
}

func (s *PostgresStore) TotalizerMemories(ctx context.Context) ([]models.TotalizerMemory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, enabled, interval_seconds, input_point_id, output_point_id, mode,
		       overflow_threshold, reset_cron, reset_requested, decimal_places
		FROM totalizer_memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totalizers []models.TotalizerMemory
	for rows.Next() {
		var m models.TotalizerMemory
		if err := rows.Scan(&m.ID, &m.Enabled, &m.IntervalSeconds, &m.InputPointID, &m.OutputPointID,
			&m.Mode, &m.OverflowThreshold, &m.ResetCron, &m.ResetRequested, &m.DecimalPlaces); err != nil {
			return nil, err
		}
		totalizers = append(totalizers, m)
	}
	return totalizers, rows.Err()
}

func (s *PostgresStore) RateOfChangeMemories(ctx context.Context) ([]models.RateOfChangeMemory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, enabled, interval_seconds, input_point_id, output_point_id, method,
		       window_seconds, baseline_sample_count, time_unit_factor, smoothing_filter_alpha,
		       high_threshold, low_threshold, hysteresis_factor, high_alarm_point_id, low_alarm_point_id
		FROM rate_of_change_memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []models.RateOfChangeMemory
	for rows.Next() {
		var m models.RateOfChangeMemory
		var highAlarm, lowAlarm *string
		if err := rows.Scan(&m.ID, &m.Enabled, &m.IntervalSeconds, &m.InputPointID, &m.OutputPointID,
			&m.Method, &m.WindowSeconds, &m.BaselineSampleCount, &m.TimeUnitFactor, &m.SmoothingFilterAlpha,
			&m.HighThreshold, &m.LowThreshold, &m.HysteresisFactor, &highAlarm, &lowAlarm); err != nil {
			return nil, err
		}
		if highAlarm != nil {
			m.HighAlarmPointID = *highAlarm
		}
		if lowAlarm != nil {
			m.LowAlarmPointID = *lowAlarm
		}
		rates = append(rates, m)
	}
	return rates, rows.Err()
}

func (s *PostgresStore) MovingAverageMemories(ctx context.Context) ([]models.MovingAverageMemory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, enabled, interval_seconds, inputs, output_point_id, method,
		       sample_count, ema_alpha, minimum_samples, outlier, outlier_factor,
		       outlier_zscore, stale_timeout_seconds
		FROM moving_average_memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var averages []models.MovingAverageMemory
	for rows.Next() {
		var m models.MovingAverageMemory
		var inputs []byte
		if err := rows.Scan(&m.ID, &m.Enabled, &m.IntervalSeconds, &inputs, &m.OutputPointID,
			&m.Method, &m.SampleCount, &m.EMAAlpha, &m.MinimumSamples, &m.Outlier,
			&m.OutlierFactor, &m.OutlierZScore, &m.StaleTimeoutSeconds); err != nil {
			return nil, err
		}
		if err := unmarshalColumn(inputs, &m.Inputs); err != nil {
			s.Log.WithField("memoryId", m.ID).Warn("skipping moving average with invalid inputs json")
			continue
		}
		averages = append(averages, m)
	}
	return averages, rows.Err()
}

func (s *PostgresStore) DeadbandMemories(ctx context.Context) ([]models.DeadbandMemory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, enabled, interval_seconds, input_point_id, output_point_id, mode,
		       deadband, range_min, range_max, stability_time_seconds
		FROM deadband_memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deadbands []models.DeadbandMemory
	for rows.Next() {
		var m models.DeadbandMemory
		if err := rows.Scan(&m.ID, &m.Enabled, &m.IntervalSeconds, &m.InputPointID, &m.OutputPointID,
			&m.Mode, &m.Deadband, &m.RangeMin, &m.RangeMax, &m.StabilityTimeSeconds); err != nil {
			return nil, err
		}
		deadbands = append(deadbands, m)
	}
	return deadbands, rows.Err()
}

func (s *PostgresStore) ScheduleMemories(ctx context.Context) ([]models.ScheduleMemory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, enabled, interval_seconds, output_point_id, entries, holidays,
		       holiday_value, default_value, duration_seconds
		FROM schedule_memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.ScheduleMemory
	for rows.Next() {
		var m models.ScheduleMemory
		var entries, holidays []byte
		if err := rows.Scan(&m.ID, &m.Enabled, &m.IntervalSeconds, &m.OutputPointID, &entries,
			&holidays, &m.HolidayValue, &m.DefaultValue, &m.DurationSeconds); err != nil {
			return nil, err
		}
		if unmarshalColumn(entries, &m.Entries) != nil || unmarshalColumn(holidays, &m.Holidays) != nil {
			s.Log.WithField("memoryId", m.ID).Warn("skipping schedule with invalid entries json")
			continue
		}
		schedules = append(schedules, m)
	}
	return schedules, rows.Err()
}

func (s *PostgresStore) ComparisonMemories(ctx context.Context) ([]models.ComparisonMemory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, enabled, interval_seconds, groups, output_point_id, duration_seconds
		FROM comparison_memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comparisons []models.ComparisonMemory
	for rows.Next() {
		var m models.ComparisonMemory
		var groups []byte
		if err := rows.Scan(&m.ID, &m.Enabled, &m.IntervalSeconds, &groups, &m.OutputPointID, &m.DurationSeconds); err != nil {
			return nil, err
		}
		if err := unmarshalColumn(groups, &m.Groups); err != nil {
			s.Log.WithField("memoryId", m.ID).Warn("skipping comparison with invalid groups json")
			continue
		}
		comparisons = append(comparisons, m)
	}
	return comparisons, rows.Err()
}

func (s *PostgresStore) MinMaxMemories(ctx context.Context) ([]models.MinMaxMemory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, enabled, interval_seconds, inputs, output_point_id, index_point_id, mode, failover
		FROM min_max_memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var minmaxes []models.MinMaxMemory
	for rows.Next() {
		var m models.MinMaxMemory
		var inputs []byte
		var indexPoint *string
		if err := rows.Scan(&m.ID, &m.Enabled, &m.IntervalSeconds, &inputs, &m.OutputPointID,
			&indexPoint, &m.Mode, &m.Failover); err != nil {
			return nil, err
		}
		if indexPoint != nil {
			m.IndexPointID = *indexPoint
		}
		if err := unmarshalColumn(inputs, &m.Inputs); err != nil {
			s.Log.WithField("memoryId", m.ID).Warn("skipping min/max selector with invalid inputs json")
			continue
		}
		minmaxes = append(minmaxes, m)
	}
	return minmaxes, rows.Err()
}

func (s *PostgresStore) IfMemories(ctx context.Context) ([]models.IfMemory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, enabled, interval_seconds, variables, branches, default_value,
		       output_point_id, output_type
		FROM if_memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conditionals []models.IfMemory
	for rows.Next() {
		var m models.IfMemory
		var variables, branches []byte
		if err := rows.Scan(&m.ID, &m.Enabled, &m.IntervalSeconds, &variables, &branches,
			&m.DefaultValue, &m.OutputPointID, &m.OutputType); err != nil {
			return nil, err
		}
		if unmarshalColumn(variables, &m.Variables) != nil || unmarshalColumn(branches, &m.Branches) != nil {
			s.Log.WithField("memoryId", m.ID).Warn("skipping if memory with invalid branches json")
			continue
		}
		conditionals = append(conditionals, m)
	}
	return conditionals, rows.Err()
}

func (s *PostgresStore) StatisticalMemories(ctx context.Context) ([]models.StatisticalMemory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, enabled, interval_seconds, input_point_id, window, window_size,
		       minimum_samples, outputs
		FROM statistical_memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statisticals []models.StatisticalMemory
	for rows.Next() {
		var m models.StatisticalMemory
		var outputs []byte
		if err := rows.Scan(&m.ID, &m.Enabled, &m.IntervalSeconds, &m.InputPointID, &m.Window,
			&m.WindowSize, &m.MinimumSamples, &outputs); err != nil {
			return nil, err
		}
		if err := unmarshalColumn(outputs, &m.Outputs); err != nil {
			s.Log.WithField("memoryId", m.ID).Warn("skipping statistical memory with invalid outputs json")
			continue
		}
		statisticals = append(statisticals, m)
	}
	return statisticals, rows.Err()
}

func (s *PostgresStore) WriteActionMemories(ctx context.Context) ([]models.WriteActionMemory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, enabled, interval_seconds, input_point_id, input_match_value,
		       output_point_id, static_value, dynamic_source_id, duration_seconds,
		       max_execution_count, current_execution_count
		FROM write_action_memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var writeActions []models.WriteActionMemory
	for rows.Next() {
		var m models.WriteActionMemory
		if err := rows.Scan(&m.ID, &m.Enabled, &m.IntervalSeconds, &m.InputPointID, &m.InputMatchValue,
			&m.OutputPointID, &m.StaticValue, &m.DynamicSourceID, &m.DurationSeconds,
			&m.MaxExecutionCount, &m.CurrentExecutionCount); err != nil {
			return nil, err
		}
		writeActions = append(writeActions, m)
	}
	return writeActions, rows.Err()
}

func (s *PostgresStore) UpsertWriteItem(ctx context.Context, item models.WriteItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO write_items (point_id, value, time, duration_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (point_id) DO UPDATE
		SET value = EXCLUDED.value, time = EXCLUDED.time, duration_seconds = EXCLUDED.duration_seconds`,
		item.PointID, item.Value, item.Time, item.DurationSeconds)
	return err
}

func (s *PostgresStore) CommitAlarmBatch(ctx context.Context, batch AlarmBatch) error {
	if batch.Empty() {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, active := range batch.Activate {
			if _, err := tx.Exec(ctx, `
				INSERT INTO active_alarms (alarm_id, since) VALUES ($1, $2)
				ON CONFLICT (alarm_id) DO NOTHING`,
				active.AlarmID, active.Since); err != nil {
				return err
			}
		}
		for _, id := range batch.Clear {
			if _, err := tx.Exec(ctx, `DELETE FROM active_alarms WHERE alarm_id = $1`, id); err != nil {
				return err
			}
		}
		for _, entry := range batch.History {
			if _, err := tx.Exec(ctx, `
				INSERT INTO alarm_history (alarm_id, active, time, snapshot)
				VALUES ($1, $2, $3, $4)`,
				entry.AlarmID, entry.Active, entry.Time, entry.Snapshot); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) ActiveAlarms(ctx context.Context) ([]models.ActiveAlarm, error) {
	rows, err := s.pool.Query(ctx, `SELECT alarm_id, since FROM active_alarms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var active []models.ActiveAlarm
	for rows.Next() {
		var a models.ActiveAlarm
		if err := rows.Scan(&a.AlarmID, &a.Since); err != nil {
			return nil, err
		}
		active = append(active, a)
	}
	return active, rows.Err()
}

func (s *PostgresStore) TuningSessions(ctx context.Context) ([]models.TuningSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, pid_id, status, start_time, relay_amplitude_percent, hysteresis,
		       min_cycles, max_cycles, timeout_seconds, max_amplitude,
		       original_kp, original_ki, original_kd,
		       calculated_kp, calculated_ki, calculated_kd,
		       ultimate_gain, ultimate_period, diagnostic
		FROM tuning_sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.TuningSession
	for rows.Next() {
		var t models.TuningSession
		if err := rows.Scan(&t.ID, &t.PIDID, &t.Status, &t.StartTime, &t.RelayAmplitudePercent,
			&t.Hysteresis, &t.MinCycles, &t.MaxCycles, &t.TimeoutSeconds, &t.MaxAmplitude,
			&t.OriginalKp, &t.OriginalKi, &t.OriginalKd,
			&t.CalculatedKp, &t.CalculatedKi, &t.CalculatedKd,
			&t.UltimateGain, &t.UltimatePeriod, &t.Diagnostic); err != nil {
			return nil, err
		}
		sessions = append(sessions, t)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) UpdateTuningSession(ctx context.Context, session models.TuningSession) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tuning_sessions
		SET status = $2, start_time = $3,
		    original_kp = $4, original_ki = $5, original_kd = $6,
		    calculated_kp = $7, calculated_ki = $8, calculated_kd = $9,
		    ultimate_gain = $10, ultimate_period = $11, diagnostic = $12
		WHERE id = $1`,
		session.ID, session.Status, session.StartTime,
		session.OriginalKp, session.OriginalKi, session.OriginalKd,
		session.CalculatedKp, session.CalculatedKi, session.CalculatedKd,
		session.UltimateGain, session.UltimatePeriod, session.Diagnostic)
	return err
}

func (s *PostgresStore) UpdatePIDGains(ctx context.Context, pidID string, kp, ki, kd float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pid_memories SET kp = $2, ki = $3, kd = $4 WHERE id = $1`,
		pidID, kp, ki, kd)
	return err
}

func (s *PostgresStore) UpdateWriteActionCount(ctx context.Context, id string, count int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE write_action_memories SET current_execution_count = $2 WHERE id = $1`,
		id, count)
	return err
}

func (s *PostgresStore) ClearTotalizerReset(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE totalizer_memories SET reset_requested = FALSE WHERE id = $1`, id)
	return err
}

// unmarshalColumn decodes a nullable jsonb column into v, leaving v alone on
// NULL
func unmarshalColumn(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
