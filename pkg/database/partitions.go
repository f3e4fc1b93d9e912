package database

import (
	"context"
	"fmt"
	"time"
)

// EnsureHistoryPartitions creates the relational history table and its
// missing monthly partitions for the current and next calendar year.
// Partitions range over unix-second boundaries; names follow history_YYYYMM.
func (s *PostgresStore) EnsureHistoryPartitions(ctx context.Context, now time.Time) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS history (
			point_id TEXT NOT NULL,
			value    TEXT NOT NULL,
			time     BIGINT NOT NULL,
			PRIMARY KEY (point_id, time)
		) PARTITION BY RANGE (time)`); err != nil {
		return err
	}

	now = now.UTC()
	from := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(now.Year()+2, time.January, 1, 0, 0, 0, 0, time.UTC)

	for month := from; month.Before(until); month = month.AddDate(0, 1, 0) {
		next := month.AddDate(0, 1, 0)
		name := fmt.Sprintf("history_%04d%02d", month.Year(), int(month.Month()))
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s PARTITION OF history
			FOR VALUES FROM (%d) TO (%d)`, name, month.Unix(), next.Unix())
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return err
		}
	}

	s.Log.WithField("until", until.Format("2006-01")).Info("history partitions ensured")
	return nil
}

// Append archives one sample into the partitioned history table. A duplicate
// (point, time) pair is discarded without error, per the historian contract.
func (s *PostgresStore) Append(ctx context.Context, pointID, value string, unixSeconds int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO history (point_id, value, time)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, pointID, value, unixSeconds)
	return err
}
