package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/pagesplit/pagesplit/internal/experiment"
)

// maxBucketAttempts bounds the fallback path's insert/update retries.
const maxBucketAttempts = 5

var errBucketRace = errors.New("hourly stat bucket created concurrently")

// RecordEvent adds participants and conversions to the bucket for the UTC
// hour containing at, creating the bucket if needed. Concurrent calls on
// the same bucket never lose an increment.
func (s *SQLiteStore) RecordEvent(ctx context.Context, experimentID string, arm experiment.Arm, participants, conversions int64, at time.Time) error {
	if _, err := experiment.ParseArm(string(arm)); err != nil {
		return err
	}
	if participants < 0 || conversions < 0 {
		return fmt.Errorf("%w: negative delta", experiment.ErrInvalidInput)
	}

	key := bucketKey{
		experimentID: experimentID,
		arm:          arm,
		date:         at.UTC().Format(dateLayout),
		hour:         at.UTC().Hour(),
	}

	var err error
	if s.mode == UpsertFallback {
		err = s.incrementFallback(ctx, key, participants, conversions)
	} else {
		err = s.incrementAtomic(ctx, key, participants, conversions)
	}
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

type bucketKey struct {
	experimentID string
	arm          experiment.Arm
	date         string
	hour         int
}

func (s *SQLiteStore) incrementAtomic(ctx context.Context, key bucketKey, participants, conversions int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hourly_stats (experiment_id, arm, date, hour, participants, conversions)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (experiment_id, arm, date, hour) DO UPDATE SET
			participants = participants + excluded.participants,
			conversions = conversions + excluded.conversions`,
		key.experimentID, string(key.arm), key.date, key.hour, participants, conversions,
	)
	if err != nil {
		return fmt.Errorf("failed to record hourly stat: %w", err)
	}
	return nil
}

// incrementFallback is for storage without an atomic upsert. The update is
// relative (participants = participants + ?) so it never overwrites a
// concurrent writer. Two callers may both miss the row and race to insert
// it; the loser trips the unique key and retries, now finding the row.
func (s *SQLiteStore) incrementFallback(ctx context.Context, key bucketKey, participants, conversions int64) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Millisecond
	policy.MaxInterval = 50 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		result, err := s.db.ExecContext(ctx,
			`UPDATE hourly_stats
			 SET participants = participants + ?, conversions = conversions + ?
			 WHERE experiment_id = ? AND arm = ? AND date = ? AND hour = ?`,
			participants, conversions, key.experimentID, string(key.arm), key.date, key.hour,
		)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("failed to update hourly stat: %w", err))
		}
		if n, err := result.RowsAffected(); err == nil && n > 0 {
			return struct{}{}, nil
		}

		_, err = s.db.ExecContext(ctx,
			`INSERT INTO hourly_stats (experiment_id, arm, date, hour, participants, conversions)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			key.experimentID, string(key.arm), key.date, key.hour, participants, conversions,
		)
		switch {
		case err == nil:
			return struct{}{}, nil
		case isUniqueViolation(err):
			s.logger.Debug().Str("experiment_id", key.experimentID).Str("arm", string(key.arm)).
				Msg("hourly stat insert lost race, retrying")
			return struct{}{}, errBucketRace
		case isForeignKeyViolation(err):
			return struct{}{}, backoff.Permanent(err)
		default:
			return struct{}{}, backoff.Permanent(fmt.Errorf("failed to insert hourly stat: %w", err))
		}
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(maxBucketAttempts))

	return err
}

// Totals sums participants and conversions across the buckets that match filter.
func (s *SQLiteStore) Totals(ctx context.Context, experimentID string, filter StatsFilter) (Totals, error) {
	query := `SELECT COALESCE(SUM(participants), 0), COALESCE(SUM(conversions), 0)
		FROM hourly_stats WHERE experiment_id = ?`
	args := []any{experimentID}

	if filter.Arm != nil {
		query += ` AND arm = ?`
		args = append(args, string(*filter.Arm))
	}
	if !filter.From.IsZero() {
		query += ` AND date >= ?`
		args = append(args, filter.From.UTC().Format(dateLayout))
	}
	if !filter.To.IsZero() {
		query += ` AND date <= ?`
		args = append(args, filter.To.UTC().Format(dateLayout))
	}

	var t Totals
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&t.Participants, &t.Conversions); err != nil {
		return Totals{}, fmt.Errorf("failed to sum hourly stats: %w", err)
	}
	return t, nil
}

// TotalsByArm returns the totals for both arms; an arm without buckets
// has zero totals.
func (s *SQLiteStore) TotalsByArm(ctx context.Context, experimentID string) (map[experiment.Arm]Totals, error) {
	return totalsByArm(ctx, s.db, experimentID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func totalsByArm(ctx context.Context, q queryer, experimentID string) (map[experiment.Arm]Totals, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT arm, SUM(participants), SUM(conversions)
		 FROM hourly_stats WHERE experiment_id = ? GROUP BY arm`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sum hourly stats by arm: %w", err)
	}
	defer rows.Close()

	totals := map[experiment.Arm]Totals{
		experiment.ArmControl: {},
		experiment.ArmVariant: {},
	}
	for rows.Next() {
		var arm string
		var t Totals
		if err := rows.Scan(&arm, &t.Participants, &t.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan hourly stat totals: %w", err)
		}
		totals[experiment.Arm(arm)] = t
	}
	return totals, rows.Err()
}

type txReader struct {
	tx *sql.Tx
}

func (r txReader) TotalsByArm(ctx context.Context, experimentID string) (map[experiment.Arm]Totals, error) {
	return totalsByArm(ctx, r.tx, experimentID)
}

// HourlyStats returns every bucket of the experiment ordered by date, hour and arm.
func (s *SQLiteStore) HourlyStats(ctx context.Context, experimentID string) ([]HourlyStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT experiment_id, arm, date, hour, participants, conversions
		 FROM hourly_stats WHERE experiment_id = ?
		 ORDER BY date, hour, arm`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get hourly stats: %w", err)
	}
	defer rows.Close()

	var stats []HourlyStat
	for rows.Next() {
		var h HourlyStat
		var arm, date string
		if err := rows.Scan(&h.ExperimentID, &arm, &date, &h.Hour, &h.Participants, &h.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan hourly stat: %w", err)
		}
		h.Arm = experiment.Arm(arm)
		h.Date, err = time.ParseInLocation(dateLayout, date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hourly stat date %q: %w", date, err)
		}
		stats = append(stats, h)
	}
	return stats, rows.Err()
}

// CumulativeSeries turns buckets ordered by (date, hour) into one point
// per day holding cumulative conversions for each arm. Days without
// buckets between the first and last day repeat the previous values.
func CumulativeSeries(buckets []HourlyStat) []DailyPoint {
	var series []DailyPoint
	var control, variant int64

	for _, b := range buckets {
		if n := len(series); n > 0 {
			for d := series[n-1].Date.AddDate(0, 0, 1); d.Before(b.Date); d = d.AddDate(0, 0, 1) {
				series = append(series, DailyPoint{Date: d, ControlConversions: control, VariantConversions: variant})
			}
		}
		if n := len(series); n == 0 || !series[n-1].Date.Equal(b.Date) {
			series = append(series, DailyPoint{Date: b.Date})
		}

		switch b.Arm {
		case experiment.ArmControl:
			control += b.Conversions
		case experiment.ArmVariant:
			variant += b.Conversions
		}

		last := &series[len(series)-1]
		last.ControlConversions = control
		last.VariantConversions = variant
	}

	return series
}

func sqliteCode(err error) (int, bool) {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code(), true
	}
	return 0, false
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	code, ok := sqliteCode(err)
	if !ok {
		return false
	}
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(err.Error(), "UNIQUE")
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	code, ok := sqliteCode(err)
	if !ok {
		return false
	}
	return code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY ||
		(code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), "FOREIGN KEY"))
}
