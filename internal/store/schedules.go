package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadscout/internal/schedule"
)

const scheduleColumns = `id, name, enabled, enabled_from, frequency, hour, minute,
	day_of_week, day_of_month, search_json, last_run_at, last_run_status, next_run_at,
	created_at, updated_at`

// CreateSchedule inserts a new schedule and returns it with ID and
// timestamps set.
func (s *Store) CreateSchedule(ctx context.Context, sc schedule.Schedule) (schedule.Schedule, error) {
	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now

	searchJSON, err := json.Marshal(sc.Search)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("marshal search config: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(name, enabled, enabled_from, frequency, hour, minute,
			day_of_week, day_of_month, search_json, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		sc.Name, boolInt(sc.Enabled), nullTime(sc.EnabledFrom), string(sc.Frequency),
		sc.Hour, sc.Minute, sc.DayOfWeek, sc.DayOfMonth, string(searchJSON),
		timeStr(sc.CreatedAt), timeStr(sc.UpdatedAt),
	)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("insert schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return schedule.Schedule{}, err
	}
	sc.ID = id
	return sc, nil
}

func (s *Store) GetSchedule(ctx context.Context, id int64) (schedule.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Schedule{}, ErrNotFound
	}
	return sc, err
}

// ListSchedules returns all schedules ordered by ID, oldest first.
func (s *Store) ListSchedules(ctx context.Context) ([]schedule.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// UpdateSchedule replaces the operator-editable fields. Run bookkeeping
// columns are untouched; MarkRunStarted/MarkRunFinished own those.
func (s *Store) UpdateSchedule(ctx context.Context, sc schedule.Schedule) (schedule.Schedule, error) {
	sc.UpdatedAt = time.Now().UTC()

	searchJSON, err := json.Marshal(sc.Search)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("marshal search config: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET name=?, enabled=?, enabled_from=?, frequency=?, hour=?,
			minute=?, day_of_week=?, day_of_month=?, search_json=?, updated_at=?
		 WHERE id=?`,
		sc.Name, boolInt(sc.Enabled), nullTime(sc.EnabledFrom), string(sc.Frequency),
		sc.Hour, sc.Minute, sc.DayOfWeek, sc.DayOfMonth, string(searchJSON),
		timeStr(sc.UpdatedAt), sc.ID,
	)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schedule.Schedule{}, ErrNotFound
	}
	return s.GetSchedule(ctx, sc.ID)
}

func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRunStarted records the pending state before pipeline work begins.
func (s *Store) MarkRunStarted(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run_status=?, last_run_at=? WHERE id=?`,
		string(schedule.RunPending), timeStr(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRunFinished records the outcome and the projected next run.
func (s *Store) MarkRunFinished(ctx context.Context, id int64, status schedule.RunStatus, nextRunAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run_status=?, next_run_at=? WHERE id=?`,
		string(status), timeStr(nextRunAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (schedule.Schedule, error) {
	var (
		sc          schedule.Schedule
		enabled     int
		frequency   string
		searchJSON  string
		enabledFrom sql.NullString
		lastRunAt   sql.NullString
		lastStatus  sql.NullString
		nextRunAt   sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&sc.ID, &sc.Name, &enabled, &enabledFrom, &frequency, &sc.Hour,
		&sc.Minute, &sc.DayOfWeek, &sc.DayOfMonth, &searchJSON, &lastRunAt,
		&lastStatus, &nextRunAt, &createdAt, &updatedAt)
	if err != nil {
		return schedule.Schedule{}, err
	}

	sc.Enabled = enabled != 0
	sc.Frequency = schedule.Frequency(frequency)
	if lastStatus.Valid {
		sc.LastRunStatus = schedule.RunStatus(lastStatus.String)
	}
	if err := json.Unmarshal([]byte(searchJSON), &sc.Search); err != nil {
		return schedule.Schedule{}, fmt.Errorf("schedule %d: decode search config: %w", sc.ID, err)
	}
	if sc.EnabledFrom, err = scanTimePtr(enabledFrom); err != nil {
		return schedule.Schedule{}, err
	}
	if sc.LastRunAt, err = scanTimePtr(lastRunAt); err != nil {
		return schedule.Schedule{}, err
	}
	if sc.NextRunAt, err = scanTimePtr(nextRunAt); err != nil {
		return schedule.Schedule{}, err
	}
	if sc.CreatedAt, err = scanTimeVal(createdAt); err != nil {
		return schedule.Schedule{}, err
	}
	if sc.UpdatedAt, err = scanTimeVal(updatedAt); err != nil {
		return schedule.Schedule{}, err
	}
	return sc, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
