package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taskbot/internal/task"
	logx "taskbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

const eventColumns = `id, channel_id, thread_id, target_name, scheduled_time, message, status, job_key,
	created_by_id, created_by_name, created_at, updated_at, executed_at, error_message`

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateEvent(ctx context.Context, ev task.Event) (task.Event, error) {
	if s == nil || s.db == nil {
		return task.Event{}, ErrDisabled
	}
	if ev.Status == "" {
		ev.Status = task.StatusPending
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return task.Event{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var byID, byName string
	if ev.CreatedBy != nil {
		byID, byName = ev.CreatedBy.ID, ev.CreatedBy.Name
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO scheduled_events(channel_id, thread_id, target_name, scheduled_time, message, status, job_key,
			created_by_id, created_by_name, created_at, updated_at, executed_at, error_message)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ev.Target.ChannelID, ev.Target.ThreadID, nullStr(ev.Target.Name), formatTime(ev.ScheduledTime),
		ev.Message, string(ev.Status), nullStr(ev.JobKey), nullStr(byID), nullStr(byName),
		formatTime(ev.CreatedAt), nullTime(ev.UpdatedAt), nullTime(ev.ExecutedAt), nullStr(ev.ErrorMessage),
	)
	if err != nil {
		return task.Event{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return task.Event{}, err
	}
	ev.ID = id
	if ev.Status == task.StatusPending && ev.JobKey == "" {
		ev.JobKey = task.EventJobKey(id)
		if _, err := tx.ExecContext(ctx, `UPDATE scheduled_events SET job_key = ? WHERE id = ?`, ev.JobKey, id); err != nil {
			return task.Event{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return task.Event{}, err
	}
	return s.GetEvent(ctx, id)
}

func (s *sqliteStore) GetEvent(ctx context.Context, id int64) (task.Event, error) {
	if s == nil || s.db == nil {
		return task.Event{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM scheduled_events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Event{}, fmt.Errorf("%w: event %d", task.ErrNotFound, id)
	}
	return ev, err
}

func (s *sqliteStore) UpdateEvent(ctx context.Context, ev task.Event) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	var byID, byName string
	if ev.CreatedBy != nil {
		byID, byName = ev.CreatedBy.ID, ev.CreatedBy.Name
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_events SET channel_id = ?, thread_id = ?, target_name = ?, scheduled_time = ?, message = ?,
			status = ?, job_key = ?, created_by_id = ?, created_by_name = ?, updated_at = ?, executed_at = ?, error_message = ?
		 WHERE id = ?`,
		ev.Target.ChannelID, ev.Target.ThreadID, nullStr(ev.Target.Name), formatTime(ev.ScheduledTime), ev.Message,
		string(ev.Status), nullStr(ev.JobKey), nullStr(byID), nullStr(byName), nullTime(ev.UpdatedAt),
		nullTime(ev.ExecutedAt), nullStr(ev.ErrorMessage), ev.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: event %d", task.ErrNotFound, ev.ID)
	}
	return nil
}

func (s *sqliteStore) ListEvents(ctx context.Context, q EventQuery) ([]task.Event, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	where, args := statusClause(q.Statuses)
	order := "scheduled_time ASC, id ASC"
	switch q.Order {
	case OrderScheduledDesc:
		order = "scheduled_time DESC, id ASC"
	case OrderResolvedDesc:
		order = "COALESCE(executed_at, updated_at, scheduled_time) DESC, id ASC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM scheduled_events`+where+` ORDER BY `+order+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountEvents(ctx context.Context, statuses ...task.Status) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	where, args := statusClause(statuses)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_events`+where, args...).Scan(&n)
	return n, err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e task.AuditEntry) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now()
	}
	var meta any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return 0, err
		}
		meta = string(b)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(task_type, status, scheduled_time, executed_at, target, metadata, error_message)
		 VALUES(?,?,?,?,?,?,?)`,
		e.TaskType, string(e.Status), nullTime(e.ScheduledTime), formatTime(e.ExecutedAt), e.Target, meta, nullStr(e.ErrorMessage),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListAudit(ctx context.Context, limit int) ([]task.AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_type, status, scheduled_time, executed_at, target, metadata, error_message
		 FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.AuditEntry
	for rows.Next() {
		var (
			e                    task.AuditEntry
			status, executed     string
			sched, meta, errText sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TaskType, &status, &sched, &executed, &e.Target, &meta, &errText); err != nil {
			return nil, err
		}
		e.Status = task.Status(status)
		if e.ExecutedAt, err = parseTime(executed); err != nil {
			return nil, err
		}
		if e.ScheduledTime, err = parseNullTime(sched); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				return nil, err
			}
		}
		e.ErrorMessage = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetLastRun(ctx context.Context, name string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT last_fired_at FROM recurring_runs WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := parseTime(v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *sqliteStore) PutLastRun(ctx context.Context, name string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recurring_runs(name, last_fired_at) VALUES(?,?)
		 ON CONFLICT(name) DO UPDATE SET last_fired_at = excluded.last_fired_at`,
		name, formatTime(at),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (task.Event, error) {
	var (
		ev                                  task.Event
		status, sched, created              string
		name, jobKey, byID, byName, errText sql.NullString
		updated, executed                   sql.NullString
	)
	err := r.Scan(&ev.ID, &ev.Target.ChannelID, &ev.Target.ThreadID, &name, &sched, &ev.Message, &status, &jobKey,
		&byID, &byName, &created, &updated, &executed, &errText)
	if err != nil {
		return task.Event{}, err
	}
	ev.Target.Name = name.String
	ev.Status = task.Status(status)
	ev.JobKey = jobKey.String
	ev.ErrorMessage = errText.String
	if byID.Valid || byName.Valid {
		ev.CreatedBy = &task.Creator{ID: byID.String, Name: byName.String}
	}
	if ev.ScheduledTime, err = parseTime(sched); err != nil {
		return task.Event{}, err
	}
	if ev.CreatedAt, err = parseTime(created); err != nil {
		return task.Event{}, err
	}
	if ev.UpdatedAt, err = parseNullTime(updated); err != nil {
		return task.Event{}, err
	}
	if ev.ExecutedAt, err = parseNullTime(executed); err != nil {
		return task.Event{}, err
	}
	return ev, nil
}

func statusClause(statuses []task.Status) (string, []any) {
	if len(statuses) == 0 {
		return "", nil
	}
	ph := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		ph[i] = "?"
		args[i] = string(st)
	}
	return ` WHERE status IN (` + strings.Join(ph, ",") + `)`, args
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
