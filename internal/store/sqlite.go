package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/slurmproxy/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// Ping checks database availability (used by the health endpoint).
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// execQuerier is satisfied by both *sql.DB and *sql.Tx so single-statement
// writes and the transactional pair insert share one code path.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- Task operations ---

func (s *SQLiteStore) InsertTask(ctx context.Context, task *model.Task) error {
	s.logger.Debug("sql", "op", "insert", "table", "tasks", "uuid", task.UUID)
	return insertTask(ctx, s.db, task)
}

func insertTask(ctx context.Context, q execQuerier, task *model.Task) error {
	paramsJSON, err := json.Marshal(task.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	dirsJSON, err := json.Marshal(task.Dirs)
	if err != nil {
		return fmt.Errorf("marshal dirs: %w", err)
	}
	resourceJSON, err := json.Marshal(task.Resources)
	if err != nil {
		return fmt.Errorf("marshal resource_spec: %w", err)
	}
	var notifJSON sql.NullString
	if task.Notification != nil {
		b, err := json.Marshal(task.Notification)
		if err != nil {
			return fmt.Errorf("marshal notification: %w", err)
		}
		notifJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO tasks (uuid, name, username, cwd, cmd, params, dirs, resource_spec, notification, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.UUID, task.Name, task.Username, task.Cwd, task.Cmd,
		string(paramsJSON), string(dirsJSON), string(resourceJSON), notifJSON,
		task.CreatedAt.Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return model.ErrDuplicateTask
	}
	return err
}

func (s *SQLiteStore) GetTask(ctx context.Context, uuid string) (*model.Task, error) {
	s.logger.Debug("sql", "op", "select", "table", "tasks", "uuid", uuid)

	var task model.Task
	var paramsJSON, dirsJSON, resourceJSON string
	var notifJSON sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT uuid, name, username, cwd, cmd, params, dirs, resource_spec, notification, created_at
		 FROM tasks WHERE uuid = ?`, uuid,
	).Scan(&task.UUID, &task.Name, &task.Username, &task.Cwd, &task.Cmd,
		&paramsJSON, &dirsJSON, &resourceJSON, &notifJSON, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &task.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal([]byte(dirsJSON), &task.Dirs); err != nil {
		return nil, fmt.Errorf("unmarshal dirs: %w", err)
	}
	if err := json.Unmarshal([]byte(resourceJSON), &task.Resources); err != nil {
		return nil, fmt.Errorf("unmarshal resource_spec: %w", err)
	}
	if notifJSON.Valid {
		task.Notification = &model.NotificationSpec{}
		if err := json.Unmarshal([]byte(notifJSON.String), task.Notification); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
	}
	task.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	return &task, nil
}

func (s *SQLiteStore) TaskExists(ctx context.Context, uuid string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE uuid = ?`, uuid).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Monitor operations ---

func (s *SQLiteStore) InsertMonitor(ctx context.Context, m *model.Monitor) error {
	s.logger.Debug("sql", "op", "insert", "table", "monitors",
		"task_uuid", m.TaskUUID, "main_job_id", m.MainJobID)
	return insertMonitor(ctx, s.db, m)
}

// InsertTaskAndMonitor writes the task and its monitor record in one
// transaction. Either both rows land or neither does, so a rejected monitor
// (duplicate job id, store fault) never strands a task row.
func (s *SQLiteStore) InsertTaskAndMonitor(ctx context.Context, task *model.Task, m *model.Monitor) error {
	s.logger.Debug("sql", "op", "insert_pair",
		"task_uuid", task.UUID, "main_job_id", m.MainJobID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertTask(ctx, tx, task); err != nil {
		return err
	}
	if err := insertMonitor(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

func insertMonitor(ctx context.Context, q execQuerier, m *model.Monitor) error {
	// Distinguish the two uniqueness violations up front; the constraints
	// still back this up under a racing insert.
	var n int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM monitors WHERE task_uuid = ?`, m.TaskUUID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return model.ErrDuplicateTask
	}
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM monitors WHERE main_job_id = ?`, m.MainJobID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return model.ErrDuplicateJob
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO monitors (task_uuid, prep_job_id, main_job_id, state, created_at, last_polled_at, notified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.TaskUUID, m.PrepJobID, m.MainJobID, m.State.String(),
		m.CreatedAt.Format(time.RFC3339Nano),
		nullTime(m.LastPolledAt), nullTime(m.NotifiedAt),
	)
	if isUniqueViolation(err) {
		return model.ErrDuplicateJob
	}
	return err
}

const monitorColumns = `task_uuid, prep_job_id, main_job_id, state, created_at, last_polled_at, notified_at`

func (s *SQLiteStore) GetMonitorByJobID(ctx context.Context, id model.JobID) (*model.Monitor, error) {
	s.logger.Debug("sql", "op", "select", "table", "monitors", "main_job_id", id)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE main_job_id = ?`, id)
	return scanMonitor(row)
}

func (s *SQLiteStore) GetMonitorByTaskUUID(ctx context.Context, uuid string) (*model.Monitor, error) {
	s.logger.Debug("sql", "op", "select", "table", "monitors", "task_uuid", uuid)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE task_uuid = ?`, uuid)
	return scanMonitor(row)
}

func (s *SQLiteStore) ListActiveMonitors(ctx context.Context, maxAge time.Duration) ([]*model.Monitor, error) {
	s.logger.Debug("sql", "op", "list_active", "table", "monitors", "max_age", maxAge)

	// Non-terminal records never carry notified_at, and terminal ones only
	// get it once delivery succeeded, so the null check covers both kinds
	// of outstanding work.
	query := `SELECT ` + monitorColumns + ` FROM monitors
		 WHERE notified_at IS NULL`
	var args []any
	if maxAge > 0 {
		query += ` AND created_at >= ?`
		args = append(args, time.Now().UTC().Add(-maxAge).Format(time.RFC3339Nano))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMonitors(rows)
}

func (s *SQLiteStore) ListMonitorsByState(ctx context.Context, state model.JobState) ([]*model.Monitor, error) {
	s.logger.Debug("sql", "op", "list_by_state", "table", "monitors", "state", state)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE state = ? ORDER BY created_at`,
		state.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMonitors(rows)
}

// stateRank mirrors the JobState ordering (PENDING, RUNNING, terminal) so
// the transition guard can run inside a single UPDATE.
const stateRank = `CASE %s WHEN 'PENDING' THEN 0 WHEN 'RUNNING' THEN 1 ELSE 2 END`

func (s *SQLiteStore) UpdateMonitorState(ctx context.Context, id model.JobID, newState model.JobState, polledAt time.Time) (bool, error) {
	polled := polledAt.UTC().Format(time.RFC3339Nano)

	// The rank comparison lives in the WHERE clause, so two writers racing
	// on the same job id resolve inside SQLite with no read-then-write gap.
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE monitors SET state = ?, last_polled_at = ?
		 WHERE main_job_id = ? AND %s < %s`,
			fmt.Sprintf(stateRank, "state"), fmt.Sprintf(stateRank, "?")),
		newState.String(), polled, id, newState.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		s.logger.Debug("sql", "op", "update_state", "table", "monitors",
			"main_job_id", id, "to", newState)
		return true, nil
	}

	// Stale or out-of-order poll result; record the poll, keep the state.
	res, err = s.db.ExecContext(ctx,
		`UPDATE monitors SET last_polled_at = ? WHERE main_job_id = ?`, polled, id)
	if err != nil {
		return false, err
	}
	n, err = res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, fmt.Errorf("monitor for job %d not found", id)
	}
	s.logger.Info("monitor state transition rejected",
		"main_job_id", id, "proposed", newState)
	return false, nil
}

func (s *SQLiteStore) MarkNotified(ctx context.Context, id model.JobID) error {
	s.logger.Debug("sql", "op", "mark_notified", "table", "monitors", "main_job_id", id)
	// Guarded write keeps the first notification timestamp.
	_, err := s.db.ExecContext(ctx,
		`UPDATE monitors SET notified_at = ? WHERE main_job_id = ? AND notified_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

func (s *SQLiteStore) DeleteMonitor(ctx context.Context, id model.JobID) error {
	s.logger.Debug("sql", "op", "delete", "table", "monitors", "main_job_id", id)
	_, err := s.db.ExecContext(ctx, `DELETE FROM monitors WHERE main_job_id = ?`, id)
	return err
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMonitor(row rowScanner) (*model.Monitor, error) {
	var m model.Monitor
	var state, createdAt string
	var lastPolled, notified sql.NullString

	err := row.Scan(&m.TaskUUID, &m.PrepJobID, &m.MainJobID, &state, &createdAt, &lastPolled, &notified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.State = model.JobState(state)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.LastPolledAt = parseNullTime(lastPolled)
	m.NotifiedAt = parseNullTime(notified)
	return &m, nil
}

func scanMonitors(rows *sql.Rows) ([]*model.Monitor, error) {
	var monitors []*model.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, m)
	}
	return monitors, rows.Err()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}
