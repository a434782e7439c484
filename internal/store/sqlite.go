package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/humanloop/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, enables
// WAL mode and foreign keys on every connection, and runs any pending
// schema migrations. ":memory:" opens a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	inMemory := dbPath == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !inMemory {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Each connection to :memory: is a separate database.
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

type taskRow struct {
	ID         string       `db:"id"`
	Channel    string       `db:"channel"`
	Question   string       `db:"question"`
	Answer     string       `db:"answer"`
	Status     string       `db:"status"`
	Error      string       `db:"error"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
	AnsweredAt sql.NullTime `db:"answered_at"`
}

func (r taskRow) task() model.Task {
	t := model.Task{
		ID:        r.ID,
		Channel:   r.Channel,
		Question:  r.Question,
		Answer:    r.Answer,
		Status:    model.TaskStatus(r.Status),
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.AnsweredAt.Valid {
		at := r.AnsweredAt.Time
		t.AnsweredAt = &at
	}
	return t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

const taskColumns = `id, channel, question, answer, status, error, created_at, updated_at, answered_at`

// PutTask inserts or replaces a task. Zero timestamps are set to now.
func (s *SQLiteStore) PutTask(ctx context.Context, t model.Task) error {
	now := s.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	if t.Status == "" {
		t.Status = model.TaskPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Channel, t.Question, t.Answer, string(t.Status), t.Error,
		t.CreatedAt.UTC(), t.UpdatedAt.UTC(), nullTime(t.AnsweredAt),
	)
	if err != nil {
		return fmt.Errorf("putting task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a single task by its ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}

	t := row.task()
	return &t, nil
}

// UpdateTask reads, modifies and writes a task in one transaction.
func (s *SQLiteStore) UpdateTask(
	ctx context.Context,
	id string,
	fn func(*model.Task) error,
) (*model.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var row taskRow
	err = tx.GetContext(ctx, &row, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("updating task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading task %s: %w", id, err)
	}

	t := row.task()
	if err := fn(&t); err != nil {
		return nil, err
	}
	t.ID = id
	t.UpdatedAt = s.now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks
		SET channel = ?, question = ?, answer = ?, status = ?, error = ?,
			updated_at = ?, answered_at = ?
		WHERE id = ?`,
		t.Channel, t.Question, t.Answer, string(t.Status), t.Error,
		t.UpdatedAt, nullTime(t.AnsweredAt), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating task %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing task %s: %w", id, err)
	}
	return &t, nil
}

// ListTasks retrieves tasks matching the filter, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Channel != nil {
		conditions = append(conditions, "channel = ?")
		args = append(args, *filter.Channel)
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}

	tasks := make([]model.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.task())
	}
	return tasks, nil
}

// PurgeTasks deletes answered, failed and canceled tasks whose last update
// is older than cutoff. Pending tasks are never purged.
func (s *SQLiteStore) PurgeTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(model.TaskAnswered), string(model.TaskFailed), string(model.TaskCanceled),
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purging tasks: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged tasks: %w", err)
	}
	return n, nil
}

type chatRow struct {
	ID        string    `db:"id"`
	TaskID    string    `db:"task_id"`
	Role      string    `db:"role"`
	Body      string    `db:"body"`
	CreatedAt time.Time `db:"created_at"`
}

// AppendChatMessage adds a message to a task's transcript.
func (s *SQLiteStore) AppendChatMessage(ctx context.Context, msg model.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, task_id, role, body, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.TaskID, string(msg.Role), msg.Body, msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending chat message to task %s: %w", msg.TaskID, err)
	}
	return nil
}

// GetChatMessages returns a task's transcript in chronological order.
func (s *SQLiteStore) GetChatMessages(ctx context.Context, taskID string) ([]model.ChatMessage, error) {
	var rows []chatRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, task_id, role, body, created_at
		FROM chat_messages
		WHERE task_id = ?
		ORDER BY created_at, rowid`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying chat messages for task %s: %w", taskID, err)
	}

	msgs := make([]model.ChatMessage, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, model.ChatMessage{
			ID:        r.ID,
			TaskID:    r.TaskID,
			Role:      model.ChatRole(r.Role),
			Body:      r.Body,
			CreatedAt: r.CreatedAt,
		})
	}
	return msgs, nil
}
