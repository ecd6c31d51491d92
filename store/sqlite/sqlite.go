// Package sqlite provides a durable SQLite backed store implementing both
// core.PlanStore and core.KnowledgeStore. It uses the pure Go
// modernc.org/sqlite driver, so no cgo toolchain is required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/store"

	_ "modernc.org/sqlite"
)

// Store wraps an SQLite connection with plan and knowledge operations.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
	now  func() time.Time
}

// Open opens (and migrates) the database at path, creating parent
// directories as needed. WAL mode and foreign keys are enabled. The special
// path ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path, now: func() time.Time { return time.Now().UTC() }}
	if err := s.Migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string { return s.path }

// Migrate applies all pending schema migrations.
func (s *Store) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	if err := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Plans},
		{2, migrationV2Knowledge},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Plans = `
CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	goal TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plan_tasks (
	id TEXT PRIMARY KEY,
	plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	description TEXT NOT NULL,
	dependencies TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'pending',
	result TEXT NOT NULL DEFAULT '',
	generated_code TEXT NOT NULL DEFAULT '',
	history TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_plan_tasks_position ON plan_tasks(plan_id, position);
`

const migrationV2Knowledge = `
CREATE TABLE IF NOT EXISTS facts (
	subject TEXT PRIMARY KEY,
	fact TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS triples (
	subject TEXT NOT NULL,
	predicate TEXT NOT NULL,
	object TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (subject, predicate, object)
);

CREATE INDEX IF NOT EXISTS idx_triples_object ON triples(object);
`

// transaction runs fn within a transaction.
func (s *Store) transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

var (
	_ core.PlanStore      = (*Store)(nil)
	_ core.KnowledgeStore = (*Store)(nil)
)

// ---- plans ----

// CreatePlan stores a new empty plan for goal.
func (s *Store) CreatePlan(ctx context.Context, goal string) (core.Plan, error) {
	if strings.TrimSpace(goal) == "" {
		return core.Plan{}, core.NewValidationError("goal", goal, "must not be empty")
	}
	p := core.Plan{ID: core.NewID(), Goal: goal, Tasks: []core.PlanTask{}, CreatedAt: s.now()}
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO plans (id, goal, created_at) VALUES (?, ?, ?)`,
			p.ID, p.Goal, formatTime(p.CreatedAt))
		return err
	})
	if err != nil {
		return core.Plan{}, fmt.Errorf("create plan: %w", err)
	}
	return p, nil
}

// GetPlan returns the plan with its tasks in creation order.
func (s *Store) GetPlan(ctx context.Context, planID string) (core.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		p       core.Plan
		created string
	)
	err := s.conn.QueryRowContext(ctx, `SELECT id, goal, created_at FROM plans WHERE id = ?`, planID).
		Scan(&p.ID, &p.Goal, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Plan{}, fmt.Errorf("plan %s: %w", planID, core.ErrPlanNotFound)
	}
	if err != nil {
		return core.Plan{}, fmt.Errorf("get plan: %w", err)
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return core.Plan{}, fmt.Errorf("parse created_at: %w", err)
	}
	if p.Tasks, err = s.queryTasks(ctx, planID); err != nil {
		return core.Plan{}, err
	}
	return p, nil
}

// AddTask appends a task to the plan. Every dependency must be an earlier
// task of the same plan.
func (s *Store) AddTask(ctx context.Context, planID, description string, dependencies []string) (string, error) {
	id := core.NewID()
	now := s.now()
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM plans WHERE id = ?`, planID).Scan(&exists); err != nil {
			return fmt.Errorf("lookup plan: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("plan %s: %w", planID, core.ErrPlanNotFound)
		}

		rows, err := tx.QueryContext(ctx, `SELECT id FROM plan_tasks WHERE plan_id = ? ORDER BY position`, planID)
		if err != nil {
			return fmt.Errorf("list plan tasks: %w", err)
		}
		var earlier []string
		for rows.Next() {
			var existing string
			if err := rows.Scan(&existing); err != nil {
				rows.Close()
				return err
			}
			earlier = append(earlier, existing)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if err := store.ValidateDependencies(earlier, dependencies); err != nil {
			return err
		}

		deps, err := json.Marshal(nonNil(dependencies))
		if err != nil {
			return err
		}
		history, err := json.Marshal([]core.PlanEvent{{At: now, Status: core.PlanTaskPending}})
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO plan_tasks (id, plan_id, position, description, dependencies, status, history, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, planID, len(earlier), description, string(deps), string(core.PlanTaskPending), string(history),
			formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("insert plan task: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetTask returns a plan task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (core.PlanTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.conn.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM plan_tasks WHERE id = ?`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PlanTask{}, fmt.Errorf("plan task %s: %w", taskID, core.ErrPlanTaskNotFound)
	}
	return t, err
}

// UpdateTask sets status and result and appends a history entry.
func (s *Store) UpdateTask(ctx context.Context, taskID string, status core.PlanTaskStatus, result string) error {
	now := s.now()
	return s.transaction(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT history FROM plan_tasks WHERE id = ?`, taskID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("plan task %s: %w", taskID, core.ErrPlanTaskNotFound)
		}
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		var history []core.PlanEvent
		if err := json.Unmarshal([]byte(raw), &history); err != nil {
			return fmt.Errorf("decode history: %w", err)
		}
		history = append(history, core.PlanEvent{At: now, Status: status, Note: result})
		encoded, err := json.Marshal(history)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE plan_tasks SET status = ?, result = ?, history = ?, updated_at = ? WHERE id = ?
		`, string(status), result, string(encoded), formatTime(now), taskID)
		if err != nil {
			return fmt.Errorf("update plan task: %w", err)
		}
		return nil
	})
}

// SetTaskCode stores the code generated for a task.
func (s *Store) SetTaskCode(ctx context.Context, taskID, code string) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE plan_tasks SET generated_code = ?, updated_at = ? WHERE id = ?`,
			code, formatTime(s.now()), taskID)
		if err != nil {
			return fmt.Errorf("set task code: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("plan task %s: %w", taskID, core.ErrPlanTaskNotFound)
		}
		return nil
	})
}

// GetTasksByPlan returns the plan's tasks in creation order.
func (s *Store) GetTasksByPlan(ctx context.Context, planID string) ([]core.PlanTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var exists int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM plans WHERE id = ?`, planID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup plan: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("plan %s: %w", planID, core.ErrPlanNotFound)
	}
	return s.queryTasks(ctx, planID)
}

const taskColumns = `id, plan_id, position, description, dependencies, status, result, generated_code, history, created_at, updated_at`

func (s *Store) queryTasks(ctx context.Context, planID string) ([]core.PlanTask, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+taskColumns+` FROM plan_tasks WHERE plan_id = ? ORDER BY position`, planID)
	if err != nil {
		return nil, fmt.Errorf("query plan tasks: %w", err)
	}
	defer rows.Close()

	tasks := []core.PlanTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (core.PlanTask, error) {
	var (
		t                     core.PlanTask
		deps, history, status string
		createdAt, updatedAt  string
	)
	if err := row.Scan(&t.ID, &t.PlanID, &t.Position, &t.Description, &deps, &status, &t.Result,
		&t.GeneratedCode, &history, &createdAt, &updatedAt); err != nil {
		return core.PlanTask{}, err
	}
	t.Status = core.PlanTaskStatus(status)
	if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
		return core.PlanTask{}, fmt.Errorf("decode dependencies: %w", err)
	}
	if len(t.Dependencies) == 0 {
		t.Dependencies = nil
	}
	if err := json.Unmarshal([]byte(history), &t.History); err != nil {
		return core.PlanTask{}, fmt.Errorf("decode history: %w", err)
	}
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.PlanTask{}, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.PlanTask{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ---- knowledge ----

// PutFact stores or replaces the fact for its subject.
func (s *Store) PutFact(ctx context.Context, fact core.Fact) error {
	if strings.TrimSpace(fact.Subject) == "" {
		return core.NewValidationError("subject", fact.Subject, "must not be empty")
	}
	if fact.UpdatedAt.IsZero() {
		fact.UpdatedAt = s.now()
	}
	return s.transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO facts (subject, fact, confidence, source, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(subject) DO UPDATE SET
				fact = excluded.fact,
				confidence = excluded.confidence,
				source = excluded.source,
				updated_at = excluded.updated_at
		`, fact.Subject, fact.Fact, fact.Confidence, fact.Source, formatTime(fact.UpdatedAt))
		if err != nil {
			return fmt.Errorf("put fact: %w", err)
		}
		return nil
	})
}

// GetFact returns the fact stored for subject.
func (s *Store) GetFact(ctx context.Context, subject string) (core.Fact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.conn.QueryRowContext(ctx, `SELECT subject, fact, confidence, source, updated_at FROM facts WHERE subject = ?`, subject)
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Fact{}, false, nil
	}
	if err != nil {
		return core.Fact{}, false, err
	}
	return f, true, nil
}

// SearchFacts matches query case-insensitively against subject and fact,
// ordered by subject.
func (s *Store) SearchFacts(ctx context.Context, query string, limit int) ([]core.Fact, error) {
	if limit <= 0 {
		limit = -1
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"

	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.conn.QueryContext(ctx, `
		SELECT subject, fact, confidence, source, updated_at FROM facts
		WHERE lower(subject) LIKE ? ESCAPE '\' OR lower(fact) LIKE ? ESCAPE '\'
		ORDER BY subject
		LIMIT ?
	`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search facts: %w", err)
	}
	defer rows.Close()

	facts := []core.Fact{}
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// AddTriple stores a relation. Exact duplicates are ignored.
func (s *Store) AddTriple(ctx context.Context, t core.Triple) error {
	if t.Subject == "" || t.Predicate == "" || t.Object == "" {
		return core.NewValidationError("triple", t, "subject, predicate and object are required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	return s.transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO triples (subject, predicate, object, created_at) VALUES (?, ?, ?, ?)
		`, t.Subject, t.Predicate, t.Object, formatTime(t.CreatedAt))
		if err != nil {
			return fmt.Errorf("add triple: %w", err)
		}
		return nil
	})
}

// Related returns triples mentioning entity as subject or object, in
// insertion order.
func (s *Store) Related(ctx context.Context, entity string) ([]core.Triple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.conn.QueryContext(ctx, `
		SELECT subject, predicate, object, created_at FROM triples
		WHERE subject = ? OR object = ?
		ORDER BY rowid
	`, entity, entity)
	if err != nil {
		return nil, fmt.Errorf("related triples: %w", err)
	}
	defer rows.Close()

	out := []core.Triple{}
	for rows.Next() {
		var (
			t       core.Triple
			created string
		)
		if err := rows.Scan(&t.Subject, &t.Predicate, &t.Object, &created); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanFact(row scanner) (core.Fact, error) {
	var (
		f       core.Fact
		updated string
	)
	if err := row.Scan(&f.Subject, &f.Fact, &f.Confidence, &f.Source, &updated); err != nil {
		return core.Fact{}, err
	}
	var err error
	if f.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Fact{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return f, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
