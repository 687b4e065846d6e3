package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed prompt store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, dbErr(fmt.Errorf("failed to open sqlite: %w", err))
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS prompts (
		id              TEXT PRIMARY KEY,
		text            TEXT NOT NULL,
		status          TEXT NOT NULL,
		traffic         REAL NOT NULL DEFAULT 0,
		created_at      DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id              TEXT PRIMARY KEY,
		prompt_id       TEXT NOT NULL,
		history         TEXT,
		created_at      DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS feedback (
		id              TEXT PRIMARY KEY,
		task_id         TEXT NOT NULL,
		kind            TEXT NOT NULL,
		value           REAL,
		comment         TEXT,
		score           REAL,
		created_at      DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS job_leases (
		name            TEXT PRIMARY KEY,
		holder          TEXT NOT NULL,
		expires_at      DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_prompts_status ON prompts(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_prompt ON tasks(prompt_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at);
	CREATE INDEX IF NOT EXISTS idx_feedback_task ON feedback(task_id);
	`

	_, err := s.db.Exec(schema)
	return dbErr(err)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Prompts ---

func (s *SQLiteStore) GetPrompt(id string) (*Prompt, error) {
	p := &Prompt{}
	err := s.db.QueryRow(`SELECT id, text, status, traffic, created_at FROM prompts WHERE id = ?`, id).Scan(
		&p.ID, &p.Text, &p.Status, &p.Traffic, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr(err)
	}
	return p, nil
}

// GetPromptByStatus returns the newest prompt with the given status, or
// nil when none exists.
func (s *SQLiteStore) GetPromptByStatus(status PromptStatus) (*Prompt, error) {
	p := &Prompt{}
	err := s.db.QueryRow(`SELECT id, text, status, traffic, created_at FROM prompts
		WHERE status = ? ORDER BY created_at DESC LIMIT 1`, status).Scan(
		&p.ID, &p.Text, &p.Status, &p.Traffic, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr(err)
	}
	return p, nil
}

// ListPrompts returns all prompts, newest first. A non-empty status
// restricts the result to that status.
func (s *SQLiteStore) ListPrompts(status PromptStatus) ([]*Prompt, error) {
	query := `SELECT id, text, status, traffic, created_at FROM prompts`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	var prompts []*Prompt
	for rows.Next() {
		p := &Prompt{}
		if err := rows.Scan(&p.ID, &p.Text, &p.Status, &p.Traffic, &p.CreatedAt); err != nil {
			return nil, dbErr(err)
		}
		prompts = append(prompts, p)
	}
	return prompts, dbErr(rows.Err())
}

func (s *SQLiteStore) InsertPrompt(p *Prompt) error {
	return s.withRetry(func() error {
		_, err := s.db.Exec(`INSERT INTO prompts (id, text, status, traffic, created_at) VALUES (?, ?, ?, ?, ?)`,
			p.ID, p.Text, p.Status, p.Traffic, p.CreatedAt,
		)
		return err
	})
}

func (s *SQLiteStore) UpdatePromptTraffic(id string, traffic float64) error {
	return s.withRetry(func() error {
		_, err := s.db.Exec(`UPDATE prompts SET traffic = ? WHERE id = ?`, traffic, id)
		return err
	})
}

func (s *SQLiteStore) UpdatePromptStatus(id string, status PromptStatus) error {
	return s.withRetry(func() error {
		_, err := s.db.Exec(`UPDATE prompts SET status = ? WHERE id = ?`, status, id)
		return err
	})
}

func (s *SQLiteStore) ZeroOutAllExcept(keepIDs []string) error {
	if len(keepIDs) == 0 {
		return s.withRetry(func() error {
			_, err := s.db.Exec(`UPDATE prompts SET traffic = 0`)
			return err
		})
	}

	placeholders := strings.Repeat("?, ", len(keepIDs))
	placeholders = placeholders[:len(placeholders)-2]
	args := make([]interface{}, len(keepIDs))
	for i, id := range keepIDs {
		args[i] = id
	}

	return s.withRetry(func() error {
		_, err := s.db.Exec(`UPDATE prompts SET traffic = 0 WHERE id NOT IN (`+placeholders+`)`, args...)
		return err
	})
}

func (s *SQLiteStore) BeginExperiment(candidate *Prompt, activeID string, activeTraffic float64) error {
	return s.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.Exec(`INSERT INTO prompts (id, text, status, traffic, created_at) VALUES (?, ?, ?, ?, ?)`,
			candidate.ID, candidate.Text, candidate.Status, candidate.Traffic, candidate.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert candidate: %w", err)
		}

		if _, err := tx.Exec(`UPDATE prompts SET traffic = ? WHERE id = ?`, activeTraffic, activeID); err != nil {
			return fmt.Errorf("update active traffic: %w", err)
		}

		if _, err := tx.Exec(`UPDATE prompts SET traffic = 0 WHERE id NOT IN (?, ?)`, activeID, candidate.ID); err != nil {
			return fmt.Errorf("zero out other prompts: %w", err)
		}

		return tx.Commit()
	})
}

func (s *SQLiteStore) StepTraffic(update StepUpdate) error {
	return s.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.Exec(`UPDATE prompts SET traffic = ? WHERE id = ?`, update.ActiveTraffic, update.ActiveID); err != nil {
			return fmt.Errorf("update active traffic: %w", err)
		}
		if _, err := tx.Exec(`UPDATE prompts SET traffic = ? WHERE id = ?`, update.CandidateTraffic, update.CandidateID); err != nil {
			return fmt.Errorf("update candidate traffic: %w", err)
		}

		if update.ActiveStatus != "" {
			if _, err := tx.Exec(`UPDATE prompts SET status = ? WHERE id = ?`, update.ActiveStatus, update.ActiveID); err != nil {
				return fmt.Errorf("update active status: %w", err)
			}
		}
		if update.CandidateStatus != "" {
			if _, err := tx.Exec(`UPDATE prompts SET status = ? WHERE id = ?`, update.CandidateStatus, update.CandidateID); err != nil {
				return fmt.Errorf("update candidate status: %w", err)
			}
		}

		return tx.Commit()
	})
}

// --- Tasks ---

func (s *SQLiteStore) RecordTask(t *Task) error {
	history, err := marshalHistory(t.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return s.withRetry(func() error {
		_, err := s.db.Exec(`INSERT INTO tasks (id, prompt_id, history, created_at) VALUES (?, ?, ?, ?)`,
			t.ID, t.PromptID, history, t.CreatedAt,
		)
		return err
	})
}

func (s *SQLiteStore) GetTask(id string) (*Task, error) {
	t := &Task{}
	var history sql.NullString
	err := s.db.QueryRow(`SELECT id, prompt_id, history, created_at FROM tasks WHERE id = ?`, id).Scan(
		&t.ID, &t.PromptID, &history, &t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr(err)
	}
	t.History, err = unmarshalHistory(history)
	if err != nil {
		return nil, fmt.Errorf("unmarshal history for task %s: %w", id, err)
	}
	return t, nil
}

// --- Feedback ---

func (s *SQLiteStore) RecordFeedback(f *Feedback) error {
	return s.withRetry(func() error {
		_, err := s.db.Exec(`INSERT INTO feedback (id, task_id, kind, value, comment, score, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.TaskID, f.Kind, nullFloat(f.Value), nullStr(f.Comment), nullFloat(f.Score), f.CreatedAt,
		)
		return err
	})
}

func (s *SQLiteStore) FetchTasksWithFeedback(promptID string, limit int) ([]*TaskRecord, error) {
	if limit <= 0 {
		limit = 10000
	}

	// Join each task with its most recent feedback row only.
	query := `SELECT t.id, t.prompt_id, t.history, t.created_at, f.kind, f.value, f.score
		FROM tasks t
		LEFT JOIN feedback f ON f.id = (
			SELECT f2.id FROM feedback f2 WHERE f2.task_id = t.id
			ORDER BY f2.created_at DESC LIMIT 1
		)`
	var args []interface{}
	if promptID != "" {
		query += " WHERE t.prompt_id = ?"
		args = append(args, promptID)
	}
	query += " ORDER BY t.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	var records []*TaskRecord
	for rows.Next() {
		rec := &TaskRecord{}
		var history, kind sql.NullString
		var value, score sql.NullFloat64
		if err := rows.Scan(&rec.TaskID, &rec.PromptID, &history, &rec.CreatedAt, &kind, &value, &score); err != nil {
			return nil, dbErr(err)
		}
		rec.History, err = unmarshalHistory(history)
		if err != nil {
			return nil, fmt.Errorf("unmarshal history for task %s: %w", rec.TaskID, err)
		}
		rec.FeedbackKind = kind.String
		rec.FeedbackValue = floatOrNil(value)
		rec.FeedbackScore = floatOrNil(score)
		records = append(records, rec)
	}
	return records, dbErr(rows.Err())
}

// --- Metrics ---

func (s *SQLiteStore) AggregateMetrics(promptID string) (*PromptMetrics, error) {
	m := &PromptMetrics{PromptID: promptID}
	var avg sql.NullFloat64

	err := s.db.QueryRow(`SELECT COUNT(DISTINCT t.id), AVG(f.score)
		FROM tasks t
		LEFT JOIN feedback f ON f.task_id = t.id
		WHERE t.prompt_id = ?`, promptID).Scan(&m.InteractionCount, &avg)
	if err != nil {
		return nil, dbErr(err)
	}

	m.AverageScore = floatOrNil(avg)
	return m, nil
}

// --- Job leases ---

// AcquireJobLease takes the named lease for holder if it is free or expired.
// Returns false when another live holder owns it.
func (s *SQLiteStore) AcquireJobLease(name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expires := now.Add(ttl)

	var acquired bool
	err := s.withRetry(func() error {
		res, err := s.db.Exec(`INSERT INTO job_leases (name, holder, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
			WHERE job_leases.expires_at < ? OR job_leases.holder = excluded.holder`,
			name, holder, expires, now,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		acquired = n > 0
		return nil
	})
	return acquired, err
}

func (s *SQLiteStore) ReleaseJobLease(name, holder string) error {
	return s.withRetry(func() error {
		_, err := s.db.Exec(`DELETE FROM job_leases WHERE name = ? AND holder = ?`, name, holder)
		return err
	})
}

// --- Helpers ---

// dbErr wraps database access failures in ErrUnavailable, keeping the
// original chain intact.
func dbErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func marshalHistory(history []Message) (sql.NullString, error) {
	if len(history) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(history)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalHistory(ns sql.NullString) ([]Message, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var history []Message
	if err := json.Unmarshal([]byte(ns.String), &history); err != nil {
		return nil, err
	}
	return history, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatOrNil(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}
