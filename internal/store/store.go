package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apothekerbubi/m3-trainer/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS case_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS step_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		step_index INTEGER NOT NULL,
		answer TEXT NOT NULL,
		local_score REAL NOT NULL DEFAULT 0,
		local_max REAL NOT NULL DEFAULT 0,
		missing TEXT NOT NULL DEFAULT '[]',
		correctness TEXT NOT NULL DEFAULT '',
		llm_feedback TEXT NOT NULL DEFAULT '',
		llm_tips TEXT NOT NULL DEFAULT '',
		llm_score REAL,
		answered_at DATETIME NOT NULL,
		UNIQUE (session_id, step_index),
		FOREIGN KEY (session_id) REFERENCES case_sessions(id)
	);

	CREATE TABLE IF NOT EXISTS exam_progress (
		session_id INTEGER PRIMARY KEY,
		unlocked TEXT NOT NULL DEFAULT '[]',
		completed TEXT NOT NULL DEFAULT '[]',
		finished INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (session_id) REFERENCES case_sessions(id)
	);

	CREATE TABLE IF NOT EXISTS case_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateCaseSession starts a new session for a user on a case.
func (s *Store) CreateCaseSession(caseID string, userID int64) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO case_sessions (case_id, user_id, status, started_at) VALUES (?, ?, 'in_progress', ?)`,
		caseID, userID, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetCaseSession returns a session by ID.
func (s *Store) GetCaseSession(id int64) (model.CaseSession, error) {
	var cs model.CaseSession
	err := s.db.QueryRow(
		`SELECT id, case_id, user_id, status, started_at, finished_at FROM case_sessions WHERE id = ?`, id,
	).Scan(&cs.ID, &cs.CaseID, &cs.UserID, &cs.Status, &cs.StartedAt, &cs.FinishedAt)
	return cs, err
}

// ListCaseSessions returns all sessions, newest first. A zero userID lists
// every user's sessions.
func (s *Store) ListCaseSessions(userID int64) ([]model.CaseSession, error) {
	query := `SELECT id, case_id, user_id, status, started_at, finished_at FROM case_sessions`
	var args []any
	if userID != 0 {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.CaseSession
	for rows.Next() {
		var cs model.CaseSession
		if err := rows.Scan(&cs.ID, &cs.CaseID, &cs.UserID, &cs.Status, &cs.StartedAt, &cs.FinishedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, cs)
	}
	return sessions, rows.Err()
}

// FinishCaseSession marks a session finished.
func (s *Store) FinishCaseSession(id int64) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE case_sessions SET status = ?, finished_at = ? WHERE id = ?`,
		model.StatusFinished, now, id,
	)
	return err
}

// UpsertStepResult records the outcome for one step; re-answering a step
// replaces the previous record.
func (s *Store) UpsertStepResult(r model.StepResult) error {
	missing, err := json.Marshal(r.Missing)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO step_results
		   (session_id, step_index, answer, local_score, local_max, missing,
		    correctness, llm_feedback, llm_tips, llm_score, answered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, step_index) DO UPDATE SET
		   answer = excluded.answer,
		   local_score = excluded.local_score,
		   local_max = excluded.local_max,
		   missing = excluded.missing,
		   correctness = excluded.correctness,
		   llm_feedback = excluded.llm_feedback,
		   llm_tips = excluded.llm_tips,
		   llm_score = excluded.llm_score,
		   answered_at = excluded.answered_at`,
		r.SessionID, r.StepIndex, r.Answer, r.LocalScore, r.LocalMax, string(missing),
		r.Correctness, r.LLMFeedback, r.LLMTips, r.LLMScore, time.Now(),
	)
	return err
}

// GetStepResults returns all recorded step results for a session in step order.
func (s *Store) GetStepResults(sessionID int64) ([]model.StepResult, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, step_index, answer, local_score, local_max, missing,
		        correctness, llm_feedback, llm_tips, llm_score, answered_at
		 FROM step_results WHERE session_id = ? ORDER BY step_index`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.StepResult
	for rows.Next() {
		var r model.StepResult
		var missing string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.StepIndex, &r.Answer, &r.LocalScore, &r.LocalMax,
			&missing, &r.Correctness, &r.LLMFeedback, &r.LLMTips, &r.LLMScore, &r.AnsweredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(missing), &r.Missing); err != nil {
			return nil, fmt.Errorf("decode missing for step %d: %w", r.StepIndex, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SaveExamProgress upserts the persisted engine state for a session.
func (s *Store) SaveExamProgress(p model.ExamProgress) error {
	unlocked, err := json.Marshal(p.Unlocked)
	if err != nil {
		return err
	}
	completed, err := json.Marshal(p.Completed)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO exam_progress (session_id, unlocked, completed, finished)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   unlocked = excluded.unlocked,
		   completed = excluded.completed,
		   finished = excluded.finished`,
		p.SessionID, string(unlocked), string(completed), p.Finished,
	)
	return err
}

// GetExamProgress returns the persisted engine state, or nil if none yet.
func (s *Store) GetExamProgress(sessionID int64) (*model.ExamProgress, error) {
	var p model.ExamProgress
	var unlocked, completed string
	err := s.db.QueryRow(
		`SELECT session_id, unlocked, completed, finished FROM exam_progress WHERE session_id = ?`, sessionID,
	).Scan(&p.SessionID, &unlocked, &completed, &p.Finished)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(unlocked), &p.Unlocked); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(completed), &p.Completed); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteExamProgress clears the persisted engine state (case restart).
func (s *Store) DeleteExamProgress(sessionID int64) error {
	_, err := s.db.Exec(`DELETE FROM exam_progress WHERE session_id = ?`, sessionID)
	return err
}

// GetSessionView builds a session with its step results and score totals.
func (s *Store) GetSessionView(sessionID int64) (*model.SessionView, error) {
	sess, err := s.GetCaseSession(sessionID)
	if err != nil {
		return nil, err
	}
	results, err := s.GetStepResults(sessionID)
	if err != nil {
		return nil, err
	}

	view := &model.SessionView{Session: sess, Results: results}
	for _, r := range results {
		view.Total += r.LocalScore
		view.TotalMax += r.LocalMax
	}
	return view, nil
}
