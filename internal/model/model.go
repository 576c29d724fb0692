package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// SessionStatus represents the status of a case session.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusFinished   SessionStatus = "finished"
)

// Correctness is the LLM grader's verdict for a single step answer.
type Correctness string

const (
	CorrectnessCorrect   Correctness = "correct"
	CorrectnessPartial   Correctness = "partially_correct"
	CorrectnessIncorrect Correctness = "incorrect"
)

// Image is an authored illustration attached to a step or exam-mode action.
type Image struct {
	Path    string `json:"path" validate:"required"`
	Alt     string `json:"alt"`
	Caption string `json:"caption,omitempty"`
}

// CaseSession represents one student's run through a case.
type CaseSession struct {
	ID         int64         `json:"id"`
	CaseID     string        `json:"case_id"`
	UserID     int64         `json:"user_id"`
	Status     SessionStatus `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// StepResult holds the recorded outcome for one answered step.
// LocalScore always carries the deterministic rubric result; the LLM fields
// are filled only when a grading endpoint was configured and reachable.
type StepResult struct {
	ID          int64       `json:"id"`
	SessionID   int64       `json:"session_id"`
	StepIndex   int         `json:"step_index"`
	Answer      string      `json:"answer"`
	LocalScore  float64     `json:"local_score"`
	LocalMax    float64     `json:"local_max"`
	Missing     []string    `json:"missing,omitempty"`
	Correctness Correctness `json:"correctness,omitempty"`
	LLMFeedback string      `json:"llm_feedback,omitempty"`
	LLMTips     string      `json:"llm_tips,omitempty"`
	LLMScore    *float64    `json:"llm_score,omitempty"`
	AnsweredAt  time.Time   `json:"answered_at"`
}

// ExamProgress is the persisted form of the unlock-graph engine state.
type ExamProgress struct {
	SessionID int64    `json:"session_id"`
	Unlocked  []string `json:"unlocked"`
	Completed []string `json:"completed"`
	Finished  bool     `json:"finished"`
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	CasesDir      string
	Fuzzy         bool   // tolerate single-character misspellings in keyword matching
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	PromptVariant string // Grading prompt variant (strict, standard, lenient)
	LLMEnabled    bool
}

// SessionView combines a case session with its recorded step results.
type SessionView struct {
	Session  CaseSession  `json:"session"`
	Results  []StepResult `json:"results"`
	Total    float64      `json:"total"`
	TotalMax float64      `json:"total_max"`
}
