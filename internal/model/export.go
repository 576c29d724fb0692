package model

import "time"

// TrainingExport is the top-level JSON structure for results export.
type TrainingExport struct {
	ExportID      string          `json:"export_id"`
	Subject       string          `json:"subject"`
	Date          string          `json:"date"`
	PromptVariant string          `json:"prompt_variant"`
	Results       []StudentResult `json:"results"`
}

// StudentResult holds one student's case session data for export.
type StudentResult struct {
	Username      string        `json:"username"`
	DisplayName   string        `json:"display_name"`
	SessionNumber int           `json:"session_number"`
	CaseID        string        `json:"case_id"`
	Status        SessionStatus `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	Steps         []StepResult  `json:"steps"`
	Total         float64       `json:"total"`
	TotalMax      float64       `json:"total_max"`
}
