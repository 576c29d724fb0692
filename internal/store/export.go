package store

import (
	"fmt"

	"github.com/apothekerbubi/m3-trainer/internal/model"
)

// ExportAllSessions builds export-ready student results from all case
// sessions, newest first.
func (s *Store) ExportAllSessions() ([]model.StudentResult, error) {
	sessions, err := s.ListCaseSessions(0)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	// Track session count per student for session_number.
	studentSessionCount := make(map[int64]int)

	var results []model.StudentResult
	for _, sess := range sessions {
		studentSessionCount[sess.UserID]++

		view, err := s.GetSessionView(sess.ID)
		if err != nil {
			return nil, fmt.Errorf("get session %d: %w", sess.ID, err)
		}

		user, err := s.GetUserByID(sess.UserID)
		if err != nil {
			return nil, fmt.Errorf("get user %d: %w", sess.UserID, err)
		}

		var username, displayName string
		if user != nil {
			username = user.Username
			displayName = user.DisplayName
		}

		results = append(results, model.StudentResult{
			Username:      username,
			DisplayName:   displayName,
			SessionNumber: studentSessionCount[sess.UserID],
			CaseID:        sess.CaseID,
			Status:        sess.Status,
			StartedAt:     sess.StartedAt,
			FinishedAt:    sess.FinishedAt,
			Steps:         view.Results,
			Total:         view.Total,
			TotalMax:      view.TotalMax,
		})
	}
	return results, nil
}
