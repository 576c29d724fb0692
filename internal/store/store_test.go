package store

import (
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/apothekerbubi/m3-trainer/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, username string) int64 {
	t.Helper()
	id, err := s.CreateUser(model.User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: "x",
		Role:         model.UserRoleStudent,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("createTestUser: %v", err)
	}
	return id
}

func TestCaseSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	userID := createTestUser(t, s, "anna")

	id, err := s.CreateCaseSession("appendizitis-01", userID)
	if err != nil {
		t.Fatalf("CreateCaseSession: %v", err)
	}

	sess, err := s.GetCaseSession(id)
	if err != nil {
		t.Fatalf("GetCaseSession: %v", err)
	}
	if sess.CaseID != "appendizitis-01" {
		t.Errorf("case id = %q, want appendizitis-01", sess.CaseID)
	}
	if sess.Status != model.StatusInProgress {
		t.Errorf("status = %q, want in_progress", sess.Status)
	}
	if sess.FinishedAt != nil {
		t.Error("fresh session should have no finished_at")
	}

	if err := s.FinishCaseSession(id); err != nil {
		t.Fatalf("FinishCaseSession: %v", err)
	}
	sess, err = s.GetCaseSession(id)
	if err != nil {
		t.Fatalf("GetCaseSession after finish: %v", err)
	}
	if sess.Status != model.StatusFinished || sess.FinishedAt == nil {
		t.Errorf("finished session = %+v", sess)
	}

	// Not found.
	if _, err := s.GetCaseSession(9999); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestListCaseSessionsByUser(t *testing.T) {
	s := newTestStore(t)
	anna := createTestUser(t, s, "anna")
	ben := createTestUser(t, s, "ben")

	mustCreateSession := func(caseID string, userID int64) {
		t.Helper()
		if _, err := s.CreateCaseSession(caseID, userID); err != nil {
			t.Fatal(err)
		}
	}
	mustCreateSession("c1", anna)
	mustCreateSession("c2", anna)
	mustCreateSession("c1", ben)

	all, err := s.ListCaseSessions(0)
	if err != nil {
		t.Fatalf("ListCaseSessions(0): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all sessions = %d, want 3", len(all))
	}

	mine, err := s.ListCaseSessions(anna)
	if err != nil {
		t.Fatalf("ListCaseSessions(anna): %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("anna's sessions = %d, want 2", len(mine))
	}
	// Newest first.
	if len(mine) == 2 && mine[0].ID < mine[1].ID {
		t.Error("sessions should be ordered newest first")
	}
}

func TestStepResultUpsert(t *testing.T) {
	s := newTestStore(t)
	userID := createTestUser(t, s, "anna")
	sessID, err := s.CreateCaseSession("c1", userID)
	if err != nil {
		t.Fatal(err)
	}

	llmScore := 70.0
	first := model.StepResult{
		SessionID:   sessID,
		StepIndex:   0,
		Answer:      "KHK",
		LocalScore:  3,
		LocalMax:    3,
		Missing:     []string{},
		Correctness: model.CorrectnessCorrect,
		LLMFeedback: "Gut.",
		LLMScore:    &llmScore,
	}
	if err := s.UpsertStepResult(first); err != nil {
		t.Fatalf("UpsertStepResult: %v", err)
	}

	// Re-answering replaces the record.
	second := first
	second.Answer = "unsicher"
	second.LocalScore = 0
	second.Missing = []string{"KHK"}
	second.Correctness = model.CorrectnessIncorrect
	second.LLMScore = nil
	if err := s.UpsertStepResult(second); err != nil {
		t.Fatalf("UpsertStepResult (update): %v", err)
	}

	results, err := s.GetStepResults(sessID)
	if err != nil {
		t.Fatalf("GetStepResults: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 (upsert)", len(results))
	}
	got := results[0]
	if got.Answer != "unsicher" || got.LocalScore != 0 {
		t.Errorf("got %+v, want updated record", got)
	}
	if !reflect.DeepEqual(got.Missing, []string{"KHK"}) {
		t.Errorf("missing = %v, want [KHK]", got.Missing)
	}
	if got.LLMScore != nil {
		t.Errorf("llm score = %v, want nil", *got.LLMScore)
	}
}

func TestSessionViewTotals(t *testing.T) {
	s := newTestStore(t)
	userID := createTestUser(t, s, "anna")
	sessID, err := s.CreateCaseSession("c1", userID)
	if err != nil {
		t.Fatal(err)
	}

	steps := []model.StepResult{
		{SessionID: sessID, StepIndex: 0, Answer: "a", LocalScore: 2, LocalMax: 3, Missing: []string{}},
		{SessionID: sessID, StepIndex: 1, Answer: "b", LocalScore: 1, LocalMax: 2, Missing: []string{"x"}},
	}
	for _, r := range steps {
		if err := s.UpsertStepResult(r); err != nil {
			t.Fatal(err)
		}
	}

	view, err := s.GetSessionView(sessID)
	if err != nil {
		t.Fatalf("GetSessionView: %v", err)
	}
	if view.Total != 3 || view.TotalMax != 5 {
		t.Errorf("totals = %v/%v, want 3/5", view.Total, view.TotalMax)
	}
	if len(view.Results) != 2 {
		t.Errorf("results = %d, want 2", len(view.Results))
	}
}

func TestExamProgressRoundTrip(t *testing.T) {
	s := newTestStore(t)
	userID := createTestUser(t, s, "anna")
	sessID, err := s.CreateCaseSession("c1", userID)
	if err != nil {
		t.Fatal(err)
	}

	// No progress yet.
	p, err := s.GetExamProgress(sessID)
	if err != nil {
		t.Fatalf("GetExamProgress: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil progress, got %+v", p)
	}

	want := model.ExamProgress{
		SessionID: sessID,
		Unlocked:  []string{"anamnese", "labor_befund"},
		Completed: []string{"anamnese"},
		Finished:  false,
	}
	if err := s.SaveExamProgress(want); err != nil {
		t.Fatalf("SaveExamProgress: %v", err)
	}

	got, err := s.GetExamProgress(sessID)
	if err != nil {
		t.Fatalf("GetExamProgress: %v", err)
	}
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("progress = %+v, want %+v", *got, want)
	}

	// Upsert replaces.
	want.Completed = append(want.Completed, "labor_befund")
	want.Finished = true
	if err := s.SaveExamProgress(want); err != nil {
		t.Fatalf("SaveExamProgress (update): %v", err)
	}
	got, err = s.GetExamProgress(sessID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Finished || len(got.Completed) != 2 {
		t.Errorf("updated progress = %+v", got)
	}

	// Reset path.
	if err := s.DeleteExamProgress(sessID); err != nil {
		t.Fatalf("DeleteExamProgress: %v", err)
	}
	got, err = s.GetExamProgress(sessID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("progress after delete = %+v, want nil", got)
	}
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)

	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	id := createTestUser(t, s, "anna")
	u, err := s.GetUserByID(id)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if u == nil || u.Username != "anna" {
		t.Fatalf("user = %+v", u)
	}

	u, err = s.GetUserByUsername("anna")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != id {
		t.Fatalf("user by name = %+v", u)
	}

	// Absent user is nil, not an error.
	u, err = s.GetUserByUsername("nobody")
	if err != nil || u != nil {
		t.Errorf("absent user = %v, %v; want nil, nil", u, err)
	}

	if err := s.ToggleUserActive(id); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}
	u, _ = s.GetUserByID(id)
	if u.Active {
		t.Error("user should be inactive after toggle")
	}
}

func TestAuthSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	userID := createTestUser(t, s, "anna")

	token, err := s.CreateAuthSession(userID)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	sess, err := s.GetAuthSession(token)
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if sess == nil || sess.UserID != userID {
		t.Fatalf("session = %+v", sess)
	}
	if !sess.ExpiresAt.After(time.Now()) {
		t.Error("session should not be expired")
	}

	if err := s.DeleteAuthSession(token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	sess, err = s.GetAuthSession(token)
	if err != nil || sess != nil {
		t.Errorf("deleted session = %v, %v; want nil, nil", sess, err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetMetadata("missing")
	if err != nil || v != "" {
		t.Errorf("missing key = %q, %v; want empty, nil", v, err)
	}

	if err := s.SetMetadata("prompt_variant", "strict"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := s.SetMetadata("prompt_variant", "lenient"); err != nil {
		t.Fatalf("SetMetadata (update): %v", err)
	}
	v, err = s.GetMetadata("prompt_variant")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "lenient" {
		t.Errorf("value = %q, want lenient", v)
	}
}

func TestExportAllSessions(t *testing.T) {
	s := newTestStore(t)
	anna := createTestUser(t, s, "anna")

	first, err := s.CreateCaseSession("c1", anna)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.CreateCaseSession("c2", anna)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertStepResult(model.StepResult{
		SessionID: first, StepIndex: 0, Answer: "a", LocalScore: 2, LocalMax: 3, Missing: []string{},
	}); err != nil {
		t.Fatal(err)
	}
	_ = second

	results, err := s.ExportAllSessions()
	if err != nil {
		t.Fatalf("ExportAllSessions: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	// Newest session first; the older one carries the step and totals.
	older := results[1]
	if older.CaseID != "c1" || older.Total != 2 || older.TotalMax != 3 {
		t.Errorf("older result = %+v", older)
	}
	if older.Username != "anna" || older.SessionNumber != 2 {
		t.Errorf("attribution = %q #%d", older.Username, older.SessionNumber)
	}
}
