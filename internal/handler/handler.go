// Package handler exposes the JSON API consumed by the web UI. All
// scoring and state transitions live in the scoring and engine packages;
// handlers wire them to persistence and authentication.
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/apothekerbubi/m3-trainer/internal/casefile"
	appI18n "github.com/apothekerbubi/m3-trainer/internal/i18n"
	"github.com/apothekerbubi/m3-trainer/internal/llm"
	"github.com/apothekerbubi/m3-trainer/internal/model"
	"github.com/apothekerbubi/m3-trainer/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	library *casefile.Library
	llm     *llm.Client // nil when no grading endpoint is configured
	config  model.ServerConfig
}

// New creates a new Handler.
func New(s *store.Store, lib *casefile.Library, l *llm.Client, cfg model.ServerConfig) *Handler {
	return &Handler{store: s, library: lib, llm: l, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)

		r.Get("/cases", h.handleListCases)
		r.Get("/cases/{caseID}", h.handleCaseDetail)
		r.Post("/cases/{caseID}/start", h.handleStartCase)

		r.Get("/sessions", h.handleListSessions)
		r.Get("/sessions/{sessionID}", h.handleSessionView)
		r.Post("/sessions/{sessionID}/steps/{stepIndex}/answer", h.handleAnswer)
		r.Post("/sessions/{sessionID}/finish", h.handleFinish)

		r.Get("/sessions/{sessionID}/exam", h.handleExamState)
		r.Post("/sessions/{sessionID}/exam/input", h.handleExamInput)
		r.Post("/sessions/{sessionID}/exam/reset", h.handleExamReset)

		r.Group(func(r chi.Router) {
			r.Use(h.requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
			r.Get("/review", h.handleReviewList)
			r.Get("/review/{sessionID}", h.handleReviewSession)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireRole(model.UserRoleAdmin))
			r.Get("/admin/users", h.handleListUsers)
			r.Post("/admin/users", h.handleCreateUser)
			r.Post("/admin/users/{userID}/toggle", h.handleToggleUser)
		})
	})
}

// stepView is the student-facing form of a step: no rubric, no keywords.
type stepView struct {
	Index  int          `json:"index"`
	Prompt string       `json:"prompt"`
	Hint   string       `json:"hint,omitempty"`
	Image  *model.Image `json:"image,omitempty"`
	Points float64      `json:"points"`
}

type caseDetail struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Specialty string     `json:"specialty,omitempty"`
	Vignette  string     `json:"vignette"`
	Steps     []stepView `json:"steps"`
	ExamMode  bool       `json:"exam_mode"`
}

func (h *Handler) handleListCases(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.library.Summaries())
}

func (h *Handler) handleCaseDetail(w http.ResponseWriter, r *http.Request) {
	c := h.library.Get(chi.URLParam(r, "caseID"))
	if c == nil {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "CaseNotFound"))
		return
	}

	detail := caseDetail{
		ID:        c.ID,
		Title:     c.Title,
		Specialty: c.Specialty,
		Vignette:  c.Vignette,
		ExamMode:  c.ExamMode != nil,
	}
	for i, st := range c.Steps {
		detail.Steps = append(detail.Steps, stepView{
			Index:  i,
			Prompt: st.Prompt,
			Hint:   st.Hint,
			Image:  st.Image,
			Points: st.Rubric.MaxTotal(),
		})
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleStartCase(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	c := h.library.Get(chi.URLParam(r, "caseID"))
	if c == nil {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "CaseNotFound"))
		return
	}

	sessionID, err := h.store.CreateCaseSession(c.ID, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sessionID,
		"case_id":    c.ID,
	})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	sessions, err := h.store.ListCaseSessions(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []model.CaseSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleSessionView(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	view, err := h.store.GetSessionView(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	if sess.Status != model.StatusInProgress {
		writeError(w, http.StatusBadRequest, appI18n.T(r.Context(), "SessionFinished"))
		return
	}
	if err := h.store.FinishCaseSession(sess.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	view, err := h.store.GetSessionView(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleReviewList(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListCaseSessions(0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	reviewable := []model.CaseSession{}
	for _, s := range sessions {
		if s.Status == model.StatusFinished {
			reviewable = append(reviewable, s)
		}
	}
	writeJSON(w, http.StatusOK, reviewable)
}

func (h *Handler) handleReviewSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	view, err := h.store.GetSessionView(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ownedSession loads the session from the URL and checks that it belongs
// to the requesting user (teachers and admins may access any session).
func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request) (model.CaseSession, bool) {
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return model.CaseSession{}, false
	}
	sess, err := h.store.GetCaseSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return model.CaseSession{}, false
	}
	user := model.UserFromContext(r.Context())
	if sess.UserID != user.ID && user.Role == model.UserRoleStudent {
		writeError(w, http.StatusForbidden, "not your session")
		return model.CaseSession{}, false
	}
	return sess, true
}
