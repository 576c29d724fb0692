package handler

import (
	"log/slog"
	"net/http"

	"github.com/apothekerbubi/m3-trainer/internal/casefile"
	"github.com/apothekerbubi/m3-trainer/internal/engine"
	appI18n "github.com/apothekerbubi/m3-trainer/internal/i18n"
	"github.com/apothekerbubi/m3-trainer/internal/model"
)

// examStateResponse describes the interactive exam to the client. Unlocked
// actions are exposed as their open question prompts; keys and keywords
// stay server-side.
type examStateResponse struct {
	Intro     string         `json:"intro,omitempty"`
	Unlocked  []examQuestion `json:"unlocked"`
	Completed []string       `json:"completed"`
	Finished  bool           `json:"finished"`
}

type examQuestion struct {
	Key      string `json:"key"`
	Question string `json:"question"`
	Hint     string `json:"hint,omitempty"`
}

type examInputRequest struct {
	Input string `json:"input"`
}

type examInputResponse struct {
	Evaluation engine.Evaluation `json:"evaluation"`
	Message    string            `json:"message,omitempty"`
	State      examStateResponse `json:"state"`
}

func (h *Handler) handleExamState(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := h.examSession(w, r)
	if !ok {
		return
	}
	st, err := h.loadExamState(sess.ID, c.ExamMode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := h.examView(c.ExamMode, st)
	resp.Intro = c.ExamMode.Intro
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExamInput(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := h.examSession(w, r)
	if !ok {
		return
	}
	var req examInputRequest
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := h.loadExamState(sess.ID, c.ExamMode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	eval, next := engine.HandleInput(c.ExamMode, st, req.Input)
	if err := h.store.SaveExamProgress(stateToProgress(sess.ID, next)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if eval.Finished && eval.Outcome == engine.OutcomeSuccess {
		slog.Info("exam finished", "session_id", sess.ID, "case_id", sess.CaseID)
	}

	writeJSON(w, http.StatusOK, examInputResponse{
		Evaluation: eval,
		Message:    outcomeMessage(r, eval.Outcome),
		State:      h.examView(c.ExamMode, next),
	})
}

func (h *Handler) handleExamReset(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := h.examSession(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteExamProgress(sess.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := h.examView(c.ExamMode, engine.NewState(c.ExamMode))
	resp.Intro = c.ExamMode.Intro
	writeJSON(w, http.StatusOK, resp)
}

// examSession resolves the owned session and requires the case to carry
// an exam-mode catalog.
func (h *Handler) examSession(w http.ResponseWriter, r *http.Request) (model.CaseSession, *casefile.Case, bool) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return model.CaseSession{}, nil, false
	}
	c := h.library.Get(sess.CaseID)
	if c == nil {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "CaseNotFound"))
		return model.CaseSession{}, nil, false
	}
	if c.ExamMode == nil {
		writeError(w, http.StatusBadRequest, appI18n.T(r.Context(), "NoExamMode"))
		return model.CaseSession{}, nil, false
	}
	return sess, c, true
}

// loadExamState restores the persisted engine state, or a fresh one if
// the session has no progress yet.
func (h *Handler) loadExamState(sessionID int64, cat *engine.Catalog) (engine.State, error) {
	prog, err := h.store.GetExamProgress(sessionID)
	if err != nil {
		return engine.State{}, err
	}
	if prog == nil {
		return engine.NewState(cat), nil
	}
	return progressToState(*prog), nil
}

func progressToState(p model.ExamProgress) engine.State {
	st := engine.State{
		Unlocked:  make(map[string]bool, len(p.Unlocked)),
		Completed: make(map[string]bool, len(p.Completed)),
		Finished:  p.Finished,
	}
	for _, k := range p.Unlocked {
		st.Unlocked[k] = true
	}
	for _, k := range p.Completed {
		st.Completed[k] = true
	}
	return st
}

func stateToProgress(sessionID int64, st engine.State) model.ExamProgress {
	return model.ExamProgress{
		SessionID: sessionID,
		Unlocked:  mapKeys(st.Unlocked),
		Completed: mapKeys(st.Completed),
		Finished:  st.Finished,
	}
}

func mapKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func (h *Handler) examView(cat *engine.Catalog, st engine.State) examStateResponse {
	resp := examStateResponse{
		Unlocked:  []examQuestion{},
		Completed: engine.SortedKeys(cat, st.Completed),
		Finished:  st.Finished,
	}
	for _, key := range engine.SortedKeys(cat, st.Unlocked) {
		if st.Completed[key] {
			continue
		}
		act := cat.Action(key)
		if act == nil {
			continue
		}
		resp.Unlocked = append(resp.Unlocked, examQuestion{Key: act.Key, Question: act.Question, Hint: act.Hint})
	}
	return resp
}

func outcomeMessage(r *http.Request, o engine.Outcome) string {
	switch o {
	case engine.OutcomeLocked:
		return appI18n.T(r.Context(), "ExamLocked")
	case engine.OutcomeRepeat:
		return appI18n.T(r.Context(), "ExamRepeat")
	case engine.OutcomeUnknown:
		return appI18n.T(r.Context(), "ExamUnknown")
	case engine.OutcomeFinished:
		return appI18n.T(r.Context(), "ExamFinished")
	default:
		return ""
	}
}
