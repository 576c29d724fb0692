package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/apothekerbubi/m3-trainer/internal/casefile"
	appI18n "github.com/apothekerbubi/m3-trainer/internal/i18n"
	"github.com/apothekerbubi/m3-trainer/internal/llm"
	"github.com/apothekerbubi/m3-trainer/internal/llm/prompts"
	"github.com/apothekerbubi/m3-trainer/internal/model"
	"github.com/apothekerbubi/m3-trainer/internal/scoring"
)

type answerRequest struct {
	Answer string `json:"answer"`
}

type answerResponse struct {
	Local scoring.Result `json:"local"`
	LLM   *llm.StepGrade `json:"llm,omitempty"`
	Note  string         `json:"note,omitempty"`
}

// handleAnswer scores one free-text step answer. The local rubric scorer
// always runs; the LLM grade is added when an endpoint is configured and
// the call succeeds. Both signals are persisted.
func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	if sess.Status != model.StatusInProgress {
		writeError(w, http.StatusBadRequest, appI18n.T(r.Context(), "SessionFinished"))
		return
	}

	stepIdx, err := strconv.Atoi(chi.URLParam(r, "stepIndex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid step index")
		return
	}
	c := h.library.Get(sess.CaseID)
	if c == nil {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "CaseNotFound"))
		return
	}
	if stepIdx < 0 || stepIdx >= len(c.Steps) {
		writeError(w, http.StatusBadRequest, "step index out of range")
		return
	}
	step := c.Steps[stepIdx]

	var req answerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		writeError(w, http.StatusBadRequest, appI18n.T(r.Context(), "AnswerEmpty"))
		return
	}

	local := scoring.ScoreAnswer(req.Answer, step.Rubric, scoring.Options{Fuzzy: h.config.Fuzzy})

	result := model.StepResult{
		SessionID:  sess.ID,
		StepIndex:  stepIdx,
		Answer:     req.Answer,
		LocalScore: local.Total,
		LocalMax:   step.Rubric.MaxTotal(),
		Missing:    collectMissing(local),
	}

	resp := answerResponse{Local: local}
	if h.llm == nil {
		resp.Note = appI18n.T(r.Context(), "GradedLocally")
	} else {
		grade, err := h.llm.GradeStep(r.Context(), prompts.GradeInput{
			Vignette:   c.Vignette,
			Prompt:     step.Prompt,
			Rule:       step.Rule,
			RubricText: formatRubric(step.Rubric),
			Transcript: h.transcriptBefore(sess.ID, c, stepIdx),
			Answer:     req.Answer,
			MaxPoints:  step.Rubric.MaxTotal(),
		})
		if err != nil {
			// The local result stands on its own; record and move on.
			slog.Error("LLM grading failed, keeping local score", "session_id", sess.ID, "step", stepIdx, "error", err)
			resp.Note = appI18n.T(r.Context(), "GradedLocally")
		} else {
			result.Correctness = grade.Correctness
			result.LLMFeedback = grade.Feedback
			result.LLMTips = grade.Tips
			result.LLMScore = &grade.Score
			resp.LLM = grade
		}
	}

	if err := h.store.UpsertStepResult(result); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// transcriptBefore collects the already-answered steps preceding stepIdx
// as grading context. Failures only shrink the context.
func (h *Handler) transcriptBefore(sessionID int64, c *casefile.Case, stepIdx int) []prompts.TranscriptEntry {
	recorded, err := h.store.GetStepResults(sessionID)
	if err != nil {
		slog.Warn("load transcript", "session_id", sessionID, "error", err)
		return nil
	}
	var entries []prompts.TranscriptEntry
	for _, r := range recorded {
		if r.StepIndex >= stepIdx || r.StepIndex >= len(c.Steps) {
			continue
		}
		entries = append(entries, prompts.TranscriptEntry{
			Prompt: c.Steps[r.StepIndex].Prompt,
			Answer: r.Answer,
		})
	}
	return entries
}

func collectMissing(res scoring.Result) []string {
	out := []string{}
	for _, sec := range res.Sections {
		out = append(out, sec.Missing...)
	}
	return out
}

// formatRubric renders a rubric as plain text for the grading prompt.
func formatRubric(r scoring.Rubric) string {
	var sb strings.Builder
	for _, sec := range r.Sections {
		fmt.Fprintf(&sb, "%s (max %g P.):\n", sec.Name, sec.MaxPoints)
		if r.Kind == scoring.RubricDetailed {
			for _, item := range sec.Items {
				fmt.Fprintf(&sb, "- %s (%g P.)\n", item.Text, item.Points)
			}
		} else {
			fmt.Fprintf(&sb, "- erwartet: %s\n", strings.Join(sec.Keywords, ", "))
		}
	}
	return sb.String()
}
