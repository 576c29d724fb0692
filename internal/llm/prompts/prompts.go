// Package prompts renders the grading prompt templates. Templates are
// embedded and parsed once; three variants tune how strictly the grader
// is instructed to score.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// Variant selects a grading prompt variant.
type Variant string

const (
	// VariantStrict grades close to the written rubric, for exam prep.
	VariantStrict Variant = "strict"
	// VariantStandard is the default grading variant.
	VariantStandard Variant = "standard"
	// VariantLenient rewards partial knowledge generously, for early practice.
	VariantLenient Variant = "lenient"
)

var validVariants = map[Variant]bool{
	VariantStrict:   true,
	VariantStandard: true,
	VariantLenient:  true,
}

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[Variant(v)]
}

// GradeInput holds template data for a step grading prompt.
type GradeInput struct {
	Vignette   string
	Prompt     string
	Rule       string
	RubricText string
	Transcript []TranscriptEntry
	Answer     string
	MaxPoints  float64
}

// TranscriptEntry is one earlier prompt/answer pair of the session,
// given to the grader as context.
type TranscriptEntry struct {
	Prompt string
	Answer string
}

type gradeData struct {
	GradeInput
	TranscriptText string
}

var (
	loadOnce       sync.Once
	loadErr        error
	gradeTemplates map[Variant]*template.Template
)

// Load parses the embedded templates. Safe to call multiple times.
func Load() error {
	loadOnce.Do(func() {
		gradeTemplates = make(map[Variant]*template.Template)
		for _, v := range []Variant{VariantStrict, VariantStandard, VariantLenient} {
			name := "templates/grade_" + string(v) + ".txt"
			content, err := templateFS.ReadFile(name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", name, err)
				return
			}
			tmpl, err := template.New("grade").Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return
			}
			gradeTemplates[v] = tmpl
		}
	})
	return loadErr
}

// BuildGradePrompt renders the system prompt for grading one step answer.
func BuildGradePrompt(variant Variant, in GradeInput) (string, error) {
	if gradeTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := gradeTemplates[variant]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	in.Answer = SanitizeAnswer(in.Answer)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, gradeData{
		GradeInput:     in,
		TranscriptText: renderTranscript(in.Transcript),
	}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderTranscript(entries []TranscriptEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString("Pruefer: " + e.Prompt + "\n")
		sb.WriteString("Student: " + e.Answer + "\n\n")
	}
	return sb.String()
}

// SanitizeAnswer strips injection markers and truncates oversized answers
// before they reach a prompt.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > 10000 {
		runes := []rune(answer)
		runes = runes[:10000]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
