// Package casefile loads and validates authored case content. All shape
// checking happens here, once, at startup: a malformed case rejects the
// load rather than surfacing as a scoring-time surprise.
package casefile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apothekerbubi/m3-trainer/internal/engine"
	"github.com/apothekerbubi/m3-trainer/internal/model"
	"github.com/apothekerbubi/m3-trainer/internal/scoring"
)

// Step is one ordered question of a case.
type Step struct {
	Prompt string         `json:"prompt" validate:"required"`
	Hint   string         `json:"hint,omitempty"`
	Rule   string         `json:"rule,omitempty"` // free-text grading guidance for the LLM path
	Image  *model.Image   `json:"image,omitempty"`
	Points float64        `json:"points" validate:"gte=0"`
	Rubric scoring.Rubric `json:"rubric"`
}

// Case is a self-contained exam scenario: a vignette plus ordered steps,
// optionally with an exam-mode action catalog. Read-only at runtime.
type Case struct {
	ID        string          `json:"id" validate:"required"`
	Title     string          `json:"title" validate:"required"`
	Specialty string          `json:"specialty,omitempty"`
	Vignette  string          `json:"vignette" validate:"required"`
	Steps     []Step          `json:"steps" validate:"min=1,dive"`
	ExamMode  *engine.Catalog `json:"exam_mode,omitempty"`
}

// Summary is the listing form of a case, without rubrics or answer keys.
type Summary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Specialty string `json:"specialty,omitempty"`
	Steps     int    `json:"steps"`
	ExamMode  bool   `json:"exam_mode"`
}

// Library holds all loaded cases, keyed by ID, immutable after LoadDir.
type Library struct {
	cases map[string]*Case
	order []string
}

// LoadDir parses and validates every *.json case file in dir.
func LoadDir(dir string) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read cases dir %s: %w", dir, err)
	}

	lib := &Library{cases: map[string]*Case{}}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		c, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if _, dup := lib.cases[c.ID]; dup {
			return nil, fmt.Errorf("case %s: duplicate case id %q", path, c.ID)
		}
		lib.cases[c.ID] = c
		lib.order = append(lib.order, c.ID)
		slog.Info("loaded case", "path", path, "id", c.ID, "steps", len(c.Steps), "exam_mode", c.ExamMode != nil)
	}
	sort.Strings(lib.order)

	if len(lib.cases) == 0 {
		return nil, fmt.Errorf("no case files found in %s", dir)
	}
	return lib, nil
}

// LoadFile parses and validates a single case file.
func LoadFile(path string) (*Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var c Case
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := Validate(&c); err != nil {
		return nil, fmt.Errorf("case %s: %w", path, err)
	}
	return &c, nil
}

// Get returns the case with the given ID, or nil.
func (l *Library) Get(id string) *Case {
	return l.cases[id]
}

// Summaries lists all cases in ID order.
func (l *Library) Summaries() []Summary {
	out := make([]Summary, 0, len(l.order))
	for _, id := range l.order {
		c := l.cases[id]
		out = append(out, Summary{
			ID:        c.ID,
			Title:     c.Title,
			Specialty: c.Specialty,
			Steps:     len(c.Steps),
			ExamMode:  c.ExamMode != nil,
		})
	}
	return out
}

// Count returns the number of loaded cases.
func (l *Library) Count() int {
	return len(l.cases)
}
