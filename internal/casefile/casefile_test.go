package casefile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apothekerbubi/m3-trainer/internal/engine"
	"github.com/apothekerbubi/m3-trainer/internal/model"
	"github.com/apothekerbubi/m3-trainer/internal/scoring"
)

func validCase() *Case {
	return &Case{
		ID:       "appendizitis-01",
		Title:    "Akutes Abdomen",
		Vignette: "Eine 23-jährige Patientin stellt sich mit Unterbauchschmerzen vor.",
		Steps: []Step{
			{
				Prompt: "Welche Verdachtsdiagnose stellen Sie?",
				Points: 3,
				Rubric: scoring.Rubric{
					Kind: scoring.RubricDetailed,
					Sections: []scoring.RubricSection{
						{
							Name:      "DD",
							MaxPoints: 3,
							Items: []scoring.RubricItem{
								{Text: "Appendizitis", Points: 3, Keywords: []string{"appendizitis", "blinddarm"}},
							},
						},
					},
				},
			},
		},
		ExamMode: &engine.Catalog{
			Intro:             "Sie übernehmen die Patientin in der Notaufnahme.",
			StartActions:      []string{"anamnese"},
			CompletionActions: []string{"diagnose"},
			Actions: []engine.Action{
				{Key: "anamnese", Question: "?", Expected: []string{"anamnese"}, Response: "...", Unlocks: []string{"diagnose"}},
				{Key: "diagnose", Question: "?", Expected: []string{"appendizitis"}, Response: "..."},
			},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := Validate(validCase()); err != nil {
		t.Fatalf("Validate() on valid case: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Case)
		wantSub string
	}{
		{"missing id", func(c *Case) { c.ID = "" }, "schema"},
		{"no steps", func(c *Case) { c.Steps = nil }, "schema"},
		{"detailed item without text", func(c *Case) {
			c.Steps[0].Rubric.Sections[0].Items[0].Text = ""
		}, "text is mandatory"},
		{"detailed section without items", func(c *Case) {
			c.Steps[0].Rubric.Sections[0].Items = nil
		}, "requires items"},
		{"mixed shapes", func(c *Case) {
			c.Steps[0].Rubric.Sections[0].Keywords = []string{"x"}
		}, "must not carry a keyword list"},
		{"items under-sum the cap", func(c *Case) {
			c.Steps[0].Rubric.Sections[0].MaxPoints = 10
		}, "below max_points"},
		{"unknown rubric kind", func(c *Case) {
			c.Steps[0].Rubric.Kind = "weird"
		}, "schema"},
		{"simple without keywords", func(c *Case) {
			c.Steps[0].Rubric = scoring.Rubric{
				Kind:     scoring.RubricSimple,
				Sections: []scoring.RubricSection{{Name: "DD", MaxPoints: 1}},
			}
		}, "requires keywords"},
		{"duplicate action key", func(c *Case) {
			c.ExamMode.Actions = append(c.ExamMode.Actions, engine.Action{
				Key: "anamnese", Question: "?", Expected: []string{"x"}, Response: "y",
			})
		}, "duplicate action key"},
		{"unlock to unknown key", func(c *Case) {
			c.ExamMode.Actions[0].Unlocks = []string{"ghost"}
		}, "unknown key"},
		{"start action missing", func(c *Case) {
			c.ExamMode.StartActions = []string{"ghost"}
		}, "does not exist"},
		{"completion action missing", func(c *Case) {
			c.ExamMode.CompletionActions = []string{"ghost"}
		}, "does not exist"},
		{"min_hits exceeds keywords", func(c *Case) {
			c.ExamMode.Actions[0].MinHits = 5
		}, "min_hits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCase()
			tt.mutate(c)
			err := Validate(c)
			if err == nil {
				t.Fatal("Validate() accepted malformed case")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeCase := func(name, contents string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	writeCase("appendizitis.json", `{
		"id": "appendizitis-01",
		"title": "Akutes Abdomen",
		"vignette": "Unterbauchschmerzen rechts.",
		"steps": [{
			"prompt": "Verdachtsdiagnose?",
			"points": 3,
			"rubric": {
				"kind": "simple",
				"sections": [{"name": "DD", "max_points": 3, "keywords": ["appendizitis"]}]
			}
		}]
	}`)
	writeCase("notes.txt", "ignored")

	lib, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if lib.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", lib.Count())
	}

	c := lib.Get("appendizitis-01")
	if c == nil {
		t.Fatal("Get() returned nil for loaded case")
	}
	if c.Steps[0].Rubric.Kind != scoring.RubricSimple {
		t.Errorf("rubric kind = %q, want simple", c.Steps[0].Rubric.Kind)
	}

	sums := lib.Summaries()
	if len(sums) != 1 || sums[0].ID != "appendizitis-01" || sums[0].ExamMode {
		t.Errorf("Summaries() = %+v", sums)
	}
}

func TestLoadDirRejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"id": ""}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDir(dir); err == nil {
		t.Fatal("LoadDir accepted malformed case file")
	}
}

func TestLoadDirEmpty(t *testing.T) {
	if _, err := LoadDir(t.TempDir()); err == nil {
		t.Fatal("LoadDir should fail on a directory without cases")
	}
}

func TestStepImageValidation(t *testing.T) {
	c := validCase()
	c.Steps[0].Image = &model.Image{Alt: "ohne Pfad"}
	if err := Validate(c); err == nil {
		t.Fatal("Validate() accepted image without path")
	}
}
