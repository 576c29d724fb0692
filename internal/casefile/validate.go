package casefile

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/apothekerbubi/m3-trainer/internal/engine"
	"github.com/apothekerbubi/m3-trainer/internal/scoring"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a parsed case for structural integrity: struct tags
// first, then the cross-field rules the tags cannot express.
func Validate(c *Case) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	for i, step := range c.Steps {
		if err := validateRubric(step.Rubric); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}

	if c.ExamMode != nil {
		if err := validateCatalog(c.ExamMode); err != nil {
			return fmt.Errorf("exam_mode: %w", err)
		}
	}
	return nil
}

// validateRubric enforces kind homogeneity: detailed sections carry items
// (with mandatory text), simple sections carry a bare keyword list, and
// the two never mix within one rubric.
func validateRubric(r scoring.Rubric) error {
	for i, sec := range r.Sections {
		switch r.Kind {
		case scoring.RubricDetailed:
			if len(sec.Items) == 0 {
				return fmt.Errorf("section %q: detailed rubric requires items", sec.Name)
			}
			if len(sec.Keywords) > 0 {
				return fmt.Errorf("section %q: detailed section must not carry a keyword list", sec.Name)
			}
			var itemSum float64
			for j, item := range sec.Items {
				if item.Text == "" {
					return fmt.Errorf("section %q item %d: text is mandatory", sec.Name, j)
				}
				itemSum += item.Points
			}
			if itemSum < sec.MaxPoints {
				return fmt.Errorf("section %q: items sum to %v, below max_points %v", sec.Name, itemSum, sec.MaxPoints)
			}
		case scoring.RubricSimple:
			if len(sec.Items) > 0 {
				return fmt.Errorf("section %q: simple rubric must not carry items", sec.Name)
			}
			if len(sec.Keywords) == 0 {
				return fmt.Errorf("section %q: simple rubric requires keywords", sec.Name)
			}
		default:
			return fmt.Errorf("section %d: unknown rubric kind %q", i, r.Kind)
		}
	}
	return nil
}

// validateCatalog checks unlock-graph integrity: unique keys, and every
// start/completion/unlock reference resolves to a catalog action.
func validateCatalog(cat *engine.Catalog) error {
	keys := make(map[string]bool, len(cat.Actions))
	for _, a := range cat.Actions {
		if keys[a.Key] {
			return fmt.Errorf("duplicate action key %q", a.Key)
		}
		keys[a.Key] = true
	}

	for _, a := range cat.Actions {
		for _, u := range a.Unlocks {
			if !keys[u] {
				return fmt.Errorf("action %q unlocks unknown key %q", a.Key, u)
			}
		}
		if a.MinHits > len(a.Expected) {
			return fmt.Errorf("action %q: min_hits %d exceeds %d expected keywords", a.Key, a.MinHits, len(a.Expected))
		}
	}

	for _, k := range cat.StartActions {
		if !keys[k] {
			return fmt.Errorf("start action %q does not exist", k)
		}
	}
	for _, k := range cat.CompletionActions {
		if !keys[k] {
			return fmt.Errorf("completion action %q does not exist", k)
		}
	}
	return nil
}
