package scoring

import "strings"

// RubricKind discriminates the two authored rubric shapes. It is resolved
// once when case content is loaded, never inferred at score time.
type RubricKind string

const (
	// RubricSimple gates a flat all-or-nothing point award on one keyword list.
	RubricSimple RubricKind = "simple"
	// RubricDetailed awards per-item points, capped per section.
	RubricDetailed RubricKind = "detailed"
)

// RubricItem is one scorable element of a detailed section.
type RubricItem struct {
	Text     string   `json:"text" validate:"required"`
	Points   float64  `json:"points" validate:"gte=0"`
	Keywords []string `json:"keywords" validate:"min=1,dive,required"`
}

// RubricSection is a named subdivision of a rubric with its own point cap.
// Detailed sections carry Items; simple sections carry Keywords.
type RubricSection struct {
	Name      string       `json:"name" validate:"required"`
	MaxPoints float64      `json:"max_points" validate:"gte=0"`
	Items     []RubricItem `json:"items,omitempty" validate:"dive"`
	Keywords  []string     `json:"keywords,omitempty"`
}

// Rubric is a scoring specification for one case step.
type Rubric struct {
	Kind     RubricKind      `json:"kind" validate:"required,oneof=simple detailed"`
	Sections []RubricSection `json:"sections" validate:"min=1,dive"`
}

// MaxTotal returns the highest score the rubric can award.
func (r Rubric) MaxTotal() float64 {
	var sum float64
	for _, s := range r.Sections {
		sum += s.MaxPoints
	}
	return sum
}

// SectionResult is the per-section scoring outcome. Missing lists the
// item descriptions (detailed) or keywords (simple) that were not matched.
type SectionResult struct {
	Name    string   `json:"name"`
	Got     float64  `json:"got"`
	Max     float64  `json:"max"`
	Missing []string `json:"missing"`
}

// Result is the outcome of scoring one answer against one rubric.
// Total equals the sum of the section Got values.
type Result struct {
	Total    float64         `json:"total"`
	Sections []SectionResult `json:"sections"`
}

// Options configures answer scoring.
type Options struct {
	// Fuzzy additionally accepts a keyword when some single word of the
	// answer is within edit distance 1 of it and their lengths differ by
	// at most 2. Tolerates minor misspellings such as "appendizits" for
	// "appendizitis".
	Fuzzy bool
}

// ScoreAnswer scores a free-text answer against a rubric. It is a total,
// pure function: any string and any well-formed rubric yield a Result.
// Rubric shape is validated at content-load time, not here.
func ScoreAnswer(answer string, rubric Rubric, opts Options) Result {
	haystack := Normalize(answer)
	words := strings.Fields(haystack)

	res := Result{Sections: make([]SectionResult, 0, len(rubric.Sections))}
	for _, sec := range rubric.Sections {
		var sr SectionResult
		if rubric.Kind == RubricDetailed {
			sr = scoreDetailed(haystack, words, sec, opts)
		} else {
			sr = scoreSimple(haystack, words, sec, opts)
		}
		res.Total += sr.Got
		res.Sections = append(res.Sections, sr)
	}
	return res
}

func scoreDetailed(haystack string, words []string, sec RubricSection, opts Options) SectionResult {
	sr := SectionResult{Name: sec.Name, Max: sec.MaxPoints, Missing: []string{}}

	var got float64
	seen := map[string]bool{}
	for _, item := range sec.Items {
		if anyKeywordMatches(haystack, words, item.Keywords, opts) {
			got += item.Points
			continue
		}
		label := item.Text
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		sr.Missing = append(sr.Missing, label)
	}

	// Clamp to the section cap; items may over-sum by authoring intent.
	if got > sec.MaxPoints {
		got = sec.MaxPoints
	}
	if got < 0 {
		got = 0
	}
	sr.Got = got
	return sr
}

func scoreSimple(haystack string, words []string, sec RubricSection, opts Options) SectionResult {
	sr := SectionResult{Name: sec.Name, Max: sec.MaxPoints, Missing: []string{}}

	if anyKeywordMatches(haystack, words, sec.Keywords, opts) {
		sr.Got = sec.MaxPoints
		return sr
	}

	seen := map[string]bool{}
	for _, kw := range sec.Keywords {
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		sr.Missing = append(sr.Missing, kw)
	}
	return sr
}

func anyKeywordMatches(haystack string, words []string, keywords []string, opts Options) bool {
	for _, kw := range keywords {
		needle := Normalize(kw)
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, needle) {
			return true
		}
		if opts.Fuzzy && fuzzyWordMatch(words, needle) {
			return true
		}
	}
	return false
}

// fuzzyWordMatch reports whether any single word is within edit distance 1
// of the keyword, with a length difference of at most 2.
func fuzzyWordMatch(words []string, keyword string) bool {
	kn := len([]rune(keyword))
	for _, w := range words {
		wn := len([]rune(w))
		if wn-kn > 2 || kn-wn > 2 {
			continue
		}
		if levenshtein(w, keyword) <= 1 {
			return true
		}
	}
	return false
}
