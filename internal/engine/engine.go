// Package engine drives exam-mode case interaction: free-text input is
// matched against a fixed catalog of named actions, each gated by
// prerequisite unlocking. The transition function is pure; Session wraps
// it with owned state for the handler layer.
package engine

import (
	"strings"

	"github.com/apothekerbubi/m3-trainer/internal/model"
	"github.com/apothekerbubi/m3-trainer/internal/scoring"
)

// Action is a node of the unlock graph: one question/response unit with
// trigger keywords and successor unlocks.
type Action struct {
	Key      string       `json:"key" validate:"required"`
	Question string       `json:"question" validate:"required"`
	Expected []string     `json:"expected" validate:"min=1,dive,required"`
	MinHits  int          `json:"min_hits,omitempty"`
	Response string       `json:"response" validate:"required"`
	Hint     string       `json:"hint,omitempty"`
	Image    *model.Image `json:"image,omitempty"`
	Unlocks  []string     `json:"unlocks,omitempty"`
}

// Catalog is the fixed, authored action table for one case. Actions are
// matched in slice order: first match wins, so authors control precedence
// by ordering. This is a deliberate, tested contract.
type Catalog struct {
	Intro             string   `json:"intro"`
	StartActions      []string `json:"start_actions" validate:"min=1"`
	CompletionActions []string `json:"completion_actions" validate:"min=1"`
	Actions           []Action `json:"actions" validate:"min=1,dive"`
}

// Action returns the catalog action with the given key, or nil.
func (c *Catalog) Action(key string) *Action {
	for i := range c.Actions {
		if c.Actions[i].Key == key {
			return &c.Actions[i]
		}
	}
	return nil
}

func (c *Catalog) isCompletion(key string) bool {
	for _, k := range c.CompletionActions {
		if k == key {
			return true
		}
	}
	return false
}

// State is the engine's externally visible state triple. There is no
// "current action": several actions may be unlocked and eligible at once.
type State struct {
	Unlocked  map[string]bool
	Completed map[string]bool
	Finished  bool
}

// NewState returns the initial state for a catalog: start actions
// unlocked, nothing completed.
func NewState(cat *Catalog) State {
	st := State{
		Unlocked:  make(map[string]bool, len(cat.StartActions)),
		Completed: map[string]bool{},
	}
	for _, k := range cat.StartActions {
		st.Unlocked[k] = true
	}
	return st
}

func (s State) clone() State {
	c := State{
		Unlocked:  make(map[string]bool, len(s.Unlocked)),
		Completed: make(map[string]bool, len(s.Completed)),
		Finished:  s.Finished,
	}
	for k := range s.Unlocked {
		c.Unlocked[k] = true
	}
	for k := range s.Completed {
		c.Completed[k] = true
	}
	return c
}

// SortedKeys returns the keys of a state set in catalog order, for
// stable persistence and JSON output.
func SortedKeys(cat *Catalog, set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for _, a := range cat.Actions {
		if set[a.Key] {
			keys = append(keys, a.Key)
		}
	}
	return keys
}

// Outcome tags the result of one input evaluation. Every outcome is a
// legitimate game-state signal, not an error.
type Outcome string

const (
	// OutcomeSuccess means an unlocked action was completed.
	OutcomeSuccess Outcome = "success"
	// OutcomeLocked means the input matched an action that is not yet unlocked.
	OutcomeLocked Outcome = "locked"
	// OutcomeRepeat means the input re-matched an already completed action.
	OutcomeRepeat Outcome = "repeat"
	// OutcomeUnknown means no catalog action matched the input.
	OutcomeUnknown Outcome = "unknown"
	// OutcomeFinished means the case was already finished; input is ignored.
	OutcomeFinished Outcome = "finished"
)

// Evaluation is the tagged result of HandleInput.
type Evaluation struct {
	Outcome       Outcome      `json:"outcome"`
	ActionKey     string       `json:"action_key,omitempty"`
	Response      string       `json:"response,omitempty"`
	Image         *model.Image `json:"image,omitempty"`
	NewlyUnlocked []string     `json:"newly_unlocked,omitempty"`
	Finished      bool         `json:"finished"`
}

// HandleInput evaluates one free-text input against the catalog and
// returns the evaluation plus the successor state. The input state is
// never mutated and the returned state shares no maps with it.
func HandleInput(cat *Catalog, st State, raw string) (Evaluation, State) {
	if st.Finished {
		return Evaluation{Outcome: OutcomeFinished, Finished: true}, st
	}

	input := scoring.Normalize(raw)

	for i := range cat.Actions {
		act := &cat.Actions[i]
		if !actionMatches(act, input) {
			continue
		}

		if !st.Unlocked[act.Key] {
			return Evaluation{Outcome: OutcomeLocked, ActionKey: act.Key}, st
		}
		if st.Completed[act.Key] {
			return Evaluation{Outcome: OutcomeRepeat, ActionKey: act.Key}, st
		}

		next := st.clone()
		var newly []string
		for _, k := range act.Unlocks {
			if !next.Unlocked[k] {
				next.Unlocked[k] = true
				newly = append(newly, k)
			}
		}
		next.Completed[act.Key] = true
		if cat.isCompletion(act.Key) {
			next.Finished = true
		}

		return Evaluation{
			Outcome:       OutcomeSuccess,
			ActionKey:     act.Key,
			Response:      act.Response,
			Image:         act.Image,
			NewlyUnlocked: newly,
			Finished:      next.Finished,
		}, next
	}

	return Evaluation{Outcome: OutcomeUnknown}, st
}

// actionMatches reports whether the normalized input triggers the action:
// at least MinHits (default 1) of its expected keywords occur as
// normalized substrings.
func actionMatches(act *Action, input string) bool {
	need := act.MinHits
	if need < 1 {
		need = 1
	}
	hits := 0
	for _, kw := range act.Expected {
		needle := scoring.Normalize(kw)
		if needle == "" {
			continue
		}
		if strings.Contains(input, needle) {
			hits++
			if hits >= need {
				return true
			}
		}
	}
	return false
}

// Session owns a catalog plus the current state, for callers that want
// the mutable shape. It is a thin shell over HandleInput.
type Session struct {
	cat *Catalog
	st  State
}

// NewSession creates a session at the catalog's initial state.
func NewSession(cat *Catalog) *Session {
	return &Session{cat: cat, st: NewState(cat)}
}

// ResumeSession creates a session at a previously persisted state.
func ResumeSession(cat *Catalog, st State) *Session {
	return &Session{cat: cat, st: st}
}

// HandleInput evaluates input and advances the session state.
func (s *Session) HandleInput(raw string) Evaluation {
	ev, next := HandleInput(s.cat, s.st, raw)
	s.st = next
	return ev
}

// Reset restores the initial state without reconstructing the catalog.
func (s *Session) Reset() {
	s.st = NewState(s.cat)
}

// Intro returns the case's introductory text.
func (s *Session) Intro() string {
	return s.cat.Intro
}

// Snapshot returns a copy of the current state for persistence.
func (s *Session) Snapshot() State {
	return s.st.clone()
}
