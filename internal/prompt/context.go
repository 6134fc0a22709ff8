// Package prompt assembles the bounded, fact-grounded instructions handed
// to the text generator for one dialogue turn.
//
// Course facts in a GenerationContext come only from the records the caller
// passes in: the ranked candidate set or a resolved course. The assembler
// never looks anything up on its own.
package prompt

import (
	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/dialogue"
)

// Kind names the turn-specific template a context was built from.
type Kind string

// Context kinds.
const (
	KindClarify         Kind = "clarify"
	KindRecommend       Kind = "recommend"
	KindSpecific        Kind = "specific"
	KindSpecificMissing Kind = "specific_missing"
	KindLevelMismatch   Kind = "level_mismatch"
	KindAlternatives    Kind = "alternatives"
	KindNoAlternatives  Kind = "no_alternatives"
	KindFollowUp        Kind = "followup"
	KindConfusion       Kind = "confusion"
	KindGreeting        Kind = "greeting"
	KindNoMatch         Kind = "no_match"
)

// ApologyReply is returned when generation fails twice.
const ApologyReply = "I apologize, but I'm having trouble connecting to generate recommendations right now. Please try again in a moment."

// closingQuestion ends every recommendation.
const closingQuestion = "Would you like me to explain more about any of these courses, or would you prefer to explore other options?"

// GenerationContext is the assembled input for one generator call.
type GenerationContext struct {
	Kind Kind `json:"kind"`
	// Courses are the records whose facts the context exposes, in order.
	Courses []catalog.CourseRecord `json:"courses,omitempty"`
	// Fixed is the complete reply for turns that need no generation.
	Fixed string `json:"fixed,omitempty"`
	// Question is the student message being answered, if any.
	Question string `json:"question,omitempty"`

	system  string
	full    string
	short   string
	replay  dialogue.History
	reduced bool
}

// NeedsGeneration reports whether the generator must be called.
func (g GenerationContext) NeedsGeneration() bool { return g.Fixed == "" }

// IsReduced reports whether this is the shortened retry form.
func (g GenerationContext) IsReduced() bool { return g.reduced }

// Reduced returns the shorter form used to retry a failed generation: fewer
// profile fields, no subject lists, no replayed turns.
func (g GenerationContext) Reduced() GenerationContext {
	g.reduced = true
	return g
}

// Prompt returns the user-turn instructions of the current form.
func (g GenerationContext) Prompt() string {
	if g.reduced {
		return g.short
	}
	return g.full
}

// Messages returns the ordered generator input: system instructions, the
// replayed recent turns (full form only), then the assembled prompt.
func (g GenerationContext) Messages() []dialogue.Turn {
	if !g.NeedsGeneration() {
		return nil
	}
	msgs := make([]dialogue.Turn, 0, len(g.replay)+2)
	msgs = append(msgs, dialogue.Turn{Role: dialogue.RoleSystem, Content: g.system})
	if !g.reduced {
		msgs = append(msgs, g.replay...)
	}
	return append(msgs, dialogue.Turn{Role: dialogue.RoleUser, Content: g.Prompt()})
}
