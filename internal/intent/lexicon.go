package intent

import (
	"strings"
	"unicode"
)

// words lowercases text and splits it on anything that is not a letter or
// a digit. "Don't know!" becomes [don t know].
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// padded joins words with single spaces and surrounds the result with
// spaces so phrase lookups can match on word boundaries.
func padded(ws []string) string {
	return " " + strings.Join(ws, " ") + " "
}

// phraseSet is a list of phrases pre-split into padded word form.
type phraseSet []string

func newPhraseSet(phrases []string) phraseSet {
	out := make(phraseSet, 0, len(phrases))
	for _, p := range phrases {
		if ws := words(p); len(ws) > 0 {
			out = append(out, padded(ws))
		}
	}
	return out
}

// matchIn reports whether any phrase occurs in the padded text on word
// boundaries, so "change" does not fire on "exchange".
func (s phraseSet) matchIn(text string) bool {
	return s.indexIn(text) >= 0
}

// indexIn returns the byte offset of the earliest phrase occurrence, or -1.
func (s phraseSet) indexIn(text string) int {
	best := -1
	for _, p := range s {
		if i := strings.Index(text, p); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

// courseNouns close a "suggest some <domain> courses" request.
var courseNouns = newPhraseSet([]string{
	"course", "courses", "program", "programs", "programme", "programmes",
	"degree", "degrees", "options", "majors",
})
