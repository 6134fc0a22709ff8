package rag

import (
	"strings"
	"unicode"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/profile"
	"github.com/garyellow/degree-advisor/internal/sliceutil"
	"github.com/garyellow/degree-advisor/internal/stringutil"
	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

// Enrichment fields folded into course text are capped so a long scraped
// page cannot drown out the catalog fields.
const (
	maxCurriculumItems = 10
	maxDescriptionLen  = 500
	maxCareerItems     = 3
	maxHighlightItems  = 5
)

// BaseCourseText is name, category and subjects. It is what keyword search
// indexes and it never changes after the catalog loads.
func BaseCourseText(r catalog.CourseRecord) string {
	parts := make([]string, 0, 2+len(r.Subjects))
	parts = append(parts, r.Name, r.Category)
	parts = append(parts, r.Subjects...)
	return joinNonEmpty(parts)
}

// CourseText is the text embedded for a course: base text, enrichment when
// present, then the expansion terms of every domain the text triggers.
func CourseText(r catalog.CourseRecord, vocab *taxonomy.Vocabulary) string {
	parts := []string{BaseCourseText(r)}
	if e := r.Enrichment; !e.IsEmpty() {
		parts = append(parts, e.Subjects...)
		parts = append(parts,
			strings.Join(sliceutil.Head(e.Curriculum, maxCurriculumItems), " "),
			stringutil.Truncate(e.Description, maxDescriptionLen),
			strings.Join(sliceutil.Head(e.CareerProspects, maxCareerItems), " "),
			strings.Join(sliceutil.Head(e.Highlights, maxHighlightItems), " "),
		)
	}
	text := joinNonEmpty(parts)
	if vocab != nil {
		text = joinNonEmpty(append([]string{text}, vocab.ExpansionTerms(text)...))
	}
	return text
}

// ProfileText renders a profile for embedding. Academic strengths and the
// aspiration are emitted twice; interests, activities, skills and work
// preference once.
func ProfileText(p profile.StudentProfile) string {
	var parts []string
	primed := func(items []string, phrase string, times int) {
		if len(items) == 0 {
			return
		}
		s := strings.Join(items, " ") + " " + phrase
		for range times {
			parts = append(parts, s)
		}
	}
	primed(p.Strengths, "academic excellence", 2)
	primed(p.Interests, "passionate about", 1)
	primed(p.Activities, "experienced in", 1)
	primed(p.DerivedSkills, "skilled at", 1)
	if a := strings.TrimSpace(p.Aspiration); a != "" {
		primed([]string{a}, "career goals", 2)
	}
	primed(p.WorkPreference, "work environment", 1)
	return joinNonEmpty(parts)
}

func joinNonEmpty(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}

// tokenize lowercases and splits on anything that is not a letter or digit.
// Dots inside tokens are kept so "b.tech" and "m.sc" stay intact.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := strings.Trim(cur.String(), ".")
		if tok != "" {
			tokens = append(tokens, tok)
		}
		cur.Reset()
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		case r == '.' && cur.Len() > 0:
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
