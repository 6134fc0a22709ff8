// Package intent decides what kind of dialogue turn a student message is.
//
// Classification is purely lexical over the vocabulary's intent lexicon and
// the catalog's course titles. The precedence is fixed: a full course title
// wins over a "suggest some <domain> courses" request, that request over a
// partial title mention, a course over a greeting, a greeting over
// confusion, confusion over a request for alternatives, and anything else is
// a follow-up on the courses already suggested.
package intent

import (
	"cmp"
	"slices"
	"strings"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/dialogue"
	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

// Kind is the turn type.
type Kind string

// Turn types.
const (
	KindGreeting       Kind = "greeting"
	KindConfusion      Kind = "confusion"
	KindSpecificCourse Kind = "specific_course"
	KindAlternatives   Kind = "alternatives"
	KindFollowUp       Kind = "followup"
)

// discussionWindow is how many trailing turns are searched for the course a
// follow-up question refers back to.
const discussionWindow = 6

// Intent is the classification of one student message.
type Intent struct {
	Kind Kind `json:"kind"`

	// Title is the course title the student referred to (KindSpecificCourse).
	Title string `json:"title,omitempty"`
	// Course is the catalog record for Title. Nil when the title could not
	// be resolved, in which case the reply must say the course is unknown.
	Course *catalog.CourseRecord `json:"course,omitempty"`

	// Domain is the requested domain family (KindAlternatives), if any.
	Domain string `json:"domain,omitempty"`

	// Suggested lists the titles the assistant has already presented.
	Suggested []string `json:"suggested,omitempty"`
}

// String returns the intent kind, plus the course or domain when set.
func (i Intent) String() string {
	switch {
	case i.Title != "":
		return string(i.Kind) + "(" + i.Title + ")"
	case i.Domain != "":
		return string(i.Kind) + "(" + i.Domain + ")"
	}
	return string(i.Kind)
}

type domainPhrases struct {
	name    string
	phrases phraseSet
}

// Classifier classifies messages against one catalog. It is immutable and
// safe for concurrent use.
type Classifier struct {
	cat      *catalog.Catalog
	vocab    *taxonomy.Vocabulary
	suffixes []string

	// keys holds every mentionable title form, longest first.
	keys   []titleKey
	byFull map[string]int

	greetings    phraseSet
	maxGreeting  int
	confusion    phraseSet
	alternatives phraseSet
	followUp     phraseSet
	verbs        phraseSet
	domains      []domainPhrases
}

// NewClassifier indexes the catalog's titles and compiles the vocabulary's
// intent lexicon.
func NewClassifier(cat *catalog.Catalog) *Classifier {
	vocab := cat.Vocabulary()
	lex := vocab.Intent
	c := &Classifier{
		cat:          cat,
		vocab:        vocab,
		suffixes:     lex.TitleSuffixes,
		byFull:       make(map[string]int, cat.Len()),
		greetings:    newPhraseSet(lex.Greetings),
		maxGreeting:  lex.GreetingMaxWords,
		confusion:    newPhraseSet(lex.Confusion),
		alternatives: newPhraseSet(lex.Alternatives),
		followUp:     newPhraseSet(lex.FollowUp),
		verbs:        newPhraseSet(lex.SuggestVerbs),
	}
	for _, d := range vocab.Domains {
		c.domains = append(c.domains, domainPhrases{
			name:    d.Name,
			phrases: newPhraseSet(append([]string{d.Name}, d.Triggers...)),
		})
	}

	for pos := range cat.Len() {
		full, tail := titleKeys(cat.At(pos).Name, c.suffixes)
		if len(strings.Fields(full)) >= 2 {
			c.keys = append(c.keys, titleKey{key: full, pos: pos, full: true})
			if _, dup := c.byFull[full]; !dup {
				c.byFull[full] = pos
			}
		}
		if tail != "" {
			c.keys = append(c.keys, titleKey{key: tail, pos: pos})
		}
	}
	slices.SortStableFunc(c.keys, func(a, b titleKey) int {
		if n := cmp.Compare(len(b.key), len(a.key)); n != 0 {
			return n
		}
		if a.full != b.full {
			if a.full {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.pos, b.pos)
	})
	return c
}

// Classify returns the intent of msg given the turns before it.
func (c *Classifier) Classify(msg string, history dialogue.History) Intent {
	suggested := SuggestedTitles(history, c.vocab)
	ws := words(msg)
	text := padded(ws)
	norm := catalog.NormalizeTitle(msg, nil)

	if title, rec, ok := c.resolveCourse(norm, suggested, false); ok {
		return Intent{Kind: KindSpecificCourse, Title: title, Course: rec, Suggested: suggested}
	}
	// "data science" in "suggest some data science courses" is a domain,
	// not the tail of "M.Sc in Data Science".
	if domain, ok := c.suggestDomain(text); ok {
		return Intent{Kind: KindAlternatives, Domain: domain, Suggested: suggested}
	}
	if title, rec, ok := c.resolveCourse(norm, suggested, true); ok {
		return Intent{Kind: KindSpecificCourse, Title: title, Course: rec, Suggested: suggested}
	}
	if c.followUp.matchIn(text) {
		if title, rec, ok := c.discussionCourse(history, suggested); ok {
			return Intent{Kind: KindSpecificCourse, Title: title, Course: rec, Suggested: suggested}
		}
	}
	if c.isGreeting(ws, text) && history.UserTurnCount() < 2 {
		return Intent{Kind: KindGreeting, Suggested: suggested}
	}
	if c.confusion.matchIn(text) {
		return Intent{Kind: KindConfusion, Suggested: suggested}
	}
	if c.alternatives.matchIn(text) {
		return Intent{Kind: KindAlternatives, Domain: c.domainIn(text), Suggested: suggested}
	}
	return Intent{Kind: KindFollowUp, Suggested: suggested}
}

func (c *Classifier) isGreeting(ws []string, text string) bool {
	if len(ws) == 0 || (c.maxGreeting > 0 && len(ws) > c.maxGreeting) {
		return false
	}
	for _, g := range c.greetings {
		if strings.HasPrefix(text, g) {
			return true
		}
	}
	return false
}

// resolveCourse finds the course a normalized message names. Previously
// suggested titles are tried before the catalog, and within each source the
// longest mentioned form wins. Title tails ("data science" for "M.Sc in
// Data Science") are only considered when tails is set.
func (c *Classifier) resolveCourse(norm string, suggested []string, tails bool) (string, *catalog.CourseRecord, bool) {
	var (
		bestTitle string
		bestLen   int
	)
	for _, title := range suggested {
		full, tail := titleKeys(title, c.suffixes)
		keys := []string{full}
		if tails {
			keys = append(keys, tail)
		}
		for _, k := range keys {
			if len(k) > bestLen && mentions(norm, k) {
				bestTitle, bestLen = title, len(k)
			}
		}
	}
	if bestTitle != "" {
		return bestTitle, c.lookup(bestTitle), true
	}

	for _, k := range c.keys {
		if (k.full || tails) && mentions(norm, k.key) {
			rec := c.cat.At(k.pos)
			return rec.Name, &rec, true
		}
	}
	return "", nil, false
}

// discussionCourse returns the single course the most recent student
// message in the window named. Messages naming several courses are skipped.
func (c *Classifier) discussionCourse(history dialogue.History, suggested []string) (string, *catalog.CourseRecord, bool) {
	recent := history.Last(discussionWindow)
	for i := len(recent) - 1; i >= 0; i-- {
		t := recent[i]
		if t.Role != dialogue.RoleUser {
			continue
		}
		norm := catalog.NormalizeTitle(t.Content, nil)
		if c.countMentions(norm, suggested) != 1 {
			continue
		}
		return c.resolveCourse(norm, suggested, true)
	}
	return "", nil, false
}

func (c *Classifier) countMentions(norm string, suggested []string) int {
	seen := make(map[string]bool)
	for _, title := range suggested {
		full, tail := titleKeys(title, c.suffixes)
		if mentions(norm, full) || mentions(norm, tail) {
			seen[full] = true
		}
	}
	for _, k := range c.keys {
		if mentions(norm, k.key) {
			full, _ := titleKeys(c.cat.At(k.pos).Name, c.suffixes)
			seen[full] = true
		}
	}
	return len(seen)
}

// Lookup resolves a title the assistant displayed to its catalog record,
// or nil when the catalog has no such course.
func (c *Classifier) Lookup(title string) *catalog.CourseRecord {
	return c.lookup(title)
}

// lookup maps a displayed title back to its catalog record: exact
// normalized match first, then the longest catalog title contained in it
// or containing it.
func (c *Classifier) lookup(title string) *catalog.CourseRecord {
	norm := catalog.NormalizeTitle(title, c.suffixes)
	if pos, ok := c.byFull[norm]; ok {
		rec := c.cat.At(pos)
		return &rec
	}
	for _, k := range c.keys {
		if !k.full {
			continue
		}
		if strings.Contains(norm, k.key) || strings.Contains(k.key, norm) {
			rec := c.cat.At(k.pos)
			return &rec
		}
	}
	return nil
}

// suggestDomain matches "<verb> ... <domain> ... <course noun>", for example
// "suggest some design courses" or "show me business programs".
func (c *Classifier) suggestDomain(text string) (string, bool) {
	v := c.verbs.indexIn(text)
	if v < 0 {
		return "", false
	}
	rest := text[v+1:]
	name, at := c.earliestDomain(rest)
	if name == "" {
		return "", false
	}
	if !courseNouns.matchIn(rest[at:]) {
		return "", false
	}
	return name, true
}

// domainIn returns the first domain mentioned anywhere in text, or "".
func (c *Classifier) domainIn(text string) string {
	name, _ := c.earliestDomain(text)
	return name
}

func (c *Classifier) earliestDomain(text string) (string, int) {
	name, best := "", -1
	for _, d := range c.domains {
		if i := d.phrases.indexIn(text); i >= 0 && (best < 0 || i < best) {
			name, best = d.name, i
		}
	}
	return name, best
}
