package catalog

import (
	"strings"
	"time"

	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

// DegreeLevel is the academic level a course belongs to.
type DegreeLevel string

// Degree levels. LevelUnknown records are never eligible for any profile.
const (
	LevelUnknown  DegreeLevel = ""
	LevelBachelor DegreeLevel = "Bachelor"
	LevelMaster   DegreeLevel = "Master"
)

// ParseDegreeLevel accepts the labels used by intake forms
// ("Bachelor's Degree", "master", "UG", ...).
func ParseDegreeLevel(s string) (DegreeLevel, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == "":
		return LevelUnknown, false
	case strings.HasPrefix(v, "bachelor"), v == "ug", v == "undergraduate":
		return LevelBachelor, true
	case strings.HasPrefix(v, "master"), v == "pg", v == "postgraduate":
		return LevelMaster, true
	}
	return LevelUnknown, false
}

// Label returns the human-readable degree label used in generated text.
func (l DegreeLevel) Label() string {
	switch l {
	case LevelBachelor:
		return "Bachelor's Degree"
	case LevelMaster:
		return "Master's Degree"
	}
	return "degree"
}

// Enrichment is optional detail fetched from a course page after the
// catalog was loaded. Every field may be empty.
type Enrichment struct {
	Title           string    `json:"title,omitempty"`
	Description     string    `json:"description,omitempty"`
	Curriculum      []string  `json:"curriculum,omitempty"`
	Subjects        []string  `json:"subjects,omitempty"`
	Duration        string    `json:"duration,omitempty"`
	Eligibility     string    `json:"eligibility,omitempty"`
	CareerProspects []string  `json:"career_prospects,omitempty"`
	Specializations []string  `json:"specializations,omitempty"`
	Highlights      []string  `json:"highlights,omitempty"`
	Fees            string    `json:"fees,omitempty"`
	Admission       string    `json:"admission,omitempty"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// IsEmpty reports whether the enrichment carries no usable content.
func (e *Enrichment) IsEmpty() bool {
	if e == nil {
		return true
	}
	return e.Description == "" && len(e.Curriculum) == 0 && len(e.Subjects) == 0 &&
		len(e.CareerProspects) == 0 && len(e.Highlights) == 0 && e.Duration == "" &&
		e.Eligibility == "" && len(e.Specializations) == 0
}

// CourseRecord is one catalog entry. Category carries the degree-level tag
// and field grouping as published (e.g. "Bachelor of Design").
type CourseRecord struct {
	ID         string      `json:"id,omitempty"`
	Name       string      `json:"course"`
	Category   string      `json:"degree"`
	Subjects   []string    `json:"subjects,omitempty"`
	SourceURL  string      `json:"source_url"`
	Enrichment *Enrichment `json:"enrichment,omitempty"`
}

// WithEnrichment returns a copy of r carrying e.
func (r CourseRecord) WithEnrichment(e *Enrichment) CourseRecord {
	r.Enrichment = e
	return r
}

// LevelOf detects a record's degree level from its name, falling back to
// its category. Bachelor tokens are checked before master tokens.
func LevelOf(r CourseRecord, vocab *taxonomy.Vocabulary) DegreeLevel {
	if l := levelOfText(r.Name, vocab); l != LevelUnknown {
		return l
	}
	return levelOfText(r.Category, vocab)
}

func levelOfText(text string, vocab *taxonomy.Vocabulary) DegreeLevel {
	lower := strings.ToLower(text)
	switch {
	case taxonomy.ContainsAny(lower, vocab.DegreeLevels.Bachelor):
		return LevelBachelor
	case taxonomy.ContainsAny(lower, vocab.DegreeLevels.Master):
		return LevelMaster
	}
	return LevelUnknown
}
