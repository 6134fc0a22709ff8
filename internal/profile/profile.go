// Package profile turns raw student inputs into an immutable StudentProfile.
//
// Every input is optional. A missing or malformed field contributes nothing
// and earns no rubric credit; building a profile never fails.
package profile

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/sliceutil"
	"github.com/garyellow/degree-advisor/internal/stringutil"
	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

const maxStrengths = 3

// Input is the raw material for a profile.
type Input struct {
	Marks                []Mark              `json:"marks"`
	CertificateInterests []string            `json:"certificate_interests"`
	DegreeLevel          catalog.DegreeLevel `json:"degree_level"`
	Aspiration           string              `json:"aspiration"`
	WorkPreference       []string            `json:"work_preference"`
	AcademicInterests    string              `json:"academic_interests"`
	Activities           string              `json:"activities"`
}

// StudentProfile is the structured view of a student. It is created once
// per session and never mutated; pass it by value.
type StudentProfile struct {
	Marks               []Mark              `json:"marks"`
	Strengths           []string            `json:"strengths"`
	Interests           []string            `json:"interests"`
	Activities          []string            `json:"activities"`
	DerivedSkills       []string            `json:"derived_skills"`
	DegreeLevel         catalog.DegreeLevel `json:"degree_level"`
	Aspiration          string              `json:"aspiration"`
	WorkPreference      []string            `json:"work_preference"`
	AcademicInterests   string              `json:"academic_interests"`
	ActivityNarrative   string              `json:"activity_narrative"`
	CompletenessScore   int                 `json:"completeness_score"`
	NeedsClarification  bool                `json:"needs_clarification"`
	ClarifyingQuestions []string            `json:"clarifying_questions"`
	MissingAreas        []string            `json:"missing_areas"`
}

// HasInterestsOrActivities reports whether keyword matching has anything to work with.
func (p StudentProfile) HasInterestsOrActivities() bool {
	return len(p.Interests) > 0 || len(p.Activities) > 0
}

// Builder builds profiles against a vocabulary and rubric.
type Builder struct {
	vocab  *taxonomy.Vocabulary
	rubric Rubric
}

// NewBuilder creates a Builder. A nil vocabulary selects the embedded default.
func NewBuilder(vocab *taxonomy.Vocabulary, rubric Rubric) *Builder {
	if vocab == nil {
		vocab = taxonomy.Default()
	}
	return &Builder{vocab: vocab, rubric: rubric}
}

// Build derives a StudentProfile from in.
func (b *Builder) Build(in Input) StudentProfile {
	marks := sanitizeMarks(in.Marks)

	activities := b.vocab.MatchActivities(in.Activities)
	activityNames := make([]string, 0, len(activities))
	var skills, activityInterests []string
	for _, a := range activities {
		activityNames = append(activityNames, a.Name)
		skills = append(skills, a.Skills...)
		if a.Interest != "" {
			activityInterests = append(activityInterests, a.Interest)
		}
	}

	interests := sliceutil.Union(
		trimAll(in.CertificateInterests),
		b.vocab.MatchInterests(in.AcademicInterests),
		activityInterests,
	)

	var met [dimCount]bool
	met[DimMarks] = len(marks) >= minMarkedSubjects
	met[DimInterests] = len(interests) > 0
	met[DimAspiration] = stringutil.WordCount(in.Aspiration) >= minAspirationWords
	met[DimAcademicNarrative] = stringutil.WordCount(in.AcademicInterests) >= minAcademicNarrativeLen
	met[DimActivityNarrative] = stringutil.WordCount(in.Activities) >= minActivityNarrativeLen
	score, missing := b.rubric.Score(met)

	p := StudentProfile{
		Marks:             marks,
		Strengths:         topSubjects(marks, maxStrengths),
		Interests:         interests,
		Activities:        activityNames,
		DerivedSkills:     sliceutil.Union(skills),
		DegreeLevel:       in.DegreeLevel,
		Aspiration:        strings.TrimSpace(in.Aspiration),
		WorkPreference:    b.canonicalWorkPreferences(in.WorkPreference),
		AcademicInterests: strings.TrimSpace(in.AcademicInterests),
		ActivityNarrative: strings.TrimSpace(in.Activities),
		CompletenessScore: score,
	}
	for _, d := range missing {
		p.MissingAreas = append(p.MissingAreas, d.String())
	}
	p.NeedsClarification = score < b.rubric.Threshold
	if p.NeedsClarification {
		for _, d := range missing {
			p.ClarifyingQuestions = append(p.ClarifyingQuestions, d.Question())
		}
	}
	return p
}

// InterestsFromCertificates maps certificate texts to interest labels.
func (b *Builder) InterestsFromCertificates(texts []string) []string {
	var lists [][]string
	for _, t := range texts {
		lists = append(lists, b.vocab.MatchCertificate(t))
	}
	return sliceutil.Union(lists...)
}

func (b *Builder) canonicalWorkPreferences(tags []string) []string {
	var out []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		idx := slices.IndexFunc(b.vocab.WorkPreferences, func(known string) bool {
			return strings.EqualFold(known, tag)
		})
		if idx < 0 {
			if tag != "" {
				slog.Debug("Ignoring unknown work preference", "tag", tag)
			}
			continue
		}
		out = append(out, b.vocab.WorkPreferences[idx])
	}
	return sliceutil.Union(out)
}

// topSubjects ranks by score descending; the stable sort keeps table order on ties.
func topSubjects(marks []Mark, n int) []string {
	sorted := slices.Clone(marks)
	slices.SortStableFunc(sorted, func(a, b Mark) int {
		return cmp.Compare(b.Score, a.Score)
	})
	out := make([]string, 0, n)
	for _, m := range sorted[:min(n, len(sorted))] {
		out = append(out, m.Subject)
	}
	return out
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
