package prompt

import (
	"fmt"
	"strings"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/profile"
)

// presentable drops records whose name is too short to be a real program
// title and records repeating an earlier (name, category) pair. When the
// filter would leave nothing, only the duplicates are dropped.
func presentable(records []catalog.CourseRecord, minWords int) []catalog.CourseRecord {
	out := dedupe(records, minWords)
	if len(out) == 0 {
		out = dedupe(records, 0)
	}
	return out
}

func dedupe(records []catalog.CourseRecord, minWords int) []catalog.CourseRecord {
	type key struct{ name, category string }
	seen := make(map[key]bool, len(records))
	var out []catalog.CourseRecord
	for _, r := range records {
		k := key{r.Name, r.Category}
		if seen[k] || len(strings.Fields(r.Name)) < minWords {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// writeCourseList renders records as a markdown list the generator can quote
// from. Reduced lists leave out subjects.
func writeCourseList(b *strings.Builder, records []catalog.CourseRecord, reduced bool) {
	for _, r := range records {
		fmt.Fprintf(b, "- **%s**", r.Name)
		if r.Category != "" {
			fmt.Fprintf(b, " from %s", r.Category)
		}
		if !reduced && len(r.Subjects) > 0 {
			fmt.Fprintf(b, " (Subjects: %s)", strings.Join(r.Subjects, ", "))
		}
		b.WriteString("\n")
		if r.SourceURL != "" {
			fmt.Fprintf(b, "  URL: %s\n", r.SourceURL)
		}
		if !reduced {
			b.WriteString("\n")
		}
	}
}

// writeCourseDetail renders every known field of one course. Fields the
// catalog does not have are listed as unavailable so the generator does not
// fill them in.
func writeCourseDetail(b *strings.Builder, r catalog.CourseRecord, reduced bool) {
	fmt.Fprintf(b, "Course: **%s**\n", r.Name)
	field(b, "Category", r.Category)
	field(b, "URL", r.SourceURL)

	e := r.Enrichment
	if e == nil {
		e = &catalog.Enrichment{}
	}
	subjects := r.Subjects
	if len(e.Subjects) > 0 {
		subjects = e.Subjects
	}
	list(b, "Subjects", subjects, 0)
	if reduced {
		field(b, "Description", truncate(e.Description, 200))
		list(b, "Career prospects", e.CareerProspects, 3)
		return
	}
	field(b, "Description", e.Description)
	field(b, "Duration", e.Duration)
	field(b, "Eligibility", e.Eligibility)
	list(b, "Curriculum", e.Curriculum, 10)
	list(b, "Specializations", e.Specializations, 0)
	list(b, "Career prospects", e.CareerProspects, 0)
	list(b, "Highlights", e.Highlights, 0)
	field(b, "Fees", e.Fees)
	field(b, "Admission", e.Admission)
}

const unavailable = "not available"

func field(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = unavailable
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

func list(b *strings.Builder, label string, items []string, limit int) {
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: %s\n", label, unavailable)
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(items, "; "))
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}

// writeProfile renders the profile fields the generator may draw on.
func writeProfile(b *strings.Builder, p profile.StudentProfile, reduced bool) {
	b.WriteString("Student profile:\n")
	fmt.Fprintf(b, "- Degree level: %s\n", p.DegreeLevel.Label())
	bullet(b, "Academic strengths", strings.Join(p.Strengths, ", "))
	bullet(b, "Interests", strings.Join(p.Interests, ", "))
	bullet(b, "Career aspiration", p.Aspiration)
	if reduced {
		return
	}
	if len(p.Marks) > 0 {
		marks := make([]string, len(p.Marks))
		for i, m := range p.Marks {
			marks[i] = fmt.Sprintf("%s %d", m.Subject, m.Score)
		}
		bullet(b, "Marks", strings.Join(marks, ", "))
	}
	bullet(b, "Activities", strings.Join(p.Activities, ", "))
	bullet(b, "Skills from activities", strings.Join(p.DerivedSkills, ", "))
	bullet(b, "Preferred work", strings.Join(p.WorkPreference, ", "))
	bullet(b, "In their own words (subjects)", p.AcademicInterests)
	bullet(b, "In their own words (activities)", p.ActivityNarrative)
}

func bullet(b *strings.Builder, label, value string) {
	if value = strings.TrimSpace(value); value != "" {
		fmt.Fprintf(b, "- %s: %s\n", label, value)
	}
}
