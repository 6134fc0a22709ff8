package scraper

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

// Extraction limits.
const (
	maxDescriptionParts = 3
	maxCurriculum       = 10
	maxCareers          = 3
	maxSpecializations  = 3
	maxHighlights       = 5
	curriculumItemRunes = 300
)

// navigationSelector matches page chrome that never holds course facts.
const navigationSelector = "header, footer, nav, aside, script, style, noscript, .breadcrumb, " +
	`[class*="nav"], [class*="menu"], [class*="header"], [class*="footer"], ` +
	`[id*="nav"], [id*="menu"], [id*="header"], [id*="footer"]`

var (
	institutionWord = regexp.MustCompile(`(?i)\b(university|college|institute|school|academy)\b`)

	semesterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)semester\s+(\d+)[:\-]?\s*([^.]+(?:\.[^.]+){0,20})`),
		regexp.MustCompile(`(?i)sem\s+(\d+)[:\-]?\s*([^.]+(?:\.[^.]+){0,15})`),
		regexp.MustCompile(`(?i)year\s+(\d+)[:\-]?\s*([^.]+(?:\.[^.]+){0,15})`),
	}
	subjectListPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)courses?\s+offered[:\-]?\s*([^.]+(?:\.[^.]+){0,10})`),
		regexp.MustCompile(`(?i)subjects?[:\-]?\s*([^.]+(?:\.[^.]+){0,10})`),
		regexp.MustCompile(`(?i)curriculum[:\-]?\s*([^.]+(?:\.[^.]+){0,15})`),
	}
	durationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`duration[:\-]?\s*(\d+\s*years?)`),
		regexp.MustCompile(`\b\d+\s*years?\b`),
		regexp.MustCompile(`\b\d+\s*semesters?\b`),
	}
	eligibilityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)eligibility[:\-]?\s*([^.]+(?:\.[^.]+){0,3})`),
		regexp.MustCompile(`(?i)qualification[:\-]?\s*([^.]+(?:\.[^.]+){0,3})`),
		regexp.MustCompile(`10\+2[^.]*(?:\.[^.]*){0,2}`),
	}
	careerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)career[^.]*(?:\.[^.]*){0,5}`),
		regexp.MustCompile(`(?i)opportunities[^.]*(?:\.[^.]*){0,3}`),
		regexp.MustCompile(`(?i)jobs?[^.]*(?:\.[^.]*){0,3}`),
		regexp.MustCompile(`(?i)employment[^.]*(?:\.[^.]*){0,3}`),
	}
	specializationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)speciali[sz]ation[^.]*(?:\.[^.]*){0,3}`),
		regexp.MustCompile(`(?i)concentration[^.]*(?:\.[^.]*){0,2}`),
	}
	feePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)fees?[^.]*(?:\.[^.]*){0,2}`),
		regexp.MustCompile(`(?i)cost[^.]*(?:\.[^.]*){0,2}`),
		regexp.MustCompile(`(?i)tuition[^.]*(?:\.[^.]*){0,2}`),
	}
	admissionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)admission[^.]*(?:\.[^.]*){0,4}`),
		regexp.MustCompile(`(?i)application[^.]*(?:\.[^.]*){0,3}`),
		regexp.MustCompile(`(?i)entrance[^.]*(?:\.[^.]*){0,2}`),
	}
)

// ExtractEnrichment pulls course facts out of a parsed course page. The
// document is modified: navigation elements are removed first. Fields that
// cannot be found are left empty. FetchedAt is not set.
func ExtractEnrichment(doc *goquery.Document, subjects []taxonomy.PageSubject) *catalog.Enrichment {
	doc.Find(navigationSelector).Remove()

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	text := collapse(body.Text())
	lower := strings.ToLower(text)

	return &catalog.Enrichment{
		Title:           extractTitle(doc),
		Description:     extractDescription(doc),
		Curriculum:      extractCurriculum(doc, text),
		Subjects:        extractSubjects(lower, subjects),
		Duration:        firstMatch(lower, durationPatterns, 0),
		Eligibility:     firstMatch(text, eligibilityPatterns, 300),
		CareerProspects: allMatches(text, careerPatterns, 50, 200, maxCareers),
		Specializations: allMatches(lower, specializationPatterns, 20, 150, maxSpecializations),
		Highlights:      extractHighlights(doc),
		Fees:            firstMatchWithDigit(lower, feePatterns, 200),
		Admission:       firstMatch(text, admissionPatterns, 300),
	}
}

func extractTitle(doc *goquery.Document) string {
	for _, sel := range []string{"h1", ".course-title", ".page-title", "title"} {
		title := collapse(doc.Find(sel).First().Text())
		if title == "" {
			continue
		}
		return stripInstitution(title)
	}
	return ""
}

// stripInstitution removes "| Institution" and "- Institution" suffixes.
func stripInstitution(title string) string {
	if i := strings.Index(title, " | "); i > 0 {
		title = title[:i]
	}
	if i := strings.LastIndex(title, " - "); i > 0 && institutionWord.MatchString(title[i+3:]) {
		title = title[:i]
	}
	return strings.TrimSpace(title)
}

func extractDescription(doc *goquery.Document) string {
	var parts []string
	doc.Find(".course-description, .programme-description, .program-overview, .course-overview").Each(func(_ int, s *goquery.Selection) {
		if t := collapse(s.Text()); utf8.RuneCountInString(t) > 100 {
			parts = append(parts, t)
		}
	})
	doc.Find("p").Slice(0, min(10, doc.Find("p").Length())).Each(func(_ int, s *goquery.Selection) {
		t := collapse(s.Text())
		l := strings.ToLower(t)
		if utf8.RuneCountInString(t) > 80 && !strings.Contains(l, "cookie") &&
			!strings.Contains(l, "javascript") && !strings.Contains(l, "error") {
			parts = append(parts, t)
		}
	})

	seen := make(map[string]struct{}, len(parts))
	unique := make([]string, 0, maxDescriptionParts)
	for _, p := range parts {
		key := strings.ToLower(truncateRunes(p, 100))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, p)
		if len(unique) == maxDescriptionParts {
			break
		}
	}
	return strings.Join(unique, " ")
}

func extractCurriculum(doc *goquery.Document, text string) []string {
	var items []string
	add := func(s string) bool {
		items = append(items, truncateRunes(s, curriculumItemRunes))
		return len(items) >= maxCurriculum
	}

	for _, re := range semesterPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			content := strings.TrimSpace(m[2])
			if utf8.RuneCountInString(content) > 30 && add("Semester "+m[1]+": "+content) {
				return items
			}
		}
	}
	for _, re := range subjectListPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			content := strings.TrimSpace(m[1])
			if utf8.RuneCountInString(content) > 30 && add(content) {
				return items
			}
		}
	}

	done := false
	doc.Find("table").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := joinChildren(s.Find("td, th"), " | ")
		l := strings.ToLower(t)
		if len(t) > 50 && (strings.Contains(l, "semester") || strings.Contains(l, "course") || strings.Contains(l, "subject")) {
			done = add("Curriculum Table: " + truncateRunes(t, 500))
		}
		return !done
	})
	if done {
		return items
	}
	doc.Find("ul, ol").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := joinChildren(s.Find("li"), " • ")
		l := strings.ToLower(t)
		if len(t) > 100 && taxonomy.ContainsAny(l, []string{"design", "management", "research", "project"}) {
			done = add("Course Structure: " + truncateRunes(t, 400))
		}
		return !done
	})
	return items
}

func extractSubjects(lower string, subjects []taxonomy.PageSubject) []string {
	var out []string
	for _, s := range subjects {
		if taxonomy.ContainsAny(lower, s.Keywords) {
			out = append(out, s.Name)
		}
	}
	return out
}

func extractHighlights(doc *goquery.Document) []string {
	var out []string
	doc.Find("ul, ol").EachWithBreak(func(_ int, list *goquery.Selection) bool {
		list.Find("li").Slice(0, min(5, list.Find("li").Length())).Each(func(_ int, li *goquery.Selection) {
			t := collapse(li.Text())
			if n := utf8.RuneCountInString(t); n > 20 && n < 150 && len(out) < maxHighlights {
				out = append(out, t)
			}
		})
		return len(out) < maxHighlights
	})
	return out
}

func firstMatch(text string, patterns []*regexp.Regexp, limit int) string {
	for _, re := range patterns {
		if m := re.FindString(text); m != "" {
			return truncateRunes(strings.TrimSpace(m), limit)
		}
	}
	return ""
}

func firstMatchWithDigit(text string, patterns []*regexp.Regexp, limit int) string {
	for _, re := range patterns {
		if m := re.FindString(text); m != "" && strings.ContainsFunc(m, unicode.IsDigit) {
			return truncateRunes(strings.TrimSpace(m), limit)
		}
	}
	return ""
}

func allMatches(text string, patterns []*regexp.Regexp, minRunes, limit, maxItems int) []string {
	var out []string
	for _, re := range patterns {
		for _, m := range re.FindAllString(text, -1) {
			if utf8.RuneCountInString(m) <= minRunes {
				continue
			}
			out = append(out, truncateRunes(strings.TrimSpace(m), limit))
			if len(out) == maxItems {
				return out
			}
		}
	}
	return out
}

func joinChildren(s *goquery.Selection, sep string) string {
	parts := make([]string, 0, s.Length())
	s.Each(func(_ int, c *goquery.Selection) {
		if t := collapse(c.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, sep)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes cuts s to at most n runes. n <= 0 means no limit.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
