package profile

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Mark is one subject score. Order in a mark table is significant: it
// breaks ties when ranking strengths.
type Mark struct {
	Subject string `json:"subject"`
	Score   int    `json:"score"`
}

var (
	markPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\w+(?:\s+\w+)*)\s*[:\-]\s*(\d+)%`),
		regexp.MustCompile(`(\w+(?:\s+\w+)*)\s*[:\-]\s*(\d+)`),
		regexp.MustCompile(`(\w+(?:\s+\w+)*)\s+(\d+)%`),
		regexp.MustCompile(`(\w+(?:\s+\w+)*)\s+(\d+)\s*$`),
	}
	lenientMarkPattern = regexp.MustCompile(`([A-Za-z]+(?:\s+[A-Za-z]+)*)\s*[:\-]?\s*(\d{1,3})`)
)

// ParseMarks extracts a mark table from text already pulled out of a
// transcript. Lines like "Mathematics: 85%", "Physics - 78",
// "Chemistry 82%" and "English 88" are recognized. When nothing matches, a
// lenient pass accepts any "<words> <30..100>" pair. Unparseable input
// yields an empty table.
func ParseMarks(text string) []Mark {
	t := newMarkTable()
	for line := range strings.SplitSeq(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, re := range markPatterns {
			for _, m := range re.FindAllStringSubmatch(line, -1) {
				subject := strings.TrimSpace(m[1])
				if len(subject) < 3 || strings.IndexFunc(subject, unicode.IsDigit) >= 0 {
					continue
				}
				score, err := strconv.Atoi(m[2])
				if err != nil || score < 0 || score > 100 {
					continue
				}
				t.set(subject, score)
			}
		}
	}
	if len(t.marks) > 0 {
		return t.marks
	}

	for _, m := range lenientMarkPattern.FindAllStringSubmatch(text, -1) {
		subject := strings.Join(strings.Fields(m[1]), " ")
		score, err := strconv.Atoi(m[2])
		if err != nil || score < 30 || score > 100 || len(subject) < 3 {
			continue
		}
		t.set(subject, score)
	}
	return t.marks
}

// markTable keeps first-seen subject order while letting later matches
// overwrite the score.
type markTable struct {
	marks []Mark
	pos   map[string]int
}

func newMarkTable() *markTable {
	return &markTable{pos: make(map[string]int)}
}

func (t *markTable) set(subject string, score int) {
	if i, ok := t.pos[subject]; ok {
		t.marks[i].Score = score
		return
	}
	t.pos[subject] = len(t.marks)
	t.marks = append(t.marks, Mark{Subject: subject, Score: score})
}

// sanitizeMarks drops blank subjects and out-of-range scores and merges
// duplicate subjects, keeping first position and last score.
func sanitizeMarks(in []Mark) []Mark {
	t := newMarkTable()
	for _, m := range in {
		subject := strings.TrimSpace(m.Subject)
		if subject == "" || m.Score < 0 || m.Score > 100 {
			continue
		}
		t.set(subject, m.Score)
	}
	return t.marks
}
