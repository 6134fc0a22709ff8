package rag

import (
	"github.com/garyellow/degree-advisor/internal/catalog"
)

// Retrieval paths reported on a CandidateSet.
const (
	PathHybrid  = "hybrid"
	PathKeyword = "keyword"
	PathNone    = "none"
)

// Candidate is a course proposed for a profile.
type Candidate struct {
	Record     catalog.CourseRecord `json:"record"`
	Score      float64              `json:"score"`
	Similarity float64              `json:"similarity,omitempty"`
}

// CandidateSet is the ranked result of one matcher call. It is never
// persisted. An empty Candidates slice is a valid answer. Eligible counts
// the catalog courses at Level before any domain filter or exclusion, so
// zero means the level itself has nothing to offer.
type CandidateSet struct {
	Level         catalog.DegreeLevel   `json:"level"`
	Candidates    []Candidate           `json:"candidates"`
	ContextCourse *catalog.CourseRecord `json:"context_course,omitempty"`
	Path          string                `json:"path"`
	Eligible      int                   `json:"eligible"`
}

// IsEmpty reports whether no candidate was found.
func (s CandidateSet) IsEmpty() bool { return len(s.Candidates) == 0 }

// Records returns the candidate records in rank order.
func (s CandidateSet) Records() []catalog.CourseRecord {
	out := make([]catalog.CourseRecord, len(s.Candidates))
	for i, c := range s.Candidates {
		out[i] = c.Record
	}
	return out
}
