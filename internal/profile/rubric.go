package profile

import (
	"errors"
	"fmt"
)

// Dimension is one completeness rubric dimension. The numeric order is the
// fixed order used for scoring and for clarifying questions.
type Dimension int

// Rubric dimensions in fixed order.
const (
	DimMarks Dimension = iota
	DimInterests
	DimAspiration
	DimAcademicNarrative
	DimActivityNarrative
	dimCount
)

// Rubric thresholds for narrative dimensions, in words.
const (
	minMarkedSubjects       = 3
	minAspirationWords      = 8
	minAcademicNarrativeLen = 10
	minActivityNarrativeLen = 5
)

var dimensionNames = [dimCount]string{
	DimMarks:             "academic performance data",
	DimInterests:         "demonstrated interests",
	DimAspiration:        "detailed career aspiration",
	DimAcademicNarrative: "detailed subject preferences",
	DimActivityNarrative: "extracurricular activities",
}

var clarifyingQuestions = [dimCount]string{
	DimMarks:             "I'd like to understand your academic strengths better. Could you tell me which subjects you scored highest in and what grades you achieved?",
	DimInterests:         "What activities, hobbies, or skills have you pursued outside of regular academics? Any competitions, workshops, or certifications?",
	DimAspiration:        "Could you elaborate more on your career goals? What specific role do you see yourself in, and what impact do you want to make?",
	DimAcademicNarrative: "Tell me more about the subjects that excite you most. What specific topics within these subjects fascinate you, and how do you like to learn them?",
	DimActivityNarrative: "Have you been involved in any projects, clubs, volunteering, internships, or other activities? These help me understand your broader interests and skills.",
}

// String returns the dimension's human-readable name.
func (d Dimension) String() string {
	if d < 0 || d >= dimCount {
		return fmt.Sprintf("Dimension(%d)", int(d))
	}
	return dimensionNames[d]
}

// Question returns the clarifying question asked when d is unmet.
func (d Dimension) Question() string {
	if d < 0 || d >= dimCount {
		return ""
	}
	return clarifyingQuestions[d]
}

// Rubric scores profile completeness. Weights must total 100.
type Rubric struct {
	Weights   [dimCount]int
	Threshold int
}

// DefaultRubric returns weights 25/20/25/20/10 and threshold 70.
func DefaultRubric() Rubric {
	return Rubric{Weights: [dimCount]int{25, 20, 25, 20, 10}, Threshold: 70}
}

// NewRubric validates configured weights (in dimension order) and threshold.
func NewRubric(weights []int, threshold int) (Rubric, error) {
	var r Rubric
	if len(weights) != int(dimCount) {
		return r, fmt.Errorf("profile: rubric needs %d weights, got %d", dimCount, len(weights))
	}
	sum := 0
	for i, w := range weights {
		if w < 0 {
			return r, errors.New("profile: rubric weights cannot be negative")
		}
		r.Weights[i] = w
		sum += w
	}
	if sum != 100 {
		return r, fmt.Errorf("profile: rubric weights must total 100, got %d", sum)
	}
	if threshold < 0 || threshold > 100 {
		return r, fmt.Errorf("profile: threshold must be in [0,100], got %d", threshold)
	}
	r.Threshold = threshold
	return r, nil
}

// Score returns the completeness score and the unmet dimensions in order.
func (r Rubric) Score(met [dimCount]bool) (int, []Dimension) {
	score := 0
	var missing []Dimension
	for d := range dimCount {
		if met[d] {
			score += r.Weights[d]
		} else {
			missing = append(missing, d)
		}
	}
	return score, missing
}
