package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMarks(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Mark
	}{
		{
			name: "standard patterns",
			text: "Mathematics: 85%\nPhysics - 78\nChemistry 82%\nEnglish 88\n",
			want: []Mark{{"Mathematics", 85}, {"Physics", 78}, {"Chemistry", 82}, {"English", 88}},
		},
		{
			name: "multi-word subject",
			text: "Computer Science: 92%",
			want: []Mark{{"Computer Science", 92}},
		},
		{
			name: "out of range ignored",
			text: "Physics: 180\nBiology: 67",
			want: []Mark{{"Biology", 67}},
		},
		{
			name: "short or numeric subjects skipped",
			text: "PE: 90\nPaper 2: 75\nHistory: 71",
			want: []Mark{{"History", 71}},
		},
		{
			name: "later line overwrites score in place",
			text: "Mathematics: 70\nPhysics: 60\nMathematics: 95",
			want: []Mark{{"Mathematics", 95}, {"Physics", 60}},
		},
		{
			name: "empty",
			text: "",
			want: nil,
		},
		{
			name: "no marks at all",
			text: "Statement of Marks\nBoard of Secondary Education",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMarks(tt.text))
		})
	}
}

func TestParseMarks_Lenient(t *testing.T) {
	// A line ending in punctuation defeats the strict patterns; the lenient
	// pass still pairs words with a following score between 30 and 100.
	got := ParseMarks("Geography 64. Economics 12.")
	assert.Equal(t, []Mark{{"Geography", 64}}, got)
}
