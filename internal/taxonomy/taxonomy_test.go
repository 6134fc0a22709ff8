package taxonomy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	v := Default()
	require.NotNil(t, v)

	assert.Equal(t, 1, v.Version)
	assert.Len(t, v.Interests, 10)
	assert.Len(t, v.Activities, 8)
	assert.Len(t, v.Domains, 5)
	assert.Len(t, v.WorkPreferences, 6)
	assert.Contains(t, v.DegreeLevels.Bachelor, "b.p.ed")
	assert.Contains(t, v.DegreeLevels.Master, "postgraduate")
	assert.Same(t, v, Default(), "Default must be memoized")
}

func TestMatchInterests(t *testing.T) {
	v := Default()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"none", "I enjoy long afternoons", nil},
		{"single", "I love Python programming", []string{"Technology"}},
		{"many in vocabulary order", "Robotics competitions and painting murals", []string{"Technology", "Design", "Sports"}},
		{"case insensitive", "PHYSICS and CHEMISTRY", []string{"Science"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.MatchInterests(tt.text))
		})
	}
}

func TestMatchActivities(t *testing.T) {
	v := Default()

	got := v.MatchActivities("I was captain of the football team and built a website")
	names := make([]string, len(got))
	for i, a := range got {
		names[i] = a.Name
	}
	assert.Equal(t, []string{"Leadership", "Technical Projects", "Sports & Athletics"}, names)

	tech, ok := v.Activity("technical projects")
	require.True(t, ok)
	assert.Equal(t, "Technology", tech.Interest)
	assert.Equal(t, []string{"Technical Skills", "Problem Solving", "Innovation"}, tech.Skills)

	lead, ok := v.Activity("Leadership")
	require.True(t, ok)
	assert.Empty(t, lead.Interest, "leadership implies no interest")
}

func TestMatchCertificate(t *testing.T) {
	v := Default()
	assert.Equal(t, []string{"Design", "Music"}, v.MatchCertificate("Certificate of merit: Painting and Singing"))
	assert.Empty(t, v.MatchCertificate("Certificate of attendance"))
}

func TestExpansionTerms(t *testing.T) {
	v := Default()
	terms := v.ExpansionTerms("b.sc computer science")
	assert.Contains(t, terms, "algorithms")
	assert.Contains(t, terms, "scientific method")
	assert.NotContains(t, terms, "teamwork")
}

func TestLoad(t *testing.T) {
	v, err := Load("")
	require.NoError(t, err)
	assert.Same(t, Default(), v)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "vocab.yaml")
	content := `version: 2
interests:
  - name: Robotics
    keywords: [Robot, Arduino]
activities:
  - name: Makers
    keywords: [maker]
    interest: Robotics
degree_levels:
  bachelor: [B.E.]
  master: [M.E.]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	v, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)
	assert.Equal(t, []string{"robot", "arduino"}, v.Interests[0].Keywords)
	assert.Equal(t, []string{"b.e."}, v.DegreeLevels.Bachelor)
	assert.Equal(t, 4, v.Intent.GreetingMaxWords)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "version: [1"},
		{"missing version", "interests: [{name: A, keywords: [a]}]\ndegree_levels: {bachelor: [b], master: [m]}"},
		{"unknown activity interest", "version: 1\ninterests: [{name: A, keywords: [a]}]\nactivities: [{name: X, keywords: [x], interest: B}]\ndegree_levels: {bachelor: [b], master: [m]}"},
		{"missing levels", "version: 1\ninterests: [{name: A, keywords: [a]}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
