// Package taxonomy holds the keyword vocabularies used to classify student
// narratives, expand course text, and recognize dialogue intents.
//
// Vocabularies are data, not code: a default set is embedded from
// vocabulary.yaml and an operator may point the service at a replacement
// file. Every lookup is case-insensitive substring containment over
// lowercased text.
package taxonomy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// Interest is one interest category and the keywords that signal it.
type Interest struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Activity is one activity category. A match contributes its skills and,
// when Interest is set, that interest category.
type Activity struct {
	Name           string   `yaml:"name"`
	Keywords       []string `yaml:"keywords"`
	Skills         []string `yaml:"skills"`
	Interest       string   `yaml:"interest"`
	CourseKeywords []string `yaml:"course_keywords"`
}

// Certificate maps certificate text keywords to an interest category.
type Certificate struct {
	Interest string   `yaml:"interest"`
	Keywords []string `yaml:"keywords"`
}

// Domain is a keyword family used for course text expansion and for
// domain-filtered alternatives.
type Domain struct {
	Name     string   `yaml:"name"`
	Triggers []string `yaml:"triggers"`
	Terms    []string `yaml:"terms"`
}

// DegreeLevels lists the tokens that identify each degree level.
type DegreeLevels struct {
	Bachelor []string `yaml:"bachelor"`
	Master   []string `yaml:"master"`
}

// IntentLexicon holds the phrase lists for dialogue intent detection.
type IntentLexicon struct {
	Greetings        []string `yaml:"greetings"`
	GreetingMaxWords int      `yaml:"greeting_max_words"`
	Confusion        []string `yaml:"confusion"`
	Alternatives     []string `yaml:"alternatives"`
	FollowUp         []string `yaml:"followup"`
	SuggestVerbs     []string `yaml:"suggest_verbs"`
	TitleSuffixes    []string `yaml:"title_suffixes"`
	MinTitleWords    int      `yaml:"min_title_words"`
}

// PageSubject is a subject name recognized on course detail pages.
type PageSubject struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Vocabulary is the full, versioned keyword configuration.
type Vocabulary struct {
	Version         int           `yaml:"version"`
	Interests       []Interest    `yaml:"interests"`
	Activities      []Activity    `yaml:"activities"`
	Certificates    []Certificate `yaml:"certificates"`
	DegreeLevels    DegreeLevels  `yaml:"degree_levels"`
	Domains         []Domain      `yaml:"domains"`
	WorkPreferences []string      `yaml:"work_preferences"`
	Intent          IntentLexicon `yaml:"intent"`
	PageSubjects    []PageSubject `yaml:"page_subjects"`
}

var (
	defaultOnce  sync.Once
	defaultVocab *Vocabulary
)

// Default returns the embedded vocabulary. It panics if the embedded file is
// invalid, which can only happen through a broken build.
func Default() *Vocabulary {
	defaultOnce.Do(func() {
		v, err := Parse(defaultVocabulary)
		if err != nil {
			panic(fmt.Sprintf("taxonomy: embedded vocabulary: %v", err))
		}
		defaultVocab = v
	})
	return defaultVocab
}

// Load reads a vocabulary file. An empty path returns Default().
func Load(path string) (*Vocabulary, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML vocabulary. Keywords are lowercased.
func Parse(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("taxonomy: decode: %w", err)
	}
	v.normalize()
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return &v, nil
}

// Validate checks structural requirements.
func (v *Vocabulary) Validate() error {
	var errs []error
	if v.Version <= 0 {
		errs = append(errs, errors.New("version must be positive"))
	}
	if len(v.Interests) == 0 {
		errs = append(errs, errors.New("at least one interest category is required"))
	}
	if len(v.DegreeLevels.Bachelor) == 0 || len(v.DegreeLevels.Master) == 0 {
		errs = append(errs, errors.New("both degree levels need tokens"))
	}
	known := make(map[string]bool, len(v.Interests))
	for _, in := range v.Interests {
		if in.Name == "" || len(in.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("interest %q needs a name and keywords", in.Name))
		}
		known[in.Name] = true
	}
	for _, a := range v.Activities {
		if a.Interest != "" && !known[a.Interest] {
			errs = append(errs, fmt.Errorf("activity %q maps to unknown interest %q", a.Name, a.Interest))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("taxonomy: %w", errors.Join(errs...))
	}
	return nil
}

func (v *Vocabulary) normalize() {
	for i := range v.Interests {
		v.Interests[i].Keywords = lowerAll(v.Interests[i].Keywords)
	}
	for i := range v.Activities {
		v.Activities[i].Keywords = lowerAll(v.Activities[i].Keywords)
		v.Activities[i].CourseKeywords = lowerAll(v.Activities[i].CourseKeywords)
	}
	for i := range v.Certificates {
		v.Certificates[i].Keywords = lowerAll(v.Certificates[i].Keywords)
	}
	for i := range v.Domains {
		v.Domains[i].Triggers = lowerAll(v.Domains[i].Triggers)
	}
	for i := range v.PageSubjects {
		v.PageSubjects[i].Keywords = lowerAll(v.PageSubjects[i].Keywords)
	}
	v.DegreeLevels.Bachelor = lowerAll(v.DegreeLevels.Bachelor)
	v.DegreeLevels.Master = lowerAll(v.DegreeLevels.Master)
	lex := &v.Intent
	lex.Greetings = lowerAll(lex.Greetings)
	lex.Confusion = lowerAll(lex.Confusion)
	lex.Alternatives = lowerAll(lex.Alternatives)
	lex.FollowUp = lowerAll(lex.FollowUp)
	lex.SuggestVerbs = lowerAll(lex.SuggestVerbs)
	lex.TitleSuffixes = lowerAll(lex.TitleSuffixes)
	if lex.GreetingMaxWords <= 0 {
		lex.GreetingMaxWords = 4
	}
	if lex.MinTitleWords <= 0 {
		lex.MinTitleWords = 3
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ContainsAny reports whether lowered text contains any keyword.
func ContainsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// MatchInterests returns interest categories whose keywords occur in text,
// in vocabulary order.
func (v *Vocabulary) MatchInterests(text string) []string {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return nil
	}
	var out []string
	for _, in := range v.Interests {
		if ContainsAny(lower, in.Keywords) {
			out = append(out, in.Name)
		}
	}
	return out
}

// MatchActivities returns the activity categories found in text, in vocabulary order.
func (v *Vocabulary) MatchActivities(text string) []Activity {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return nil
	}
	var out []Activity
	for _, a := range v.Activities {
		if ContainsAny(lower, a.Keywords) {
			out = append(out, a)
		}
	}
	return out
}

// Activity returns the activity category by name.
func (v *Vocabulary) Activity(name string) (Activity, bool) {
	for _, a := range v.Activities {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return Activity{}, false
}

// MatchCertificate returns interest labels for one certificate text, in vocabulary order.
func (v *Vocabulary) MatchCertificate(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, c := range v.Certificates {
		if ContainsAny(lower, c.Keywords) {
			out = append(out, c.Interest)
		}
	}
	return out
}

// Domain returns the domain family by case-insensitive name.
func (v *Vocabulary) Domain(name string) (Domain, bool) {
	for _, d := range v.Domains {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return Domain{}, false
}

// ExpansionTerms returns the expansion terms of every domain triggered by text.
func (v *Vocabulary) ExpansionTerms(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, d := range v.Domains {
		if ContainsAny(lower, d.Triggers) {
			out = append(out, d.Terms...)
		}
	}
	return out
}

