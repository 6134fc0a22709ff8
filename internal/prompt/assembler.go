package prompt

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/dialogue"
	"github.com/garyellow/degree-advisor/internal/intent"
	"github.com/garyellow/degree-advisor/internal/profile"
	"github.com/garyellow/degree-advisor/internal/rag"
	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

// Defaults for Options.
const (
	DefaultPresentK      = 3
	DefaultAlternativesK = 5
	DefaultConfusionK    = 5
	DefaultReplayTurns   = 4
)

// Options tunes how much material each context carries.
type Options struct {
	// Institution is named in the advisor persona when set.
	Institution string
	// PresentK caps the courses offered in a recommendation.
	PresentK int
	// AlternativesK caps the courses offered as alternatives.
	AlternativesK int
	// ConfusionK caps the guiding options re-surfaced for an unsure student.
	ConfusionK int
	// ReplayTurns is how many prior turns are replayed to the generator.
	ReplayTurns int
}

// DefaultOptions returns the standard sizes.
func DefaultOptions() Options {
	return Options{
		PresentK:      DefaultPresentK,
		AlternativesK: DefaultAlternativesK,
		ConfusionK:    DefaultConfusionK,
		ReplayTurns:   DefaultReplayTurns,
	}
}

// Assembler builds GenerationContexts. It holds no per-session state.
type Assembler struct {
	vocab *taxonomy.Vocabulary
	opts  Options
}

// NewAssembler creates an Assembler. Zero option fields take defaults.
func NewAssembler(vocab *taxonomy.Vocabulary, opts Options) *Assembler {
	if vocab == nil {
		vocab = taxonomy.Default()
	}
	def := DefaultOptions()
	if opts.PresentK <= 0 {
		opts.PresentK = def.PresentK
	}
	if opts.AlternativesK <= 0 {
		opts.AlternativesK = def.AlternativesK
	}
	if opts.ConfusionK <= 0 {
		opts.ConfusionK = def.ConfusionK
	}
	if opts.ReplayTurns < 0 {
		opts.ReplayTurns = 0
	}
	return &Assembler{vocab: vocab, opts: opts}
}

// Assemble builds the context for the next assistant turn. history holds
// every turn so far, ending with the student message being answered; it is
// empty for the opening turn.
func (a *Assembler) Assemble(p profile.StudentProfile, set rag.CandidateSet, in intent.Intent, history dialogue.History) GenerationContext {
	question := strings.TrimSpace(history.LatestUserMessage())

	var g GenerationContext
	switch {
	case in.Kind == intent.KindSpecificCourse && len(history) > 0:
		switch {
		case in.Course == nil:
			g = a.specificMissing(in.Title)
		case !a.OfferedAt(*in.Course, p.DegreeLevel):
			g = a.levelMismatch(in.Course.Name, p.DegreeLevel)
		default:
			g = a.specific(p, *in.Course, question)
		}
	case set.Eligible == 0:
		g = a.noMatch(p.DegreeLevel)
	case len(history) == 0:
		if p.NeedsClarification && len(p.ClarifyingQuestions) > 0 {
			g = a.clarify(p)
		} else {
			g = a.recommend(p, set, "")
		}
	case in.Kind == intent.KindAlternatives:
		if set.IsEmpty() {
			g = a.noAlternatives(p.DegreeLevel, in.Domain)
		} else {
			g = a.alternatives(p, set, in, question)
		}
	case len(in.Suggested) == 0:
		// Nothing has been recommended yet, typically because the opening
		// turn asked a clarifying question.
		g = a.recommend(p, set, question)
	case in.Kind == intent.KindConfusion:
		g = a.confusion(p, set, in, question)
	case in.Kind == intent.KindGreeting:
		g = a.greeting(p, set, in, question)
	default:
		g = a.followUp(p, set, in, question)
	}

	g.Question = question
	if g.NeedsGeneration() {
		g.system = a.system()
		g.replay = replay(history, a.opts.ReplayTurns)
	}
	slog.Debug("Generation context assembled",
		"kind", g.Kind,
		"intent", in.Kind,
		"courses", len(g.Courses),
		"fixed", !g.NeedsGeneration())
	return g
}

// system returns the advisor persona and grounding rules shared by all turns.
func (a *Assembler) system() string {
	var b strings.Builder
	b.WriteString("You are an expert academic advisor")
	if a.opts.Institution != "" {
		fmt.Fprintf(&b, " at %s", a.opts.Institution)
	}
	b.WriteString(" helping a student choose the right university course.\n\n")
	b.WriteString(`Rules:
- Only mention courses, subjects and URLs that appear in the course facts you are given.
- If the student asks for a detail the facts do not contain, say that the information is not available. Never guess fees, durations, rankings or URLs.
- Never invent course names.
- Always address the student directly using "you" and "your".
- Keep heading text size normal and the tone friendly and supportive.`)
	return b.String()
}

// replay returns up to n turns preceding the latest student message,
// starting on a student turn.
func replay(history dialogue.History, n int) dialogue.History {
	if n <= 0 || len(history) < 2 {
		return nil
	}
	prior := history[:len(history)-1]
	if history[len(history)-1].Role != dialogue.RoleUser {
		prior = history
	}
	prior = prior.Last(n)
	for len(prior) > 0 && prior[0].Role != dialogue.RoleUser {
		prior = prior[1:]
	}
	if len(prior) == 0 {
		return nil
	}
	return prior.Append()
}

// build renders the full and short forms of a context with the same writer.
func build(kind Kind, courses []catalog.CourseRecord, write func(b *strings.Builder, reduced bool)) GenerationContext {
	var full, short strings.Builder
	write(&full, false)
	write(&short, true)
	return GenerationContext{
		Kind:    kind,
		Courses: courses,
		full:    strings.TrimSpace(full.String()),
		short:   strings.TrimSpace(short.String()),
	}
}

func writeQuestion(b *strings.Builder, question string) {
	if question != "" {
		fmt.Fprintf(b, "\nStudent's current question: %s\n", question)
	}
}

func (a *Assembler) clarify(p profile.StudentProfile) GenerationContext {
	// The questions are ordered by rubric weight; only the first is asked.
	question := p.ClarifyingQuestions[0]
	return build(KindClarify, nil, func(b *strings.Builder, reduced bool) {
		writeProfile(b, p, reduced)
		fmt.Fprintf(b, "\nThe student's profile is only %d%% complete. Before giving course recommendations, you need to gather more information.\n\n", p.CompletenessScore)
		b.WriteString("Your task:\n")
		b.WriteString("1. Acknowledge what you already know about the student.\n")
		b.WriteString("2. Explain that you would like to understand them better to give more personal recommendations.\n")
		fmt.Fprintf(b, "3. Ask this one clarifying question, in your own words: %s\n", question)
		b.WriteString("4. Be encouraging and explain that this will help you suggest the best-fit courses.\n\n")
		b.WriteString("Do not recommend or name any course yet.")
	})
}

func (a *Assembler) recommend(p profile.StudentProfile, set rag.CandidateSet, question string) GenerationContext {
	courses := presentable(set.Records(), a.vocab.Intent.MinTitleWords)
	courses = courses[:min(a.opts.PresentK, len(courses))]
	level := p.DegreeLevel.Label()
	return build(KindRecommend, courses, func(b *strings.Builder, reduced bool) {
		writeProfile(b, p, reduced)
		fmt.Fprintf(b, "\nThe most relevant %s courses for this student, best match first:\n", level)
		writeCourseList(b, courses, reduced)
		writeQuestion(b, question)
		b.WriteString("\nYour task:\n")
		fmt.Fprintf(b, "- Recommend the courses listed above (no more than %d) and no others.\n", len(courses))
		b.WriteString("- For each course, explain WHY it fits using specific details from the profile: strengths, interests, activities and career goals.\n")
		if !reduced {
			b.WriteString("- Give activities and the skills derived from them the same weight as academic interests.\n")
			b.WriteString("- Leadership suggests management potential, technical projects suggest engineering, creative work suggests design, sports suggest physical education.\n")
		}
		b.WriteString("- Write each course name in **bold** exactly as listed and include its URL.\n")
		fmt.Fprintf(b, "\nEnd by asking: %q", closingQuestion)
	})
}

func (a *Assembler) specific(p profile.StudentProfile, course catalog.CourseRecord, question string) GenerationContext {
	return build(KindSpecific, []catalog.CourseRecord{course}, func(b *strings.Builder, reduced bool) {
		writeProfile(b, p, true)
		fmt.Fprintf(b, "\nThe student is asking about **%s** specifically. Everything known about it:\n", course.Name)
		writeCourseDetail(b, course, reduced)
		writeQuestion(b, question)
		b.WriteString("\nInstructions:\n")
		fmt.Fprintf(b, "- Answer ONLY about %s. Do not mention or suggest other courses.\n", course.Name)
		b.WriteString("- Relate job opportunities, subjects and career questions to this course and to the student's profile.\n")
		fmt.Fprintf(b, "- Any field marked %q above is unknown: say it is not available and point the student to the course URL.\n", unavailable)
	})
}

func (a *Assembler) alternatives(p profile.StudentProfile, set rag.CandidateSet, in intent.Intent, question string) GenerationContext {
	courses := presentable(set.Records(), a.vocab.Intent.MinTitleWords)
	courses = courses[:min(a.opts.AlternativesK, len(courses))]
	level := p.DegreeLevel.Label()
	return build(KindAlternatives, courses, func(b *strings.Builder, reduced bool) {
		writeProfile(b, p, reduced)
		b.WriteString("\nThe student wants different course options from the ones already suggested.\n")
		if in.Domain != "" {
			fmt.Fprintf(b, "They are interested in the %s area.\n", in.Domain)
		}
		if !reduced && len(in.Suggested) > 0 {
			fmt.Fprintf(b, "Already suggested (do not repeat): %s\n", strings.Join(in.Suggested, "; "))
		}
		fmt.Fprintf(b, "\nAlternative %s courses:\n", level)
		writeCourseList(b, courses, reduced)
		writeQuestion(b, question)
		b.WriteString("\nInstructions:\n")
		b.WriteString("- Suggest new courses only from the alternative list above.\n")
		b.WriteString("- Explain briefly how each one fits the student and include its URL.\n")
		b.WriteString("- Write each course name in **bold** exactly as listed.")
	})
}

// suggestedRecords maps previously suggested titles onto the records in the
// set. Titles without a record come back in missing.
func (a *Assembler) suggestedRecords(set rag.CandidateSet, titles []string) (found []catalog.CourseRecord, missing []string) {
	suffixes := a.vocab.Intent.TitleSuffixes
	records := set.Records()
	used := make([]bool, len(records))
	for _, title := range titles {
		want := catalog.NormalizeTitle(title, suffixes)
		hit := -1
		for i, r := range records {
			if used[i] {
				continue
			}
			have := catalog.NormalizeTitle(r.Name, suffixes)
			if have == want || strings.Contains(have, want) || strings.Contains(want, have) {
				hit = i
				break
			}
		}
		if hit < 0 {
			missing = append(missing, title)
			continue
		}
		used[hit] = true
		found = append(found, records[hit])
	}
	return found, missing
}

// writeSuggested lists the suggested courses that have records. Titles
// without one are never named, so the generator cannot describe them.
func writeSuggested(b *strings.Builder, found []catalog.CourseRecord, missing []string, reduced bool) {
	writeCourseList(b, found, reduced)
	if len(missing) > 0 {
		b.WriteString("(Some earlier suggestions are not in the course database. Do not name or describe them; offer the courses above instead.)\n")
	}
}

func (a *Assembler) followUp(p profile.StudentProfile, set rag.CandidateSet, in intent.Intent, question string) GenerationContext {
	found, missing := a.suggestedRecords(set, in.Suggested)
	var focus string
	if set.ContextCourse != nil {
		for _, r := range found {
			if r.ID == set.ContextCourse.ID {
				focus = r.Name
			}
		}
	}
	return build(KindFollowUp, found, func(b *strings.Builder, reduced bool) {
		writeProfile(b, p, reduced)
		b.WriteString("\nYou have already suggested these courses to the student:\n")
		writeSuggested(b, found, missing, reduced)
		if focus != "" && !reduced {
			fmt.Fprintf(b, "\nThe recent conversation is mostly about **%s**.\n", focus)
		}
		writeQuestion(b, question)
		b.WriteString("\nInstructions:\n")
		b.WriteString("- Answer in the context of the courses you already suggested. Do NOT suggest new courses.\n")
		b.WriteString("- Relate career, job or curriculum questions to those courses.\n")
		b.WriteString("- If the student wants different options, invite them to ask for alternatives.")
	})
}

func (a *Assembler) confusion(p profile.StudentProfile, set rag.CandidateSet, in intent.Intent, question string) GenerationContext {
	found, missing := a.suggestedRecords(set, in.Suggested)
	guiding := found
	seen := make(map[string]bool, len(found))
	for _, r := range found {
		seen[r.ID] = true
	}
	for _, r := range presentable(set.Records(), a.vocab.Intent.MinTitleWords) {
		if len(guiding)+len(missing) >= a.opts.ConfusionK {
			break
		}
		if !seen[r.ID] {
			seen[r.ID] = true
			guiding = append(guiding, r)
		}
	}
	return build(KindConfusion, guiding, func(b *strings.Builder, reduced bool) {
		writeProfile(b, p, reduced)
		b.WriteString("\nThe student feels unsure about which course to choose.\n")
		b.WriteString("Options you can use to guide them:\n")
		writeSuggested(b, guiding, missing, reduced)
		writeQuestion(b, question)
		b.WriteString("\nInstructions:\n")
		b.WriteString("- Reassure the student that feeling unsure is normal.\n")
		b.WriteString("- Compare the options above in simple terms, tied to their strengths and interests.\n")
		b.WriteString("- Ask one short question that would help them decide.")
	})
}

func (a *Assembler) greeting(p profile.StudentProfile, set rag.CandidateSet, in intent.Intent, question string) GenerationContext {
	found, missing := a.suggestedRecords(set, in.Suggested)
	return build(KindGreeting, found, func(b *strings.Builder, reduced bool) {
		writeProfile(b, p, true)
		b.WriteString("\nThe student greeted you. Courses you have suggested so far:\n")
		writeSuggested(b, found, missing, true)
		writeQuestion(b, question)
		b.WriteString("\nInstructions:\n")
		b.WriteString("- Greet the student warmly in one or two sentences.\n")
		b.WriteString("- Offer to explain any of the courses above in more detail. Do not introduce new courses.")
	})
}

func (a *Assembler) specificMissing(title string) GenerationContext {
	name := "that course"
	if title = strings.TrimSpace(title); title != "" {
		name = "**" + title + "**"
	}
	return GenerationContext{
		Kind: KindSpecificMissing,
		Fixed: fmt.Sprintf("I'm sorry, but I don't have %s in our course database, so I can't share reliable details about it. "+
			"Would you like to hear more about one of the courses I suggested, or explore other options?", name),
	}
}

// OfferedAt reports whether course belongs to the student's degree level.
// Only such courses are ever described in detail.
func (a *Assembler) OfferedAt(course catalog.CourseRecord, level catalog.DegreeLevel) bool {
	return level != catalog.LevelUnknown && catalog.LevelOf(course, a.vocab) == level
}

func (a *Assembler) levelMismatch(title string, level catalog.DegreeLevel) GenerationContext {
	if level == catalog.LevelUnknown {
		return a.noMatch(level)
	}
	return GenerationContext{
		Kind: KindLevelMismatch,
		Fixed: fmt.Sprintf("**%s** is not offered at the %s level you are looking for, so I can't recommend it or go into its details. "+
			"Would you like to hear more about one of the %s courses I suggested, or explore other options?", title, level.Label(), level.Label()),
	}
}

func (a *Assembler) noAlternatives(level catalog.DegreeLevel, domain string) GenerationContext {
	area := ""
	if domain != "" {
		area = " in " + domain
	}
	return GenerationContext{
		Kind: KindNoAlternatives,
		Fixed: fmt.Sprintf("I've already shown you every %s course%s that fits your profile, so there are no further alternatives to suggest right now. "+
			"Would you like to go back over any of the courses we discussed?", level.Label(), area),
	}
}

func (a *Assembler) noMatch(level catalog.DegreeLevel) GenerationContext {
	return GenerationContext{
		Kind: KindNoMatch,
		Fixed: fmt.Sprintf("I'm sorry, but there are no matching %s courses available in our catalog right now. "+
			"You could try a different degree level, or tell me more about your interests.", level.Label()),
	}
}
