package debate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lorenzotomasdiez/committee/internal/domain"
	"github.com/lorenzotomasdiez/committee/internal/openrouter"
)

const (
	noProfile = "No profile information available."
	noSummary = "No structured summary available."
)

// Profile is one markdown file describing the person deciding.
type Profile struct {
	Name    string
	Content string
}

// ReadProfiles loads every *.md file in dir, sorted by name. A missing
// directory yields no profiles.
func ReadProfiles(dir string) ([]Profile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("debate: read profiles: %w", err)
	}
	var out []Profile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("debate: read profile %s: %w", e.Name(), err)
		}
		out = append(out, Profile{Name: e.Name(), Content: string(b)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Schedule returns the (round, exchange) slots of a run, moderator last.
func Schedule(quick bool) []Step {
	if quick {
		return []Step{{1, 1}, {domain.ModeratorRound, 1}}
	}
	return []Step{{1, 1}, {2, 1}, {2, 2}, {3, 1}, {domain.ModeratorRound, 1}}
}

// CompileBrief renders the decision brief every agent receives: who the
// person is, the decision, the conversation it came from and the
// structured summary so far.
func CompileBrief(dec *domain.Decision, messages []domain.Message, profiles []Profile) string {
	profileText := noProfile
	if len(profiles) > 0 {
		parts := make([]string, len(profiles))
		for i, p := range profiles {
			parts[i] = fmt.Sprintf("### %s\n%s", p.Name, p.Content)
		}
		profileText = strings.Join(parts, "\n\n")
	}

	convo := make([]string, len(messages))
	for i, m := range messages {
		who := "AI"
		if m.Role == "user" {
			who = "User"
		}
		convo[i] = who + ": " + m.Content
	}

	return fmt.Sprintf(`# Decision Brief

## About the Person
%s

## The Decision
**%s**

### Conversation Context
%s

%s`, profileText, dec.Title, strings.Join(convo, "\n\n"), summaryText(dec.SummaryJSON))
}

func summaryText(raw string) string {
	s, ok := domain.ParseSummary(raw)
	if !ok {
		return noSummary
	}
	var parts []string

	if len(s.Options) > 0 {
		opts := make([]string, len(s.Options))
		for i, o := range s.Options {
			if o.Description == "" {
				opts[i] = o.Label
			} else {
				opts[i] = fmt.Sprintf("- **%s**: %s", o.Label, o.Description)
			}
		}
		parts = append(parts, "## Options Under Consideration\n"+strings.Join(opts, "\n"))
	}

	if len(s.Variables) > 0 {
		vars := make([]string, len(s.Variables))
		for i, v := range s.Variables {
			impact := v.Impact
			if impact == "" {
				impact = "medium"
			}
			vars[i] = fmt.Sprintf("- **%s**: %s (impact: %s)", v.Label, v.Value, impact)
		}
		parts = append(parts, "## Key Variables & Constraints\n"+strings.Join(vars, "\n"))
	}

	if len(s.ProsCons) > 0 {
		analysis := make([]string, len(s.ProsCons))
		for i, pc := range s.ProsCons {
			score := ""
			if pc.AlignmentScore != nil {
				score = fmt.Sprintf(" (alignment: %d/10)", *pc.AlignmentScore)
			}
			analysis[i] = fmt.Sprintf("### %s%s\nPros:\n%s\nCons:\n%s",
				pc.Option, score, bullets(pc.Pros, "  + "), bullets(pc.Cons, "  - "))
		}
		parts = append(parts, "## Initial Analysis\n"+strings.Join(analysis, "\n\n"))
	}

	return strings.Join(parts, "\n\n")
}

func bullets(items []string, prefix string) string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = prefix + it
	}
	return strings.Join(out, "\n")
}

// FormatTranscript renders persisted turns under round headers for
// injection into the next prompt.
func FormatTranscript(turns []domain.DebateTurn, label func(string) string) string {
	var sections []string
	cur := domain.RoundKey{Round: -1, Exchange: -1}
	for _, t := range turns {
		if k := (domain.RoundKey{Round: t.Round, Exchange: t.Exchange}); k != cur {
			cur = k
			sections = append(sections, RoundHeader(t.Round, t.Exchange))
		}
		sections = append(sections, label(t.Agent)+": "+t.Content)
	}
	return strings.Join(sections, "\n\n")
}

// RoundHeader names a (round, exchange) slot for transcripts.
func RoundHeader(round, exchange int) string {
	switch round {
	case 1:
		return "Round 1 (opening)"
	case 2:
		return fmt.Sprintf("Round 2 (exchange %d)", exchange)
	case 3:
		return "Round 3 (final statements)"
	case domain.ModeratorRound:
		return "Moderator synthesis"
	}
	return fmt.Sprintf("Round %d", round)
}

// RoundPrompt is the user prompt for a debater speaking in step. transcript
// holds every turn finalized so far, including earlier speakers in step.
func RoundPrompt(step Step, brief, transcript string) string {
	switch {
	case step.Round == 1:
		opening := ""
		if transcript != "" {
			opening = `

Members who have already spoken:

` + transcript
		}
		return brief + opening + `

You are in Round 1 of a committee debate. State your opening position on this decision.

Cover, in spoken sentences:
- which option you lean toward, in one sentence
- the most important factor from your viewpoint, in two or three sentences
- your biggest worry, in a sentence or two

STRICT LIMIT: Under 150 words. Be punchy and direct. This is a debate, not a monologue.`
	case step.Round == 2 && step.Exchange == 1:
		return brief + `

Here is the committee debate so far:

` + transcript + `

You are in Round 2. This is the debate: engage directly with what others said.

Rules:
- Address at least one specific member by name
- Challenge the weakest argument you heard
- Reinforce or adjust your own position based on what you've heard

STRICT LIMIT: Under 150 words. Punchy and direct.`
	case step.Round == 2:
		return brief + `

` + transcript + `

Continue the debate. Respond to the latest exchange specifically.

- Has your position shifted? Say so directly
- Call out the strongest counter-argument and address it
- Note any emerging consensus or remaining disagreement

STRICT LIMIT: Under 120 words.`
	default:
		return brief + `

` + transcript + `

Final statement. Be brief and decisive.

- Your vote: the option you back and one sentence why
- Whether you shifted, and if so what convinced you
- The one thing this person must not forget

STRICT LIMIT: Under 80 words. No hedging.`
	}
}

// ModeratorPrompt asks for the fixed synthesis sections followed by a
// fenced JSON vote tally.
func ModeratorPrompt(brief, transcript string) string {
	return brief + `

Here is the full committee debate:

` + transcript + `

Synthesize this debate into a clear recommendation. Structure your response as:

## Where the Committee Agreed
[Key points of consensus]

## Key Disagreements
[Where members differed and who had the stronger argument]

## Biases & Blind Spots Identified
[Any cognitive biases surfaced during the debate]

## Recommendation
**Choice**: [Clear choice]
**Confidence**: [High/Medium/Low]
**Reasoning**: [Why this is the right call, weighing the debate]

## What You're Giving Up
[Explicit tradeoffs of the recommended choice]

## Action Plan
[Specific next steps with timeline]

## Vote Tally
End with a fenced JSON block recording where each member finally landed:
` + "```json\n" + `{"votes": [{"agent": "<member key>", "choice": "<option>", "reason": "<one sentence>"}]}` + "\n```"
}

func buildMessages(system, user string) []openrouter.Message {
	return []openrouter.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
