// Package consensus turns the moderator's synthesis into the structured
// debate summary and recommendation shown next to a decision.
package consensus

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/lorenzotomasdiez/committee/internal/agents"
	"github.com/lorenzotomasdiez/committee/internal/domain"
)

// Section headings the moderator is asked to produce.
const (
	SectionAgreed         = "Where the Committee Agreed"
	SectionDisagreements  = "Key Disagreements"
	SectionBiases         = "Biases & Blind Spots Identified"
	SectionRecommendation = "Recommendation"
	SectionGivingUp       = "What You're Giving Up"
	SectionActionPlan     = "Action Plan"
)

// DefaultChoice stands in when the moderator gives no explicit choice.
const DefaultChoice = "See moderator's synthesis"

// voteExcerpt bounds the fallback vote taken from a member's last turn.
const voteExcerpt = 200

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// Vote is one member's final leaning.
type Vote struct {
	Agent  string `json:"agent"`
	Choice string `json:"choice"`
	Reason string `json:"reason,omitempty"`
}

// Tally is the JSON block the moderator appends to its synthesis.
type Tally struct {
	Votes []Vote `json:"votes"`
}

// Synthesis is the parsed moderator output.
type Synthesis struct {
	// Text is the synthesis with the vote tally removed.
	Text           string
	Debate         *domain.DebateSummary
	Recommendation *domain.Recommendation
	Votes          []Vote
}

// Parse reads the moderator's synthesis. Votes come from the fenced tally
// when present; members missing from it fall back to an excerpt of their
// last turn.
func Parse(moderator string, turns []domain.DebateTurn, debaters []agents.Agent) *Synthesis {
	votes, _ := ParseTally(moderator)
	text := StripTally(moderator)

	s := &Synthesis{
		Text: text,
		Debate: &domain.DebateSummary{
			ConsensusPoints:  SplitPoints(ExtractSection(text, SectionAgreed)),
			KeyDisagreements: SplitPoints(ExtractSection(text, SectionDisagreements)),
			BiasesIdentified: SplitPoints(ExtractSection(text, SectionBiases)),
			FinalVotes:       FinalVotes(votes, turns, debaters),
		},
		Recommendation: ParseRecommendation(ExtractSection(text, SectionRecommendation), text),
		Votes:          votes,
	}
	return s
}

// FinalVotes maps each debater to their final leaning.
func FinalVotes(votes []Vote, turns []domain.DebateTurn, debaters []agents.Agent) map[string]string {
	out := make(map[string]string, len(debaters))
	for _, a := range debaters {
		if v, ok := findVote(votes, a); ok {
			out[a.Key] = v
			continue
		}
		for i := len(turns) - 1; i >= 0; i-- {
			if turns[i].Agent == a.Key {
				out[a.Key] = excerpt(turns[i].Content, voteExcerpt)
				break
			}
		}
	}
	return out
}

func findVote(votes []Vote, a agents.Agent) (string, bool) {
	for _, v := range votes {
		name := strings.ToLower(strings.TrimSpace(v.Agent))
		name = strings.TrimPrefix(name, "the ")
		if name != a.Key && name != strings.ToLower(a.Label) {
			continue
		}
		if strings.TrimSpace(v.Choice) == "" {
			return "", false
		}
		if v.Reason == "" {
			return v.Choice, true
		}
		return v.Choice + ": " + v.Reason, true
	}
	return "", false
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ExtractSection returns the body under "## heading" up to the next level-2
// heading, trimmed, or "" when the heading is absent.
func ExtractSection(text, heading string) string {
	marker := "## " + heading
	start := strings.Index(text, marker)
	if start < 0 {
		return ""
	}
	after := text[start+len(marker):]
	if end := strings.Index(after, "\n## "); end >= 0 {
		after = after[:end]
	}
	return strings.TrimSpace(after)
}

// SplitPoints splits a section into bullet points, dropping list markers and
// blank lines.
func SplitPoints(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-")
		line = strings.TrimLeft(line, "*")
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// ParseRecommendation builds the recommendation from the Recommendation
// section, reading tradeoffs and next steps from the full text. It returns
// nil when neither the section nor a **Choice** label exists.
func ParseRecommendation(section, full string) *domain.Recommendation {
	if section == "" && !strings.Contains(full, "**Choice**") {
		return nil
	}
	text := section
	if text == "" {
		text = full
	}

	choice, ok := BoldValue(text, "Choice")
	if !ok {
		choice = DefaultChoice
	}
	confidence, _ := BoldValue(text, "Confidence")
	reasoning, ok := BoldValue(text, "Reasoning")
	if !ok {
		var lines []string
		for _, l := range strings.Split(section, "\n") {
			if strings.HasPrefix(l, "**") {
				continue
			}
			if l = strings.TrimSpace(l); l != "" {
				lines = append(lines, l)
			}
		}
		reasoning = strings.Join(lines, " ")
	}

	return &domain.Recommendation{
		Choice:     choice,
		Confidence: normalizeConfidence(confidence),
		Reasoning:  reasoning,
		Tradeoffs:  ExtractSection(full, SectionGivingUp),
		NextSteps:  SplitPoints(ExtractSection(full, SectionActionPlan)),
	}
}

func normalizeConfidence(s string) string {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "high"):
		return "high"
	case strings.Contains(s, "low"):
		return "low"
	default:
		return "medium"
	}
}

// BoldValue returns the rest of the line after "**label**:".
func BoldValue(text, label string) (string, bool) {
	pattern := "**" + label + "**:"
	pos := strings.Index(text, pattern)
	if pos < 0 {
		return "", false
	}
	after := text[pos+len(pattern):]
	if end := strings.IndexByte(after, '\n'); end >= 0 {
		after = after[:end]
	}
	v := strings.TrimSpace(after)
	return v, v != ""
}

// ParseTally extracts the vote tally from moderator output.
func ParseTally(raw string) ([]Vote, bool) {
	var t Tally
	try := func(s string) bool {
		t = Tally{}
		return json.Unmarshal([]byte(strings.TrimSpace(s)), &t) == nil && len(t.Votes) > 0
	}

	if try(raw) {
		return t.Votes, true
	}
	for _, m := range codeBlockRe.FindAllStringSubmatch(raw, -1) {
		if len(m) > 1 && try(m[1]) {
			return t.Votes, true
		}
	}
	start := strings.Index(raw, `{"votes"`)
	if start < 0 {
		start = strings.Index(raw, "{")
	}
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start && try(raw[start:end+1]) {
		return t.Votes, true
	}
	return nil, false
}

// StripTally removes fenced vote-tally blocks and a trailing "Vote Tally"
// heading so the synthesis reads cleanly.
func StripTally(text string) string {
	out := codeBlockRe.ReplaceAllStringFunc(text, func(block string) string {
		m := codeBlockRe.FindStringSubmatch(block)
		var t Tally
		if len(m) > 1 && json.Unmarshal([]byte(strings.TrimSpace(m[1])), &t) == nil && len(t.Votes) > 0 {
			return ""
		}
		return block
	})
	out = strings.TrimSpace(out)
	if idx := strings.LastIndex(out, "## Vote Tally"); idx >= 0 && strings.TrimSpace(out[idx+len("## Vote Tally"):]) == "" {
		out = strings.TrimSpace(out[:idx])
	}
	return out
}
