package domain

import (
	"encoding/json"
	"strings"
)

// Option is one choice under consideration.
type Option struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Variable is a factor or constraint that bears on the decision.
type Variable struct {
	Label  string `json:"label"`
	Value  string `json:"value"`
	Impact string `json:"impact,omitempty"`
}

// ProsCons is the analysis of a single option.
type ProsCons struct {
	Option             string   `json:"option"`
	Pros               []string `json:"pros,omitempty"`
	Cons               []string `json:"cons,omitempty"`
	AlignmentScore     *int     `json:"alignment_score,omitempty"`
	AlignmentReasoning string   `json:"alignment_reasoning,omitempty"`
}

// Recommendation is the committee's committed call.
type Recommendation struct {
	Choice     string   `json:"choice"`
	Confidence string   `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Tradeoffs  string   `json:"tradeoffs,omitempty"`
	NextSteps  []string `json:"next_steps,omitempty"`
}

// DebateSummary condenses the moderator's synthesis.
type DebateSummary struct {
	ConsensusPoints  []string          `json:"consensus_points"`
	KeyDisagreements []string          `json:"key_disagreements"`
	BiasesIdentified []string          `json:"biases_identified"`
	FinalVotes       map[string]string `json:"final_votes"`
}

// Summary is the structured panel kept alongside a decision.
type Summary struct {
	Options        []Option        `json:"options,omitempty"`
	Variables      []Variable      `json:"variables,omitempty"`
	ProsCons       []ProsCons      `json:"pros_cons,omitempty"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	DebateSummary  *DebateSummary  `json:"debate_summary,omitempty"`
}

// ParseSummary decodes raw summary JSON. Empty or malformed input is treated
// as "no summary yet": an empty Summary and false are returned.
func ParseSummary(raw string) (*Summary, bool) {
	var s Summary
	if strings.TrimSpace(raw) == "" {
		return &s, false
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return &Summary{}, false
	}
	return &s, true
}

// ReadyForDebate reports whether the summary carries enough structure for the
// decision to enter the debating status automatically.
func ReadyForDebate(s *Summary) bool {
	return s != nil && len(s.Options) > 0 && len(s.Variables) > 0
}

// Merge folds update into s. Options and variables are matched by label,
// pros/cons by option; recommendation and debate summary are replaced.
func (s *Summary) Merge(update *Summary) {
	if update == nil {
		return
	}
	s.Options = mergeByKey(s.Options, update.Options, func(o Option) string { return o.Label })
	s.Variables = mergeByKey(s.Variables, update.Variables, func(v Variable) string { return v.Label })
	s.ProsCons = mergeByKey(s.ProsCons, update.ProsCons, func(p ProsCons) string { return p.Option })
	if update.Recommendation != nil {
		s.Recommendation = update.Recommendation
	}
	if update.DebateSummary != nil {
		s.DebateSummary = update.DebateSummary
	}
}

// JSON encodes the summary.
func (s *Summary) JSON() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// MergeSummaryJSON merges update into the existing raw summary and returns
// the encoded result.
func MergeSummaryJSON(existing string, update *Summary) string {
	s, _ := ParseSummary(existing)
	s.Merge(update)
	return s.JSON()
}

func mergeByKey[T any](existing, incoming []T, key func(T) string) []T {
	out := existing
	for _, item := range incoming {
		k := key(item)
		replaced := false
		if k != "" {
			for i := range out {
				if key(out[i]) == k {
					out[i] = item
					replaced = true
					break
				}
			}
		}
		if !replaced {
			out = append(out, item)
		}
	}
	return out
}
