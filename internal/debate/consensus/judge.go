package consensus

import (
	"context"
	"fmt"
	"strings"

	"github.com/lorenzotomasdiez/committee/internal/agents"
	"github.com/lorenzotomasdiez/committee/internal/openrouter"
)

const maxJudgeRetries = 3

// ChatCompleter is the non-streaming completion call the Judge needs.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, model string, messages []openrouter.Message) (*openrouter.ChatResponse, error)
}

// Judge recovers a vote tally from a transcript when the moderator did not
// produce a readable one.
type Judge struct {
	llm   ChatCompleter
	model string
}

// NewJudge creates a Judge that queries model.
func NewJudge(llm ChatCompleter, model string) *Judge {
	return &Judge{llm: llm, model: model}
}

// Votes asks the model for each member's final leaning. Malformed replies
// are retried; when every attempt fails an empty tally is returned.
func (j *Judge) Votes(ctx context.Context, transcript string, debaters []agents.Agent) ([]Vote, error) {
	keys := make([]string, len(debaters))
	for i, a := range debaters {
		keys[i] = a.Key
	}
	system := openrouter.Message{
		Role: "system",
		Content: `You are a vote counter. Read the committee debate and return ONLY valid JSON in this exact format:
{"votes": [{"agent": "<member key>", "choice": "<option the member leaned toward>", "reason": "<one short sentence>"}]}
Use these member keys: ` + strings.Join(keys, ", ") + `.
Do NOT include any other text, explanation, or markdown formatting. Return ONLY the JSON object.`,
	}
	user := openrouter.Message{Role: "user", Content: transcript}

	for attempt := range maxJudgeRetries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("consensus: %w", err)
		}

		msgs := []openrouter.Message{system, user}
		if attempt > 0 {
			msgs = append(msgs, openrouter.Message{
				Role:    "user",
				Content: "That was not a readable vote tally. Reply with the JSON object only.",
			})
		}

		resp, err := j.llm.ChatCompletion(ctx, j.model, msgs)
		if err != nil {
			return nil, fmt.Errorf("consensus: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if votes, ok := ParseTally(resp.Choices[0].Message.Content); ok {
			return votes, nil
		}
	}
	return nil, nil
}
