package ai

import "context"

// TextGenerator produces model text from a system prompt and a user prompt.
// The evaluation pipeline treats the language model as a black box behind
// this interface; anything speaking the OpenAI chat-completions dialect works.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
