package patch

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const applySystemPrompt = `You rewrite configuration and source files.
Apply the user's instructions to the file content exactly and return the
complete updated file. Output only the file content, no commentary and
no code fences. Make the smallest change that satisfies the
instructions.`

// OpenAIProvider delegates the rewrite to a chat model.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a model-backed patch provider. Returns nil
// when apiKey is empty.
func NewOpenAIProvider(apiKey, chatModel string) *OpenAIProvider {
	if apiKey == "" {
		return nil
	}
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: chatModel}
}

func (p *OpenAIProvider) Generate(ctx context.Context, originalCode, instructions string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: applySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(
				"Instructions:\n%s\n\nFile content:\n%s", instructions, originalCode)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("patch: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("patch: model returned no choices")
	}

	out := resp.Choices[0].Message.Content
	out = strings.TrimPrefix(out, "```\n")
	out = strings.TrimSuffix(out, "\n```")
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("patch: model returned empty content")
	}
	return out, nil
}
