package diagnose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

const diagnoseSystemPrompt = `You are a root-cause analysis engine for a
catalog sync service. Given a structured failure capture, respond with a
single JSON object and nothing else:
{"cause": string, "playbook": string, "taxonomy": string,
 "confidence": number between 0 and 1, "file": string,
 "instructions": string}
Known playbooks: add_missing_field, add_default_value, increase_timeout.`

// OpenAIProvider asks a chat model for a diagnosis. Malformed responses
// are surfaced as errors so the caller can fall back.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a model-backed diagnosis provider. Returns
// nil when apiKey is empty; the caller then runs fallback-only.
func NewOpenAIProvider(apiKey, chatModel string) *OpenAIProvider {
	if apiKey == "" {
		return nil
	}
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: chatModel}
}

func (p *OpenAIProvider) Diagnose(ctx context.Context, capture model.FailureCapture) (Diagnosis, error) {
	payload, err := json.Marshal(capture)
	if err != nil {
		return Diagnosis{}, fmt.Errorf("diagnose: marshal capture: %w", err)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: diagnoseSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		return Diagnosis{}, fmt.Errorf("diagnose: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Diagnosis{}, fmt.Errorf("diagnose: model returned no choices")
	}

	return parseDiagnosis(resp.Choices[0].Message.Content)
}

// parseDiagnosis decodes the model's JSON reply, tolerating markdown
// code fences around the object.
func parseDiagnosis(content string) (Diagnosis, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw struct {
		Cause        string  `json:"cause"`
		Playbook     string  `json:"playbook"`
		Taxonomy     string  `json:"taxonomy"`
		Confidence   float64 `json:"confidence"`
		File         string  `json:"file"`
		Instructions string  `json:"instructions"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return Diagnosis{}, fmt.Errorf("diagnose: parse model response: %w", err)
	}
	if raw.Cause == "" || raw.Playbook == "" {
		return Diagnosis{}, fmt.Errorf("diagnose: model response missing cause or playbook")
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return Diagnosis{}, fmt.Errorf("diagnose: confidence %v out of range", raw.Confidence)
	}
	return Diagnosis{
		Cause:        raw.Cause,
		Playbook:     raw.Playbook,
		Taxonomy:     raw.Taxonomy,
		Confidence:   raw.Confidence,
		File:         raw.File,
		Instructions: raw.Instructions,
	}, nil
}
