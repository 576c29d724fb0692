// Package llm wraps an OpenAI-compatible chat completion API used as the
// primary grading path for free-text step answers. The deterministic
// rubric scorer remains the fallback when no endpoint is configured or a
// call fails.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/apothekerbubi/m3-trainer/internal/llm/prompts"
	"github.com/apothekerbubi/m3-trainer/internal/model"
)

// StepGrade holds the LLM's assessment of a single step answer.
type StepGrade struct {
	Correctness model.Correctness `json:"correctness"`
	Feedback    string            `json:"feedback"`
	Tips        string            `json:"tips,omitempty"`
	Score       float64           `json:"score"` // 0-100
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.Variant
}

// New creates a new LLM client with the given prompt variant.
func New(baseURL, apiKey, modelName, variant string) (*Client, error) {
	if err := prompts.Load(); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.Variant(variant),
	}, nil
}

// Ping verifies the endpoint is reachable by listing models.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint unreachable: %w", err)
	}
	return nil
}

// GradeStep asks the LLM to grade one answer in the context of the case
// vignette, the step's prompt/rule, and the transcript of earlier answers.
func (c *Client) GradeStep(ctx context.Context, in prompts.GradeInput) (*StepGrade, error) {
	systemPrompt, err := prompts.BuildGradePrompt(c.variant, in)
	if err != nil {
		return nil, fmt.Errorf("build grading prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: in.Answer},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM grading API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM grading response", "raw", raw)

	var grade StepGrade
	if err := json.Unmarshal([]byte(raw), &grade); err != nil {
		return nil, fmt.Errorf("parse grading response: %w (raw: %s)", err, raw)
	}
	if err := validateGrade(&grade); err != nil {
		return nil, fmt.Errorf("invalid grading response: %w (raw: %s)", err, raw)
	}
	return &grade, nil
}

func validateGrade(g *StepGrade) error {
	switch g.Correctness {
	case model.CorrectnessCorrect, model.CorrectnessPartial, model.CorrectnessIncorrect:
	default:
		return fmt.Errorf("unknown correctness %q", g.Correctness)
	}
	if g.Score < 0 {
		g.Score = 0
	}
	if g.Score > 100 {
		g.Score = 100
	}
	return nil
}
