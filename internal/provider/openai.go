package provider

import (
	"context"
	"fmt"

	"github.com/starford/magic/internal/apperr"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// Pointer fields distinguish an absent field from an empty one.
type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (d *Dispatcher) openAI(ctx context.Context, endpoint, system, user string, s Settings) (string, error) {
	body := chatRequest{
		Model: s.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
	}
	headers := map[string]string{"Authorization": "Bearer " + s.APIKey}

	var out chatResponse
	if err := d.post(ctx, endpoint+"/v1/chat/completions", headers, body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil || out.Choices[0].Message.Content == nil {
		return "", fmt.Errorf("%w: missing choices[0].message.content", apperr.ErrProviderResponseMalformed)
	}
	return *out.Choices[0].Message.Content, nil
}
