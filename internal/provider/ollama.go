package provider

import (
	"context"
	"fmt"

	"github.com/starford/magic/internal/apperr"
)

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type generateResponse struct {
	Response *string `json:"response"`
}

// ollama sends only the system prompt; the user prompt is not part of
// the generate request.
func (d *Dispatcher) ollama(ctx context.Context, endpoint, system string, s Settings) (string, error) {
	body := generateRequest{
		Model:       s.Model,
		Prompt:      system,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
	}

	var out generateResponse
	if err := d.post(ctx, endpoint+"/api/generate", nil, body, &out); err != nil {
		return "", err
	}
	if out.Response == nil {
		return "", fmt.Errorf("%w: missing response", apperr.ErrProviderResponseMalformed)
	}
	return *out.Response, nil
}
