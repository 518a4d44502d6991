// Package provider dispatches assembled prompts to an LLM backend.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/starford/magic/internal/apperr"
)

// Supported providers.
const (
	OpenAI = "openai"
	Ollama = "ollama"
)

// Settings is a read-only configuration snapshot for one generation.
type Settings struct {
	Provider    string  `yaml:"provider" json:"provider"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	APIKey      string  `yaml:"api_key" json:"-"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// Dispatcher sends one request per Generate call. It keeps no state
// between calls.
type Dispatcher struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// Option is a functional option for configuring a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		d.httpClient = client
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a Dispatcher. The default HTTP client has no timeout.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Generate sends system and user prompts to the provider selected by
// settings and returns the generated text.
func (d *Dispatcher) Generate(ctx context.Context, system, user string, settings Settings) (string, error) {
	endpoint := strings.TrimSuffix(settings.Endpoint, "/")

	d.logger.Debug("provider: generate",
		slog.String("provider", settings.Provider),
		slog.String("model", settings.Model),
		slog.Int("system_len", len(system)),
		slog.Int("user_len", len(user)))

	switch settings.Provider {
	case OpenAI:
		return d.openAI(ctx, endpoint, system, user, settings)
	case Ollama:
		return d.ollama(ctx, endpoint, system, settings)
	default:
		return "", fmt.Errorf("%w: unknown provider %q", apperr.ErrProviderRequestFailed, settings.Provider)
	}
}

// post sends body as JSON to url and decodes a 2xx response into out.
func (d *Dispatcher) post(ctx context.Context, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshaling request: %w", apperr.ErrProviderRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: creating request: %w", apperr.ErrProviderRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: executing request: %w", apperr.ErrProviderRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", apperr.ErrProviderRequestFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", apperr.ErrProviderRequestFailed, err)
	}
	return nil
}
