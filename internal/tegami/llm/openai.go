package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/Tegami/common/redact"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"

	// maxErrorBody bounds how much of a failed response is quoted in errors.
	maxErrorBody = 512
)

// Config configures the OpenAI-compatible chat completions client.
type Config struct {
	APIKey string

	// BaseURL overrides the endpoint, e.g. a local Ollama or any other
	// OpenAI-compatible server. Defaults to https://api.openai.com/v1.
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string

	// Timeout is the HTTP client timeout. Zero means no timeout: a slow
	// backend is waited for, and the caller's context is the only bound.
	Timeout time.Duration

	Temperature *float64
}

// OpenAI implements Generator over the chat completions API. It is safe for
// concurrent use.
type OpenAI struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

var _ Generator = (*OpenAI)(nil)

// NewOpenAI returns a client for cfg. A nil logger uses slog.Default().
func NewOpenAI(cfg Config, logger *slog.Logger) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Model returns the configured model name.
func (o *OpenAI) Model() string { return o.cfg.Model }

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type oaiResponse struct {
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// Generate sends p and returns the first choice.
func (o *OpenAI) Generate(ctx context.Context, p Prompt) (*Reply, error) {
	body := oaiRequest{
		Model:       o.cfg.Model,
		MaxTokens:   p.MaxTokens,
		Temperature: o.cfg.Temperature,
	}
	for _, m := range p.Messages {
		body.Messages = append(body.Messages, oaiMessage{Role: string(m.Role), Content: m.Content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("llm: create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		o.logger.Warn("llm: request failed", "err", redact.Error(err, o.cfg.APIKey))
		return nil, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response body: %w", err)
	}
	o.logger.Debug("llm: response", "status", resp.StatusCode, "bytes", len(raw), "elapsed", time.Since(start))

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("llm: HTTP 429: %w", ErrRateLimit)
	}

	var out oaiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("llm: HTTP %d: %s", resp.StatusCode, snippet(raw, o.cfg.APIKey))
		}
		return nil, fmt.Errorf("llm: decode API response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("llm: API error (%s): %s", out.Error.Type, redact.String(out.Error.Message, o.cfg.APIKey))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llm: HTTP %d: %s", resp.StatusCode, snippet(raw, o.cfg.APIKey))
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyReply
	}

	model := out.Model
	if model == "" {
		model = o.cfg.Model
	}
	return &Reply{
		Text:         out.Choices[0].Message.Content,
		Model:        model,
		FinishReason: out.Choices[0].FinishReason,
	}, nil
}

func snippet(raw []byte, secrets ...string) string {
	s := string(raw)
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return redact.String(s, secrets...)
}
