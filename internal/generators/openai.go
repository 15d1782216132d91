package generators

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dramaforge/internal/services"
)

const (
	openAIProvider       = "openai"
	defaultOpenAITimeout = 60 * time.Second
)

// OpenAIConfig addresses an OpenAI-compatible chat completions endpoint.
// BaseURL is the full completions URL, not the API root.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// OpenAI is a TextGenerator that sends one chat completion per call. Retries
// are left to the pipeline.
type OpenAI struct {
	key, url, model string
	client          *http.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	timeout := defaultOpenAITimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &OpenAI{
		key:    strings.TrimSpace(cfg.APIKey),
		url:    strings.TrimSpace(cfg.BaseURL),
		model:  strings.TrimSpace(cfg.Model),
		client: &http.Client{Timeout: timeout},
	}
}

func (c *OpenAI) Provider() string { return openAIProvider }
func (c *OpenAI) Model() string    { return c.model }

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatReply `json:"message"`
		// Some compatible servers answer with the streaming shape even when
		// stream is off.
		Delta        chatReply `json:"delta"`
		Text         string    `json:"text"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatReply struct {
	Content   string `json:"content"`
	Refusal   string `json:"refusal"`
	ToolCalls []struct {
		Function struct {
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

// text returns the first non-empty content across choices, falling back to
// tool call arguments, along with the first finish reason and refusal seen.
func (r chatResponse) text() (content, finish, refusal string) {
	for _, ch := range r.Choices {
		finish = firstText(finish, ch.FinishReason)
		refusal = firstText(refusal, ch.Message.Refusal, ch.Delta.Refusal)
		if content = firstText("", ch.Message.Content, ch.Delta.Content, ch.Text); content != "" {
			return content, finish, refusal
		}
		for _, call := range append(ch.Message.ToolCalls, ch.Delta.ToolCalls...) {
			if args := strings.TrimSpace(call.Function.Arguments); args != "" {
				return args, finish, refusal
			}
		}
	}
	return "", finish, refusal
}

// firstText returns the first argument that is not blank, trimmed.
func firstText(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (c *OpenAI) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	stage := string(req.Task)
	prompt := strings.TrimSpace(req.Prompt)
	switch {
	case prompt == "":
		return "", services.Wrap(services.ErrValidation, stage, openAIProvider, "empty prompt", nil)
	case c.key == "":
		return "", services.Wrap(services.ErrConfiguration, stage, openAIProvider, "llm.api_key is not set", nil)
	}

	body := chatRequest{Model: c.model, Temperature: req.Temperature}
	if system := strings.TrimSpace(req.System); system != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: system})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: prompt})
	if req.JSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	resp, raw, err := c.post(ctx, body)
	if statusErr := (*StatusError)(nil); errors.As(err, &statusErr) {
		return "", classifyStatus(stage, statusErr)
	}
	if err != nil {
		return "", err
	}
	content, finish, refusal := resp.text()
	if content == "" {
		// Providers shed load with empty completions; a retry usually succeeds.
		detail := fmt.Sprintf("empty completion (finish_reason=%q refusal=%q body=%s)", finish, refusal, excerpt(string(raw), 160))
		return "", services.Wrap(services.ErrTransient, stage, openAIProvider, detail, nil)
	}
	return content, nil
}

// HealthCheck asks for a fixed JSON reply to prove the key, model and JSON
// mode all work.
func (c *OpenAI) HealthCheck(ctx context.Context) error {
	content, err := c.GenerateText(ctx, TextRequest{
		System: "Reply with JSON only.",
		Prompt: `Reply with {"ok":true}`,
		JSON:   true,
	})
	if err != nil {
		return err
	}
	var reply struct {
		OK bool `json:"ok"`
	}
	if err := DecodeJSON(content, &reply); err != nil {
		return fmt.Errorf("health reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("health reply: got %s", excerpt(content, 80))
	}
	return nil
}

func (c *OpenAI) post(ctx context.Context, body chatRequest) (chatResponse, []byte, error) {
	var out chatResponse
	payload, err := json.Marshal(body)
	if err != nil {
		return out, nil, fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return out, nil, services.Wrap(services.ErrConfiguration, "", openAIProvider, "invalid llm.base_url", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return out, nil, ctx.Err()
		}
		return out, nil, services.Wrap(services.ErrTransient, "", openAIProvider, "request failed after "+c.client.Timeout.String(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, nil, services.Wrap(services.ErrTransient, "", openAIProvider, "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return out, raw, &StatusError{
			Provider:   openAIProvider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
			Wait:       parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, raw, services.Wrap(services.ErrTransient, "", openAIProvider, "decode response", err)
	}
	if out.Error != nil {
		return out, raw, services.Wrap(services.ErrExternalTool, "", openAIProvider, "api error: "+strings.TrimSpace(out.Error.Message), nil)
	}
	return out, raw, nil
}
