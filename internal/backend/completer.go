package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// Completion is one finished backend turn. The provider is stateless: every
// call carries the full prompt and nothing persists between calls.
type Completion struct {
	Text       string
	StopReason string
	RawUsage   map[string]any
}

// Completer is the single-operation boundary to the language-model backend.
type Completer interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
}

// HTTPCompleter talks to an OpenAI-compatible /chat/completions endpoint,
// wrapping the whole prompt as a single user message.
type HTTPCompleter struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration // 0 disables the per-call deadline
	client  *http.Client
}

func NewHTTPCompleter(baseURL, apiKey, model string, timeout time.Duration) *HTTPCompleter {
	return &HTTPCompleter{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		timeout: timeout,
		client:  &http.Client{},
	}
}

func (c *HTTPCompleter) Complete(ctx context.Context, prompt string) (Completion, error) {
	if c.baseURL == "" {
		return Completion{}, fmt.Errorf("backend base URL is not configured")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Completion{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer res.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return Completion{}, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		message := extractErrorMessage(bodyBytes)
		if message == "" {
			message = fmt.Sprintf("provider returned status %d", res.StatusCode)
		}
		return Completion{}, fmt.Errorf("%s", message)
	}

	return parseChatCompletion(bodyBytes)
}

func parseChatCompletion(raw []byte) (Completion, error) {
	payload := struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage map[string]any `json:"usage"`
	}{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Completion{}, fmt.Errorf("decode provider response failed: %w", err)
	}
	if len(payload.Choices) == 0 {
		return Completion{}, fmt.Errorf("provider returned empty choices")
	}

	return Completion{
		Text:       renderContent(payload.Choices[0].Message.Content),
		StopReason: payload.Choices[0].FinishReason,
		RawUsage:   payload.Usage,
	}, nil
}

// renderContent flattens string or multi-part content shapes into one text.
func renderContent(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := entry["text"].(string); ok && strings.TrimSpace(text) != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func extractErrorMessage(raw []byte) string {
	payload := struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Error.Message)
}
