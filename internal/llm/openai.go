package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alan/changelog-gen/internal/retry"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ChatRequest is a single chat-completion call
type ChatRequest struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Caller issues one generation call; implemented by OpenAIClient and by
// test fakes.
type Caller interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// Unavailable returns a Caller whose calls always fail with err, so runs
// without a configured key degrade to fallback content instead of aborting.
func Unavailable(err error) Caller {
	return unavailableCaller{err: err}
}

type unavailableCaller struct{ err error }

func (c unavailableCaller) Complete(context.Context, ChatRequest) (string, error) {
	return "", c.err
}

// OpenAIClient is a minimal HTTP client for OpenAI's chat completions API
type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIClient creates a chat-completions client for the given model
func NewOpenAIClient(apiKey, model string, timeout time.Duration) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Complete sends the system + user prompts and returns the text content
func (c *OpenAIClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.User},
		},
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat completion call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &retry.StatusError{Code: resp.StatusCode, Message: string(message)}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}
