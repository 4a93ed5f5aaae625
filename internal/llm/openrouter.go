package llm

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
)

// DefaultOpenRouterURL is the OpenRouter API base.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouterConfig configures an OpenRouter client.
type OpenRouterConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Temperature   float64
	MaxTokens     int
	Seed          *int
	Timeout       time.Duration // default 120s
	StreamTimeout time.Duration // default 300s
	AppURL        string
	AppTitle      string
}

// OpenRouter is a chat-completions client. Retries are applied by the Retry middleware.
type OpenRouter struct {
	cfg  OpenRouterConfig
	http *http.Client
}

// NewOpenRouter creates a client. An empty API key is a configuration error.
func NewOpenRouter(cfg OpenRouterConfig) (*OpenRouter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter: missing API key")
	}
	if cfg.Model == "" {
		return nil, errors.New("openrouter: missing model")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 300 * time.Second
	}
	return &OpenRouter{cfg: cfg, http: &http.Client{}}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Seed        *int          `json:"seed,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
		Delta   chatMessage `json:"delta"`
	} `json:"choices"`
}

func (o *OpenRouter) newRequest(ctx context.Context, prompt string, stream bool) (*http.Request, error) {
	body, err := json.Marshal(chatRequest{
		Model:       o.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		Seed:        o.cfg.Seed,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.AppURL != "" {
		req.Header.Set("HTTP-Referer", o.cfg.AppURL)
	}
	if o.cfg.AppTitle != "" {
		req.Header.Set("X-Title", o.cfg.AppTitle)
	}
	return req, nil
}

func (o *OpenRouter) do(req *http.Request) (*http.Response, error) {
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	se := &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	if retryableStatus(resp.StatusCode) {
		return nil, se
	}
	return nil, Permanent(se)
}

// Transform sends one chat completion and returns the message content.
func (o *OpenRouter) Transform(ctx context.Context, content, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	req, err := o.newRequest(ctx, BuildPrompt(prompt, content), false)
	if err != nil {
		return "", err
	}
	resp, err := o.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}

// TransformStream streams a chat completion, calling onChunk for each delta.
func (o *OpenRouter) TransformStream(ctx context.Context, content, prompt string, onChunk func(string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StreamTimeout)
	defer cancel()

	req, err := o.newRequest(ctx, BuildPrompt(prompt, content), true)
	if err != nil {
		return "", err
	}
	resp, err := o.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var acc strings.Builder
	r := newSSEReader(resp.Body)
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return acc.String(), fmt.Errorf("read stream: %w", err)
		}
		if ev.Data == "[DONE]" {
			break
		}
		var chunk chatResponse
		if json.Unmarshal([]byte(ev.Data), &chunk) != nil || len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			acc.WriteString(delta)
			if onChunk != nil {
				onChunk(delta)
			}
		}
	}
	return acc.String(), nil
}

// ModelInfo describes a model offered by the provider.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int    `json:"context_length"`
	Pricing       struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
}

// ListModels fetches the provider's model list.
func (o *OpenRouter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	resp, err := o.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Data []ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return out.Data, nil
}
