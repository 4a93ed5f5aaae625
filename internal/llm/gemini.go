package llm

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiConfig configures the Gemini transformer.
type GeminiConfig struct {
	APIKey      string // empty lets the genai client read GEMINI_API_KEY / GOOGLE_API_KEY
	Model       string
	Temperature float64
	MaxTokens   int
	Seed        *int
}

// Gemini is a thin wrapper around the official genai client.
type Gemini struct {
	cli *genai.Client
	cfg GeminiConfig
}

// NewGemini creates a Gemini transformer on the Gemini API backend.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{cli: cli, cfg: cfg}, nil
}

func (g *Gemini) generateConfig() *genai.GenerateContentConfig {
	c := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.cfg.Temperature)),
	}
	if g.cfg.MaxTokens > 0 {
		c.MaxOutputTokens = int32(g.cfg.MaxTokens)
	}
	if g.cfg.Seed != nil {
		c.Seed = genai.Ptr(int32(*g.cfg.Seed))
	}
	return c
}

func contents(prompt string) []*genai.Content {
	return []*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}
}

// Transform generates content in one call.
func (g *Gemini) Transform(ctx context.Context, content, prompt string) (string, error) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.cfg.Model, contents(BuildPrompt(prompt, content)), g.generateConfig())
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// TransformStream streams the response, calling onChunk for each partial text.
func (g *Gemini) TransformStream(ctx context.Context, content, prompt string, onChunk func(string)) (string, error) {
	var acc strings.Builder
	for resp, err := range g.cli.Models.GenerateContentStream(ctx, g.cfg.Model, contents(BuildPrompt(prompt, content)), g.generateConfig()) {
		if err != nil {
			return acc.String(), err
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		acc.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	return acc.String(), nil
}
