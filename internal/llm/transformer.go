// Package llm holds the text-transform collaborator used by the reduction
// stages: the Transformer interface, provider clients and middleware.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Transformer rewrites content according to a prompt.
type Transformer interface {
	Transform(ctx context.Context, content, prompt string) (string, error)
}

// StreamTransformer is a Transformer that can report output as it is produced.
// The returned string is the full accumulated text.
type StreamTransformer interface {
	Transformer
	TransformStream(ctx context.Context, content, prompt string, onChunk func(string)) (string, error)
}

// Func adapts a function to the Transformer interface.
type Func func(ctx context.Context, content, prompt string) (string, error)

func (f Func) Transform(ctx context.Context, content, prompt string) (string, error) {
	return f(ctx, content, prompt)
}

// Identity returns content unchanged. Used for offline runs.
type Identity struct{}

func (Identity) Transform(_ context.Context, content, _ string) (string, error) {
	return content, nil
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("empty model response")

// ContentPlaceholder is replaced by the content in prompt templates.
const ContentPlaceholder = "{content}"

// BuildPrompt inserts content into prompt at the placeholder, or appends it
// after a blank line when the prompt has none. An empty prompt yields content.
func BuildPrompt(prompt, content string) string {
	switch {
	case prompt == "":
		return content
	case strings.Contains(prompt, ContentPlaceholder):
		return strings.ReplaceAll(prompt, ContentPlaceholder, content)
	default:
		return prompt + "\n\n" + content
	}
}

// StreamOrTransform streams when t supports it, otherwise falls back to a
// single Transform call and reports the whole output as one chunk.
func StreamOrTransform(ctx context.Context, t Transformer, content, prompt string, onChunk func(string)) (string, error) {
	if st, ok := t.(StreamTransformer); ok && onChunk != nil {
		return st.TransformStream(ctx, content, prompt, onChunk)
	}
	out, err := t.Transform(ctx, content, prompt)
	if err != nil {
		return "", err
	}
	if onChunk != nil && out != "" {
		onChunk(out)
	}
	return out, nil
}

// statusError is an HTTP failure from a provider.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("API error %d: %s", e.Code, body)
}

func retryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
