package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		prompt, content, want string
	}{
		{"", "body", "body"},
		{"Summarise:\n{content}\nEnd", "body", "Summarise:\nbody\nEnd"},
		{"Summarise this", "body", "Summarise this\n\nbody"},
	}
	for _, tt := range tests {
		if got := BuildPrompt(tt.prompt, tt.content); got != tt.want {
			t.Errorf("BuildPrompt(%q, %q) = %q, want %q", tt.prompt, tt.content, got, tt.want)
		}
	}
}

func TestRetry_RecoversAfterTransientErrors(t *testing.T) {
	var calls int
	next := Func(func(ctx context.Context, content, prompt string) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503")
		}
		return "ok", nil
	})
	out, err := Retry(next, 3, time.Millisecond, nil).Transform(context.Background(), "c", "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" || calls != 3 {
		t.Errorf("out=%q calls=%d, want ok/3", out, calls)
	}
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	var calls int
	next := Func(func(ctx context.Context, content, prompt string) (string, error) {
		calls++
		return "", Permanent(errors.New("bad request"))
	})
	_, err := Retry(next, 5, time.Millisecond, nil).Transform(context.Background(), "c", "p")
	var pErr *PermanentError
	if !errors.As(err, &pErr) {
		t.Fatalf("err = %v, want PermanentError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	var calls int
	next := Func(func(ctx context.Context, content, prompt string) (string, error) {
		calls++
		return "", fmt.Errorf("attempt %d", calls)
	})
	_, err := Retry(next, 3, time.Millisecond, nil).Transform(context.Background(), "c", "p")
	if err == nil || err.Error() != "attempt 3" {
		t.Errorf("err = %v, want last error", err)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	next := Func(func(ctx context.Context, content, prompt string) (string, error) {
		cancel()
		return "", errors.New("transient")
	})
	_, err := Retry(next, 5, time.Hour, nil).Transform(ctx, "c", "p")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// flakyStream fails its first stream after emitting part of the output.
type flakyStream struct {
	out        string
	failAfter  int // chunks emitted before the first stream fails
	streams    int
	transforms int
}

func (f *flakyStream) Transform(context.Context, string, string) (string, error) {
	f.transforms++
	return f.out, nil
}

func (f *flakyStream) TransformStream(_ context.Context, _, _ string, onChunk func(string)) (string, error) {
	f.streams++
	for i, r := range f.out {
		if f.streams == 1 && i == f.failAfter {
			return "", errors.New("stream reset")
		}
		onChunk(string(r))
	}
	return f.out, nil
}

func TestRetry_StreamDoesNotRepeatChunks(t *testing.T) {
	next := &flakyStream{out: "node A {}", failAfter: 5}
	var chunks []string
	out, err := Retry(next, 3, time.Millisecond, nil).(StreamTransformer).
		TransformStream(context.Background(), "c", "p", func(s string) { chunks = append(chunks, s) })
	if err != nil {
		t.Fatalf("TransformStream: %v", err)
	}
	if out != "node A {}" {
		t.Errorf("out = %q", out)
	}
	if got := strings.Join(chunks, ""); got != "node A {}" {
		t.Errorf("delivered %q (chunks %q), want each character once", got, chunks)
	}
	if next.streams != 1 || next.transforms != 1 {
		t.Errorf("streams=%d transforms=%d, want 1/1", next.streams, next.transforms)
	}
}

func TestRetry_StreamsAgainWhenNothingWasSent(t *testing.T) {
	next := &flakyStream{out: "walker W {}", failAfter: 0}
	var chunks []string
	out, err := Retry(next, 3, time.Millisecond, nil).(StreamTransformer).
		TransformStream(context.Background(), "c", "p", func(s string) { chunks = append(chunks, s) })
	if err != nil {
		t.Fatalf("TransformStream: %v", err)
	}
	if out != "walker W {}" || strings.Join(chunks, "") != out {
		t.Errorf("out=%q chunks=%q", out, chunks)
	}
	if next.streams != 2 || len(chunks) != len(out) {
		t.Errorf("streams=%d chunks=%d, want a second live stream", next.streams, len(chunks))
	}
}

func TestCached(t *testing.T) {
	var calls int
	next := Func(func(ctx context.Context, content, prompt string) (string, error) {
		calls++
		return strings.ToUpper(content), nil
	})
	c, err := NewCached(next, 8)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}
	for i := 0; i < 3; i++ {
		out, err := c.Transform(context.Background(), "abc", "p")
		if err != nil || out != "ABC" {
			t.Fatalf("Transform = %q, %v", out, err)
		}
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if _, err := c.Transform(context.Background(), "abc", "other prompt"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 || c.Len() != 2 {
		t.Errorf("calls=%d len=%d, want 2/2", calls, c.Len())
	}
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	var calls int
	next := Func(func(ctx context.Context, content, prompt string) (string, error) {
		calls++
		return "", errors.New("down")
	})
	c, _ := NewCached(next, 8)
	c.Transform(context.Background(), "a", "p")
	c.Transform(context.Background(), "a", "p")
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestOpenRouter_Transform(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"merged"}}]}`)
	}))
	defer srv.Close()

	seed := 7
	o, err := NewOpenRouter(OpenRouterConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", MaxTokens: 100, Seed: &seed})
	if err != nil {
		t.Fatal(err)
	}
	out, err := o.Transform(context.Background(), "docs", "Merge:\n{content}")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out != "merged" {
		t.Errorf("out = %q", out)
	}
	if got.Model != "m" || got.Messages[0].Content != "Merge:\ndocs" || got.MaxTokens != 100 || got.Seed == nil || *got.Seed != 7 {
		t.Errorf("request = %+v", got)
	}
}

func TestOpenRouter_StatusErrors(t *testing.T) {
	for _, tc := range []struct {
		code      int
		permanent bool
	}{
		{429, false},
		{503, false},
		{400, true},
		{401, true},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
			fmt.Fprint(w, "nope")
		}))
		o, _ := NewOpenRouter(OpenRouterConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
		_, err := o.Transform(context.Background(), "x", "")
		srv.Close()

		var pErr *PermanentError
		if errors.As(err, &pErr) != tc.permanent {
			t.Errorf("status %d: permanent = %v, want %v (err %v)", tc.code, !tc.permanent, tc.permanent, err)
		}
	}
}

func TestOpenRouter_RetriesThroughMiddleware(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	o, _ := NewOpenRouter(OpenRouterConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	out, err := Retry(o, 3, time.Millisecond, nil).Transform(context.Background(), "x", "")
	if err != nil || out != "ok" {
		t.Fatalf("out=%q err=%v", out, err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}
}

func TestOpenRouter_TransformStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"node \"}}]}\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"A {}\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	}))
	defer srv.Close()

	o, _ := NewOpenRouter(OpenRouterConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	var chunks []string
	out, err := o.TransformStream(context.Background(), "x", "", func(s string) { chunks = append(chunks, s) })
	if err != nil {
		t.Fatalf("TransformStream: %v", err)
	}
	if out != "node A {}" {
		t.Errorf("out = %q", out)
	}
	if len(chunks) != 2 {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestNewOpenRouter_MissingKey(t *testing.T) {
	if _, err := NewOpenRouter(OpenRouterConfig{Model: "m"}); err == nil {
		t.Error("expected error for missing key")
	}
}

type fakeLister struct {
	calls  int
	models []ModelInfo
}

func (f *fakeLister) ListModels(ctx context.Context) ([]ModelInfo, error) {
	f.calls++
	return f.models, nil
}

func TestCatalog_CachesUntilRefresh(t *testing.T) {
	src := &fakeLister{models: []ModelInfo{{ID: "a/model", ContextLength: 8000}}}
	c := NewCatalog(src, time.Hour)

	for i := 0; i < 3; i++ {
		if _, err := c.Models(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if src.calls != 1 {
		t.Errorf("calls = %d, want 1", src.calls)
	}
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Errorf("calls after refresh = %d, want 2", src.calls)
	}

	m, ok, err := c.Lookup(context.Background(), "a/model")
	if err != nil || !ok || m.ContextLength != 8000 {
		t.Errorf("Lookup = %+v %v %v", m, ok, err)
	}
}

func TestCatalog_Expires(t *testing.T) {
	src := &fakeLister{}
	c := NewCatalog(src, 10*time.Millisecond)
	c.Models(context.Background())
	time.Sleep(50 * time.Millisecond)
	c.Models(context.Background())
	if src.calls != 2 {
		t.Errorf("calls = %d, want 2 after TTL", src.calls)
	}
}

func TestStreamOrTransform_Fallback(t *testing.T) {
	var chunks []string
	out, err := StreamOrTransform(context.Background(), Identity{}, "text", "p", func(s string) { chunks = append(chunks, s) })
	if err != nil || out != "text" {
		t.Fatalf("out=%q err=%v", out, err)
	}
	if len(chunks) != 1 || chunks[0] != "text" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	id, err := NewProvider(ctx, ProviderConfig{Provider: "identity"}, nil)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if _, ok := id.(Identity); !ok {
		t.Errorf("identity provider = %T", id)
	}

	or, err := NewProvider(ctx, ProviderConfig{Provider: "openrouter", APIKey: "k", Model: "m", MaxRetries: 2, CacheSize: 8}, nil)
	if err != nil {
		t.Fatalf("openrouter: %v", err)
	}
	if _, ok := or.(*Cached); !ok {
		t.Errorf("cached provider = %T, want *Cached", or)
	}
	if _, ok := or.(StreamTransformer); !ok {
		t.Error("provider should stream")
	}

	bare, err := NewProvider(ctx, ProviderConfig{APIKey: "k", Model: "m"}, nil)
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	if _, ok := bare.(*retrying); !ok {
		t.Errorf("uncached provider = %T, want retry middleware", bare)
	}

	if _, err := NewProvider(ctx, ProviderConfig{Provider: "openrouter", Model: "m"}, nil); err == nil {
		t.Error("expected missing key error")
	}
	if _, err := NewProvider(ctx, ProviderConfig{Provider: "smoke-signals"}, nil); err == nil {
		t.Error("expected unknown provider error")
	}
}
