package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Retry retries Transform up to maxAttempts with exponential backoff starting
// at baseDelay. Permanent errors and context cancellation stop immediately.
func Retry(next Transformer, maxAttempts int, baseDelay time.Duration, log *slog.Logger) Transformer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &retrying{next: next, max: maxAttempts, base: baseDelay, log: log}
}

type retrying struct {
	next Transformer
	max  int
	base time.Duration
	log  *slog.Logger
}

func (r *retrying) Transform(ctx context.Context, content, prompt string) (string, error) {
	return r.do(ctx, func() (string, error) {
		return r.next.Transform(ctx, content, prompt)
	})
}

// TransformStream streams live until an attempt fails after delivering
// chunks. Later attempts run unstreamed and deliver only the text beyond what
// was already sent, so subscribers never see a chunk twice.
func (r *retrying) TransformStream(ctx context.Context, content, prompt string, onChunk func(string)) (string, error) {
	if onChunk == nil {
		return r.Transform(ctx, content, prompt)
	}
	var sent strings.Builder
	return r.do(ctx, func() (string, error) {
		if sent.Len() == 0 {
			return StreamOrTransform(ctx, r.next, content, prompt, func(c string) {
				sent.WriteString(c)
				onChunk(c)
			})
		}
		out, err := r.next.Transform(ctx, content, prompt)
		if err != nil {
			return "", err
		}
		if rest, ok := strings.CutPrefix(out, sent.String()); ok && rest != "" {
			onChunk(rest)
		} else if !ok {
			r.log.Warn("retried stream diverged from delivered chunks", "delivered", sent.Len())
		}
		return out, nil
	})
}

func (r *retrying) do(ctx context.Context, call func() (string, error)) (string, error) {
	var last error
	for i := 0; i < r.max; i++ {
		out, err := call()
		if err == nil {
			return out, nil
		}
		var pErr *PermanentError
		if errors.As(err, &pErr) {
			return "", err
		}
		last = err
		if i == r.max-1 {
			break
		}
		delay := r.base * time.Duration(1<<i)
		r.log.Warn("transform failed, retrying", "attempt", i+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", last
}
