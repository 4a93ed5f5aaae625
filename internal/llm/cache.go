package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached memoises successful transforms keyed by a hash of prompt and content.
// Reruns of a stage with unchanged inputs skip the provider.
type Cached struct {
	next  Transformer
	cache *lru.Cache[string, string]
}

// NewCached wraps next with an LRU of the given size.
func NewCached(next Transformer, size int) (*Cached, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: c}, nil
}

func cacheKey(content, prompt string) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cached) Transform(ctx context.Context, content, prompt string) (string, error) {
	key := cacheKey(content, prompt)
	if out, ok := c.cache.Get(key); ok {
		return out, nil
	}
	out, err := c.next.Transform(ctx, content, prompt)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, out)
	return out, nil
}

func (c *Cached) TransformStream(ctx context.Context, content, prompt string, onChunk func(string)) (string, error) {
	key := cacheKey(content, prompt)
	if out, ok := c.cache.Get(key); ok {
		if onChunk != nil {
			onChunk(out)
		}
		return out, nil
	}
	out, err := StreamOrTransform(ctx, c.next, content, prompt, onChunk)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, out)
	return out, nil
}

// Len returns the number of cached transforms.
func (c *Cached) Len() int { return c.cache.Len() }
