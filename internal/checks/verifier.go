package checks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// ProgressFunc receives (current, total, message) updates. Calls are serialised.
type ProgressFunc func(current, total int, message string)

// BlockError describes one failed block.
type BlockError struct {
	Block   int    `json:"block,omitempty"`
	Line    int    `json:"line,omitempty"`
	Source  string `json:"source"`
	Error   string `json:"error"`
	Preview string `json:"code_preview"`
}

// VerifyResult aggregates checker outcomes for a document.
type VerifyResult struct {
	TotalBlocks       int          `json:"total_blocks"`
	Passed            int          `json:"passed"`
	Failed            int          `json:"failed"`
	Skipped           int          `json:"skipped"`
	PassRate          float64      `json:"pass_rate"`
	Errors            []BlockError `json:"errors"`
	Unavailable       bool         `json:"unavailable,omitempty"`
	UnavailableReason string       `json:"unavailable_reason,omitempty"`
}

// Checked returns the number of blocks that were actually sent to the checker.
func (r *VerifyResult) Checked() int { return r.Passed + r.Failed }

// Outcome is the per-block verdict. A nil Passed means the block was skipped as a fragment.
type Outcome struct {
	Block  CodeBlock
	Passed *bool
	Error  string
}

// VerifyOptions tunes a verification run. Zero values take defaults.
type VerifyOptions struct {
	Command    string        // checker command, the temp file path is appended
	Workers    int           // default min(32, 2*NumCPU)
	Timeout    time.Duration // per block, default 5s
	MaxErrors  int           // default 10
	PreviewLen int           // default 150
	Progress   ProgressFunc
}

func (o VerifyOptions) withDefaults() VerifyOptions {
	if o.Command == "" {
		o.Command = "jac check"
	}
	if o.Workers <= 0 {
		o.Workers = min(32, runtime.NumCPU()*2)
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = 10
	}
	if o.PreviewLen <= 0 {
		o.PreviewLen = 150
	}
	return o
}

// Verifier runs the external syntax checker over code blocks on a bounded pool.
type Verifier struct {
	runner *Runner
	log    *slog.Logger
}

// NewVerifier creates a Verifier that executes commands through cmd.
func NewVerifier(cmd CommandRunner, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{runner: NewRunner(cmd), log: log}
}

// CheckAll verifies every fenced Jac block in text.
func (v *Verifier) CheckAll(ctx context.Context, text string, opts VerifyOptions) (*VerifyResult, error) {
	return v.Verify(ctx, ExtractFenced(text), opts)
}

// StrictError is returned by CheckStrict when any block fails.
type StrictError struct {
	Result *VerifyResult
}

func (e *StrictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "jac check failed for %d block(s)", e.Result.Failed)
	for i, be := range e.Result.Errors {
		if i == 5 {
			fmt.Fprintf(&b, "\n  ... and %d more", e.Result.Failed-5)
			break
		}
		fmt.Fprintf(&b, "\n  [%s:%d] %s", be.Source, be.Line, be.Error)
	}
	return b.String()
}

// CheckStrict verifies fenced blocks plus inline plain-text blocks. When
// failOnError is set and any block fails, the result is returned together
// with a *StrictError.
func (v *Verifier) CheckStrict(ctx context.Context, text string, failOnError bool, opts VerifyOptions) (*VerifyResult, error) {
	if opts.PreviewLen <= 0 {
		opts.PreviewLen = 200
	}
	blocks := append(ExtractFenced(text), ExtractInline(text)...)
	res, err := v.Verify(ctx, blocks, opts)
	if err != nil {
		return res, err
	}
	if failOnError && res.Failed > 0 {
		return res, &StrictError{Result: res}
	}
	return res, nil
}

// Verify checks the given blocks. Fragments are skipped. Results are
// aggregated so that Passed+Failed+Skipped equals TotalBlocks regardless of
// completion order. If the checker is missing the run stops and the result
// is marked Unavailable with an error wrapping ErrCheckerUnavailable.
func (v *Verifier) Verify(ctx context.Context, blocks []CodeBlock, opts VerifyOptions) (*VerifyResult, error) {
	opts = opts.withDefaults()
	res := &VerifyResult{TotalBlocks: len(blocks)}
	if len(blocks) == 0 {
		return res, nil
	}

	tmpDir, err := os.MkdirTemp("", "jaccheck-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outcomes := make([]Outcome, len(blocks))
	var (
		mu        sync.Mutex
		completed int
	)
	done := func(i int, o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		outcomes[i] = o
		switch {
		case o.Passed == nil:
			res.Skipped++
		case *o.Passed:
			res.Passed++
		default:
			res.Failed++
		}
		completed++
		if opts.Progress != nil {
			opts.Progress(completed, len(blocks), fmt.Sprintf("Checked %d/%d blocks", completed, len(blocks)))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, b := range blocks {
		g.Go(func() error {
			if IsFragment(b.Code) {
				done(i, Outcome{Block: b})
				return nil
			}
			ok, msg, err := v.checkOne(gctx, tmpDir, i, b.Code, opts)
			if err != nil {
				return err
			}
			done(i, Outcome{Block: b, Passed: &ok, Error: msg})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrCheckerUnavailable) {
			v.log.Warn("syntax verification unavailable", "error", err)
			return &VerifyResult{
				TotalBlocks:       len(blocks),
				Unavailable:       true,
				UnavailableReason: err.Error(),
			}, err
		}
		return nil, fmt.Errorf("verify blocks: %w", err)
	}

	for _, o := range outcomes {
		if o.Passed == nil || *o.Passed {
			continue
		}
		res.Errors = append(res.Errors, BlockError{
			Block:   o.Block.Ref,
			Line:    o.Block.Line,
			Source:  string(o.Block.Origin),
			Error:   o.Error,
			Preview: preview(o.Block.Code, opts.PreviewLen),
		})
	}
	sort.SliceStable(res.Errors, func(a, b int) bool { return res.Errors[a].Line < res.Errors[b].Line })
	if len(res.Errors) > opts.MaxErrors {
		res.Errors = res.Errors[:opts.MaxErrors]
	}

	if checked := res.Checked(); checked > 0 {
		res.PassRate = float64(res.Passed) / float64(checked) * 100
	}
	return res, nil
}

// checkOne writes code to a temp file and runs the checker on it.
func (v *Verifier) checkOne(ctx context.Context, dir string, idx int, code string, opts VerifyOptions) (bool, string, error) {
	path := filepath.Join(dir, fmt.Sprintf("block_%04d.jac", idx))
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return false, "", fmt.Errorf("write block %d: %w", idx, err)
	}
	defer os.Remove(path)

	r, err := v.runner.Run(ctx, dir, CheckConfig{
		Name:    fmt.Sprintf("block-%d", idx+1),
		Command: opts.Command + " " + shellQuote(path),
		Parser:  "jac",
		Timeout: opts.Timeout,
	})
	if err != nil {
		if errors.Is(err, ErrCheckerUnavailable) || ctx.Err() == context.Canceled {
			return false, "", err
		}
		// Any other execution problem fails only this block.
		return false, err.Error(), nil
	}
	return r.Passed, r.Summary, nil
}

// preview flattens code to one line of at most n bytes, cut on a rune
// boundary.
func preview(code string, n int) string {
	if len(code) <= n {
		return strings.ReplaceAll(code, "\n", " ")
	}
	for n > 0 && !utf8.RuneStart(code[n]) {
		n--
	}
	return strings.ReplaceAll(code[:n], "\n", " ") + "..."
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
