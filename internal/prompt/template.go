package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Render expands a template string with the given variables.
// {{variable}} is replaced with its value and a missing variable is an error.
// {{#if variable}}...{{/if}} blocks are kept only when the variable is non-empty.
// The single-brace {content} placeholder is left for the transformer.
func Render(tmpl string, vars Vars) (string, error) {
	body, err := expandConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	out := varRe.ReplaceAllStringFunc(body, func(match string) string {
		name := match[2 : len(match)-2]
		if val, ok := vars[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// expandConditionals resolves {{#if}} blocks innermost first: for each
// {{/if}} the nearest preceding {{#if name}} is its opener.
func expandConditionals(tmpl string, vars Vars) (string, error) {
	s := tmpl
	for {
		closeIdx := strings.Index(s, ifCloseStr)
		if closeIdx < 0 {
			break
		}
		opens := ifOpenRe.FindAllStringSubmatchIndex(s[:closeIdx], -1)
		if len(opens) == 0 {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}
		o := opens[len(opens)-1]
		name := s[o[2]:o[3]]

		keep := ""
		if vars[name] != "" {
			keep = s[o[1]:closeIdx]
		}
		s = s[:o[0]] + keep + s[closeIdx+len(ifCloseStr):]
	}

	if loc := ifOpenRe.FindString(s); loc != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}
	return s, nil
}

// Load returns the named template. A file of that name in dir overrides the
// built-in; dir may be empty.
func Load(name string, dir string) (string, error) {
	if dir != "" {
		path := filepath.Join(dir, name)
		absPath, err := filepath.Abs(path)
		if err == nil {
			absDir, err2 := filepath.Abs(dir)
			if err2 == nil && !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
				return "", fmt.Errorf("template name %q escapes prompts dir", name)
			}
		}
		if data, err := os.ReadFile(path); err == nil {
			return string(data), nil
		}
	}

	tmpl, ok := builtinTemplates[name]
	if !ok {
		return "", fmt.Errorf("template %q not found", name)
	}
	return tmpl, nil
}

// LoadAndRender loads the named template and renders it with vars.
func LoadAndRender(name, dir string, vars Vars) (string, error) {
	tmpl, err := Load(name, dir)
	if err != nil {
		return "", err
	}
	out, err := Render(tmpl, vars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return out, nil
}

// InstallBuiltinTemplates writes the built-in templates into dir without
// overwriting existing files. It returns the names it wrote.
func InstallBuiltinTemplates(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create prompts dir: %w", err)
	}

	var written []string
	for _, name := range Names() {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(builtinTemplates[name]), 0o644); err != nil {
			return written, fmt.Errorf("write template %q: %w", name, err)
		}
		written = append(written, name)
	}
	return written, nil
}

// Names returns the built-in template names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtinTemplates))
	for name := range builtinTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
