// Package prompt renders the text of tracked items from small templates.
//
// The template syntax is deliberately tiny: {{name}} expands a variable and
// {{#if name}}...{{/if}} keeps its body only when name is set and non-empty.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	varRe    = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
)

const ifClose = "{{/if}}"

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Render expands tmpl with vars. Every variable referenced outside a dropped
// conditional must be present; all missing names are reported together.
// Values are inserted verbatim and never expanded again.
func Render(tmpl string, vars Vars) (string, error) {
	body, err := resolveConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	out := varRe.ReplaceAllStringFunc(body, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// resolveConditionals removes or unwraps {{#if}} blocks, innermost first:
// for each {{/if}} the nearest preceding {{#if}} is its opener.
func resolveConditionals(tmpl string, vars Vars) (string, error) {
	s := tmpl
	for {
		closeAt := strings.Index(s, ifClose)
		if closeAt < 0 {
			break
		}
		opens := ifOpenRe.FindAllStringSubmatchIndex(s[:closeAt], -1)
		if len(opens) == 0 {
			return "", fmt.Errorf("dangling %s without matching {{#if}}", ifClose)
		}
		open := opens[len(opens)-1]
		name := s[open[2]:open[3]]

		keep := ""
		if vars[name] != "" {
			keep = s[open[1]:closeAt]
		}
		s = s[:open[0]] + keep + s[closeAt+len(ifClose):]
	}
	if loc := ifOpenRe.FindString(s); loc != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}
	return s, nil
}

// LoadTemplate returns the template named by path. An empty path or the
// name of a built-in template selects the built-in; anything else is read
// from disk relative to workdir and may not escape it.
func LoadTemplate(path, workdir string) (string, error) {
	if path == "" {
		path = IssueBodyTemplate
	}
	if t, ok := builtinTemplates[path]; ok {
		return t, nil
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("template path %q must be relative", path)
	}
	if workdir == "" {
		workdir = "."
	}

	absWorkdir, err := filepath.Abs(workdir)
	if err != nil {
		return "", fmt.Errorf("resolve workdir: %w", err)
	}
	full := filepath.Join(absWorkdir, path)
	if full != absWorkdir && !strings.HasPrefix(full, absWorkdir+string(filepath.Separator)) {
		return "", fmt.Errorf("template path %q escapes workdir", path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read template %q: %w", path, err)
	}
	return string(data), nil
}
