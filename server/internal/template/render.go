package template

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Template is a subject/body pair with {{path}} placeholders.
// Variables lists the paths the template expects; when empty, every
// placeholder present in Subject or Body is resolved.
type Template struct {
	Subject   string   `yaml:"subject" json:"subject"`
	Body      string   `yaml:"body" json:"body"`
	Variables []string `yaml:"variables" json:"variables,omitempty"`
}

// Rendered is the output of Render, handed to a transport.
type Rendered struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Context is the nested lookup space for placeholders. Top-level keys are
// "alert", "environment" and "timestamp".
type Context map[string]any

// NewContext assembles a render context.
func NewContext(alert map[string]any, environment map[string]string, ts time.Time) Context {
	env := make(map[string]any, len(environment))
	for k, v := range environment {
		env[k] = v
	}
	return Context{
		"alert":       alert,
		"environment": env,
		"timestamp":   ts.UTC().Format(time.RFC3339),
	}
}

// Render substitutes every placeholder of t.
func Render(t Template, ctx Context) Rendered {
	vars := t.Variables
	if len(vars) == 0 {
		vars = Placeholders(t.Subject + "\n" + t.Body)
	}
	values := make(map[string]string, len(vars))
	for _, v := range vars {
		values[strings.TrimSpace(v)] = Resolve(ctx, v)
	}

	sub := func(s string) string {
		return placeholder.ReplaceAllStringFunc(s, func(m string) string {
			path := placeholder.FindStringSubmatch(m)[1]
			if v, ok := values[path]; ok {
				return v
			}
			return m
		})
	}
	return Rendered{Subject: sub(t.Subject), Body: sub(t.Body)}
}

// Placeholders returns the distinct paths referenced in s, in order of
// first appearance.
func Placeholders(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

// Resolve walks a dot-delimited path through ctx and formats the value.
// Any missing segment yields "".
func Resolve(ctx Context, path string) string {
	var cur any = map[string]any(ctx)
	for _, seg := range strings.Split(strings.TrimSpace(path), ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return ""
			}
			cur = next
		case map[string]string:
			next, ok := node[seg]
			if !ok {
				return ""
			}
			cur = next
		default:
			return ""
		}
	}
	return format(cur)
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return ""
		}
		return format(*x)
	case map[string]string:
		return formatMap(x)
	case map[string]any:
		m := make(map[string]string, len(x))
		for k, val := range x {
			m[k] = format(val)
		}
		return formatMap(m)
	default:
		return fmt.Sprint(x)
	}
}

// formatMap renders a map as sorted k=v pairs.
func formatMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, ", ")
}
