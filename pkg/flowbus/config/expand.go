package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// varPattern matches ${NAME}.
var varPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// UndefinedVariableError lists the ${NAME} references without a value.
type UndefinedVariableError struct {
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

// Expand returns a copy of c with every ${NAME} in string values replaced
// from vars, recursing into nested sections and lists. References without
// a value fail with *UndefinedVariableError.
func (c Config) Expand(vars map[string]string) (Config, error) {
	var missing []string
	out := expandValue(c.data, vars, &missing)
	if len(missing) > 0 {
		return Config{}, &UndefinedVariableError{Names: missing}
	}
	m, _ := out.(map[string]any)
	return New(m), nil
}

// ExpandEnv expands ${NAME} references from the process environment.
func (c Config) ExpandEnv() (Config, error) {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return c.Expand(vars)
}

func expandValue(v any, vars map[string]string, missing *[]string) any {
	switch val := v.(type) {
	case string:
		return varPattern.ReplaceAllStringFunc(val, func(match string) string {
			name := match[2 : len(match)-1]
			if s, ok := vars[name]; ok {
				return s
			}
			*missing = append(*missing, name)
			return match
		})
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = expandValue(item, vars, missing)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandValue(item, vars, missing)
		}
		return out
	default:
		return v
	}
}
