package client

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	libretoerrors "github.com/tombee/libretto/pkg/errors"
)

// placeholderPattern matches {name} segments in a path template.
var placeholderPattern = regexp.MustCompile(`\{([^{}/]+)\}`)

// ResolvePath substitutes {placeholder} segments in a path template.
//
// When positional args are given they are matched to placeholders in
// order and must match the placeholder count exactly. Otherwise each
// placeholder consumes the key of the same name from params, so the value
// does not also travel as a query or body field. Values are rendered with
// %v and path-escaped.
//
// The params map is never mutated; the returned map holds whatever keys
// remain after substitution.
func ResolvePath(path string, args []any, params map[string]any) (string, map[string]any, error) {
	remaining := make(map[string]any, len(params))
	for k, v := range params {
		remaining[k] = v
	}

	matches := placeholderPattern.FindAllStringSubmatch(path, -1)
	if len(matches) == 0 {
		if len(args) > 0 {
			return "", nil, &libretoerrors.ValidationError{
				Field:   "path",
				Message: fmt.Sprintf("path %q has no placeholders for %d positional arguments", path, len(args)),
			}
		}
		return path, remaining, nil
	}

	resolved := path

	if len(args) > 0 {
		if len(args) != len(matches) {
			return "", nil, &libretoerrors.ValidationError{
				Field: "path",
				Message: fmt.Sprintf("path %q expects %d positional arguments, got %d",
					path, len(matches), len(args)),
			}
		}
		for i, m := range matches {
			segment, err := pathSegment(m[1], args[i])
			if err != nil {
				return "", nil, err
			}
			resolved = strings.Replace(resolved, m[0], segment, 1)
		}
		return resolved, remaining, nil
	}

	seen := make(map[string]string, len(matches))
	for _, m := range matches {
		name := m[1]
		if segment, ok := seen[name]; ok {
			resolved = strings.Replace(resolved, m[0], segment, 1)
			continue
		}
		value, ok := remaining[name]
		if !ok {
			return "", nil, &libretoerrors.ValidationError{
				Field:      name,
				Message:    fmt.Sprintf("path %q needs a value for {%s}", path, name),
				Suggestion: "pass it positionally or include it in params",
			}
		}
		segment, err := pathSegment(name, value)
		if err != nil {
			return "", nil, err
		}
		seen[name] = segment
		delete(remaining, name)
		resolved = strings.Replace(resolved, m[0], segment, 1)
	}
	return resolved, remaining, nil
}

// pathSegment renders one placeholder value and rejects traversal
// sequences before escaping makes them inert elsewhere.
func pathSegment(name string, value any) (string, error) {
	s := fmt.Sprintf("%v", value)
	if s == "" {
		return "", &libretoerrors.ValidationError{
			Field:   name,
			Message: fmt.Sprintf("path placeholder {%s} resolved to an empty value", name),
		}
	}
	if s == "." || s == ".." || strings.Contains(strings.ToLower(s), "../") || strings.Contains(strings.ToLower(s), "..\\") {
		return "", &libretoerrors.ValidationError{
			Field:   name,
			Message: fmt.Sprintf("path placeholder {%s} contains a traversal sequence", name),
		}
	}
	return url.PathEscape(s), nil
}
