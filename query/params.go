package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/redbeam/redbeam/errors"
)

// placeholderPattern matches {{name}} placeholders, tolerating inner
// whitespace: {{ region }} and {{region}} bind the same parameter.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// Placeholders returns the distinct parameter names referenced by text,
// sorted for stable reporting.
func Placeholders(text string) []string {
	seen := map[string]struct{}{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyParameters substitutes every {{name}} placeholder in text with its
// value from params. A placeholder with no supplied value is a user error
// naming the missing parameters; an empty string is never substituted
// silently.
func ApplyParameters(text string, params map[string]string) (string, error) {
	var missing []string
	result := placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		value, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return value
	})

	if len(missing) > 0 {
		sort.Strings(missing)
		return "", errors.NewInvalidRequestError(
			"missing values for parameters: %s", strings.Join(dedupe(missing), ", "))
	}
	return result, nil
}

func dedupe(names []string) []string {
	out := names[:0]
	for i, name := range names {
		if i == 0 || names[i-1] != name {
			out = append(out, name)
		}
	}
	return out
}

// Annotation builds the metadata comment prepended to query text for
// runners that support annotation. The backend's own logs then identify
// which task issued each query.
func Annotation(taskID, queryHash string) string {
	return fmt.Sprintf("/* Task: %s, Query hash: %s */", taskID, queryHash)
}
