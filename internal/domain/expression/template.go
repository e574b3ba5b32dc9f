package expression

import (
	"fmt"
	"regexp"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Interpolate replaces {{path}} placeholders with values from scope. Unresolved placeholders
// render as an empty string.
func Interpolate(template string, s Scope) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]
		v := s.Lookup(path)
		if IsUndefined(v) {
			return ""
		}
		return fmt.Sprint(v)
	})
}
