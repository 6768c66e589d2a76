package agent

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// RenderTemplate replaces {{path}} placeholders with values read from the JSON
// document data using gjson paths. Strings are inserted verbatim, other values
// as JSON; missing paths render as an empty string.
func RenderTemplate(template string, data []byte) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]
		res := gjson.GetBytes(data, path)
		switch {
		case !res.Exists():
			return ""
		case res.Type == gjson.String:
			return res.Str
		default:
			return res.Raw
		}
	})
}
