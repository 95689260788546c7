package telemetry

import "strings"

// jsonCharactersToEscape are escaped in this order. Backslashes must go first, otherwise the backslashes
// introduced in front of quotes would be escaped again.
var jsonCharactersToEscape = []string{
	`\`,
	`"`,
}

// EscapeJSONCharacters escapes backslashes and double quotes in s so that it can be embedded in a JSON string.
func EscapeJSONCharacters(s string) string {
	for _, c := range jsonCharactersToEscape {
		s = strings.ReplaceAll(s, c, `\`+c)
	}
	return s
}
