package ws

import (
	"regexp"
	"strings"
)

// addressing recognizes group messages aimed at the bot: an @username
// mention anywhere, or the bot's name and a separator such as ":" or ","
// at the start.
type addressing struct {
	mention *regexp.Regexp
	prefix  *regexp.Regexp
}

func newAddressing(username, name string) addressing {
	var a addressing
	if username = strings.TrimPrefix(strings.TrimSpace(username), "@"); username != "" {
		a.mention = regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(username) + `\b`)
	}
	if name = strings.TrimSpace(name); name != "" {
		a.prefix = regexp.MustCompile(`(?i)^\s*` + regexp.QuoteMeta(name) + `\s*[:,\-—]`)
	}
	return a
}

// detect reports whether text addresses the bot and returns it with the
// mention removed. Text that would be empty after cleaning is returned as is.
func (a addressing) detect(text string) (bool, string) {
	cleaned := text
	switch {
	case a.mention != nil && a.mention.MatchString(text):
		loc := a.mention.FindStringIndex(text)
		cleaned = strings.TrimSpace(text[:loc[0]]) + " " + strings.TrimSpace(text[loc[1]:])
	case a.prefix != nil && a.prefix.MatchString(text):
		cleaned = a.prefix.ReplaceAllString(text, "")
	default:
		return false, text
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return true, text
	}
	return true, cleaned
}
