package slack

import (
	"regexp"
	"strings"
)

// Slack interprets &, < and > as control characters in message text.
// https://api.slack.com/reference/surfaces/formatting#escaping

var entityEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// linkRe matches the <url|text> markup created by chatmsg.
var linkRe = regexp.MustCompile(`<([^<>|\s]+)\|([^<>]*)>`)

func escapeText(s string) string {
	return entityEscaper.Replace(s)
}

// escapePretext escapes s while keeping its link markup intact. The
// url of a link is kept as is, its text is escaped.
func escapePretext(s string) string {
	var sb strings.Builder

	last := 0
	for _, m := range linkRe.FindAllStringSubmatchIndex(s, -1) {
		sb.WriteString(entityEscaper.Replace(s[last:m[0]]))
		sb.WriteString("<")
		sb.WriteString(s[m[2]:m[3]])
		sb.WriteString("|")
		sb.WriteString(entityEscaper.Replace(s[m[4]:m[5]]))
		sb.WriteString(">")
		last = m[1]
	}
	sb.WriteString(entityEscaper.Replace(s[last:]))

	return sb.String()
}
