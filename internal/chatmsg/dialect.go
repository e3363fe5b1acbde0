package chatmsg

import "strings"

// dialect renders the link and emphasis markup of a chat system.
// Text is never escaped, messages carry the event values unchanged.
type dialect interface {
	link(url, text string) string
	bold(text string) string
}

type slackDialect struct{}

func (slackDialect) link(url, text string) string {
	return "<" + url + "|" + text + ">"
}

func (slackDialect) bold(text string) string {
	return "*" + text + "*"
}

// markdownDialect is used by Mattermost, which renders incoming webhook
// text as markdown.
type markdownDialect struct{}

var markdownLinkTextEscaper = strings.NewReplacer("[", `\[`, "]", `\]`)

func (markdownDialect) link(url, text string) string {
	return "[" + markdownLinkTextEscaper.Replace(text) + "](" + url + ")"
}

func (markdownDialect) bold(text string) string {
	return "**" + text + "**"
}
