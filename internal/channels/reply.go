package channels

import (
	"strings"

	"github.com/agentline/agentline/internal/ask"
)

// NoAnswerReply is sent when the gateway returns an empty reply.
const NoAnswerReply = "No answer available."

// FallbackReply is sent to the end user when the ask gateway fails.
// Raw errors are never surfaced into the chat.
const FallbackReply = "Sorry, there was an error processing your request."

// ComposeReply renders an answer as outbound chat text: the reply
// followed by a bulleted source list when citations are present, in the
// order returned by the gateway.
func ComposeReply(answer *ask.Answer) string {
	if answer == nil {
		return NoAnswerReply
	}
	reply := answer.Reply
	if reply == "" {
		reply = NoAnswerReply
	}
	if len(answer.Sources) == 0 {
		return reply
	}

	var b strings.Builder
	b.WriteString(reply)
	b.WriteString("\n\nSources:\n")
	for i, src := range answer.Sources {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(src.Title())
		if src.SourceURL != "" {
			b.WriteString(" (")
			b.WriteString(src.SourceURL)
			b.WriteString(")")
		}
	}
	return b.String()
}
