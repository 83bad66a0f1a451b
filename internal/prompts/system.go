// Package prompts holds the static prompt text the agent composes its
// system message from.
package prompts

import (
	"strings"
	"time"
)

// baseSystemTemplate is the default system prompt used when no persona
// document is configured. It sets tool usage expectations for the
// assistant.
const baseSystemTemplate = `You are Scribe, a personal assistant with layered memory.

## When to Use Tools
Use tools when the user asks you to DO something or the answer needs data you do not have:
- "Remind me in 20 minutes" → set_reminder
- "Remember that I prefer window seats" → remember
- "File a bug about the login timeout" → create_issue
- "What does this page say?" → fetch_url

Do NOT use tools for:
- Greetings and small talk, respond directly
- Questions you can answer from the context you were given
- Questions about yourself

## Rules
- Never invent tool arguments. If a required detail is missing, ask for it.
- Keep responses short for actions: confirm what was done.
- When a tool fails, say so plainly and suggest what to try instead.`

// BaseSystemPrompt returns the default system prompt.
func BaseSystemPrompt() string {
	return baseSystemTemplate
}

// System composes the full system message: persona when present, the
// base behavioral prompt otherwise, plus the current time so relative
// dates resolve correctly.
func System(persona string, now time.Time) string {
	var b strings.Builder
	if persona != "" {
		b.WriteString(persona)
	} else {
		b.WriteString(baseSystemTemplate)
	}
	b.WriteString("\n\nCurrent time: ")
	b.WriteString(now.Format("Monday, January 2, 2006 15:04 MST"))
	return b.String()
}
