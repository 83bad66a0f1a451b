package rag

import "strings"

// historyCues are phrases that suggest a message refers back to earlier
// conversation, making a retrieval search worthwhile. Checked before
// the embedding call, which is the expensive part.
var historyCues = []string{
	"remember",
	"recall",
	"yesterday",
	"last week",
	"last month",
	"last time",
	"earlier",
	"before",
	"previously",
	"we discussed",
	"we talked",
	"we decided",
	"you said",
	"you mentioned",
	"i said",
	"i told you",
	"did i",
	"did we",
	"did you",
	"what did",
	"when did",
	"who said",
	"history",
	" ago",
}

// NeedsSearch reports whether a turn's text carries temporal or
// history-referencing cues worth a retrieval search.
func NeedsSearch(text string) bool {
	lower := strings.ToLower(text)
	for _, cue := range historyCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}
