package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ProfileStore reads the profile document set: PERSONA.md (how the
// assistant behaves), USER.md (who it is talking to), and TOOLS.md
// (operating notes). Documents are read-only from the facade's point
// of view; editing them is an operator action.
type ProfileStore struct {
	dir string
}

// Profile document filenames.
const (
	personaFile = "PERSONA.md"
	userFile    = "USER.md"
	toolsFile   = "TOOLS.md"
)

// NewProfileStore creates a profile store rooted at dir.
func NewProfileStore(dir string) (*ProfileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	return &ProfileStore{dir: dir}, nil
}

// Persona returns the full persona document, or an empty string when
// none exists.
func (s *ProfileStore) Persona() string {
	data, err := os.ReadFile(filepath.Join(s.dir, personaFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Relevant returns profile sections matching the query by keyword
// overlap, best match first. USER.md sections are only considered for
// direct conversations; TOOLS.md sections are always considered.
func (s *ProfileStore) Relevant(query string, kind ConversationKind, limit int) []Entry {
	if limit <= 0 {
		limit = 5
	}

	files := []string{toolsFile}
	if kind == KindDirect {
		files = append(files, userFile)
	}

	type scored struct {
		entry Entry
		score int
	}
	var matches []scored
	for _, name := range files {
		src, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		doc := strings.TrimSuffix(name, ".md")
		for _, sec := range parseSections(src) {
			body := strings.TrimSpace(string(src[sec.start:sec.end]))
			if body == "" {
				continue
			}
			if score := relevanceScore(query, sec.title+" "+body); score > 0 {
				matches = append(matches, scored{
					entry: Entry{
						Layer:    LayerProfile,
						Category: doc + "/" + sec.title,
						Text:     body,
					},
					score: score,
				})
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Entry, len(matches))
	for i, m := range matches {
		out[i] = m.entry
	}
	return out
}
