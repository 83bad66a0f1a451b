package memory

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// DurableStore holds curated long-term memory as markdown documents on
// disk: MEMORY.md organised into "## Category" sections, plus one log
// file per day under daily/. Writes are atomic (temp file + rename)
// and serialized per document, so concurrent writers queue rather than
// interleave.
type DurableStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// memoryFile is the curated fact document inside the store directory.
const memoryFile = "MEMORY.md"

// NewDurableStore creates a durable store rooted at dir.
func NewDurableStore(dir string) (*DurableStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "daily"), 0o755); err != nil {
		return nil, fmt.Errorf("create durable memory dir: %w", err)
	}
	return &DurableStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// fileLock returns the mutex serializing writes to one document.
func (s *DurableStore) fileLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Remember appends an entry under the given category section of
// MEMORY.md, creating the section if needed. Category matching is
// case-insensitive.
func (s *DurableStore) Remember(category, text string) error {
	category = strings.TrimSpace(category)
	text = strings.TrimSpace(text)
	if category == "" {
		category = "General"
	}
	if text == "" {
		return fmt.Errorf("remember: empty text")
	}

	lock := s.fileLock(memoryFile)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(s.dir, memoryFile)
	src, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read %s: %w", memoryFile, err)
		}
		src = []byte("# Memory\n")
	}

	entry := "- " + text
	var out []byte

	if sec, ok := findSection(src, category); ok {
		head := bytes.TrimRight(src[:sec.end], "\n")
		var buf bytes.Buffer
		buf.Write(head)
		buf.WriteByte('\n')
		buf.WriteString(entry)
		buf.WriteByte('\n')
		if tail := src[sec.end:]; len(tail) > 0 {
			buf.WriteByte('\n')
			buf.Write(tail)
		}
		out = buf.Bytes()
	} else {
		var buf bytes.Buffer
		buf.Write(bytes.TrimRight(src, "\n"))
		buf.WriteString("\n\n## " + category + "\n\n" + entry + "\n")
		out = buf.Bytes()
	}

	if err := writeFileAtomic(path, out); err != nil {
		return fmt.Errorf("write %s: %w", memoryFile, err)
	}
	return nil
}

// Entries returns every entry in MEMORY.md with its category.
func (s *DurableStore) Entries() ([]Entry, error) {
	src, err := os.ReadFile(filepath.Join(s.dir, memoryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", memoryFile, err)
	}

	var entries []Entry
	for _, sec := range parseSections(src) {
		for _, line := range strings.Split(string(src[sec.start:sec.end]), "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "- ") {
				continue
			}
			entries = append(entries, Entry{
				Layer:    LayerDurable,
				Category: sec.title,
				Text:     strings.TrimPrefix(line, "- "),
			})
		}
	}
	return entries, nil
}

// Search returns up to limit entries ranked by lexical relevance to
// the query. Entries with no term overlap are omitted.
func (s *DurableStore) Search(query string, limit int) ([]Entry, error) {
	entries, err := s.Entries()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	type scored struct {
		entry Entry
		score int
	}
	var matches []scored
	for _, e := range entries {
		if score := relevanceScore(query, e.Category+" "+e.Text); score > 0 {
			matches = append(matches, scored{e, score})
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
	return out, nil
}

// AppendDaily appends a timestamped line to today's log file.
func (s *DurableStore) AppendDaily(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("daily log: empty text")
	}

	now := time.Now()
	day := now.Format("2006-01-02")
	name := filepath.Join("daily", day+".md")

	lock := s.fileLock(name)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(s.dir, name)
	src, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read daily log: %w", err)
		}
		src = []byte("# " + day + "\n")
	}

	var buf bytes.Buffer
	buf.Write(bytes.TrimRight(src, "\n"))
	buf.WriteString("\n- " + now.Format("15:04") + " " + text + "\n")

	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("write daily log: %w", err)
	}
	return nil
}

// RecentDaily returns up to limit entries from the most recent daily
// logs, newest file first.
func (s *DurableStore) RecentDaily(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}

	dir := filepath.Join(s.dir, "daily")
	names, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read daily dir: %w", err)
	}

	var days []string
	for _, de := range names {
		if !de.IsDir() && strings.HasSuffix(de.Name(), ".md") {
			days = append(days, de.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	var entries []Entry
	for _, day := range days {
		src, err := os.ReadFile(filepath.Join(dir, day))
		if err != nil {
			continue
		}
		date, _ := time.Parse("2006-01-02", strings.TrimSuffix(day, ".md"))
		for _, line := range strings.Split(string(src), "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "- ") {
				continue
			}
			entries = append(entries, Entry{
				Layer:     LayerDurable,
				Category:  "daily",
				Text:      strings.TrimPrefix(line, "- "),
				Timestamp: date,
			})
			if len(entries) >= limit {
				return entries, nil
			}
		}
	}
	return entries, nil
}

// section is a "## Title" block within a markdown document. start and
// end are byte offsets of the section body (after the heading line, up
// to the next level-2 heading or EOF).
type section struct {
	title string
	start int
	end   int
}

// parseSections finds level-2 heading sections using the goldmark AST.
func parseSections(src []byte) []section {
	doc := goldmark.DefaultParser().Parse(gmtext.NewReader(src))

	type heading struct {
		title string
		// lineStart is the byte offset of the "## " marker.
		lineStart int
		// bodyStart is the byte offset just past the heading text.
		bodyStart int
	}
	var heads []heading
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 2 || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(h.Lines().Len() - 1)
		lineStart := h.Lines().At(0).Start - (h.Level + 1)
		if lineStart < 0 {
			lineStart = 0
		}
		heads = append(heads, heading{
			title:     string(h.Text(src)),
			lineStart: lineStart,
			bodyStart: seg.Stop,
		})
	}

	secs := make([]section, len(heads))
	for i, h := range heads {
		end := len(src)
		if i+1 < len(heads) {
			end = heads[i+1].lineStart
		}
		secs[i] = section{title: h.title, start: h.bodyStart, end: end}
	}
	return secs
}

// findSection locates a section by case-insensitive title and returns
// its body range.
func findSection(src []byte, title string) (section, bool) {
	for _, sec := range parseSections(src) {
		if strings.EqualFold(sec.title, title) {
			return sec, true
		}
	}
	return section{}, false
}

// stopwords are query terms too common to carry relevance signal.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "that": {}, "this": {}, "with": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "how": {},
	"did": {}, "does": {}, "was": {}, "were": {}, "have": {}, "has": {},
	"about": {}, "you": {}, "your": {}, "are": {}, "can": {}, "tell": {},
}

// relevanceScore counts query terms appearing in the candidate text.
// Terms shorter than three characters and stopwords are ignored.
func relevanceScore(query, text string) int {
	text = strings.ToLower(text)
	score := 0
	for _, term := range strings.Fields(strings.ToLower(query)) {
		term = strings.Trim(term, ".,!?\"'")
		if len(term) < 3 {
			continue
		}
		if _, ok := stopwords[term]; ok {
			continue
		}
		if strings.Contains(text, term) {
			score++
		}
	}
	return score
}

// writeFileAtomic writes data to a temp file in the target directory
// and renames it into place, so readers never observe a partial write.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
