package fetch

import (
	"strings"
	"testing"
)

func TestExtractHTML(t *testing.T) {
	raw := `<!DOCTYPE html>
<html>
<head><title>Release Notes</title><style>body { color: red }</style></head>
<body>
<nav>Home | About | Contact</nav>
<header>Site banner</header>
<aside>Sponsored links</aside>
<main>
<h1>Version 2.0</h1>
<p>This   release adds    streaming support.</p>
<script>trackPageView();</script>
<ul><li>Faster startup</li><li>Lower memory use</li></ul>
</main>
<footer>Copyright 2026</footer>
</body>
</html>`

	title, content := extractHTML(raw)
	if title != "Release Notes" {
		t.Errorf("title = %q", title)
	}
	for _, want := range []string{"Version 2.0", "streaming support", "Faster startup", "Lower memory use"} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q:\n%s", want, content)
		}
	}
	for _, banned := range []string{"trackPageView", "color: red", "Home | About", "Site banner", "Sponsored links", "Copyright 2026"} {
		if strings.Contains(content, banned) {
			t.Errorf("content leaked %q:\n%s", banned, content)
		}
	}
	if strings.Contains(content, "This   release") {
		t.Error("whitespace runs not collapsed")
	}
}

func TestExtractHTMLNoTitle(t *testing.T) {
	title, content := extractHTML("<html><body><p>plain page</p></body></html>")
	if title != "" {
		t.Errorf("title = %q, want empty", title)
	}
	if !strings.Contains(content, "plain page") {
		t.Errorf("content = %q", content)
	}
}

func TestTruncateUTF8(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes per rune
	got := truncateUTF8(s, 5)
	if got != strings.Repeat("é", 5) {
		t.Errorf("got %q", got)
	}
	if truncateUTF8("short", 100) != "short" {
		t.Error("short string should pass through")
	}
}

func TestContentTypeDetection(t *testing.T) {
	if !isHTML("text/html; charset=utf-8") || !isHTML("application/xhtml+xml") {
		t.Error("html types not detected")
	}
	if isHTML("application/json") {
		t.Error("json misdetected as html")
	}
	if !isPlainText("text/plain; charset=us-ascii") {
		t.Error("plain text not detected")
	}
}
