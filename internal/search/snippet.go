package search

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/keyai/internal/store"
)

const (
	// MaxSnippetChars bounds lexical snippets after highlight processing.
	MaxSnippetChars = 300

	// semanticWindow is the character radius around the first literal
	// term match in a semantic snippet.
	semanticWindow = 80
)

// processFTSSnippet converts an FTS snippet into HTML-safe text: user
// content is escaped, the store's highlight markers become <b> tags, and
// the result is truncated.
func processFTSSnippet(s string) string {
	return truncateSnippet(escapeSnippetHTML(s), MaxSnippetChars)
}

// escapeSnippetHTML escapes user content in a snippet while preserving the
// highlight markers the store's snippet() call emits. Event content is
// user-controlled, so everything else is escaped before the markers are
// restored as the only allowed tags.
func escapeSnippetHTML(s string) string {
	const (
		openPlaceholder  = "\x00KEYAI_B_OPEN\x00"
		closePlaceholder = "\x00KEYAI_B_CLOSE\x00"
	)

	s = strings.ReplaceAll(s, store.SnippetOpenMarker, openPlaceholder)
	s = strings.ReplaceAll(s, store.SnippetCloseMarker, closePlaceholder)

	s = html.EscapeString(s)

	s = strings.ReplaceAll(s, openPlaceholder, "<b>")
	s = strings.ReplaceAll(s, closePlaceholder, "</b>")
	return s
}

// truncateSnippet truncates a snippet to approximately maxChars while:
// 1. Preserving valid UTF-8 (never splits multi-byte runes)
// 2. Preserving markup integrity (closes any open <b> tags)
// 3. Preferring word boundaries when possible
func truncateSnippet(s string, maxChars int) string {
	if maxChars <= 0 {
		return "..."
	}
	if len(s) <= maxChars {
		return s
	}

	truncateAt := maxChars
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	if truncateAt == 0 {
		return "..."
	}

	truncated := s[:truncateAt]

	// Avoid returning malformed HTML by trimming any partial tag/entity
	// suffix. The only tags present are <b> and </b>; escaped content may
	// contain entities such as &lt;.
	if lastLT := strings.LastIndex(truncated, "<"); lastLT != -1 && !strings.Contains(truncated[lastLT:], ">") {
		truncated = truncated[:lastLT]
	}
	if lastAmp := strings.LastIndex(truncated, "&"); lastAmp != -1 && !strings.Contains(truncated[lastAmp:], ";") {
		truncated = truncated[:lastAmp]
	}

	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > truncateAt/2 {
		truncated = truncated[:lastSpace]
	}

	openTags := strings.Count(truncated, "<b>")
	closeTags := strings.Count(truncated, "</b>")
	for range openTags - closeTags {
		truncated += "</b>"
	}

	return truncated + "..."
}

// semanticSnippet returns an HTML-escaped window of content centred on the
// first literal occurrence of any query term. Without a literal match it
// falls back to the head of the content.
func semanticSnippet(content string, terms []string) string {
	lower := strings.ToLower(content)

	matchStart, matchLen := -1, 0
	for _, term := range terms {
		t := strings.ToLower(term)
		if t == "" {
			continue
		}
		if idx := strings.Index(lower, t); idx != -1 && (matchStart == -1 || idx < matchStart) {
			matchStart, matchLen = idx, len(t)
		}
	}

	if matchStart == -1 {
		return html.EscapeString(headChars(content, 2*semanticWindow))
	}

	start := matchStart - semanticWindow
	if start < 0 {
		start = 0
	}
	end := matchStart + matchLen + semanticWindow
	if end > len(content) {
		end = len(content)
	}

	// Clamp both cuts to rune starts so the window is valid UTF-8 even
	// when the lower-cased index drifts on multi-byte input.
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}

	snippet := content[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet += "..."
	}
	return html.EscapeString(snippet)
}

// headChars returns up to n leading bytes of s cut at a rune boundary,
// with an ellipsis when content was dropped.
func headChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
