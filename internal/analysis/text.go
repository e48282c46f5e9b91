package analysis

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	prose "github.com/jdkato/prose/v2"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// StripHTML flattens LMS-rendered HTML (post bodies, activity descriptions)
// into plain text.
func StripHTML(html string) string {
	if html == "" {
		return ""
	}
	if !strings.Contains(html, "<") {
		return strings.TrimSpace(html)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}

	doc.Find("script, style, img").Remove()
	text := doc.Text()
	text = whitespaceRE.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

// Excerpt keeps the first maxSentences sentences of text, so prompts carry
// bounded, whole-sentence quotes instead of mid-word truncations.
func Excerpt(text string, maxSentences int) string {
	text = strings.TrimSpace(text)
	if text == "" || maxSentences <= 0 {
		return ""
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return truncate(text, 200)
	}

	sentences := doc.Sentences()
	if len(sentences) <= maxSentences {
		return text
	}

	parts := make([]string, 0, maxSentences)
	for i := 0; i < maxSentences; i++ {
		parts = append(parts, strings.TrimSpace(sentences[i].Text))
	}

	return strings.Join(parts, " ")
}

// truncate caps s at limit bytes without splitting a multi-byte rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
