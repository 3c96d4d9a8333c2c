package format

import (
	"bytes"
	stdhtml "html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	richTextOnce     sync.Once
	richTextPolicy   *bluemonday.Policy
	markdownRenderer goldmark.Markdown
)

func richText() (*bluemonday.Policy, goldmark.Markdown) {
	richTextOnce.Do(func() {
		richTextPolicy = newRichTextPolicy()
		markdownRenderer = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		)
	})
	return richTextPolicy, markdownRenderer
}

func newRichTextPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("figure", "figcaption")
	policy.AllowAttrs("class").OnElements("figure", "figcaption", "p", "span", "table")
	policy.AllowAttrs("loading").OnElements("img")
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return policy
}

// RichText renders a CMS body field to safe HTML. Bodies that already look
// like HTML are only sanitized; anything else is treated as Markdown.
func RichText(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	policy, md := richText()
	if strings.HasPrefix(src, "<") {
		return strings.TrimSpace(policy.Sanitize(src))
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return strings.TrimSpace(policy.Sanitize(src))
	}
	return strings.TrimSpace(policy.Sanitize(buf.String()))
}

// PlainText strips every tag, for summaries and CLI output. Entities are
// decoded so the result is plain text, not HTML.
func PlainText(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	stripped := stdhtml.UnescapeString(bluemonday.StrictPolicy().Sanitize(src))
	return strings.Join(strings.Fields(stripped), " ")
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
