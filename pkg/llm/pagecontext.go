package llm

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/net/html"
)

// DefaultContextTokens is the default token budget for page context.
const DefaultContextTokens = 4000

// ContextBuilder renders page HTML into a compact, token-budgeted summary
// suitable for a model prompt: the page title plus one line per meaningful
// element, with scripts, styles, and layout noise stripped.
type ContextBuilder struct {
	maxTokens int
	encoding  *tiktoken.Tiktoken
}

// NewContextBuilder creates a builder with the given token budget. The
// encoding is resolved for the given model name, falling back to cl100k_base
// for unknown models.
func NewContextBuilder(model string, maxTokens int) (*ContextBuilder, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultContextTokens
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to load token encoding: %w", err)
		}
	}

	return &ContextBuilder{maxTokens: maxTokens, encoding: encoding}, nil
}

// Build renders raw page HTML into the summary form. Unparseable HTML yields
// an empty context; the caller proceeds with whatever other signals it has.
func (b *ContextBuilder) Build(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var lines []string
	if title := pageTitle(doc); title != "" {
		lines = append(lines, "title: "+title)
	}
	collectElements(doc, &lines)

	return b.truncate(strings.Join(lines, "\n"))
}

// truncate enforces the token budget, cutting at a token boundary.
func (b *ContextBuilder) truncate(text string) string {
	tokens := b.encoding.Encode(text, nil, nil)
	if len(tokens) <= b.maxTokens {
		return text
	}
	return b.encoding.Decode(tokens[:b.maxTokens])
}

// summarized are the tags rendered into the context, with the attributes
// worth carrying for each.
var summarized = map[string][]string{
	"a":        {"href", "aria-label"},
	"button":   {"type", "aria-label"},
	"input":    {"type", "name", "placeholder", "aria-label", "value"},
	"select":   {"name", "aria-label"},
	"textarea": {"name", "placeholder", "aria-label"},
	"label":    {"for"},
	"h1":       nil,
	"h2":       nil,
	"h3":       nil,
	"form":     {"action"},
	"img":      {"alt"},
}

// skipped subtrees contribute nothing to element descriptions.
var skipped = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"svg":      true,
}

// collectElements walks the document emitting one line per summarized
// element.
func collectElements(n *html.Node, lines *[]string) {
	if n.Type == html.ElementNode {
		tag := strings.ToLower(n.Data)
		if skipped[tag] {
			return
		}
		if attrs, ok := summarized[tag]; ok {
			*lines = append(*lines, describeElement(n, tag, attrs))
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectElements(c, lines)
	}
}

// describeElement renders one element as "<tag attr="v"> text".
func describeElement(n *html.Node, tag string, attrs []string) string {
	var sb strings.Builder
	sb.WriteString("<")
	sb.WriteString(tag)
	for _, want := range attrs {
		for _, attr := range n.Attr {
			if attr.Key == want && attr.Val != "" {
				fmt.Fprintf(&sb, " %s=%q", attr.Key, attr.Val)
			}
		}
	}
	sb.WriteString(">")

	if text := nodeText(n); text != "" {
		sb.WriteString(" ")
		sb.WriteString(text)
	}
	return sb.String()
}

// nodeText gathers the trimmed text content of a subtree, capped to keep a
// single verbose element from dominating the budget.
func nodeText(n *html.Node) string {
	const maxTextLen = 120

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if sb.Len() > maxTextLen {
			return
		}
		if node.Type == html.TextNode {
			if text := strings.TrimSpace(node.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteString(" ")
				}
				sb.WriteString(text)
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	text := sb.String()
	if len(text) > maxTextLen {
		text = text[:maxTextLen] + "..."
	}
	return text
}

// pageTitle extracts the <title> text.
func pageTitle(doc *html.Node) string {
	var title string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && strings.ToLower(n.Data) == "title" {
			title = nodeText(n)
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return title
}
