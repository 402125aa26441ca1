package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// BodySource resolves a content item's rendered body
type BodySource interface {
	GetContentBody(ctx context.Context, itemID string) (string, error)
}

// shortcodeTag matches an opening [tag ...] or closing [/tag] shortcode.
// Group 1 is the slash, group 2 the tag name.
var shortcodeTag = regexp.MustCompile(`\[(/?)([A-Za-z][\w-]*)(?:\s[^\]]*)?\]`)

// Normalizer converts content bodies into plain text for analysis
type Normalizer struct {
	source BodySource
}

// New creates a normalizer reading bodies from source.
func New(source BodySource) *Normalizer {
	return &Normalizer{source: source}
}

// Normalize returns the flat text of an item. A non-nil override is used
// instead of the stored body.
func (n *Normalizer) Normalize(ctx context.Context, itemID string, override *string) (string, error) {
	var raw string
	if override != nil {
		raw = *override
	} else {
		if n.source == nil {
			return "", fmt.Errorf("normalize %q: no body source", itemID)
		}
		body, err := n.source.GetContentBody(ctx, itemID)
		if err != nil {
			return "", fmt.Errorf("normalize %q: %w", itemID, err)
		}
		raw = body
	}
	return Text(raw), nil
}

// Text unwraps one level of shortcode wrappers and strips markup.
func Text(raw string) string {
	return StripMarkup(UnwrapShortcodes(raw))
}

// UnwrapShortcodes replaces each outermost [tag ...]inner[/tag] with inner in
// a single pass. The closing tag must carry the opening tag's name; nested
// wrappers keep their inner layers, so callers wanting full unwrapping can
// apply it until the text stops changing. Openings without a matching close
// are left as they are.
func UnwrapShortcodes(text string) string {
	tags := shortcodeTag.FindAllStringSubmatchIndex(text, -1)
	if len(tags) == 0 {
		return text
	}

	var b strings.Builder
	pos := 0
	for i := 0; i < len(tags); i++ {
		open := tags[i]
		if open[0] < pos || open[3] > open[2] {
			continue
		}
		name := text[open[4]:open[5]]
		j := closingTag(text, tags, i, name)
		if j < 0 || tags[j][0] == open[1] {
			continue
		}
		b.WriteString(text[pos:open[0]])
		b.WriteString(text[open[1]:tags[j][0]])
		pos = tags[j][1]
		i = j
	}
	b.WriteString(text[pos:])
	return b.String()
}

// closingTag returns the index in tags of the [/name] that closes tags[i],
// skipping nested wrappers of the same name, or -1.
func closingTag(text string, tags [][]int, i int, name string) int {
	depth := 0
	for j := i + 1; j < len(tags); j++ {
		t := tags[j]
		if text[t[4]:t[5]] != name {
			continue
		}
		if t[3] == t[2] {
			depth++
			continue
		}
		if t[1]-t[0] != len(name)+3 {
			continue
		}
		if depth == 0 {
			return j
		}
		depth--
	}
	return -1
}

var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Br: true, atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Figcaption: true, atom.Figure: true, atom.Footer: true, atom.H1: true,
	atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Li: true, atom.Main: true, atom.Nav: true,
	atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true, atom.Table: true,
	atom.Td: true, atom.Th: true, atom.Tr: true, atom.Ul: true,
}

var skippedElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true,
	atom.Template: true, atom.Iframe: true, atom.Svg: true,
}

// StripMarkup extracts text from an HTML fragment. Block elements become
// line breaks, entities are decoded, and whitespace runs collapse so no
// empty lines remain.
func StripMarkup(fragment string) string {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return collapse(fragment)
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			buf.WriteString(n.Data)
			return
		case html.CommentNode:
			return
		case html.ElementNode:
			if skippedElements[n.DataAtom] {
				return
			}
		}

		block := n.Type == html.ElementNode && blockElements[n.DataAtom]
		if block {
			buf.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			buf.WriteByte('\n')
		}
	}
	for _, n := range nodes {
		walk(n)
	}

	return collapse(buf.String())
}

// collapse squeezes horizontal whitespace and drops blank lines.
func collapse(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
