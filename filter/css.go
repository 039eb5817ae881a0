package filter

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Selector subset understood by the css stage:
//   - tag: "article", "div"
//   - .class, #id, tag.class, tag#id
//   - tag[attr], tag[attr=val]
//   - descendant combinator (space separated)
//   - selector groups separated by commas
var cssStage = Stage{
	Name:        "css",
	Description: "keep the elements matching a CSS selector",
	RecognizedOptions: map[string]string{
		"selector": "selector (subset: tag, .class, #id, [attr=val], descendants, groups)",
		"exclude":  "selector of descendants to remove from each match",
		"text":     "emit the text of matches instead of their HTML",
		"required": "fail when nothing matches",
	},
	DefaultOption: "selector",
	Apply: func(in string, opts Options) (string, error) {
		sel := strings.TrimSpace(opts.String("selector", ""))
		if sel == "" {
			return "", fmt.Errorf("empty selector")
		}
		return selectNodes(in, opts, func(doc *html.Node) []*html.Node {
			var out []*html.Node
			for _, group := range strings.Split(sel, ",") {
				out = append(out, querySelectorAll(doc, strings.TrimSpace(group))...)
			}
			return out
		})
	},
}

var elementByIDStage = Stage{
	Name:        "element-by-id",
	Description: "keep the element with the given id",
	RecognizedOptions: map[string]string{
		"id":       "element id",
		"text":     "emit text instead of HTML",
		"required": "fail when nothing matches",
	},
	DefaultOption: "id",
	Apply: func(in string, opts Options) (string, error) {
		id := opts.String("id", "")
		if id == "" {
			return "", fmt.Errorf("empty id")
		}
		return selectNodes(in, opts, func(doc *html.Node) []*html.Node {
			return matchSimple(doc, simpleSelector{id: id})
		})
	},
}

var elementByTagStage = Stage{
	Name:        "element-by-tag",
	Description: "keep every element with the given tag name",
	RecognizedOptions: map[string]string{
		"tag":      "tag name",
		"text":     "emit text instead of HTML",
		"required": "fail when nothing matches",
	},
	DefaultOption: "tag",
	Apply: func(in string, opts Options) (string, error) {
		tag := strings.ToLower(opts.String("tag", ""))
		if tag == "" {
			return "", fmt.Errorf("empty tag")
		}
		return selectNodes(in, opts, func(doc *html.Node) []*html.Node {
			return matchSimple(doc, simpleSelector{tag: tag})
		})
	},
}

func selectNodes(in string, opts Options, find func(*html.Node) []*html.Node) (string, error) {
	doc, err := html.Parse(strings.NewReader(in))
	if err != nil {
		return "", err
	}
	matches := find(doc)
	if len(matches) == 0 && opts.Bool("required", false) {
		return "", fmt.Errorf("no element matched")
	}

	exclude := strings.TrimSpace(opts.String("exclude", ""))
	asText := opts.Bool("text", false)

	parts := make([]string, 0, len(matches))
	for _, n := range matches {
		if exclude != "" {
			for _, ex := range querySelectorAll(n, exclude) {
				// The match itself is never detached from the document.
				if ex != n && ex.Parent != nil {
					ex.Parent.RemoveChild(ex)
				}
			}
		}
		if asText {
			parts = append(parts, collectText(n))
		} else {
			parts = append(parts, renderNode(n))
		}
	}
	return strings.Join(parts, "\n"), nil
}

// querySelectorAll returns the nodes under root matching a descendant chain.
func querySelectorAll(root *html.Node, selector string) []*html.Node {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return nil
	}
	matches := matchSimple(root, parseSimpleSelector(parts[0]))
	for _, part := range parts[1:] {
		sel := parseSimpleSelector(part)
		var next []*html.Node
		seen := make(map[*html.Node]bool)
		for _, parent := range matches {
			for c := parent.FirstChild; c != nil; c = c.NextSibling {
				for _, m := range matchSimple(c, sel) {
					if !seen[m] {
						seen[m] = true
						next = append(next, m)
					}
				}
			}
		}
		matches = next
	}
	return matches
}

type simpleSelector struct {
	tag     string
	id      string
	class   string
	attrKey string
	attrVal string
}

// parseSimpleSelector parses "tag.class", "#id", "tag[attr=val]", etc.
func parseSimpleSelector(sel string) simpleSelector {
	var s simpleSelector
	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		spec := strings.TrimRight(sel[idx+1:], "]")
		sel = sel[:idx]
		if eq := strings.IndexByte(spec, '='); eq >= 0 {
			s.attrKey = spec[:eq]
			s.attrVal = strings.Trim(spec[eq+1:], `"'`)
		} else {
			s.attrKey = spec
		}
	}
	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		s.id = sel[idx+1:]
		sel = sel[:idx]
	}
	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		s.class = sel[idx+1:]
		sel = sel[:idx]
	}
	s.tag = strings.ToLower(sel)
	return s
}

// matchSimple walks root (inclusive) and returns every matching element.
func matchSimple(root *html.Node, s simpleSelector) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if matchesSelector(n, s) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func matchesSelector(n *html.Node, s simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && s.tag != "*" && n.Data != s.tag {
		return false
	}
	if s.id != "" && attr(n, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.attrKey != "" {
		if !hasAttr(n, s.attrKey) {
			return false
		}
		if s.attrVal != "" && attr(n, s.attrKey) != s.attrVal {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func collectText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}
