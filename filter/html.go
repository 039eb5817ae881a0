package filter

import (
	"fmt"
	stdhtml "html"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var html2textStage = Stage{
	Name:        "html2text",
	Description: "convert HTML to markdown or plain text",
	RecognizedOptions: map[string]string{
		"method": "markdown (default) or text",
		"domain": "base URL used to absolutize links in markdown output",
	},
	DefaultOption: "method",
	Apply: func(in string, opts Options) (string, error) {
		switch method := opts.String("method", "markdown"); method {
		case "markdown":
			return htmlToMarkdown(in, opts.String("domain", ""))
		case "text":
			return htmlToText(in)
		default:
			return "", fmt.Errorf("unknown method %q", method)
		}
	},
}

func htmlToMarkdown(in, domain string) (string, error) {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	var (
		out string
		err error
	)
	if domain != "" {
		out, err = conv.ConvertString(in, converter.WithDomain(domain))
	} else {
		out, err = conv.ConvertString(in)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// htmlToText renders the visible text of a document, one block per line.
func htmlToText(in string) (string, error) {
	doc, err := html.Parse(strings.NewReader(in))
	if err != nil {
		return "", err
	}
	var lines []string
	var cur strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Head:
				return
			}
		}
		if n.Type == html.TextNode {
			cur.WriteString(n.Data)
			cur.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.DataAtom) {
			flush()
		}
	}
	walk(doc)
	flush()
	return strings.Join(lines, "\n"), nil
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.Table, atom.Section,
		atom.Article, atom.Header, atom.Footer, atom.Main, atom.Nav, atom.Ul, atom.Ol,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Pre, atom.Blockquote,
		atom.Title, atom.Body:
		return true
	}
	return false
}

var sanitizeStage = Stage{
	Name:        "sanitize",
	Description: "strip markup with a bluemonday policy",
	RecognizedOptions: map[string]string{
		"policy":   "strict (no tags, default) or ugc (safe formatting kept)",
		"unescape": "decode HTML entities in the result",
	},
	DefaultOption: "policy",
	Apply: func(in string, opts Options) (string, error) {
		var p *bluemonday.Policy
		switch name := opts.String("policy", "strict"); name {
		case "strict":
			p = bluemonday.StrictPolicy()
		case "ugc":
			p = bluemonday.UGCPolicy()
		default:
			return "", fmt.Errorf("unknown policy %q", name)
		}
		out := p.Sanitize(in)
		if opts.Bool("unescape", false) {
			out = stdhtml.UnescapeString(out)
		}
		return out, nil
	},
}
