package filter

import (
	stdhtml "html"
	"strings"
)

// htmlDiffStage renders a unified diff as an HTML table, for channels that
// deliver HTML bodies.
var htmlDiffStage = Stage{
	Name:        "html",
	Description: "render a unified diff as an HTML table",
	RecognizedOptions: map[string]string{
		"title": "caption of the table",
	},
	DefaultOption: "title",
	Apply: func(in string, opts Options) (string, error) {
		var b strings.Builder
		b.WriteString(`<table class="pagewatch-diff">`)
		if title := opts.String("title", ""); title != "" {
			b.WriteString("<caption>" + stdhtml.EscapeString(title) + "</caption>")
		}
		b.WriteByte('\n')
		for _, line := range splitLines(in) {
			class := "context"
			switch {
			case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
				class = "header"
			case strings.HasPrefix(line, "@@"):
				class = "hunk"
			case strings.HasPrefix(line, "+"):
				class = "ins"
			case strings.HasPrefix(line, "-"):
				class = "del"
			}
			b.WriteString(`<tr class="` + class + `"><td><pre>`)
			b.WriteString(stdhtml.EscapeString(line))
			b.WriteString("</pre></td></tr>\n")
		}
		b.WriteString("</table>")
		return b.String(), nil
	},
}
