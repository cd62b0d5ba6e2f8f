package core

import (
	"fmt"
	"html"
	"strings"
)

func htmlEscape(s string) string { return html.EscapeString(s) }

// markdownToHTML renders the subset of markdown the writer model produces
// (headings, lists, fenced code, paragraphs) into plain HTML for mail
// clients. Inline markup beyond bold/italic is left as text.
func markdownToHTML(md string) string {
	var b strings.Builder
	lines := strings.Split(md, "\n")

	inList := false
	inCode := false
	var paragraph []string

	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		fmt.Fprintf(&b, "<p>%s</p>\n", inlineHTML(strings.Join(paragraph, " ")))
		paragraph = paragraph[:0]
	}
	closeList := func() {
		if inList {
			b.WriteString("</ul>\n")
			inList = false
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			flushParagraph()
			closeList()
			if inCode {
				b.WriteString("</pre>\n")
			} else {
				b.WriteString("<pre>")
			}
			inCode = !inCode
			continue
		}
		if inCode {
			b.WriteString(htmlEscape(line))
			b.WriteString("\n")
			continue
		}

		switch {
		case trimmed == "":
			flushParagraph()
			closeList()
		case strings.HasPrefix(trimmed, "#"):
			flushParagraph()
			closeList()
			level := 0
			for level < len(trimmed) && trimmed[level] == '#' && level < 6 {
				level++
			}
			text := strings.TrimSpace(trimmed[level:])
			fmt.Fprintf(&b, "<h%d>%s</h%d>\n", level, inlineHTML(text), level)
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			flushParagraph()
			if !inList {
				b.WriteString("<ul>\n")
				inList = true
			}
			fmt.Fprintf(&b, "<li>%s</li>\n", inlineHTML(trimmed[2:]))
		default:
			paragraph = append(paragraph, trimmed)
		}
	}
	flushParagraph()
	closeList()
	if inCode {
		b.WriteString("</pre>\n")
	}
	return b.String()
}

// inlineHTML escapes a line and converts **bold** and *italic* spans.
func inlineHTML(s string) string {
	escaped := htmlEscape(s)
	escaped = replacePairs(escaped, "**", "<strong>", "</strong>")
	escaped = replacePairs(escaped, "*", "<em>", "</em>")
	return escaped
}

func replacePairs(s, marker, openTag, closeTag string) string {
	var b strings.Builder
	opened := false
	for {
		i := strings.Index(s, marker)
		if i < 0 {
			break
		}
		b.WriteString(s[:i])
		if opened {
			b.WriteString(closeTag)
		} else {
			b.WriteString(openTag)
		}
		opened = !opened
		s = s[i+len(marker):]
	}
	b.WriteString(s)
	if opened {
		// unbalanced marker: close the span rather than leak markup
		b.WriteString(closeTag)
	}
	return b.String()
}
