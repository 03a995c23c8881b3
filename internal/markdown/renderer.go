// Package markdown converts the constrained Markdown subset used by nest
// content into HTML fragments. Output is display-only; there is no
// round-trip back to Markdown.
//
// Supported syntax: # / ## / ### headings, - * + unordered bullets,
// "N." ordered bullets, **bold** / __bold__, *italic* / _italic_, and
// paragraphs separated by blank lines.
package markdown

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	headingRe   = regexp.MustCompile(`^(#{1,3})\s+(.*)$`)
	unorderedRe = regexp.MustCompile(`^[-*+]\s+(.*)$`)
	orderedRe   = regexp.MustCompile(`^\d+\.\s+(.*)$`)

	boldStarRe    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderRe   = regexp.MustCompile(`__(.+?)__`)
	italicStarRe  = regexp.MustCompile(`\*(.+?)\*`)
	italicUnderRe = regexp.MustCompile(`_(.+?)_`)
)

// policy restricts output to the block and inline elements the renderer
// itself emits. Everything else in the source text arrives escaped, so the
// policy is the last line of defense against injected markup.
var policy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("h1", "h2", "h3", "p", "ul", "ol", "li", "strong", "em")
	return p
}()

type listKind int

const (
	listNone listKind = iota
	listUnordered
	listOrdered
)

// Render converts src to a sanitized HTML fragment.
//
// The pass is a single forward walk over lines with two accumulators: a
// pending paragraph and a pending list. A line of a different kind flushes
// whatever is pending. Adjacent lists of different kinds are emitted as
// separate <ul>/<ol> blocks rather than merged.
func Render(src string) string {
	var out strings.Builder
	var para []string
	var items []string
	pending := listNone

	flushPara := func() {
		if len(para) == 0 {
			return
		}
		out.WriteString("<p>")
		out.WriteString(inline(strings.Join(para, " ")))
		out.WriteString("</p>")
		para = para[:0]
	}
	flushList := func() {
		if len(items) == 0 {
			return
		}
		tag := "ul"
		if pending == listOrdered {
			tag = "ol"
		}
		out.WriteString("<" + tag + ">")
		for _, it := range items {
			out.WriteString("<li>")
			out.WriteString(inline(it))
			out.WriteString("</li>")
		}
		out.WriteString("</" + tag + ">")
		items = items[:0]
		pending = listNone
	}

	for _, line := range strings.Split(src, "\n") {
		switch {
		case strings.TrimSpace(line) == "":
			flushPara()
			flushList()

		case headingRe.MatchString(line):
			m := headingRe.FindStringSubmatch(line)
			flushPara()
			flushList()
			level := len(m[1])
			out.WriteString("<h" + string(rune('0'+level)) + ">")
			out.WriteString(inline(strings.TrimSpace(m[2])))
			out.WriteString("</h" + string(rune('0'+level)) + ">")

		case unorderedRe.MatchString(line):
			m := unorderedRe.FindStringSubmatch(line)
			flushPara()
			if pending == listOrdered {
				flushList()
			}
			pending = listUnordered
			items = append(items, strings.TrimSpace(m[1]))

		case orderedRe.MatchString(line):
			m := orderedRe.FindStringSubmatch(line)
			flushPara()
			if pending == listUnordered {
				flushList()
			}
			pending = listOrdered
			items = append(items, strings.TrimSpace(m[1]))

		default:
			flushList()
			para = append(para, strings.TrimSpace(line))
		}
	}
	flushPara()
	flushList()

	return policy.Sanitize(out.String())
}

// inline escapes raw text and applies bold/italic substitutions in order.
// Bold runs first so "**" is never consumed as two italic markers.
// Substitution is never recursive.
func inline(text string) string {
	s := html.EscapeString(text)
	s = boldStarRe.ReplaceAllString(s, "<strong>$1</strong>")
	s = boldUnderRe.ReplaceAllString(s, "<strong>$1</strong>")
	s = italicStarRe.ReplaceAllString(s, "<em>$1</em>")
	s = italicUnderRe.ReplaceAllString(s, "<em>$1</em>")
	return s
}
