// Package format converts model markdown for clients that cannot render it.
package format

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Format is the reply format a client asked for.
type Format string

const (
	Markdown   Format = "markdown"
	Plain      Format = "plain"
	MarkdownV2 Format = "markdown_v2"
)

// ParseFormat maps a client supplied name to a Format. Unknown names select Markdown.
func ParseFormat(s string) Format {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case Plain:
		return Plain
	case MarkdownV2:
		return MarkdownV2
	default:
		return Markdown
	}
}

// Apply renders text in the given format.
func Apply(f Format, s string) string {
	switch f {
	case Plain:
		return ToPlainText(s)
	case MarkdownV2:
		return EscapeMarkdownV2(s)
	default:
		return s
	}
}

var (
	parser     goldmark.Markdown
	parserOnce sync.Once
)

func markdown() goldmark.Markdown {
	parserOnce.Do(func() {
		parser = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return parser
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// ToPlainText strips markdown syntax and keeps the readable text. Links keep
// their target in parentheses, list items get a bullet or their number.
func ToPlainText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	source := []byte(s)
	doc := markdown().Parser().Parse(text.NewReader(source))

	w := &plainWriter{source: source}
	_ = ast.Walk(doc, w.walk)

	out := blankLines.ReplaceAllString(w.b.String(), "\n\n")
	return strings.TrimSpace(out)
}

type plainWriter struct {
	source []byte
	b      strings.Builder
	lists  []int
}

func (w *plainWriter) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Paragraph, *ast.Heading, *ast.ThematicBreak:
		if !entering {
			w.b.WriteString("\n\n")
		}
	case *ast.TextBlock:
		if !entering {
			w.b.WriteString("\n")
		}
	case *ast.List:
		if entering {
			start := 0
			if node.IsOrdered() {
				start = node.Start
			}
			w.lists = append(w.lists, start)
		} else {
			w.lists = w.lists[:len(w.lists)-1]
			w.b.WriteString("\n")
		}
	case *ast.ListItem:
		if entering {
			depth := len(w.lists) - 1
			w.b.WriteString(strings.Repeat("  ", depth))
			if num := w.lists[depth]; num > 0 {
				w.b.WriteString(strconv.Itoa(num) + ". ")
				w.lists[depth]++
			} else {
				w.b.WriteString("- ")
			}
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				w.b.Write(seg.Value(w.source))
			}
			w.b.WriteString("\n")
		}
		return ast.WalkSkipChildren, nil
	case *ast.Text:
		if entering {
			w.b.Write(node.Segment.Value(w.source))
			if node.HardLineBreak() || node.SoftLineBreak() {
				w.b.WriteString("\n")
			}
		}
	case *ast.String:
		if entering {
			w.b.Write(node.Value)
		}
	case *ast.CodeSpan:
		if entering {
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					w.b.Write(t.Segment.Value(w.source))
				}
			}
		}
		return ast.WalkSkipChildren, nil
	case *ast.Link:
		if !entering {
			w.b.WriteString(" (" + string(node.Destination) + ")")
		}
	case *ast.AutoLink:
		if entering {
			w.b.Write(node.URL(w.source))
		}
	case *ast.Image:
		if entering {
			w.b.WriteString(string(node.Destination))
		}
		return ast.WalkSkipChildren, nil
	case *ast.RawHTML, *ast.HTMLBlock:
		return ast.WalkSkipChildren, nil
	case *extast.TableCell:
		if !entering && node.NextSibling() != nil {
			w.b.WriteString(" | ")
		}
	case *extast.TableRow, *extast.TableHeader:
		if !entering {
			w.b.WriteString("\n")
		}
	case *extast.Table:
		if !entering {
			w.b.WriteString("\n")
		}
	}
	return ast.WalkContinue, nil
}

const markdownV2Special = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdownV2 escapes every character that Telegram MarkdownV2 reserves.
func EscapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownV2Special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
