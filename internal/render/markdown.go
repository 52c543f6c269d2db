package render

import (
	"bytes"
	"context"
	"fmt"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"printserver/internal/domain"
)

// markdownTemplate wraps goldmark's fragment output in a printable HTML5 document.
const markdownTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Document</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; font-size: 12pt; line-height: 1.5; }
table { border-collapse: collapse; }
th, td { border: 1px solid #999; padding: 4px 8px; }
pre { padding: 8px; overflow-x: auto; }
</style>
</head>
<body>
%s
</body>
</html>`

// MarkdownConverter turns Markdown into a standalone HTML document.
type MarkdownConverter struct {
	md goldmark.Markdown
}

// NewMarkdownConverter enables GFM (tables, strikethrough, task lists),
// footnotes and inline-styled syntax highlighting.
func NewMarkdownConverter() *MarkdownConverter {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(false),
					chromahtml.TabWidth(4),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithXHTML(),
		),
	)
	return &MarkdownConverter{md: md}
}

// ToHTML converts content. Raw HTML inside the Markdown is not passed through.
func (c *MarkdownConverter) ToHTML(ctx context.Context, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(content), &buf); err != nil {
		return "", domain.Wrap(domain.ErrRender, err)
	}
	return fmt.Sprintf(markdownTemplate, buf.String()), nil
}
