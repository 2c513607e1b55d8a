package parser

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"document-qa/internal/models"
)

const pageBreak = "<hr/>\n"

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
	),
)

// RenderHTML renders the parsed pages of doc for display, pages separated by a horizontal rule
func RenderHTML(doc models.Document) (string, error) {
	parts := make([]string, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		var buf bytes.Buffer
		if err := md.Convert([]byte(p.Text), &buf); err != nil {
			return "", err
		}
		parts = append(parts, strings.Trim(buf.String(), " \t\n\r"))
	}
	return strings.Join(parts, "\n"+pageBreak), nil
}
