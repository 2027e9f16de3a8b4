// Package preview turns artifact markdown into sanitized HTML for export and
// into short plain-text excerpts for approval prompts.
package preview

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown

	ugcPolicy    = bluemonday.UGCPolicy()
	strictPolicy = bluemonday.StrictPolicy()
)

func renderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.DefinitionList,
			),
		)
	})
	return markdown
}

// HTML renders markdown and strips anything unsafe from the result. Agents
// write these artifacts, so raw HTML in them is not trusted.
func HTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := renderer().Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return ugcPolicy.Sanitize(buf.String()), nil
}

const documentTemplate = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>body{max-width:48rem;margin:2rem auto;font-family:system-ui,sans-serif;line-height:1.5;padding:0 1rem}pre{overflow-x:auto}</style>
</head>
<body>
%s
</body>
</html>
`

// Document wraps the rendered markdown in a standalone HTML page.
func Document(title, md string) (string, error) {
	body, err := HTML(md)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(documentTemplate, html.EscapeString(title), body), nil
}

// Excerpt returns the text of md without markup, whitespace collapsed, cut
// to at most n runes with a trailing ellipsis. n <= 0 means no limit.
func Excerpt(md string, n int) string {
	text := md
	if rendered, err := HTML(md); err == nil {
		// Keep block boundaries as spaces before the tags go away.
		rendered = strings.NewReplacer("</p>", " </p>", "</li>", " </li>", "<br>", " ", "</h1>", " </h1>", "</h2>", " </h2>", "</h3>", " </h3>").Replace(rendered)
		text = html.UnescapeString(strictPolicy.Sanitize(rendered))
	}
	text = strings.Join(strings.Fields(text), " ")

	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n])) + "…"
}
