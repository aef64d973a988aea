package client

import (
	"html"
	"strings"

	"github.com/infodancer/httpd/internal/wire"
)

// dirIndex renders a minimal HTML listing for a directory: a parent link
// followed by one link per entry.
func dirIndex(entries []wire.FileInfo) []byte {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html><body><pre>\n")
	sb.WriteString("<a href=\"../\">../</a>\n")
	for _, e := range entries {
		name := html.EscapeString(e.Name)
		sb.WriteString("<a href=\"")
		sb.WriteString(name)
		sb.WriteString("/\">")
		sb.WriteString(name)
		sb.WriteString("</a>\n")
	}
	sb.WriteString("</pre></body></html>\n")
	return []byte(sb.String())
}
