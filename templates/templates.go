// Package templates holds the html/template assets for the web interface.
package templates

import (
	"embed"
	"fmt"
	"html/template"

	"github.com/thehowl/dupescan/pkg/diff"
)

var (
	funcMap = map[string]any{
		"hunk_header": func(hunk diff.Hunk) string {
			return fmt.Sprintf("@@ -%d,%d +%d,%d @@", hunk.LineOld, hunk.CountOld, hunk.LineNew, hunk.CountNew)
		},
		"percent": func(v float64) string {
			return fmt.Sprintf("%.1f%%", v*100)
		},
	}
	Templates = template.Must(
		template.New("").
			Funcs(funcMap).
			ParseFS(templateFS, "*.tmpl"),
	)
	//go:embed *.tmpl
	templateFS embed.FS
)
