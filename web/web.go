// Package web embeds the page shell, the library template and static assets.
package web

import "embed"

//go:embed templates/*.tmpl static/* index.html offline.html
var FS embed.FS
