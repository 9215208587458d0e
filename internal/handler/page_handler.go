package handler

import (
	"bytes"
	"html/template"
	"io/fs"
	"net/http"

	"gametracker/backend/internal/library"
	"gametracker/backend/web"

	"github.com/gin-gonic/gin"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// PageRenderer renders the card list fragment. Notes are Markdown; raw HTML
// in them is dropped.
type PageRenderer struct {
	md      goldmark.Markdown
	tmpl    *template.Template
	shell   []byte
	offline []byte
	static  fs.FS
}

// NewPageRenderer parses the embedded templates.
func NewPageRenderer() (*PageRenderer, error) {
	p := &PageRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
			goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
		),
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{"markdown": p.markdown}).ParseFS(web.FS, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}
	p.tmpl = tmpl

	if p.shell, err = fs.ReadFile(web.FS, "index.html"); err != nil {
		return nil, err
	}
	if p.offline, err = fs.ReadFile(web.FS, "offline.html"); err != nil {
		return nil, err
	}
	if p.static, err = fs.Sub(web.FS, "static"); err != nil {
		return nil, err
	}
	return p, nil
}

// Template returns the parsed page templates.
func (p *PageRenderer) Template() *template.Template { return p.tmpl }

func (p *PageRenderer) markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := p.md.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

// ShowShell serves the static page that loads the library fragment.
func (h *Handler) ShowShell(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", h.page.shell)
}

// ShowLibrary renders the stats, filters and cards for the status given in
// the query.
func (h *Handler) ShowLibrary(c *gin.Context) {
	filter, err := library.ParseFilter(c.Query("status"))
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	filters := []library.Filter{library.FilterAll}
	for _, s := range library.Statuses {
		filters = append(filters, library.Filter(s))
	}

	c.HTML(http.StatusOK, "library.tmpl", gin.H{
		"Games":    h.store.Filter(filter),
		"Counts":   h.store.Counts(),
		"Filter":   filter,
		"Filters":  filters,
		"LastSync": h.store.LastSync(),
	})
}

// ShowOffline serves the page the asset gateway falls back to.
func (h *Handler) ShowOffline(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", h.page.offline)
}
