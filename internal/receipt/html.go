package receipt

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/app.css
var appCSS []byte

var templateFuncs = template.FuncMap{
	"money": func(d decimal.Decimal) string {
		return "$" + d.StringFixed(2)
	},
	"fixed": func(d decimal.Decimal) string {
		return d.StringFixed(2)
	},
	"longDate": func(d Date) string {
		if !d.Valid() {
			return "No date"
		}
		return d.Format("Jan 2, 2006")
	},
	"inc": func(i int) int {
		return i + 1
	},
}

// pages holds each page parsed together with the shared layout
var pages = parsePages("login.html", "home.html", "dashboard.html", "add_receipt.html")

func parsePages(names ...string) map[string]*template.Template {
	parsed := make(map[string]*template.Template, len(names))
	for _, name := range names {
		parsed[name] = template.Must(
			template.New("layout.html").Funcs(templateFuncs).
				ParseFS(templatesFS, "templates/layout.html", "templates/"+name),
		)
	}
	return parsed
}

// render executes a page into a buffer first so a template error never sends half a page
func (s *Server) render(w http.ResponseWriter, status int, page string, data map[string]any) {
	tmpl, ok := pages[page]
	if !ok {
		slog.Error("Unknown page", "page", page)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		slog.Error("Error rendering page", "page", page, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
