package httpapi

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"babygpt/internal/plans"
	"babygpt/internal/signup"
)

//go:embed templates/*.html
var templateFS embed.FS

type pages struct {
	landing *template.Template
	success *template.Template
}

func mustParsePages() *pages {
	funcs := template.FuncMap{
		"selected": func(sel *plans.Selection, interval plans.Interval) bool {
			return sel != nil && sel.Interval == interval
		},
	}
	parse := func(name string) *template.Template {
		return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
	return &pages{
		landing: parse("landing.html"),
		success: parse("success.html"),
	}
}

type landingData struct {
	Plans            []plans.Plan
	State            signup.State
	Authenticated    bool
	RecaptchaSiteKey string
	Providers        []string
}

type successData struct {
	SessionID string
}

// render 先写入 buffer，模板出错时不会输出半个页面
func (s *Server) render(w http.ResponseWriter, r *http.Request, t *template.Template, data any) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.requestLog(r).Error().Err(err).Msg("render page failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}
