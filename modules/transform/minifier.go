package transform

import (
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

const (
	mimeCSS  = "text/css"
	mimeHTML = "text/html"
	mimeJS   = "text/javascript"
)

// Minifier wraps a tdewolff minifier configured for the media types the
// stages need. Template delimiters are preserved in HTML.
type Minifier struct {
	m *minify.M
}

func NewMinifier() *Minifier {
	m := minify.New()
	m.AddFunc(mimeCSS, css.Minify)
	m.Add(mimeHTML, &html.Minifier{
		KeepEndTags:    true,
		KeepQuotes:     true,
		TemplateDelims: [2]string{"{{", "}}"},
	})
	m.AddFunc(mimeJS, js.Minify)
	return &Minifier{m: m}
}

func (m *Minifier) Bytes(mediatype string, content []byte) ([]byte, error) {
	return m.m.Bytes(mediatype, content)
}

var defaultMinifier = NewMinifier()
