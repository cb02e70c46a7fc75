package reload

import (
	"bytes"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// scriptTag loads the client from the reload server itself.
var scriptTag = []byte(`<script async src="/` + ClientAsset + `"></script>`)

// injectScript inserts tag before the last </body> of doc, or appends it
// when the document has no body end tag.
func injectScript(doc, tag []byte) []byte {
	z := html.NewTokenizer(bytes.NewReader(doc))
	offset, at := 0, -1
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.EndTagToken {
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Body {
				at = offset
			}
		}
		offset += len(z.Raw())
	}

	out := make([]byte, 0, len(doc)+len(tag))
	if at < 0 {
		out = append(out, doc...)
		return append(out, tag...)
	}
	out = append(out, doc[:at]...)
	out = append(out, tag...)
	return append(out, doc[at:]...)
}
