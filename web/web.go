// Package web embeds the static handoff pages served by the authorization server.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
)

//go:embed pages/*.html
var content embed.FS

// Page names understood by Page and Handler.
const (
	PageLogin     = "login"
	PageBadData   = "login_baddata"
	PageFailed    = "login_failed"
	PageNoAccount = "login_noaccount"
	PageFinished  = "finished"
	PageNotFound  = "404"
)

// Page returns the raw HTML of an embedded page.
func Page(name string) ([]byte, error) {
	b, err := fs.ReadFile(content, "pages/"+name+".html")
	if err != nil {
		return nil, fmt.Errorf("reading embedded page %q: %w", name, err)
	}
	return b, nil
}

// Handler returns an http.Handler that writes the named page with the given
// status. The page is read once, so a missing page fails here rather than
// per request.
func Handler(name string, status int) (http.Handler, error) {
	body, err := Page(name)
	if err != nil {
		return nil, err
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		if r.Method != http.MethodHead {
			w.Write(body)
		}
	}), nil
}
