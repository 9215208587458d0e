package assetcache

import (
	"net/http"
	"net/url"
	"strings"
)

// origin is a scheme+host pair.
type origin struct {
	scheme string
	host   string
}

func originOf(u *url.URL) origin {
	return origin{scheme: strings.ToLower(u.Scheme), host: strings.ToLower(u.Host)}
}

func (o origin) contains(u *url.URL) bool {
	return originOf(u) == o
}

func (o origin) String() string {
	return o.scheme + "://" + o.host
}

// isNavigation reports a top-level page load.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

// isAPIRequest reports whether the request looks like a data call.
func isAPIRequest(r *http.Request) bool {
	return strings.Contains(r.URL.Path, "/api/")
}

// isEventStream reports a request for a server-sent event stream, which is
// never buffered or cached.
func isEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
