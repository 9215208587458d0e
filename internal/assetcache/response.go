package assetcache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ResponseType classifies where a response came from.
type ResponseType string

const (
	// TypeBasic is a same-origin response. Only these are cached.
	TypeBasic ResponseType = "basic"
	// TypeCORS is a cross-origin response.
	TypeCORS ResponseType = "cors"
	// TypeOpaque is a cross-origin response whose contents are hidden.
	TypeOpaque ResponseType = "opaque"
	// TypeError is a synthetic network error response.
	TypeError ResponseType = "error"
)

// Response is a fully buffered HTTP response as stored in a bucket.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Type       ResponseType
	Redirected bool
}

// Cacheable reports whether a network response may be stored: a 200,
// same-origin, not the result of a redirect and not marked no-store.
func (r *Response) Cacheable() bool {
	return r != nil && r.StatusCode == http.StatusOK && r.Type == TypeBasic && !r.Redirected && !noStore(r.Header)
}

func noStore(h http.Header) bool {
	for _, v := range h.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(directive), "no-store") {
				return true
			}
		}
	}
	return false
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Clone returns a deep copy, safe to store while the original is served.
func (r *Response) Clone() *Response {
	c := *r
	c.Header = r.Header.Clone()
	c.Body = bytes.Clone(r.Body)
	return &c
}

// Write sends the response to w.
func (r *Response) Write(w http.ResponseWriter) error {
	h := w.Header()
	for k, vv := range r.Header {
		h[k] = append([]string(nil), vv...)
	}
	h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	w.WriteHeader(r.StatusCode)
	_, err := w.Write(r.Body)
	return err
}

// readResponse buffers resp and closes its body. origin decides whether the
// final URL makes it a basic or a cors response.
func readResponse(req *http.Request, resp *http.Response, o origin) (*Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", req.URL, err)
	}

	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	typ := TypeCORS
	if o.contains(final) {
		typ = TypeBasic
	}

	return &Response{
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Type:       typ,
		Redirected: final.String() != req.URL.String(),
	}, nil
}

// offlinePayload is returned for API requests that cannot reach the network.
func offlinePayload(url string) *Response {
	return &Response{
		URL:        url,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(`{"offline":true}`),
		Type:       TypeBasic,
	}
}
