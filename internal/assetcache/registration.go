package assetcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
)

// MessagePath receives control messages when the registration serves HTTP.
const MessagePath = "/__gateway/message"

// MessageSkipWaiting promotes a waiting worker immediately.
const MessageSkipWaiting = "SKIP_WAITING"

// Message is a control message posted to the gateway.
type Message struct {
	Type string `json:"type"`
}

// Registration routes intercepted requests to the controlling worker and
// moves workers through install and activation.
type Registration struct {
	origin *url.URL
	client Fetcher
	log    *slog.Logger

	mu      sync.RWMutex
	active  *Worker
	waiting *Worker
	// pending failed to install and is retried on the next navigation.
	pending *Worker
}

// NewRegistration creates a registration for requests to originURL. client
// serves requests while no worker controls the registration.
func NewRegistration(originURL string, client Fetcher, log *slog.Logger) (*Registration, error) {
	u, err := url.Parse(originURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin %q: %w", originURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", originURL)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registration{origin: u, client: client, log: log}, nil
}

// Active returns the controlling worker, or nil.
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting returns the installed worker waiting to activate, or nil.
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Register installs w. A worker that asked to skip waiting, or the first
// worker of the registration, is activated right away; otherwise it waits
// for a SKIP_WAITING message. A worker that fails to install is kept and
// installed again on the next navigation request.
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	if err := w.Install(ctx); err != nil {
		r.mu.Lock()
		r.pending = w
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	if r.pending == w {
		r.pending = nil
	}
	if r.waiting != nil && r.waiting != w {
		r.waiting.setState(StateRedundant)
	}
	r.waiting = w
	promote := r.active == nil || w.wantsSkipWaiting()
	r.mu.Unlock()

	if !promote {
		r.log.InfoContext(ctx, "Worker installed and waiting", "cache", w.CacheName())
		return nil
	}
	return r.activateWaiting(ctx)
}

// Message handles a control message.
func (r *Registration) Message(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageSkipWaiting:
		r.mu.RLock()
		w := r.waiting
		r.mu.RUnlock()
		if w == nil {
			return ErrNoWaitingWorker
		}
		w.SkipWaiting()
		return r.activateWaiting(ctx)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (r *Registration) activateWaiting(ctx context.Context) error {
	r.mu.Lock()
	w := r.waiting
	r.waiting = nil
	r.mu.Unlock()
	if w == nil {
		return ErrNoWaitingWorker
	}

	if err := w.Activate(ctx); err != nil {
		w.setState(StateRedundant)
		return err
	}

	// claim: the new worker controls every client from now on
	r.mu.Lock()
	old := r.active
	r.active = w
	r.mu.Unlock()
	if old != nil && old != w {
		old.setState(StateRedundant)
	}
	r.log.InfoContext(ctx, "Worker activated", "cache", w.CacheName())
	return nil
}

// Pending returns the worker whose install failed and awaits a retry, or nil.
func (r *Registration) Pending() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending
}

// retryPending installs the pending worker again. Navigations trigger it,
// as a page load re-registers a browser worker.
func (r *Registration) retryPending(ctx context.Context, req *http.Request) {
	if !isNavigation(req) {
		return
	}
	r.mu.Lock()
	w := r.pending
	r.pending = nil
	r.mu.Unlock()
	if w == nil {
		return
	}
	if err := r.Register(ctx, w); err != nil {
		r.log.WarnContext(ctx, "Worker install retry failed", "cache", w.CacheName(), "error", err)
	}
}

// Fetch dispatches req to the controlling worker, or to the network when
// nothing controls the registration yet.
func (r *Registration) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	r.retryPending(ctx, req)
	if w := r.Active(); w != nil {
		return w.Fetch(ctx, req)
	}
	resp, err := r.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, &NetworkFetchError{URL: req.URL.String(), Err: err}
	}
	return readResponse(req, resp, originOf(r.origin))
}

// ServeHTTP proxies an incoming request to the origin through Fetch.
// Absolute-form requests for another host are refused with 421. Event
// streams bypass the workers and are copied as they arrive.
func (r *Registration) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if req.URL.Path == MessagePath && req.Method == http.MethodPost {
		r.serveMessage(rw, req)
		return
	}

	out, err := r.outbound(req)
	if errors.Is(err, ErrForeignHost) {
		writeJSONError(rw, http.StatusMisdirectedRequest, err.Error())
		return
	}
	if err != nil {
		writeJSONError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if isEventStream(out) {
		r.stream(rw, out)
		return
	}

	resp, err := r.Fetch(req.Context(), out)
	if err != nil {
		r.log.WarnContext(req.Context(), "Fetch failed", "url", out.URL.String(), "error", err)
		writeJSONError(rw, http.StatusBadGateway, "upstream unavailable")
		return
	}
	if err := resp.Write(rw); err != nil {
		r.log.DebugContext(req.Context(), "Write response failed", "url", out.URL.String(), "error", err)
	}
}

func (r *Registration) serveMessage(rw http.ResponseWriter, req *http.Request) {
	var msg Message
	if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
		writeJSONError(rw, http.StatusBadRequest, "invalid message")
		return
	}
	err := r.Message(req.Context(), msg)
	switch {
	case errors.Is(err, ErrNoWaitingWorker):
		writeJSONError(rw, http.StatusConflict, err.Error())
	case err != nil:
		writeJSONError(rw, http.StatusBadRequest, err.Error())
	default:
		rw.WriteHeader(http.StatusAccepted)
	}
}

func (r *Registration) outbound(req *http.Request) (*http.Request, error) {
	if req.URL.IsAbs() && !originOf(r.origin).contains(req.URL) {
		return nil, fmt.Errorf("%w: %s", ErrForeignHost, req.URL.Host)
	}
	target := *r.origin
	target.Path = req.URL.Path
	target.RawPath = req.URL.RawPath
	target.RawQuery = req.URL.RawQuery

	out, err := http.NewRequestWithContext(req.Context(), req.Method, target.String(), req.Body)
	if err != nil {
		return nil, err
	}
	out.Header = req.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.ContentLength = req.ContentLength
	return out, nil
}

// stream relays an unbuffered response, flushing after every read.
func (r *Registration) stream(rw http.ResponseWriter, out *http.Request) {
	resp, err := r.client.Do(out)
	if err != nil {
		r.log.WarnContext(out.Context(), "Stream failed", "url", out.URL.String(), "error", err)
		writeJSONError(rw, http.StatusBadGateway, "upstream unavailable")
		return
	}
	defer resp.Body.Close()

	h := rw.Header()
	for k, vv := range resp.Header {
		h[k] = append([]string(nil), vv...)
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
	h.Del("Content-Length")
	rw.WriteHeader(resp.StatusCode)

	rc := http.NewResponseController(rw)
	_ = rc.Flush()
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := rw.Write(buf[:n]); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				r.log.DebugContext(out.Context(), "Stream ended", "url", out.URL.String(), "error", readErr)
			}
			return
		}
	}
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func writeJSONError(rw http.ResponseWriter, status int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]string{"error": msg})
}
