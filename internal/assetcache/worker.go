package assetcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultCacheName is the current generation tag.
const DefaultCacheName = "ps4-game-tracker-v2"

// DefaultOfflineURL is the page served to navigations that cannot reach the origin.
const DefaultOfflineURL = "/offline.html"

// DefaultManifest lists the assets pre-populated at install time.
var DefaultManifest = []string{
	"/",
	"/static/style.css",
	"/static/app.js",
	"/static/manifest.json",
	"/offline.html",
}

// State is a worker's lifecycle position.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Fetcher performs network requests.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// WorkerConfig describes one generation of the gateway.
type WorkerConfig struct {
	// CacheName is the generation tag; buckets with any other name are
	// deleted when this worker activates.
	CacheName string
	// Origin is the site the worker intercepts requests for.
	Origin string
	// Manifest entries are resolved against Origin and may be absolute.
	Manifest []string
	// OfflineURL is resolved against Origin.
	OfflineURL string
}

// Worker serves fetches for one cache generation.
type Worker struct {
	cacheName  string
	origin     origin
	base       *url.URL
	manifest   []string
	offlineURL string
	storage    Storage
	client     Fetcher
	log        *slog.Logger

	autoSkipWaiting bool

	mu          sync.Mutex
	state       State
	skipWaiting bool
	bucket      Bucket
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithManualActivation keeps an installed worker waiting until a
// SKIP_WAITING message arrives, instead of superseding the active one at once.
func WithManualActivation() WorkerOption {
	return func(w *Worker) { w.autoSkipWaiting = false }
}

// WithWorkerLogger sets the worker's logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.log = l }
}

// NewWorker resolves cfg against its origin.
func NewWorker(cfg WorkerConfig, storage Storage, client Fetcher, opts ...WorkerOption) (*Worker, error) {
	base, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin %q: %w", cfg.Origin, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", cfg.Origin)
	}
	if cfg.CacheName == "" {
		cfg.CacheName = DefaultCacheName
	}
	if cfg.OfflineURL == "" {
		cfg.OfflineURL = DefaultOfflineURL
	}

	w := &Worker{
		cacheName:       cfg.CacheName,
		origin:          originOf(base),
		base:            base,
		storage:         storage,
		client:          client,
		log:             slog.Default(),
		autoSkipWaiting: true,
		state:           StateParsed,
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, entry := range cfg.Manifest {
		u, err := base.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", entry, err)
		}
		w.manifest = append(w.manifest, u.String())
	}
	offline, err := base.Parse(cfg.OfflineURL)
	if err != nil {
		return nil, fmt.Errorf("offline url %q: %w", cfg.OfflineURL, err)
	}
	w.offlineURL = offline.String()
	return w, nil
}

// CacheName returns the worker's generation tag.
func (w *Worker) CacheName() string { return w.cacheName }

// Manifest returns the resolved manifest URLs.
func (w *Worker) Manifest() []string { return append([]string(nil), w.manifest...) }

// State returns the lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// SkipWaiting asks the registration to activate this worker as soon as it
// has installed, without waiting for clients of the old one to close.
func (w *Worker) SkipWaiting() {
	w.mu.Lock()
	w.skipWaiting = true
	w.mu.Unlock()
}

func (w *Worker) wantsSkipWaiting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipWaiting
}

// Install opens the worker's bucket and stores every manifest entry. Any
// entry that fails to fetch fails the whole install and nothing is stored;
// a failed worker may be installed again.
func (w *Worker) Install(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateParsed && w.state != StateRedundant {
		st := w.state
		w.mu.Unlock()
		return fmt.Errorf("%w: worker is %s", ErrInstallFailed, st)
	}
	w.state = StateInstalling
	w.mu.Unlock()

	if err := w.install(ctx); err != nil {
		w.setState(StateRedundant)
		return err
	}

	w.mu.Lock()
	w.state = StateInstalled
	w.mu.Unlock()
	if w.autoSkipWaiting {
		w.SkipWaiting()
	}
	return nil
}

func (w *Worker) install(ctx context.Context) error {
	w.log.InfoContext(ctx, "Caching app assets", "cache", w.cacheName, "entries", len(w.manifest))

	entries := make([]Entry, len(w.manifest))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range w.manifest {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, u, nil)
			if err != nil {
				return err
			}
			resp, err := w.network(req)
			if err != nil {
				return err
			}
			if !resp.OK() {
				return fmt.Errorf("%s: unexpected status %d", u, resp.StatusCode)
			}
			entries[i] = Entry{URL: u, Response: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	// the bucket only exists once every entry is in hand
	bucket, err := w.storage.Open(ctx, w.cacheName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	if err := bucket.PutAll(ctx, entries); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	w.mu.Lock()
	w.bucket = bucket
	w.mu.Unlock()
	return nil
}

// Activate deletes every bucket that does not belong to this generation.
func (w *Worker) Activate(ctx context.Context) error {
	w.setState(StateActivating)

	names, err := w.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("activate %s: %w", w.cacheName, err)
	}
	for _, name := range names {
		if name == w.cacheName {
			continue
		}
		w.log.InfoContext(ctx, "Deleting old cache", "cache", name)
		if _, err := w.storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("activate %s: %w", w.cacheName, err)
		}
	}

	w.setState(StateActivated)
	return nil
}

// Fetch answers one intercepted request. Cross-origin requests go straight
// to the network. Same-origin requests are served cache first; successful
// basic responses are stored before being returned; network failures fall
// back to the offline page for navigations and to an offline payload for
// API calls.
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	req = req.WithContext(ctx)
	if !w.origin.contains(req.URL) {
		return w.network(req)
	}

	key := req.URL.String()
	cacheable := req.Method == http.MethodGet
	if cacheable {
		cached, ok, err := w.storage.Match(ctx, key)
		if err != nil {
			w.log.WarnContext(ctx, "Cache lookup failed", "url", key, "error", err)
		} else if ok {
			return cached, nil
		}
	}

	resp, err := w.network(req)
	if err != nil {
		return w.fallback(ctx, req, err)
	}
	if cacheable && resp.Cacheable() {
		w.store(ctx, key, resp)
	}
	return resp, nil
}

func (w *Worker) network(req *http.Request) (*Response, error) {
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	return readResponse(req, resp, w.origin)
}

func (w *Worker) store(ctx context.Context, key string, resp *Response) {
	w.mu.Lock()
	bucket := w.bucket
	w.mu.Unlock()

	if bucket == nil {
		b, err := w.storage.Open(ctx, w.cacheName)
		if err != nil {
			w.log.WarnContext(ctx, "Cache open failed", "cache", w.cacheName, "error", err)
			return
		}
		bucket = b
		w.mu.Lock()
		w.bucket = b
		w.mu.Unlock()
	}
	if err := bucket.Put(ctx, key, resp.Clone()); err != nil {
		w.log.WarnContext(ctx, "Cache put failed", "url", key, "error", err)
	}
}

func (w *Worker) fallback(ctx context.Context, req *http.Request, cause error) (*Response, error) {
	fetchErr := &NetworkFetchError{URL: req.URL.String(), Err: cause}

	if isNavigation(req) {
		page, ok, err := w.storage.Match(ctx, w.offlineURL)
		if err != nil {
			return nil, errors.Join(fetchErr, err)
		}
		if !ok {
			return nil, fetchErr
		}
		w.log.InfoContext(ctx, "Serving offline page", "url", req.URL.String())
		return page, nil
	}
	if isAPIRequest(req) {
		return offlinePayload(req.URL.String()), nil
	}
	return nil, fetchErr
}
