package assetcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gametracker/backend/internal/database/dbtest"
)

const offlineHTML = "<h1>You are offline</h1>"

// switchFetcher wraps a real client, counts requests and can simulate a
// lost network.
type switchFetcher struct {
	client  *http.Client
	offline atomic.Bool
	mu      sync.Mutex
	calls   map[string]int
}

func (f *switchFetcher) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls[req.URL.Path]++
	f.mu.Unlock()
	if f.offline.Load() {
		return nil, errors.New("dial tcp: connect: network is unreachable")
	}
	return f.client.Do(req)
}

func (f *switchFetcher) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

type testOrigin struct {
	*httptest.Server
	serveMissing atomic.Bool
	version      atomic.Int64
	fetcher      *switchFetcher
}

func newTestOrigin(t *testing.T) *testOrigin {
	t.Helper()
	o := &testOrigin{}
	mux := http.NewServeMux()
	text := func(contentType, body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			io.WriteString(w, body)
		}
	}
	mux.HandleFunc("/{$}", text("text/html", "<h1>Game Tracker</h1>"))
	mux.HandleFunc("/static/style.css", text("text/css", "body{}"))
	mux.HandleFunc("/static/app.js", text("text/javascript", "console.log(1)"))
	mux.HandleFunc("/static/manifest.json", text("application/json", `{"name":"Game Tracker"}`))
	mux.HandleFunc("/offline.html", text("text/html", offlineHTML))
	mux.HandleFunc("/games.json", text("application/json", `[]`))
	mux.HandleFunc("/api/v1/games", text("application/json", `{"data":[]}`))
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/static/app.js", http.StatusFound)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		if o.serveMissing.Load() {
			io.WriteString(w, "found now")
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/fresh", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		fmt.Fprintf(w, "version=%d", o.version.Load())
	})
	mux.HandleFunc("/api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: library.snapshot\ndata: {}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	})
	o.Server = httptest.NewServer(mux)
	t.Cleanup(o.Close)
	o.fetcher = &switchFetcher{client: o.Client(), calls: map[string]int{}}
	return o
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestWorker(t *testing.T, o *testOrigin, storage Storage, name string, manifest []string, opts ...WorkerOption) *Worker {
	t.Helper()
	opts = append(opts, WithWorkerLogger(quietLogger()))
	w, err := NewWorker(WorkerConfig{
		CacheName: name,
		Origin:    o.URL,
		Manifest:  manifest,
	}, storage, o.fetcher, opts...)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func newTestRegistration(t *testing.T, o *testOrigin) *Registration {
	t.Helper()
	reg, err := NewRegistration(o.URL, o.fetcher, quietLogger())
	if err != nil {
		t.Fatalf("new registration: %v", err)
	}
	return reg
}

func get(t *testing.T, url string, header ...string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return req
}

// installed returns an origin, its storage and a registration controlled by
// a worker that pre-populated DefaultManifest.
func installed(t *testing.T) (*testOrigin, *SQLStorage, *Registration) {
	t.Helper()
	o := newTestOrigin(t)
	storage := NewSQLStorage(dbtest.Open(t))
	reg := newTestRegistration(t, o)
	w := newTestWorker(t, o, storage, DefaultCacheName, DefaultManifest)
	if err := reg.Register(context.Background(), w); err != nil {
		t.Fatalf("register: %v", err)
	}
	return o, storage, reg
}

func TestInstallPopulatesManifest(t *testing.T) {
	o, storage, reg := installed(t)
	ctx := context.Background()

	w := reg.Active()
	if w == nil || w.State() != StateActivated {
		t.Fatalf("expected an activated controller, got %+v", w)
	}
	for _, u := range w.Manifest() {
		resp, ok, err := storage.Match(ctx, u)
		if err != nil || !ok {
			t.Fatalf("manifest entry %s not cached (%v)", u, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s cached with status %d", u, resp.StatusCode)
		}
	}
	if got := w.Manifest()[0]; got != o.URL+"/" {
		t.Fatalf("manifest not resolved against origin: %s", got)
	}
}

func TestInstallIsAllOrNothing(t *testing.T) {
	o := newTestOrigin(t)
	storage := NewSQLStorage(dbtest.Open(t))
	reg := newTestRegistration(t, o)
	ctx := context.Background()
	manifest := append([]string{"/missing"}, DefaultManifest...)

	w := newTestWorker(t, o, storage, DefaultCacheName, manifest)
	err := reg.Register(ctx, w)
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	if w.State() != StateRedundant || reg.Active() != nil {
		t.Fatalf("failed install must not activate (state %s)", w.State())
	}
	for _, u := range w.Manifest() {
		if _, ok, _ := storage.Match(ctx, u); ok {
			t.Fatalf("partial manifest stored: %s", u)
		}
	}
	if names, _ := storage.Keys(ctx); len(names) != 0 {
		t.Fatalf("failed install left buckets behind: %v", names)
	}

	// the next attempt succeeds once every entry is reachable
	o.serveMissing.Store(true)
	if err := reg.Register(ctx, w); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, ok, _ := storage.Match(ctx, o.URL+"/missing"); !ok {
		t.Fatal("retried install did not store the manifest")
	}
}

func TestFailedInstallIsRetriedOnNavigation(t *testing.T) {
	o := newTestOrigin(t)
	storage := NewSQLStorage(dbtest.Open(t))
	reg := newTestRegistration(t, o)
	ctx := context.Background()

	o.fetcher.offline.Store(true)
	w := newTestWorker(t, o, storage, DefaultCacheName, DefaultManifest)
	if err := reg.Register(ctx, w); !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	if reg.Active() != nil || reg.Pending() != w {
		t.Fatal("failed worker should be pending")
	}

	// origin comes back; sub-resource requests do not install
	o.fetcher.offline.Store(false)
	if _, err := reg.Fetch(ctx, get(t, o.URL+"/games.json")); err != nil {
		t.Fatalf("pass-through: %v", err)
	}
	if reg.Active() != nil {
		t.Fatal("installed on a sub-resource request")
	}

	if _, err := reg.Fetch(ctx, get(t, o.URL+"/", "Sec-Fetch-Mode", "navigate")); err != nil {
		t.Fatalf("navigation: %v", err)
	}
	if reg.Active() != w || w.State() != StateActivated || reg.Pending() != nil {
		t.Fatalf("navigation did not install the pending worker (state %s)", w.State())
	}

	o.fetcher.offline.Store(true)
	resp, err := reg.Fetch(ctx, get(t, o.URL+"/library", "Sec-Fetch-Mode", "navigate"))
	if err != nil || string(resp.Body) != offlineHTML {
		t.Fatalf("expected offline page after retried install, got %v", err)
	}
}

func TestNoStoreResponsesStayFresh(t *testing.T) {
	o, storage, reg := installed(t)
	ctx := context.Background()

	for i := int64(1); i <= 2; i++ {
		o.version.Store(i)
		resp, err := reg.Fetch(ctx, get(t, o.URL+"/fresh"))
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if want := fmt.Sprintf("version=%d", i); string(resp.Body) != want {
			t.Fatalf("got %q, want %q", resp.Body, want)
		}
	}
	if _, ok, _ := storage.Match(ctx, o.URL+"/fresh"); ok {
		t.Fatal("no-store response was cached")
	}
}

func TestCacheableHonoursNoStore(t *testing.T) {
	cases := map[string]bool{
		"":                    true,
		"max-age=60":          true,
		"no-store":            false,
		"private, No-Store":   false,
		"no-cache, max-age=0": true,
	}
	for cc, want := range cases {
		r := &Response{StatusCode: http.StatusOK, Type: TypeBasic, Header: http.Header{}}
		if cc != "" {
			r.Header.Set("Cache-Control", cc)
		}
		if got := r.Cacheable(); got != want {
			t.Errorf("%q: Cacheable() = %v, want %v", cc, got, want)
		}
	}
}

func TestCachedRequestNeverHitsNetwork(t *testing.T) {
	o, _, reg := installed(t)
	before := o.fetcher.count("/static/style.css")

	for i := 0; i < 3; i++ {
		resp, err := reg.Fetch(context.Background(), get(t, o.URL+"/static/style.css"))
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if string(resp.Body) != "body{}" {
			t.Fatalf("unexpected body %q", resp.Body)
		}
	}
	if got := o.fetcher.count("/static/style.css"); got != before {
		t.Fatalf("cached request reached the network %d times", got-before)
	}
}

func TestSuccessfulSameOriginResponseIsCached(t *testing.T) {
	o, storage, reg := installed(t)
	ctx := context.Background()

	resp, err := reg.Fetch(ctx, get(t, o.URL+"/games.json"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.Type != TypeBasic || !resp.Cacheable() {
		t.Fatalf("expected cacheable basic response, got %+v", resp)
	}
	cached, ok, err := storage.Match(ctx, o.URL+"/games.json")
	if err != nil || !ok {
		t.Fatalf("response not cached after fetch (%v)", err)
	}
	if string(cached.Body) != "[]" || cached.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("cached copy differs: %+v", cached)
	}

	o.fetcher.offline.Store(true)
	again, err := reg.Fetch(ctx, get(t, o.URL+"/games.json"))
	if err != nil || string(again.Body) != "[]" {
		t.Fatalf("cached response not served offline: %v", err)
	}
	if n := o.fetcher.count("/games.json"); n != 1 {
		t.Fatalf("expected a single network fetch, got %d", n)
	}
}

func TestUncacheableResponsesPassThrough(t *testing.T) {
	o, storage, reg := installed(t)
	ctx := context.Background()

	notFound, err := reg.Fetch(ctx, get(t, o.URL+"/missing"))
	if err != nil || notFound.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 passed through, got %+v %v", notFound, err)
	}
	if _, ok, _ := storage.Match(ctx, o.URL+"/missing"); ok {
		t.Fatal("error response was cached")
	}

	redirected, err := reg.Fetch(ctx, get(t, o.URL+"/old"))
	if err != nil || !redirected.Redirected {
		t.Fatalf("expected redirected response, got %+v %v", redirected, err)
	}
	if _, ok, _ := storage.Match(ctx, o.URL+"/old"); ok {
		t.Fatal("redirected response was cached")
	}

	post, err := http.NewRequest(http.MethodPost, o.URL+"/games.json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Fetch(ctx, post); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, ok, _ := storage.Match(ctx, o.URL+"/games.json"); ok {
		t.Fatal("non-GET response was cached")
	}
}

func TestCrossOriginRequestsBypassCache(t *testing.T) {
	o, storage, reg := installed(t)
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "cdn")
	}))
	defer cdn.Close()
	ctx := context.Background()

	resp, err := reg.Fetch(ctx, get(t, cdn.URL+"/font.css"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.Type != TypeCORS || string(resp.Body) != "cdn" {
		t.Fatalf("unexpected cross-origin response %+v", resp)
	}
	if _, ok, _ := storage.Match(ctx, cdn.URL+"/font.css"); ok {
		t.Fatal("cross-origin response was cached")
	}

	o.fetcher.offline.Store(true)
	if _, err := reg.Fetch(ctx, get(t, cdn.URL+"/api/x", "Sec-Fetch-Mode", "navigate")); err == nil {
		t.Fatal("cross-origin failures must not be substituted")
	}
}

func TestOfflineNavigationServesOfflinePage(t *testing.T) {
	o, _, reg := installed(t)
	o.fetcher.offline.Store(true)

	for _, req := range []*http.Request{
		get(t, o.URL+"/library", "Sec-Fetch-Mode", "navigate"),
		get(t, o.URL+"/library?status=playing", "Accept", "text/html,application/xhtml+xml"),
	} {
		resp, err := reg.Fetch(context.Background(), req)
		if err != nil {
			t.Fatalf("navigation: %v", err)
		}
		if string(resp.Body) != offlineHTML {
			t.Fatalf("expected offline page, got %q", resp.Body)
		}
	}
}

func TestOfflineAPIRequestGetsOfflinePayload(t *testing.T) {
	o, _, reg := installed(t)
	o.fetcher.offline.Store(true)

	resp, err := reg.Fetch(context.Background(), get(t, o.URL+"/api/v1/games", "Sec-Fetch-Mode", "cors"))
	if err != nil {
		t.Fatalf("api fetch: %v", err)
	}
	if resp.Header.Get("Content-Type") != "application/json" || string(resp.Body) != `{"offline":true}` {
		t.Fatalf("unexpected payload %q (%s)", resp.Body, resp.Header.Get("Content-Type"))
	}
}

func TestOfflineOtherRequestPropagatesError(t *testing.T) {
	o, _, reg := installed(t)
	o.fetcher.offline.Store(true)

	_, err := reg.Fetch(context.Background(), get(t, o.URL+"/static/icon.png", "Sec-Fetch-Mode", "no-cors"))
	var fe *NetworkFetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected NetworkFetchError, got %v", err)
	}
	if fe.URL != o.URL+"/static/icon.png" {
		t.Fatalf("error names %s", fe.URL)
	}
}

func TestOfflineNavigationWithoutCachedPageFails(t *testing.T) {
	o := newTestOrigin(t)
	storage := NewSQLStorage(dbtest.Open(t))
	reg := newTestRegistration(t, o)
	w := newTestWorker(t, o, storage, DefaultCacheName, []string{"/"})
	if err := reg.Register(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	o.fetcher.offline.Store(true)

	_, err := reg.Fetch(context.Background(), get(t, o.URL+"/elsewhere", "Sec-Fetch-Mode", "navigate"))
	var fe *NetworkFetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected NetworkFetchError, got %v", err)
	}
}

func TestActivationDeletesOtherGenerations(t *testing.T) {
	o := newTestOrigin(t)
	storage := NewSQLStorage(dbtest.Open(t))
	ctx := context.Background()
	for _, name := range []string{"ps4-game-tracker-v1", "unrelated"} {
		b, err := storage.Open(ctx, name)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.Put(ctx, o.URL+"/stale", &Response{StatusCode: 200, Body: []byte("old"), Type: TypeBasic}); err != nil {
			t.Fatal(err)
		}
	}

	reg := newTestRegistration(t, o)
	if err := reg.Register(ctx, newTestWorker(t, o, storage, DefaultCacheName, DefaultManifest)); err != nil {
		t.Fatalf("register: %v", err)
	}

	names, err := storage.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != DefaultCacheName {
		t.Fatalf("expected only %s to survive, got %v", DefaultCacheName, names)
	}
	if _, ok, _ := storage.Match(ctx, o.URL+"/stale"); ok {
		t.Fatal("entries of deleted buckets are still served")
	}
}

func TestSkipWaitingMessagePromotesWaitingWorker(t *testing.T) {
	o, storage, reg := installed(t)
	ctx := context.Background()
	v1 := reg.Active()

	v3 := newTestWorker(t, o, storage, "ps4-game-tracker-v3", DefaultManifest, WithManualActivation())
	if err := reg.Register(ctx, v3); err != nil {
		t.Fatalf("register v3: %v", err)
	}
	if reg.Active() != v1 || reg.Waiting() != v3 || v3.State() != StateInstalled {
		t.Fatalf("v3 should wait behind v1 (state %s)", v3.State())
	}

	if err := reg.Message(ctx, Message{Type: MessageSkipWaiting}); err != nil {
		t.Fatalf("message: %v", err)
	}
	if reg.Active() != v3 || v3.State() != StateActivated || v1.State() != StateRedundant {
		t.Fatalf("v3 not promoted: active=%v v3=%s v1=%s", reg.Active() == v3, v3.State(), v1.State())
	}
	names, _ := storage.Keys(ctx)
	if len(names) != 1 || names[0] != "ps4-game-tracker-v3" {
		t.Fatalf("old generation survived activation: %v", names)
	}

	if err := reg.Message(ctx, Message{Type: MessageSkipWaiting}); !errors.Is(err, ErrNoWaitingWorker) {
		t.Fatalf("expected ErrNoWaitingWorker, got %v", err)
	}
	if err := reg.Message(ctx, Message{Type: "PING"}); err == nil {
		t.Fatal("unknown message type should fail")
	}
}

func TestUncontrolledRegistrationUsesNetwork(t *testing.T) {
	o := newTestOrigin(t)
	reg := newTestRegistration(t, o)

	resp, err := reg.Fetch(context.Background(), get(t, o.URL+"/games.json"))
	if err != nil || string(resp.Body) != "[]" {
		t.Fatalf("pass-through fetch: %+v %v", resp, err)
	}
	o.fetcher.offline.Store(true)
	if _, err := reg.Fetch(context.Background(), get(t, o.URL+"/api/v1/games")); err == nil {
		t.Fatal("without a controller there is no offline fallback")
	}
}

func TestNewWorkerRejectsRelativeOrigin(t *testing.T) {
	if _, err := NewWorker(WorkerConfig{Origin: "/relative"}, nil, nil); err == nil {
		t.Fatal("expected error for relative origin")
	}
}
