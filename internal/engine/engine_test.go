package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/webscraper/internal/fetcher/colly"
	"github.com/JakeFAU/webscraper/internal/progress"
	"github.com/JakeFAU/webscraper/internal/publisher/memory"
	"github.com/JakeFAU/webscraper/internal/scraper"
	"github.com/JakeFAU/webscraper/internal/storage/local"
)

type site struct {
	server *httptest.Server
	mu     sync.Mutex
	hits   map[string]int
}

func newSite(t *testing.T, pages map[string]string) *site {
	t.Helper()
	s := &site{hits: map[string]int{}}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		switch body, ok := pages[r.URL.Path]; {
		case r.URL.Path == "/unavailable":
			w.WriteHeader(http.StatusServiceUnavailable)
		case ok:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, body)
		default:
			w.Header().Set("Content-Type", "application/octet-stream")
			fmt.Fprint(w, "bytes of "+r.URL.Path)
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *site) url(path string) string { return s.server.URL + path }

func (s *site) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

func (r *recordingEmitter) assetCounts(category scraper.Category) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var counts []int
	for _, evt := range r.events {
		if evt.Stage == progress.StageAssetDone && evt.Category == string(category) {
			counts = append(counts, evt.Count)
		}
	}
	return counts
}

type recordStore struct {
	mu      sync.Mutex
	records []scraper.ScrapeRecord
	err     error
}

func (s *recordStore) RecordScrape(_ context.Context, rec scraper.ScrapeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

type harness struct {
	engine    *Engine
	events    *recordingEmitter
	records   *recordStore
	publisher *memory.Publisher
}

func newHarness(t *testing.T, mutate func(*Config, *Dependencies)) *harness {
	t.Helper()
	h := &harness{
		events:    &recordingEmitter{},
		records:   &recordStore{},
		publisher: memory.New(),
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		Timeout:        2 * time.Second,
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}, nil, nil)
	t.Cleanup(fetcher.Close)

	cfg := Config{WorkDir: t.TempDir(), PoolSize: 4, Topic: "scrapes"}
	deps := Dependencies{
		Fetcher:   fetcher,
		Progress:  h.events,
		Records:   h.records,
		Publisher: h.publisher,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	e, err := New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	h.engine = e
	return h
}

func request(url string, categories scraper.Categories) scraper.ScrapeRequest {
	return scraper.ScrapeRequest{URL: url, Categories: categories, Depth: 1}
}

func TestScrapePersistsEnabledCategories(t *testing.T) {
	t.Parallel()

	s := newSite(t, map[string]string{"/": `<html><head><title>Home</title>
		<meta name="keywords" content="a,b"></head>
		<body><h1>Welcome</h1><p>Hi</p><img src="/a.png"><video src="/v.mp4"></video></body></html>`})
	h := newHarness(t, nil)

	out, err := h.engine.Scrape(context.Background(), request(s.url("/"), scraper.Categories{Text: true, Images: true, Metadata: true}))
	require.NoError(t, err)

	assert.Equal(t, scraper.StatePersisted, out.State)
	assert.Equal(t, []scraper.State{
		scraper.StateIdle, scraper.StateFetching, scraper.StateParsing,
		scraper.StateDispatching, scraper.StateAggregating, scraper.StatePersisted,
	}, out.History)
	require.NotNil(t, out.Result)
	require.Len(t, out.Result.Images, 1)
	img := out.Result.Images[0]
	assert.Equal(t, s.url("/a.png"), img.URL)
	assert.Equal(t, "images/"+scraper.AssetFilename(img.URL), img.Path)
	assert.FileExists(t, h.engine.Workspace().Path(img.Path))
	assert.Nil(t, out.Result.Videos)
	assert.Equal(t, "", out.Result.Metadata.Description)
	assert.Equal(t, "a,b", out.Result.Metadata.Keywords)
	assert.Equal(t, []string{"Welcome"}, out.Result.Text.Headings["h1"])
	assert.FileExists(t, h.engine.Workspace().Path("text/content.json"))

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(out.Paths.Manifest)
	require.NoError(t, err)
	var manifest map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.ElementsMatch(t, []string{"text", "images", "metadata"}, keys(manifest))

	stages := h.events.stages()
	assert.Equal(t, progress.StageScrapeStart, stages[0])
	assert.Equal(t, progress.StageScrapeDone, stages[len(stages)-1])
	assert.Equal(t, []int{1}, h.events.assetCounts(scraper.CategoryImages))

	require.Len(t, h.records.records, 1)
	assert.Equal(t, scraper.StatePersisted, h.records.records[0].State)
	assert.Equal(t, 1, h.records.records[0].Counts[scraper.CategoryImages])
	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "scrapes", msgs[0].Topic)
}

func TestScrapeVideosKeepsOnlyYouTubeIframes(t *testing.T) {
	t.Parallel()

	s := newSite(t, map[string]string{"/": `<html><body>
		<iframe src="https://www.youtube.com/embed/abc"></iframe>
		<iframe src="https://ads.example.com/slot"></iframe></body></html>`})
	h := newHarness(t, nil)

	out, err := h.engine.Scrape(context.Background(), request(s.url("/"), scraper.Categories{Videos: true}))
	require.NoError(t, err)
	require.Len(t, out.Result.Videos, 1)
	assert.Equal(t, scraper.VideoTypeYouTube, out.Result.Videos[0].Type)
	assert.Equal(t, "https://www.youtube.com/embed/abc", out.Result.Videos[0].URL)
	assert.Zero(t, s.hitCount("/embed/abc"))
}

func TestScrapeDeduplicatesImageDownloads(t *testing.T) {
	t.Parallel()

	s := newSite(t, map[string]string{"/": `<html><body>
		<img src="/x.png"><img src="/y.png"><img src="/x.png"><img src="x.png"><img src="/y.png">
		</body></html>`})
	h := newHarness(t, nil)

	out, err := h.engine.Scrape(context.Background(), request(s.url("/"), scraper.Categories{Images: true}))
	require.NoError(t, err)

	assert.Len(t, out.Result.Images, 2)
	assert.Equal(t, 1, s.hitCount("/x.png"))
	assert.Equal(t, 1, s.hitCount("/y.png"))
	stats := h.engine.CacheStats()
	assert.Equal(t, int64(2), stats.Computes)
	assert.Equal(t, int64(5), stats.Hits+stats.Misses)
	assert.Len(t, h.events.assetCounts(scraper.CategoryImages), 5)

	again, err := h.engine.Scrape(context.Background(), request(s.url("/"), scraper.Categories{Images: true}))
	require.NoError(t, err)
	assert.Len(t, again.Result.Images, 2)
	assert.Equal(t, 1, s.hitCount("/x.png"), "cache survives across scrapes in a session")
}

func TestScrapeFailsAfterRetryBudget(t *testing.T) {
	t.Parallel()

	s := newSite(t, nil)
	h := newHarness(t, nil)

	out, err := h.engine.Scrape(context.Background(), request(s.url("/unavailable"), scraper.DefaultCategories()))
	require.Error(t, err)

	var fetchErr *scraper.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.Equal(t, 3, s.hitCount("/unavailable"))
	assert.Equal(t, scraper.StateFailed, out.State)
	assert.Nil(t, out.Result)
	assert.NoFileExists(t, h.engine.Workspace().Path(local.ManifestName))
	assert.Equal(t, progress.StageScrapeError, h.events.stages()[len(h.events.stages())-1])
	require.Len(t, h.records.records, 1)
	assert.Equal(t, scraper.StateFailed, h.records.records[0].State)
	assert.NotEmpty(t, h.records.records[0].Error)
}

func TestFailedScrapeClearsPreviousManifest(t *testing.T) {
	t.Parallel()

	s := newSite(t, map[string]string{"/": `<html><head><title>Home</title></head><body><p>Hi</p></body></html>`})
	h := newHarness(t, nil)
	manifest := h.engine.Workspace().Path(local.ManifestName)

	_, err := h.engine.Scrape(context.Background(), request(s.url("/"), scraper.Categories{Text: true}))
	require.NoError(t, err)
	require.FileExists(t, manifest)

	out, err := h.engine.Scrape(context.Background(), request(s.url("/unavailable"), scraper.Categories{Text: true}))
	require.Error(t, err)
	assert.Equal(t, scraper.StateFailed, out.State)
	assert.NoFileExists(t, manifest)
}

func TestScrapeCategoryFailureFailsScrape(t *testing.T) {
	t.Parallel()

	s := newSite(t, map[string]string{"/": `<html><body><p>x</p></body></html>`})
	h := newHarness(t, nil)
	blocker := h.engine.Workspace().Path("text/content.json")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "occupied"), 0o750))

	out, err := h.engine.Scrape(context.Background(), request(s.url("/"), scraper.Categories{Text: true, Metadata: true}))
	require.Error(t, err)

	var persistErr *scraper.PersistenceError
	assert.ErrorAs(t, err, &persistErr)
	assert.Equal(t, scraper.StateFailed, out.State)
	assert.Contains(t, out.History, scraper.StateDispatching)
	assert.NoFileExists(t, h.engine.Workspace().Path(local.ManifestName))
}

func TestScrapeCanceled(t *testing.T) {
	t.Parallel()

	s := newSite(t, map[string]string{"/": `<html></html>`})
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.engine.Scrape(ctx, request(s.url("/"), scraper.DefaultCategories()))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, scraper.StateFailed, out.State)
	require.Len(t, h.records.records, 1, "outcome is recorded even when the caller gave up")
}

func TestScrapeRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	cases := []scraper.ScrapeRequest{
		{URL: "ftp://example.com", Categories: scraper.DefaultCategories(), Depth: 1},
		{URL: "https://example.com", Depth: 1},
		{URL: "https://example.com", Categories: scraper.DefaultCategories()},
	}
	for _, req := range cases {
		out, err := h.engine.Scrape(context.Background(), req)
		require.ErrorIs(t, err, scraper.ErrInvalidRequest)
		assert.Equal(t, scraper.StateFailed, out.State)
		assert.Equal(t, []scraper.State{scraper.StateIdle, scraper.StateFailed}, out.History)
	}
}

type stubRenderer struct {
	calls atomic.Int32
	body  string
}

func (r *stubRenderer) Fetch(_ context.Context, req scraper.FetchRequest) (scraper.FetchResponse, error) {
	r.calls.Add(1)
	return scraper.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(r.body), UsedHeadless: true}, nil
}

type alwaysPromote struct{}

func (alwaysPromote) ShouldPromote(scraper.FetchResponse) bool { return true }

func TestScrapeRenderModes(t *testing.T) {
	t.Parallel()

	s := newSite(t, map[string]string{"/": `<html><head><title>Shell</title></head><body><div id="root"></div></body></html>`})
	renderer := &stubRenderer{body: `<html><head><title>Rendered</title></head><body></body></html>`}
	h := newHarness(t, func(_ *Config, deps *Dependencies) {
		deps.Renderer = renderer
		deps.Detector = alwaysPromote{}
	})

	req := request(s.url("/"), scraper.Categories{Metadata: true})
	out, err := h.engine.Scrape(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Shell", out.Result.Metadata.Title)

	req.Render = scraper.RenderAuto
	out, err = h.engine.Scrape(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Rendered", out.Result.Metadata.Title)
	assert.Equal(t, 2, s.hitCount("/"))

	req.Render = scraper.RenderAlways
	out, err = h.engine.Scrape(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Rendered", out.Result.Metadata.Title)
	assert.Equal(t, 2, s.hitCount("/"), "always mode skips the plain fetch")
	assert.Equal(t, int32(2), renderer.calls.Load())
}

func TestReportFailuresDoNotChangeOutcome(t *testing.T) {
	t.Parallel()

	s := newSite(t, map[string]string{"/": `<html><body><p>x</p></body></html>`})
	h := newHarness(t, nil)
	h.records.err = errors.New("db down")
	h.publisher.FailWith(errors.New("pubsub down"))

	out, err := h.engine.Scrape(context.Background(), request(s.url("/"), scraper.Categories{Text: true}))
	require.NoError(t, err)
	assert.Equal(t, scraper.StatePersisted, out.State)
}

func TestDownloadVideo(t *testing.T) {
	t.Parallel()

	s := newSite(t, nil)
	h := newHarness(t, nil)
	ctx := context.Background()

	name, err := h.engine.DownloadVideo(ctx, s.url("/media/clip.mp4"))
	require.NoError(t, err)
	assert.Equal(t, scraper.AssetFilename(s.url("/media/clip.mp4")), name)
	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(h.engine.Workspace().Path("videos/" + name))
	require.NoError(t, err)
	assert.Equal(t, "bytes of /media/clip.mp4", string(data))

	again, err := h.engine.DownloadVideo(ctx, s.url("/media/clip.mp4"))
	require.NoError(t, err)
	assert.Equal(t, name, again)
	assert.Equal(t, 1, s.hitCount("/media/clip.mp4"))

	_, err = h.engine.DownloadVideo(ctx, "https://www.youtube.com/watch?v=abc")
	require.ErrorIs(t, err, scraper.ErrUnsupportedVideoHost)
	var assetErr *scraper.AssetError
	require.ErrorAs(t, err, &assetErr)
	assert.Equal(t, scraper.CategoryVideos, assetErr.Category)
}

type stubExporter struct {
	root, target string
}

func (s *stubExporter) Export(_ context.Context, root, target string) (string, error) {
	s.root, s.target = root, target
	return target, nil
}

func TestSaveAll(t *testing.T) {
	t.Parallel()

	s := newSite(t, map[string]string{"/": `<html><body><p>x</p><img src="/a.png"></body></html>`})
	exporter := &stubExporter{}
	h := newHarness(t, func(_ *Config, deps *Dependencies) { deps.Exporter = exporter })
	ctx := context.Background()
	_, err := h.engine.Scrape(ctx, request(s.url("/"), scraper.DefaultCategories()))
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "export")
	require.NoError(t, h.engine.SaveAll(ctx, target))
	assert.FileExists(t, filepath.Join(target, local.ManifestName))
	assert.FileExists(t, filepath.Join(target, "text", "content.json"))

	require.NoError(t, h.engine.SaveAll(ctx, "gs://bucket/run"))
	assert.Equal(t, h.engine.Workspace().Root(), exporter.root)
	assert.Equal(t, "gs://bucket/run", exporter.target)

	plain := newHarness(t, nil)
	err = plain.engine.SaveAll(ctx, "gs://bucket/run")
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestResetClearsCachesAndWorkspace(t *testing.T) {
	t.Parallel()

	s := newSite(t, map[string]string{"/": `<html><body><img src="/a.png"></body></html>`})
	h := newHarness(t, nil)
	out, err := h.engine.Scrape(context.Background(), request(s.url("/"), scraper.Categories{Images: true}))
	require.NoError(t, err)

	require.NoError(t, h.engine.Reset())
	assert.NoFileExists(t, out.Paths.Manifest)
	assert.Equal(t, int64(0), h.engine.CacheStats().Computes)

	_, err = h.engine.Scrape(context.Background(), request(s.url("/"), scraper.Categories{Images: true}))
	require.NoError(t, err)
	assert.Equal(t, 2, s.hitCount("/a.png"))
}

func TestClosedEngineRejectsWork(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, h.engine.Close(context.Background()))

	_, err := h.engine.Scrape(context.Background(), request("https://example.com", scraper.DefaultCategories()))
	assert.ErrorIs(t, err, scraper.ErrEngineClosed)
	assert.ErrorIs(t, h.engine.SaveAll(context.Background(), t.TempDir()), scraper.ErrEngineClosed)
	_, err = h.engine.DownloadVideo(context.Background(), "https://example.com/v.mp4")
	assert.ErrorIs(t, err, scraper.ErrEngineClosed)
}

func TestNewRequiresFetcher(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Dependencies{})
	assert.Error(t, err)
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
