package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweench/internal/blob"
	"tweench/internal/classifier"
	"tweench/internal/fetcher"
	"tweench/internal/gate"
	"tweench/internal/logger"
	"tweench/internal/media"
	"tweench/internal/models"
)

var buckets = media.Buckets{Images: "images", Thumbs: "images-300"}

type fakeClassifier struct {
	assets []models.RemoteAsset
}

func (f fakeClassifier) Classify(context.Context, string) []models.RemoteAsset {
	return f.assets
}

type memRecords struct {
	mu   sync.Mutex
	recs map[string]models.MediaRecord
}

func (m *memRecords) GetImage(_ context.Context, path string) (*models.MediaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[path]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memRecords) save(recs []models.MediaRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		if r.Path != "" {
			m.recs[r.Path] = r
		}
	}
}

type countingFetcher struct {
	Fetcher
	mu    sync.Mutex
	calls []string
}

func (c *countingFetcher) Fetch(ctx context.Context, url string) (fetcher.Content, error) {
	c.mu.Lock()
	c.calls = append(c.calls, url)
	c.mu.Unlock()
	return c.Fetcher.Fetch(ctx, url)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(y * 255 / h), B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type env struct {
	srv     *httptest.Server
	blobs   *blob.MemoryStore
	records *memRecords
	fetch   *countingFetcher
}

func newEnv(t *testing.T, routes map[string][]byte, contentTypes map[string]string) *env {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if ct, ok := contentTypes[r.URL.Path]; ok {
			w.Header().Set("Content-Type", ct)
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	return &env{
		srv:     srv,
		blobs:   blob.NewMemoryStore(),
		records: &memRecords{recs: map[string]models.MediaRecord{}},
		fetch: &countingFetcher{
			Fetcher: fetcher.New(fetcher.NewHTTPTransport(5*time.Second, "tweench-test"), logger.Discard()),
		},
	}
}

func (e *env) pipeline(c Classifier, kind media.Kind) *Pipeline {
	g := gate.New(e.blobs, e.records, buckets.Images, logger.Discard())
	if kind == media.KindThumbnailOnly {
		g = gate.New(e.blobs, e.records, buckets.Thumbs, logger.Discard())
	}
	return New(c, e.fetch, g, e.blobs, Config{
		Buckets:       buckets,
		ThumbnailSize: 300,
		MediaKind:     kind,
	}, logger.Discard())
}

func TestProcess_SingleImage(t *testing.T) {
	e := newEnv(t, map[string][]byte{"/abc.png": pngBytes(t, 600, 400)}, nil)
	url := e.srv.URL + "/abc.png"
	p := e.pipeline(fakeClassifier{assets: []models.RemoteAsset{{URL: url, Kind: models.KindSingleImage}}}, media.KindOriginal)

	recs := p.Process(context.Background(), "https://imgur.com/abc")
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, url, rec.URL)
	assert.Equal(t, gate.StoragePath(url), rec.Path)
	require.NotNil(t, rec.Dimensions)
	assert.Equal(t, models.Dimensions{Height: 400, Width: 600}, *rec.Dimensions)
	assert.NotEmpty(t, rec.Colors)

	orig, ok := e.blobs.Get(buckets.Images, rec.Path)
	require.True(t, ok)
	assert.Equal(t, "image/png", orig.ContentType)

	thumb, ok := e.blobs.Get(buckets.Thumbs, rec.Path)
	require.True(t, ok)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(thumb.Data))
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Width)
	assert.Equal(t, 200, cfg.Height)
}

func TestProcess_AlbumWithFailedMember(t *testing.T) {
	e := newEnv(t, map[string][]byte{
		"/1.png": pngBytes(t, 40, 40),
		"/3.png": pngBytes(t, 40, 40),
	}, nil)
	urls := []string{e.srv.URL + "/1.png", e.srv.URL + "/2.png", e.srv.URL + "/3.png"}
	var assets []models.RemoteAsset
	for _, u := range urls {
		assets = append(assets, models.RemoteAsset{URL: u, Kind: models.KindAlbumImage})
	}
	p := e.pipeline(fakeClassifier{assets: assets}, media.KindOriginal)

	recs := p.Process(context.Background(), "https://imgur.com/a/xyz")
	require.Len(t, recs, 3)
	for i, u := range urls {
		assert.Equal(t, u, recs[i].URL)
	}
	assert.False(t, recs[0].Degraded())
	assert.True(t, recs[1].Degraded())
	assert.Nil(t, recs[1].Dimensions)
	assert.Empty(t, recs[1].Colors)
	assert.False(t, recs[2].Degraded())
	assert.Equal(t, 4, e.blobs.Puts())
}

func TestProcess_Motion(t *testing.T) {
	webm := []byte("\x1a\x45\xdf\xa3 not really a webm")
	gif := []byte("GIF89a preview")
	e := newEnv(t,
		map[string][]byte{"/clip.webm": webm, "/clip.gif": gif},
		map[string]string{"/clip.webm": "video/webm"},
	)
	asset := models.RemoteAsset{
		URL:        e.srv.URL + "/clip.webm",
		Kind:       models.KindVideoWithPreview,
		PreviewURL: e.srv.URL + "/clip.gif",
		Dimensions: &models.Dimensions{Height: 360, Width: 640},
	}
	p := e.pipeline(fakeClassifier{assets: []models.RemoteAsset{asset}}, media.KindOriginal)

	recs := p.Process(context.Background(), "https://gfycat.com/clip")
	require.Len(t, recs, 1)
	assert.Equal(t, asset.URL, recs[0].URL)
	assert.Equal(t, gate.StoragePath(asset.URL), recs[0].Path)
	assert.Equal(t, asset.Dimensions, recs[0].Dimensions)
	assert.Empty(t, recs[0].Colors)

	orig, ok := e.blobs.Get(buckets.Images, recs[0].Path)
	require.True(t, ok)
	assert.Equal(t, webm, orig.Data)
	assert.Equal(t, "image/webm", orig.ContentType)

	thumb, ok := e.blobs.Get(buckets.Thumbs, recs[0].Path)
	require.True(t, ok)
	assert.Equal(t, gif, thumb.Data)
	assert.Equal(t, "image/webm", thumb.ContentType)
}

func TestProcess_MotionWithoutPreviewEmitsNothing(t *testing.T) {
	e := newEnv(t, map[string][]byte{"/clip.webm": []byte("webm")}, nil)
	asset := models.RemoteAsset{
		URL:        e.srv.URL + "/clip.webm",
		Kind:       models.KindVideoWithPreview,
		PreviewURL: e.srv.URL + "/missing.gif",
	}
	p := e.pipeline(fakeClassifier{assets: []models.RemoteAsset{asset}}, media.KindOriginal)

	recs := p.Process(context.Background(), "https://gfycat.com/clip")
	assert.Empty(t, recs)
	assert.Zero(t, e.blobs.Puts())
}

func TestProcess_UnsupportedURL(t *testing.T) {
	e := newEnv(t, nil, nil)
	c := classifier.New(nil, nil, logger.Discard())
	p := e.pipeline(c, media.KindOriginal)

	assert.Empty(t, p.Process(context.Background(), "https://example.com/article"))
	assert.Empty(t, e.fetch.calls)
}

func TestProcess_ExternalThroughClassifier(t *testing.T) {
	e := newEnv(t, map[string][]byte{"/photos/cat.png": pngBytes(t, 30, 60)}, nil)
	c := classifier.New(nil, nil, logger.Discard())
	p := e.pipeline(c, media.KindOriginal)

	url := e.srv.URL + "/photos/cat.png"
	recs := p.Process(context.Background(), url)
	require.Len(t, recs, 1)
	assert.Equal(t, url, recs[0].URL)
	assert.Equal(t, gate.ContentKey(url)+"/cat.png", recs[0].Path)
	require.NotNil(t, recs[0].Dimensions)
	assert.Equal(t, 30, recs[0].Dimensions.Width)
}

func TestProcess_Idempotent(t *testing.T) {
	e := newEnv(t, map[string][]byte{"/abc.png": pngBytes(t, 50, 50)}, nil)
	url := e.srv.URL + "/abc.png"
	p := e.pipeline(fakeClassifier{assets: []models.RemoteAsset{{URL: url, Kind: models.KindSingleImage}}}, media.KindOriginal)

	first := p.Process(context.Background(), "https://imgur.com/abc")
	require.Len(t, first, 1)
	e.records.save(first)
	puts := e.blobs.Puts()
	fetches := len(e.fetch.calls)

	second := p.Process(context.Background(), "https://imgur.com/abc")
	assert.Equal(t, first, second)
	assert.Equal(t, puts, e.blobs.Puts())
	assert.Equal(t, fetches, len(e.fetch.calls))
}

func TestProcess_BlobWithoutRecordIsRewritten(t *testing.T) {
	e := newEnv(t, map[string][]byte{"/abc.png": pngBytes(t, 50, 50)}, nil)
	url := e.srv.URL + "/abc.png"
	p := e.pipeline(fakeClassifier{assets: []models.RemoteAsset{{URL: url, Kind: models.KindSingleImage}}}, media.KindOriginal)

	require.NoError(t, e.blobs.Put(context.Background(), buckets.Images, gate.StoragePath(url), []byte("stale"), "image/png"))

	recs := p.Process(context.Background(), "https://imgur.com/abc")
	require.Len(t, recs, 1)
	assert.NotNil(t, recs[0].Dimensions)
	assert.Len(t, e.fetch.calls, 1)

	orig, _ := e.blobs.Get(buckets.Images, recs[0].Path)
	assert.NotEqual(t, []byte("stale"), orig.Data)
}

func TestProcess_ThumbnailOnly(t *testing.T) {
	e := newEnv(t, map[string][]byte{"/abc.png": pngBytes(t, 600, 600)}, nil)
	url := e.srv.URL + "/abc.png"
	p := e.pipeline(fakeClassifier{assets: []models.RemoteAsset{{URL: url, Kind: models.KindSingleImage}}}, media.KindThumbnailOnly)

	recs := p.Process(context.Background(), "https://imgur.com/abc")
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Degraded())

	_, ok := e.blobs.Get(buckets.Images, recs[0].Path)
	assert.False(t, ok)
	_, ok = e.blobs.Get(buckets.Thumbs, recs[0].Path)
	assert.True(t, ok)
}

type panicFetcher struct{}

func (panicFetcher) Fetch(context.Context, string) (fetcher.Content, error) { panic("boom") }

func TestProcess_PanicContainedPerAsset(t *testing.T) {
	blobs := blob.NewMemoryStore()
	records := &memRecords{recs: map[string]models.MediaRecord{}}
	g := gate.New(blobs, records, buckets.Images, logger.Discard())
	assets := []models.RemoteAsset{
		{URL: "http://x/a.png", Kind: models.KindSingleImage},
		{URL: "http://x/b.png", Kind: models.KindSingleImage},
	}
	p := New(fakeClassifier{assets: assets}, panicFetcher{}, g, blobs, Config{Buckets: buckets, ThumbnailSize: 300}, logger.Discard())

	recs := p.Process(context.Background(), "http://x/post")
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Degraded())
	assert.True(t, recs[1].Degraded())
}
