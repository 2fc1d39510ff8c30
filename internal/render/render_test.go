package render

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidesmith/pptx-pipeline/internal/types"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestBridgeRenderSlide(t *testing.T) {
	var uploads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut:
			uploads.Add(1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/slides/1.svg"):
			w.Write([]byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, nil, testLogger())
	req := Request{DocumentID: "doc1", Archive: []byte("deck"), SlideIndex: 0, WidthPx: 1280, HeightPx: 720}

	svg, err := b.RenderSlide(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")

	// Second render reuses the registered document.
	_, err = b.RenderSlide(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), uploads.Load())
}

func TestBridgeUploadRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write([]byte(`<svg/>`))
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, &BridgeOptions{CallTimeout: 5 * time.Second, ConnectRetries: 5}, testLogger())
	_, err := b.RenderSlide(context.Background(), Request{DocumentID: "d", Archive: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBridgeUploadClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, nil, testLogger())
	_, err := b.RenderSlide(context.Background(), Request{DocumentID: "d", Archive: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestSynthesize(t *testing.T) {
	shapes := []types.Shape{
		{
			ShapeID: "s1-2", ShapeType: types.ShapeText,
			OriginalText: "Title Line\nSecond Line",
			X: 10, Y: 5, Width: 80, Height: 20,
			FontFamily: "Calibri", FontSize: 44, FontWeight: "bold", Color: "#112233",
		},
		{ShapeID: "s1-5", ShapeType: types.ShapeImage, X: 10, Y: 40, Width: 30, Height: 30},
	}

	svg := string(Synthesize(1280, 720, shapes))
	assert.Contains(t, svg, `viewBox="0 0 1280 720"`)
	assert.Contains(t, svg, ">Title Line</text>")
	assert.Contains(t, svg, ">Second Line</text>")
	assert.Contains(t, svg, `font-size="44.0"`)
	assert.Contains(t, svg, `font-weight="bold"`)
	// Text box at 10% of 1280 = 128px.
	assert.Contains(t, svg, `<text x="128.0"`)
}

func TestSynthesizeEscapesText(t *testing.T) {
	shapes := []types.Shape{{
		ShapeType: types.ShapeText, OriginalText: "A < B & C",
		Width: 50, Height: 10, FontSize: 18,
	}}
	svg := string(Synthesize(1280, 720, shapes))
	assert.Contains(t, svg, "A &lt; B &amp; C")
}

func TestSelectorFallsBackPerSlide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, &BridgeOptions{CallTimeout: 5 * time.Second, ConnectRetries: 0}, testLogger())
	sel := NewSelector(b, nil, testLogger())

	res, err := sel.StartRun().RenderSlide(context.Background(), Request{
		DocumentID: "d", Archive: []byte("x"), WidthPx: 1280, HeightPx: 720,
		Shapes: []types.Shape{{ShapeType: types.ShapeText, OriginalText: "hello", Width: 50, Height: 10}},
	})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, BackendFallback, res.Backend)
	assert.Contains(t, string(res.SVG), "hello")
}

func TestSelectorCircuitDisablesBridgeForRun(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusOK)
			return
		}
		hits.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`<svg/>`))
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, &BridgeOptions{CallTimeout: 5 * time.Second, ConnectRetries: 0}, testLogger())
	sel := NewSelector(b, &SelectorOptions{FailureThreshold: 2, Cooldown: time.Minute}, testLogger())
	now := time.Now()
	sel.now = func() time.Time { return now }

	req := Request{DocumentID: "d", Archive: []byte("x"), WidthPx: 100, HeightPx: 100}
	ctx := context.Background()
	run := sel.StartRun()

	// Two failures trip the run's breaker.
	for range 2 {
		res, err := run.RenderSlide(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Fallback)
	}
	assert.True(t, sel.Degraded())

	// The rest of this run never contacts the bridge, even if it has
	// recovered in the meantime.
	fail.Store(false)
	renderHits := hits.Load()
	res, err := run.RenderSlide(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, renderHits, hits.Load())

	// A fresh run for the next document starts closed and reaches the
	// bridge again.
	res, err = sel.StartRun().RenderSlide(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, BackendBridge, res.Backend)

	// Degraded reflects the trip until the cooldown window passes.
	assert.True(t, sel.Degraded())
	now = now.Add(2 * time.Minute)
	assert.False(t, sel.Degraded())
}

func TestSelectorRunsIsolateFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write([]byte(`<svg/>`))
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, &BridgeOptions{CallTimeout: 5 * time.Second, ConnectRetries: 0}, testLogger())
	sel := NewSelector(b, &SelectorOptions{FailureThreshold: 1, Cooldown: time.Minute}, testLogger())

	broken := sel.StartRun()
	broken.recordFailure("doc-a")

	// doc-a's trip must not route doc-b to the synthesizer.
	res, err := sel.StartRun().RenderSlide(context.Background(), Request{
		DocumentID: "doc-b", Archive: []byte("x"), WidthPx: 100, HeightPx: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, BackendBridge, res.Backend)
}

func TestSelectorWithoutBridge(t *testing.T) {
	sel := NewSelector(nil, nil, testLogger())
	res, err := sel.StartRun().RenderSlide(context.Background(), Request{WidthPx: 100, HeightPx: 100})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
}
