// Package thumbnail rasterizes slide SVGs into small PNG previews using a
// headless browser. Browser rendering is the only practical way to get
// faithful SVG rasterization (fonts, text layout) without a native renderer.
package thumbnail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/disintegration/imaging"
)

// DefaultWidth is the thumbnail width in pixels; height follows the slide
// aspect ratio.
const DefaultWidth = 320

// Generator renders thumbnails through a shared headless browser context.
// Creating the browser is expensive, so one Generator serves all jobs.
type Generator struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	timeout  time.Duration
	width    int
}

// New starts a headless browser allocator for thumbnail generation.
func New(timeout time.Duration, width int) *Generator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if width <= 0 {
		width = DefaultWidth
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(),
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("hide-scrollbars", true),
		)...)
	return &Generator{allocCtx: allocCtx, cancel: cancel, timeout: timeout, width: width}
}

// Render rasterizes an SVG to a PNG thumbnail. The SVG loads as a data URL
// in a fresh tab sized to the slide, gets screenshotted, and is downscaled
// to the thumbnail width.
func (g *Generator) Render(ctx context.Context, svg []byte, slideW, slideH int) ([]byte, error) {
	if slideW <= 0 || slideH <= 0 {
		return nil, fmt.Errorf("invalid slide dimensions %dx%d", slideW, slideH)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tabCtx, cancelTab := chromedp.NewContext(g.allocCtx)
	defer cancelTab()
	// Bound the tab by the caller's deadline.
	go func() {
		<-ctx.Done()
		cancelTab()
	}()

	dataURL := "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(svg)
	var shot []byte
	err := chromedp.Run(tabCtx,
		chromedp.EmulateViewport(int64(slideW), int64(slideH)),
		chromedp.Navigate(dataURL),
		chromedp.FullScreenshot(&shot, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("rasterize svg: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	thumb := imaging.Resize(img, g.width, 0, imaging.Lanczos)

	var out bytes.Buffer
	if err := png.Encode(&out, thumb); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return out.Bytes(), nil
}

// Close shuts down the browser allocator.
func (g *Generator) Close() {
	g.cancel()
}
