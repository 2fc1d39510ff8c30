package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// BridgeError represents a failure talking to the LibreOffice bridge.
type BridgeError struct {
	Op      string
	Message string
	Cause   error
}

func (e *BridgeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("bridge %s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("bridge %s: %s", e.Op, e.Message)
}

func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// BridgeOptions configures the bridge client.
type BridgeOptions struct {
	// CallTimeout bounds a single upload or render call.
	CallTimeout time.Duration
	// ConnectRetries is how many times an upload is retried with
	// exponential backoff before the call is reported as failed.
	ConnectRetries uint64
}

// DefaultBridgeOptions returns sensible defaults for the bridge client.
func DefaultBridgeOptions() *BridgeOptions {
	return &BridgeOptions{
		CallTimeout:    30 * time.Second,
		ConnectRetries: 3,
	}
}

// Bridge renders slides through the LibreOffice bridge service. A deck is
// uploaded once per document ID and rendered slide by slide; the bridge
// keeps the converted document hot between slide calls.
type Bridge struct {
	baseURL string
	client  *http.Client
	opts    *BridgeOptions
	log     zerolog.Logger

	mu       sync.Mutex
	uploaded map[string]bool
}

// NewBridge creates a client for the bridge service at baseURL.
func NewBridge(baseURL string, opts *BridgeOptions, log zerolog.Logger) *Bridge {
	if opts == nil {
		opts = DefaultBridgeOptions()
	}
	return &Bridge{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: opts.CallTimeout},
		opts:     opts,
		log:      log.With().Str("component", "render_bridge").Logger(),
		uploaded: make(map[string]bool),
	}
}

// Name identifies the backend on rendered slides.
func (b *Bridge) Name() string { return BackendBridge }

// RenderSlide renders one slide (0-based) to SVG, uploading the archive
// first if this document has not been registered yet.
func (b *Bridge) RenderSlide(ctx context.Context, req Request) ([]byte, error) {
	if err := b.ensureUploaded(ctx, req.DocumentID, req.Archive); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.CallTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/documents/%s/slides/%d.svg?width=%d&height=%d",
		b.baseURL, req.DocumentID, req.SlideIndex+1, req.WidthPx, req.HeightPx)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &BridgeError{Op: "render", Message: "build request", Cause: err}
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, &BridgeError{Op: "render", Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// The bridge evicted the document; force a re-upload next call.
		b.forget(req.DocumentID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &BridgeError{Op: "render", Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	svg, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BridgeError{Op: "render", Message: "read response", Cause: err}
	}
	if len(svg) == 0 {
		return nil, &BridgeError{Op: "render", Message: "empty svg response"}
	}
	return svg, nil
}

// Healthy probes the bridge health endpoint.
func (b *Bridge) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/healthz", nil)
	if err != nil {
		return &BridgeError{Op: "health", Message: "build request", Cause: err}
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return &BridgeError{Op: "health", Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &BridgeError{Op: "health", Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

// ensureUploaded registers the archive with the bridge once per document.
// Uploads retry with exponential backoff since the bridge restarts its
// LibreOffice worker processes under memory pressure.
func (b *Bridge) ensureUploaded(ctx context.Context, docID string, archive []byte) error {
	b.mu.Lock()
	done := b.uploaded[docID]
	b.mu.Unlock()
	if done {
		return nil
	}

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, b.opts.CallTimeout)
		defer cancel()

		url := fmt.Sprintf("%s/documents/%s", b.baseURL, docID)
		req, err := http.NewRequestWithContext(callCtx, http.MethodPut, url, bytes.NewReader(archive))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/vnd.openxmlformats-officedocument.presentationml.presentation")

		resp, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("upload status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("upload status %d", resp.StatusCode))
		}
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), b.opts.ConnectRetries)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return &BridgeError{Op: "upload", Message: "register document", Cause: err}
	}

	b.mu.Lock()
	b.uploaded[docID] = true
	b.mu.Unlock()
	b.log.Debug().Str("document_id", docID).Msg("document registered with bridge")
	return nil
}

func (b *Bridge) forget(docID string) {
	b.mu.Lock()
	delete(b.uploaded, docID)
	b.mu.Unlock()
}
