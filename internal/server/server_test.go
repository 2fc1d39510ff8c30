package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidesmith/pptx-pipeline/internal/cache"
	"github.com/slidesmith/pptx-pipeline/internal/config"
	"github.com/slidesmith/pptx-pipeline/internal/jobs"
	"github.com/slidesmith/pptx-pipeline/internal/pipeline"
	"github.com/slidesmith/pptx-pipeline/internal/pptx/pptxtest"
	"github.com/slidesmith/pptx-pipeline/internal/render"
	"github.com/slidesmith/pptx-pipeline/internal/storage"
)

type testEnv struct {
	srv     *httptest.Server
	gateway *storage.Local
	store   *jobs.MemoryStore
	orch    *jobs.Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()

	gateway, err := storage.NewLocal(t.TempDir(), "http://files.test", []byte("test-secret"))
	require.NoError(t, err)

	jobStore := jobs.NewMemoryStore()
	selector := render.NewSelector(nil, nil, log)
	resultCache := cache.Disabled()

	orch := jobs.NewOrchestrator(jobStore, &jobs.Options{Workers: 2, QueueDepth: 16, JobTimeout: 30 * time.Second}, log)
	processor := pipeline.NewProcessor(gateway, selector, resultCache, nil, nil, log)
	exporter := pipeline.NewExporter(gateway, log)
	orch.Register(jobs.KindProcess, processor.Handle)
	orch.Register(jobs.KindExport, exporter.Handle)
	orch.Start()
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

	cfg := &config.Service{
		StorageBackend: "local",
		MaxAttempts:    3,
		MaxUploadBytes: 10 << 20,
	}
	s := New(cfg, Deps{
		Store:    gateway,
		Local:    gateway,
		JobStore: jobStore,
		Orch:     orch,
		Renderer: selector,
		Cache:    resultCache,
		Log:      log,
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: ts, gateway: gateway, store: jobStore, orch: orch}
}

func (e *testEnv) upload(t *testing.T, deck []byte, sessionID string) ProcessResponse {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "deck.pptx")
	require.NoError(t, err)
	_, err = fw.Write(deck)
	require.NoError(t, err)
	if sessionID != "" {
		require.NoError(t, mw.WriteField("session_id", sessionID))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.srv.URL+"/v1/process", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out ProcessResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) awaitJob(t *testing.T, jobID string, want jobs.Status) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(e.srv.URL + "/v1/status/" + jobID)
		require.NoError(t, err)
		var job jobs.Job
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
		resp.Body.Close()
		if job.Terminal() {
			require.Equal(t, want, job.Status, "job finished with %q: %s", job.Status, job.ErrorMessage)
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return jobs.Job{}
}

func TestProcessLifecycle(t *testing.T) {
	env := newTestEnv(t)
	deck := pptxtest.SimpleDeck("Quarterly Review", "Budget Summary")

	accepted := env.upload(t, deck, "sess-life")
	assert.Equal(t, "sess-life", accepted.SessionID)
	assert.NotEmpty(t, accepted.JobID)
	assert.Len(t, accepted.DocumentID, 64)

	job := env.awaitJob(t, accepted.JobID, jobs.StatusCompleted)
	assert.Equal(t, 100, job.Progress)

	resp, err := http.Get(env.srv.URL + "/v1/results/sess-life")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results struct {
		SlideCount int `json:"slide_count"`
		Slides     []struct {
			SlideNumber int    `json:"slide_number"`
			SVGURL      string `json:"svg_url"`
			Shapes      []struct {
				ID   string `json:"shape_id"`
				Text string `json:"original_text"`
			} `json:"shapes"`
		} `json:"slides"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Equal(t, 2, results.SlideCount)
	require.Len(t, results.Slides, 2)
	assert.Equal(t, "Quarterly Review", results.Slides[0].Shapes[0].Text)
	assert.Equal(t, "s1-2", results.Slides[0].Shapes[0].ID)
	assert.Contains(t, results.Slides[0].SVGURL, "signature=")
}

func TestProcessRejectsCorruptUpload(t *testing.T) {
	env := newTestEnv(t)
	resp := postMultipart(t, env.srv.URL+"/v1/process", []byte("not a zip archive"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProcessRequiresFileField(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("session_id", "no-file"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(env.srv.URL+"/v1/process", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func postMultipart(t *testing.T, url string, payload []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "deck.pptx")
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func TestResultsByDocumentID(t *testing.T) {
	env := newTestEnv(t)
	deck := pptxtest.SimpleDeck("By Document")
	accepted := env.upload(t, deck, "sess-doc")
	env.awaitJob(t, accepted.JobID, jobs.StatusCompleted)

	resp, err := http.Get(env.srv.URL + "/v1/results/" + accepted.DocumentID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results struct {
		DocumentID string `json:"document_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	assert.Equal(t, accepted.DocumentID, results.DocumentID)
}

func TestStatusUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/v1/status/no-such-job")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRetryNonFailedJobConflicts(t *testing.T) {
	env := newTestEnv(t)
	deck := pptxtest.SimpleDeck("Retry Target")
	accepted := env.upload(t, deck, "sess-retry")
	env.awaitJob(t, accepted.JobID, jobs.StatusCompleted)

	resp, err := http.Post(env.srv.URL+"/v1/retry/"+accepted.JobID, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestExportWithoutTranslationsReturnsOriginal(t *testing.T) {
	env := newTestEnv(t)
	deck := pptxtest.SimpleDeck("Untouched Deck")
	accepted := env.upload(t, deck, "sess-verbatim")
	env.awaitJob(t, accepted.JobID, jobs.StatusCompleted)

	body, _ := json.Marshal(ExportRequest{SessionID: "sess-verbatim"})
	resp, err := http.Post(env.srv.URL+"/v1/export", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var exported ExportResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&exported))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	env.awaitJob(t, exported.JobID, jobs.StatusCompleted)

	got := env.download(t, "sess-verbatim")
	assert.Equal(t, deck, got)
}

// download resolves the signed export URL and fetches its bytes through the
// file-serving endpoint.
func (e *testEnv) download(t *testing.T, sessionID string) []byte {
	t.Helper()
	resp, err := http.Get(e.srv.URL + "/v1/export/" + sessionID + "/download")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ready struct {
		DownloadURL string `json:"download_url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	require.NotEmpty(t, ready.DownloadURL)

	signed, err := url.Parse(ready.DownloadURL)
	require.NoError(t, err)
	fileResp, err := http.Get(e.srv.URL + signed.Path + "?" + signed.RawQuery)
	require.NoError(t, err)
	defer fileResp.Body.Close()
	require.Equal(t, http.StatusOK, fileResp.StatusCode)

	var got bytes.Buffer
	_, err = got.ReadFrom(fileResp.Body)
	require.NoError(t, err)
	return got.Bytes()
}

func TestExportAppliesTranslations(t *testing.T) {
	env := newTestEnv(t)
	deck := pptxtest.SimpleDeck("Hello World")
	accepted := env.upload(t, deck, "sess-translate")
	env.awaitJob(t, accepted.JobID, jobs.StatusCompleted)

	translations, _ := json.Marshal(map[string]string{"s1-2": "Bonjour le monde"})
	req, err := http.NewRequest(http.MethodPut, env.srv.URL+"/v1/translations/sess-translate", bytes.NewReader(translations))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	putResp.Body.Close()
	require.Equal(t, http.StatusNoContent, putResp.StatusCode)

	body, _ := json.Marshal(ExportRequest{SessionID: "sess-translate"})
	resp, err := http.Post(env.srv.URL+"/v1/export", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var exported ExportResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&exported))
	resp.Body.Close()

	env.awaitJob(t, exported.JobID, jobs.StatusCompleted)

	got := env.download(t, "sess-translate")
	assert.NotEqual(t, deck, got)

	texts := pptxtest.SlideTexts(got)
	assert.Contains(t, texts, "Bonjour le monde")
	assert.NotContains(t, texts, "Hello World")
}

func TestExportUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	body, _ := json.Marshal(ExportRequest{SessionID: "never-processed"})
	resp, err := http.Post(env.srv.URL+"/v1/export", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadBeforeExport(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/v1/export/no-export/download")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSignedFileServing(t *testing.T) {
	env := newTestEnv(t)
	deck := pptxtest.SimpleDeck("Signed Slide")
	accepted := env.upload(t, deck, "sess-files")
	env.awaitJob(t, accepted.JobID, jobs.StatusCompleted)

	resp, err := http.Get(env.srv.URL + "/v1/results/sess-files")
	require.NoError(t, err)
	var results struct {
		Slides []struct {
			SVGURL string `json:"svg_url"`
		} `json:"slides"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	resp.Body.Close()
	require.NotEmpty(t, results.Slides)

	signed, err := url.Parse(results.Slides[0].SVGURL)
	require.NoError(t, err)
	// Signed URLs use the configured public host; replay against the
	// test server instead.
	fileResp, err := http.Get(env.srv.URL + signed.Path + "?" + signed.RawQuery)
	require.NoError(t, err)
	defer fileResp.Body.Close()
	assert.Equal(t, http.StatusOK, fileResp.StatusCode)
	assert.Equal(t, "image/svg+xml", fileResp.Header.Get("Content-Type"))

	tampered := env.srv.URL + signed.Path + "?expires=9999999999&signature=deadbeef"
	badResp, err := http.Get(tampered)
	require.NoError(t, err)
	defer badResp.Body.Close()
	assert.Equal(t, http.StatusForbidden, badResp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Components["storage"])
	assert.Equal(t, "ok", health.Components["jobs"])
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	deck := pptxtest.SimpleDeck("Counted")
	accepted := env.upload(t, deck, "sess-metrics")
	env.awaitJob(t, accepted.JobID, jobs.StatusCompleted)

	resp, err := http.Get(env.srv.URL + "/v1/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var metrics jobs.Metrics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&metrics))
	assert.GreaterOrEqual(t, metrics.Completed, int64(1))
}

func TestResultCacheHitOnResubmit(t *testing.T) {
	env := newTestEnv(t)
	deck := pptxtest.SimpleDeck("Same Bytes")

	first := env.upload(t, deck, "sess-a")
	env.awaitJob(t, first.JobID, jobs.StatusCompleted)
	second := env.upload(t, deck, "sess-b")
	env.awaitJob(t, second.JobID, jobs.StatusCompleted)

	// Content addressing: identical uploads share a document.
	assert.Equal(t, first.DocumentID, second.DocumentID)

	for _, sess := range []string{"sess-a", "sess-b"} {
		resp, err := http.Get(env.srv.URL + "/v1/results/" + sess)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, fmt.Sprintf("session %s", sess))
		resp.Body.Close()
	}
}
