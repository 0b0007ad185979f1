package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/maplink/internal/facet"
	"github.com/sells-group/maplink/internal/job"
	"github.com/sells-group/maplink/internal/locate"
	"github.com/sells-group/maplink/internal/metrics"
	"github.com/sells-group/maplink/internal/model"
	"github.com/sells-group/maplink/internal/sheet"
	"github.com/sells-group/maplink/internal/sheet/sheettest"
)

// gateLocator blocks every row until release is closed.
type gateLocator struct {
	release chan struct{}
	once    sync.Once
	entered chan struct{}
}

func newGate() *gateLocator {
	return &gateLocator{release: make(chan struct{}), entered: make(chan struct{})}
}

func (g *gateLocator) Locate(ctx context.Context, _ sheet.SourceRow) (locate.Result, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return locate.Result{Link: model.NotFoundLink, Status: model.StatusNotFound}, nil
}

func (g *gateLocator) Close() error { return nil }

type harness struct {
	srv  *Server
	jobs *job.Controller
	gate *gateLocator
	out  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gate := newGate()
	out := t.TempDir()
	ctl, err := job.New(job.Config{
		OutputDir: out,
		NewSession: func(context.Context, model.JobOptions) (job.Locator, error) {
			return gate, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		select {
		case <-gate.release:
		default:
			close(gate.release)
		}
		ctl.Close() //nolint:errcheck
	})

	srv := New(Config{
		Jobs:      ctl,
		Metrics:   metrics.New(),
		UploadDir: filepath.Join(t.TempDir(), "uploads"),
		Heartbeat: time.Hour,
	})
	return &harness{srv: srv, jobs: ctl, gate: gate, out: out}
}

func multipartBody(t *testing.T, doc []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if doc != nil {
		fw, err := mw.CreateFormFile("file", "stores.xlsx")
		require.NoError(t, err)
		_, err = fw.Write(doc)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (h *harness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) upload(t *testing.T, path string, doc []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, doc, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	return h.do(t, req)
}

func sampleDoc(t *testing.T) []byte {
	return sheettest.Workbook(t,
		sheettest.Row{ID: "1", Project: "2026_bidding", Province: "Hồ Chí Minh", District: "Quận 1", ShopName: "BHX A"},
		sheettest.Row{ID: "2", Project: "2026_bidding", Province: "Hồ Chí Minh", District: "Quận 1", ShopName: "BHX B"},
		sheettest.Row{ID: "3", Project: "2026_bidding", Province: "Hà Nội", District: "Ba Đình", ShopName: "BHX C", Survey: "Done"},
	)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestScan_Facets(t *testing.T) {
	h := newHarness(t)
	rec := h.upload(t, "/api/scan", sampleDoc(t), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got facet.ScanResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.TotalRows)
	require.Len(t, got.FilterData, 2)
	assert.Equal(t, 2, got.FilterData[0].Count)
	assert.Equal(t, model.EmptySurvey, got.FilterData[0].Survey)
}

func TestScan_UniqueMode(t *testing.T) {
	h := newHarness(t)
	rec := h.upload(t, "/api/scan?mode=unique", sampleDoc(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got facet.UniqueValues
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"2026_bidding"}, got.Projects)
	assert.ElementsMatch(t, []string{"Hồ Chí Minh", "Hà Nội"}, got.Provinces)
}

func TestScan_BadInput(t *testing.T) {
	h := newHarness(t)

	rec := h.upload(t, "/api/scan", nil, map[string]string{"x": "y"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.upload(t, "/api/scan", []byte("not a workbook"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cannot read document")
}

func TestStartStopStatus(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.JSONEq(t, `{"state":"idle"}`, rec.Body.String())

	rec = h.upload(t, "/api/start", sampleDoc(t), map[string]string{
		"projectCode": "2026_bidding",
		"province":    "Hồ Chí Minh",
		"headless":    "true",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var started map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	id := started["jobId"]
	require.NotEmpty(t, id)

	<-h.gate.entered

	rec = h.upload(t, "/api/start", sampleDoc(t), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var status model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, id, status.ID)
	assert.Equal(t, model.JobStateRunning, status.State)
	assert.True(t, status.Options.Headless)
	assert.Equal(t, "Hồ Chí Minh", status.Options.Province)

	req := httptest.NewRequest(http.MethodPost, "/api/stop", strings.NewReader(`{"jobId":"`+id+`"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = h.do(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	close(h.gate.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := h.jobs.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateStopped, final.State)
	assert.Equal(t, 1, final.Processed)

	rec = h.do(t, httptest.NewRequest(http.MethodPost, "/api/stop", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	uploads, err := os.ReadDir(h.srv.cfg.UploadDir)
	require.NoError(t, err)
	assert.Len(t, uploads, 2)
}

func TestStart_InvalidResumeKey(t *testing.T) {
	h := newHarness(t)
	rec := h.upload(t, "/api/start", sampleDoc(t), map[string]string{"resumeKey": "../x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents_StreamsBusEvents(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	h.jobs.Bus().Log("job-1", "hello")

	var eventLine, dataLine string
	for eventLine == "" || dataLine == "" {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(line)
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		}
	}
	assert.Equal(t, "event: log", eventLine)

	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(dataLine), &ev))
	assert.Equal(t, "log", ev["type"])
	assert.Equal(t, "job-1", ev["jobId"])
	assert.Equal(t, "hello", ev["data"])
}

func TestOutputs(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.out, "Final_Result_k.xlsx"), []byte("xlsx-bytes"), 0o644))

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/outputs/Final_Result_k.xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "xlsx-bytes", string(body))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Final_Result_k.xlsx")

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/outputs/missing.xlsx", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/outputs/..%2Fsecret", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "maplink_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	rec := h.do(t, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestFormBool(t *testing.T) {
	assert.True(t, formBool("true"))
	assert.True(t, formBool("on"))
	assert.True(t, formBool(" 1 "))
	assert.False(t, formBool(""))
	assert.False(t, formBool("no"))
}
