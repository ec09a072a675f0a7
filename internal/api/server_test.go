package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/pipelab/internal/pipeline"
	"github.com/YuminosukeSato/pipelab/pkg/log"
)

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *log.TestLogger) {
	t.Helper()
	logger, _ := log.NewTestLogger(log.LevelDebug)
	opts.Logger = logger
	p := pipeline.New(pipeline.DefaultSettings(), pipeline.WithLogger(logger))
	srv := httptest.NewServer(NewServer(p, opts).Handler())
	t.Cleanup(srv.Close)
	return srv, logger
}

func sampleCSV(n int) string {
	rng := rand.New(rand.NewSource(3))
	var b strings.Builder
	b.WriteString("f1,f2,label\n")
	for i := 0; i < n; i++ {
		x1, x2 := rng.Float64()*10, rng.Float64()*10
		label := "low"
		if x1 > x2 {
			label = "high"
		}
		fmt.Fprintf(&b, "%.3f,%.3f,%s\n", x1, x2, label)
	}
	return b.String()
}

func uploadFile(t *testing.T, url, filename, content string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/api/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func postJSON(t *testing.T, url, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestFullWorkflow(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp := uploadFile(t, srv.URL, "data.csv", sampleCSV(100))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	up := decode(t, resp)
	assert.Equal(t, true, up["success"])
	assert.Equal(t, float64(100), up["rows"])
	assert.Equal(t, float64(3), up["columns"])
	assert.Equal(t, map[string]any{"f1": "float64", "f2": "float64", "label": "object"}, up["data_types"])
	assert.Len(t, up["preview"], 10)
	assert.NotEmpty(t, up["dataset_id"])

	resp = postJSON(t, srv.URL, "/api/preprocess", `{"type":"standardization","target_column":"label"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pre := decode(t, resp)
	assert.Equal(t, "standardization", pre["preprocessing_type"])
	assert.Equal(t, float64(2), pre["feature_count"])
	assert.Equal(t, float64(100), pre["sample_count"])
	assert.Contains(t, pre["target_note"], "categorical text")

	resp = postJSON(t, srv.URL, "/api/split", `{"test_size":0.2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sp := decode(t, resp)
	assert.Equal(t, float64(80), sp["train_size"])
	assert.Equal(t, float64(20), sp["test_size"])
	assert.Equal(t, true, sp["stratified"])
	assert.NotContains(t, sp, "note")

	resp = postJSON(t, srv.URL, "/api/train", `{"model_type":"decision_tree"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr := decode(t, resp)
	assert.Equal(t, "Decision Tree Classifier", tr["model_type"])
	assert.NotEmpty(t, tr["confusion_matrix_image"])
	assert.Equal(t, float64(20), tr["predictions_count"])
	report, ok := tr["classification_report"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"0", "1", "accuracy", "macro avg", "weighted avg"} {
		assert.Contains(t, report, key)
	}

	resp, err := http.Get(srv.URL + "/api/pipeline/status")
	require.NoError(t, err)
	st := decode(t, resp)
	assert.Equal(t, true, st["dataset_uploaded"])
	assert.Equal(t, "StandardScaler", st["preprocessing_applied"])
	assert.Equal(t, true, st["data_split"])
	assert.Equal(t, true, st["model_trained"])
	assert.Equal(t, tr["accuracy"], st["accuracy"])

	resp = postJSON(t, srv.URL, "/api/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"success": true}, decode(t, resp))

	resp, err = http.Get(srv.URL + "/api/pipeline/status")
	require.NoError(t, err)
	st = decode(t, resp)
	assert.Equal(t, false, st["dataset_uploaded"])
	assert.Nil(t, st["accuracy"])
	assert.Nil(t, st["preprocessing_applied"])
}

func TestErrorStatuses(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	tests := []struct {
		name    string
		do      func() *http.Response
		status  int
		message string
	}{
		{"preprocess before upload", func() *http.Response {
			return postJSON(t, srv.URL, "/api/preprocess", `{"type":"none","target_column":"x"}`)
		}, http.StatusBadRequest, "No dataset uploaded"},
		{"split before preprocess", func() *http.Response {
			return postJSON(t, srv.URL, "/api/split", `{}`)
		}, http.StatusBadRequest, "Please preprocess data first"},
		{"train before split", func() *http.Response {
			return postJSON(t, srv.URL, "/api/train", `{"model_type":"decision_tree"}`)
		}, http.StatusBadRequest, "Please split data first"},
		{"unsupported format", func() *http.Response {
			return uploadFile(t, srv.URL, "data.txt", "a\n1\n")
		}, http.StatusBadRequest, "Unsupported file format. Please upload CSV or Excel file."},
		{"no file", func() *http.Response {
			return postJSON(t, srv.URL, "/api/upload", `{}`)
		}, http.StatusBadRequest, "No file provided"},
		{"empty filename", func() *http.Response {
			return uploadFile(t, srv.URL, "", "a\n1\n")
		}, http.StatusBadRequest, ""},
		{"unknown field", func() *http.Response {
			return postJSON(t, srv.URL, "/api/split", `{"test_size":0.2,"shuffle":false}`)
		}, http.StatusBadRequest, ""},
		{"malformed json", func() *http.Response {
			return postJSON(t, srv.URL, "/api/train", `{"model_type":`)
		}, http.StatusBadRequest, ""},
		{"missing target column", func() *http.Response {
			return postJSON(t, srv.URL, "/api/preprocess", `{"type":"none"}`)
		}, http.StatusBadRequest, "target_column is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.do()
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode(t, resp)
			require.Contains(t, body, "error")
			if tt.message != "" {
				assert.Equal(t, tt.message, body["error"])
			}
		})
	}
}

func TestInvalidModelTypeAndSplitFraction(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	require.Equal(t, http.StatusOK, uploadFile(t, srv.URL, "d.csv", sampleCSV(40)).StatusCode)
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL, "/api/preprocess", `{"type":"normalization","target_column":"label"}`).StatusCode)

	resp := postJSON(t, srv.URL, "/api/split", `{"test_size":1.5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, postJSON(t, srv.URL, "/api/split", "").StatusCode)

	resp = postJSON(t, srv.URL, "/api/train", `{"model_type":"svm"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid model type", decode(t, resp)["error"])

	resp = postJSON(t, srv.URL, "/api/train", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestPreprocessWithNonFiniteCells(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp := uploadFile(t, srv.URL, "inf.csv", "f1,f2,label\n1,inf,0\n2,3,1\n3,4,0\n4,5,1\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	up := decode(t, resp)
	assert.Equal(t, map[string]any{"f1": float64(0), "f2": float64(1), "label": float64(0)}, up["missing_values"])

	for _, mode := range []string{"none", "standardization", "normalization"} {
		t.Run(mode, func(t *testing.T) {
			resp := postJSON(t, srv.URL, "/api/preprocess", `{"type":"`+mode+`","target_column":"label"}`)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			body := decode(t, resp)
			assert.Equal(t, true, body["success"])
			assert.Contains(t, body["imputation_note"], "f2 (1)")
		})
	}
}

func TestPreprocessOverflowIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp := uploadFile(t, srv.URL, "big.csv", "f1,f2,label\n1,1.5e308,0\n2,1.5e308,1\n3,-1,0\n4,2,1\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL, "/api/preprocess", `{"type":"standardization","target_column":"label"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode(t, resp)["error"], "not finite")
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"x": math.Inf(1)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "Error encoding response")
}

func TestUploadTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, Options{MaxUploadBytes: 256})

	resp := uploadFile(t, srv.URL, "big.csv", sampleCSV(200))
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusRequestEntityTooLarge}, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/pipeline/status")
	require.NoError(t, err)
	assert.Equal(t, false, decode(t, resp)["dataset_uploaded"])
}

func TestHealthzAndCORS(t *testing.T) {
	srv, logger := newTestServer(t, Options{AllowedOrigins: []string{"http://localhost:3000"}})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/train", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	assert.True(t, logger.ContainsMessage("Request served"))
	assert.True(t, logger.ContainsField(log.PathKey, "/healthz"))
}
