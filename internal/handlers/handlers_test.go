package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Brownie44l1/deception-api/internal/explain"
	"github.com/Brownie44l1/deception-api/internal/model"
)

type keywordClassifier struct {
	probs []float64 // nil: no probability estimation
}

func (k keywordClassifier) Predict(text string) (model.Class, error) {
	if strings.Contains(text, "lie") {
		return model.ClassDeceptive, nil
	}
	return model.ClassTruthful, nil
}

func (k keywordClassifier) PredictProba(string) ([]float64, error) {
	if k.probs == nil {
		return nil, model.ErrNoProbabilities
	}
	return k.probs, nil
}

func (keywordClassifier) Close() error { return nil }

type vectorClassifier struct{}

func (vectorClassifier) Predict(x []float64) (model.Class, error) {
	if x[0] > 0 {
		return model.ClassDeceptive, nil
	}
	return model.ClassTruthful, nil
}

func (vectorClassifier) PredictProba(x []float64) ([]float64, error) {
	if x[0] > 0 {
		return []float64{0.2, 0.8}, nil
	}
	return []float64{0.7, 0.3}, nil
}

func (vectorClassifier) Close() error { return nil }

type fakeExtractor struct {
	vec   []float64
	err   error
	calls int
	paths []string
	data  []string
}

func (f *fakeExtractor) ExtractFile(path string) ([]float64, error) {
	f.calls++
	f.paths = append(f.paths, path)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.data = append(f.data, string(b))
	return f.vec, f.err
}

type fakeExplainer struct {
	text     string
	err      error
	got      string
	deadline bool
}

func (f *fakeExplainer) Explain(ctx context.Context, transcript string) (string, error) {
	f.got = transcript
	_, f.deadline = ctx.Deadline()
	return f.text, f.err
}

func newTestHandler(t *testing.T, set *model.Set, ext FeatureExtractor, exp *fakeExplainer) (*Handler, string) {
	t.Helper()
	dir := t.TempDir()
	var e explain.Explainer
	if exp != nil {
		e = exp
	}
	h := NewHandler(set, ext, e, Options{ScratchDir: dir, MaxUploadBytes: 1 << 20, ExplainTimeout: time.Second})
	return h, dir
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 && strings.Contains(rec.Header().Get("Content-Type"), "json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, body
}

func jsonRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, field, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, "clip.wav")
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(fw, content)
	} else if err := mw.WriteField("note", "no file here"); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/audio-predict", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch dir not cleaned up: %v", entries)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, nil, nil, nil)
	rec, _ := do(t, h.Routes(), httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"Backend active"}` {
		t.Fatalf("body = %s", got)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("missing request id")
	}
}

func TestPreflightAndRouting(t *testing.T) {
	h, _ := newTestHandler(t, nil, nil, nil)
	routes := h.Routes()

	rec, _ := do(t, routes, httptest.NewRequest(http.MethodOptions, "/predict", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("preflight missing allow-methods")
	}

	rec, _ = do(t, routes, httptest.NewRequest(http.MethodGet, "/predict", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /predict status = %d", rec.Code)
	}
	rec, _ = do(t, routes, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /nope status = %d", rec.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	h, _ := newTestHandler(t, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec, _ := do(t, h.Routes(), req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("request id = %q", got)
	}
}

func TestAudioPredict(t *testing.T) {
	ext := &fakeExtractor{vec: []float64{1, 0, 0}}
	h, dir := newTestHandler(t, &model.Set{Audio: vectorClassifier{}}, ext, nil)

	rec, body := do(t, h.Routes(), uploadRequest(t, "file", "RIFF-bytes"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if body["prediction"] != "Deceptive" || body["confidence"] != 0.8 {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["probabilities"]; ok {
		t.Fatal("audio response must not carry probabilities")
	}
	if ext.calls != 1 || ext.data[0] != "RIFF-bytes" {
		t.Fatalf("extractor saw %v", ext.data)
	}
	if !strings.HasPrefix(ext.paths[0], dir) {
		t.Fatalf("upload written outside scratch dir: %s", ext.paths[0])
	}
	assertEmptyDir(t, dir)
}

func TestAudioPredictExtractionFailureCleansUp(t *testing.T) {
	ext := &fakeExtractor{err: errors.New("decode: secret internal detail")}
	h, dir := newTestHandler(t, &model.Set{Audio: vectorClassifier{}}, ext, nil)

	rec, body := do(t, h.Routes(), uploadRequest(t, "file", "garbage"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["error"] != "Audio prediction failed" {
		t.Fatalf("error = %v", body["error"])
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatal("internal error text leaked to client")
	}
	if body["request_id"] != rec.Header().Get(RequestIDHeader) {
		t.Fatalf("request_id = %v", body["request_id"])
	}
	assertEmptyDir(t, dir)
}

func TestAudioPredictErrors(t *testing.T) {
	tests := map[string]struct {
		set    *model.Set
		req    func(t *testing.T) *http.Request
		status int
		msg    string
	}{
		"model not loaded": {
			set:    &model.Set{},
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "file", "x") },
			status: http.StatusInternalServerError,
			msg:    "Audio model not loaded",
		},
		"no file field": {
			set:    &model.Set{Audio: vectorClassifier{}},
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "", "") },
			status: http.StatusBadRequest,
			msg:    "No file uploaded",
		},
		"wrong field name": {
			set:    &model.Set{Audio: vectorClassifier{}},
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "audio", "x") },
			status: http.StatusBadRequest,
			msg:    "No file uploaded",
		},
		"not multipart": {
			set:    &model.Set{Audio: vectorClassifier{}},
			req:    func(t *testing.T) *http.Request { return jsonRequest("/audio-predict", `{}`) },
			status: http.StatusBadRequest,
			msg:    "No file uploaded",
		},
		"too large": {
			set:    &model.Set{Audio: vectorClassifier{}},
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "file", strings.Repeat("x", 2<<20)) },
			status: http.StatusBadRequest,
			msg:    "Uploaded file is too large",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ext := &fakeExtractor{vec: []float64{1}}
			h, dir := newTestHandler(t, tt.set, ext, nil)
			rec, body := do(t, h.Routes(), tt.req(t))
			if rec.Code != tt.status || body["error"] != tt.msg {
				t.Fatalf("got %d %v, want %d %q", rec.Code, body, tt.status, tt.msg)
			}
			if ext.calls != 0 {
				t.Fatal("extractor must not run")
			}
			assertEmptyDir(t, dir)
		})
	}
}

func TestPredictText(t *testing.T) {
	h, _ := newTestHandler(t, &model.Set{Text: keywordClassifier{}}, nil, nil)
	rec, body := do(t, h.Routes(), jsonRequest("/predict", `{"text": "I was at work all day"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["prediction"] != "Truthful" || body["confidence"] != 1.0 {
		t.Fatalf("body = %v", body)
	}
	probs := body["probabilities"].(map[string]any)
	if probs["Truthful"] != 1.0 || probs["Deceptive"] != 0.0 {
		t.Fatalf("probabilities = %v", probs)
	}
}

func TestPredictTextWithProbabilities(t *testing.T) {
	h, _ := newTestHandler(t, &model.Set{Text: keywordClassifier{probs: []float64{0.35, 0.65}}}, nil, nil)
	_, body := do(t, h.Routes(), jsonRequest("/predict", `{"text": "I never lie"}`))
	if body["prediction"] != "Deceptive" || body["confidence"] != 0.65 {
		t.Fatalf("body = %v", body)
	}
	probs := body["probabilities"].(map[string]any)
	sum := probs["Truthful"].(float64) + probs["Deceptive"].(float64)
	if sum < 0.999999 || sum > 1.000001 {
		t.Fatalf("probabilities sum to %v", sum)
	}
}

func TestPredictTextErrors(t *testing.T) {
	loaded := &model.Set{Text: keywordClassifier{}}
	tests := map[string]struct {
		set    *model.Set
		body   string
		status int
		msg    string
	}{
		"model not loaded": {&model.Set{}, `{"text": "hi"}`, http.StatusInternalServerError, "Text model not loaded"},
		"missing text":     {loaded, `{"words": "hi"}`, http.StatusBadRequest, "No text provided"},
		"null text":        {loaded, `{"text": null}`, http.StatusBadRequest, "No text provided"},
		"empty body":       {loaded, ``, http.StatusBadRequest, "No text provided"},
		"malformed json":   {loaded, `{"text": `, http.StatusBadRequest, "Invalid JSON body"},
		"text not string":  {loaded, `{"text": 42}`, http.StatusBadRequest, "Invalid JSON body"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h, _ := newTestHandler(t, tt.set, nil, nil)
			rec, body := do(t, h.Routes(), jsonRequest("/predict", tt.body))
			if rec.Code != tt.status || body["error"] != tt.msg {
				t.Fatalf("got %d %v, want %d %q", rec.Code, body, tt.status, tt.msg)
			}
		})
	}
}

func TestExplain(t *testing.T) {
	exp := &fakeExplainer{text: "* hedging\nOverall: deceptive"}
	h, _ := newTestHandler(t, nil, nil, exp)
	rec, body := do(t, h.Routes(), jsonRequest("/explain", `{"transcript": "  I would never  "}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["explanation"] != exp.text {
		t.Fatalf("body = %v", body)
	}
	if exp.got != "  I would never  " {
		t.Fatalf("transcript forwarded as %q", exp.got)
	}
	if !exp.deadline {
		t.Fatal("explanation call has no deadline")
	}
}

func TestExplainEmptyReply(t *testing.T) {
	h, _ := newTestHandler(t, nil, nil, &fakeExplainer{})
	rec, body := do(t, h.Routes(), jsonRequest("/explain", `{"transcript": "x"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got, ok := body["explanation"]; !ok || got != "" {
		t.Fatalf("body = %v", body)
	}
}

func TestExplainErrors(t *testing.T) {
	tests := map[string]struct {
		exp    *fakeExplainer
		body   string
		status int
		msg    string
	}{
		"missing transcript":       {&fakeExplainer{}, `{"text": "x"}`, http.StatusBadRequest, "No transcript provided"},
		"missing and unconfigured": {nil, `{}`, http.StatusBadRequest, "No transcript provided"},
		"not configured":           {nil, `{"transcript": "x"}`, http.StatusInternalServerError, "Explanation service not configured"},
		"backend failure":          {&fakeExplainer{err: errors.New("quota exceeded for key sk-123")}, `{"transcript": "x"}`, http.StatusInternalServerError, "Explanation failed"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h, _ := newTestHandler(t, nil, nil, tt.exp)
			rec, body := do(t, h.Routes(), jsonRequest("/explain", tt.body))
			if rec.Code != tt.status || body["error"] != tt.msg {
				t.Fatalf("got %d %v, want %d %q", rec.Code, body, tt.status, tt.msg)
			}
			if strings.Contains(rec.Body.String(), "sk-123") {
				t.Fatal("backend error leaked to client")
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	if KindUnavailable.Status() != 500 || KindBadRequest.Status() != 400 || KindInternal.Status() != 500 {
		t.Fatal("unexpected status mapping")
	}
	cause := errors.New("boom")
	if e := internal("x", cause); !errors.Is(e, cause) {
		t.Fatal("internal error must wrap its cause")
	}
}
