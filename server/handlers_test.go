package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"videoQA/core"
	"videoQA/processors"
	"videoQA/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.FrameContextStore) {
	t.Helper()
	store := storage.NewFrameContextStore(t.TempDir())
	captioner := &processors.MockCaptioner{}
	embedder := &processors.MockEmbedder{Dim: 8}
	generator := &processors.MockGenerator{Answer: "a grounded answer"}

	indexer := storage.NewContextIndexer(store, captioner, embedder, nil, nil)
	answerer := processors.NewAnswerOrchestrator(store, generator, nil)

	srv := New(t.TempDir(), "local", store, processors.NewKeyframeExtractor(), indexer, answerer, nil)
	mux := http.NewServeMux()
	srv.Routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, store
}

func seedVideo(t *testing.T, store *storage.FrameContextStore, videoID string, count int) {
	t.Helper()
	manifest := &core.KeyframeManifest{VideoID: videoID}
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s-keyframe-%03d.png", videoID, i+1)
		manifest.Frames = append(manifest.Frames, core.Keyframe{Filename: name, TimestampSec: float64(i) * 5, Sequence: i})
	}
	if err := store.SaveManifest(manifest); err != nil {
		t.Fatalf("SaveManifest failed: %v", err)
	}
	for _, frame := range manifest.Frames {
		if err := os.WriteFile(store.FramePath(videoID, frame.Filename), []byte("png"), 0644); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func TestUploadRejectsNonMP4(t *testing.T) {
	ts, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("video", "clip.avi")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	fw.Write([]byte("not a real video"))
	mw.Close()

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /upload failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for .avi upload, got %d", resp.StatusCode)
	}
}

func TestKeyframesNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/keyframes/nope")
	if err != nil {
		t.Fatalf("GET /keyframes failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestKeyframesReturnsManifest(t *testing.T) {
	ts, store := newTestServer(t)
	seedVideo(t, store, "demo", 2)

	resp, err := http.Get(ts.URL + "/keyframes/demo")
	if err != nil {
		t.Fatalf("GET /keyframes failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var manifest core.KeyframeManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if len(manifest.Frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(manifest.Frames))
	}
}

func TestIndexAndQueryFlow(t *testing.T) {
	ts, store := newTestServer(t)
	seedVideo(t, store, "demo", 5)

	resp := postJSON(t, ts.URL+"/frame_context/demo/index", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index: expected 200, got %d", resp.StatusCode)
	}
	var indexResp core.IndexResponse
	if err := json.NewDecoder(resp.Body).Decode(&indexResp); err != nil {
		t.Fatalf("decode index response: %v", err)
	}
	if indexResp.Count != 5 {
		t.Fatalf("expected 5 indexed records, got %d", indexResp.Count)
	}

	// top_k omitted: the default of 3 applies.
	resp = postJSON(t, ts.URL+"/frame_context/demo/query", core.QueryRequest{Query: "what is shown"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query: expected 200, got %d", resp.StatusCode)
	}
	var queryResp core.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if len(queryResp.Hits) != 3 {
		t.Fatalf("expected 3 hits by default, got %d", len(queryResp.Hits))
	}
}

func TestQueryValidation(t *testing.T) {
	ts, store := newTestServer(t)
	seedVideo(t, store, "demo", 1)

	resp := postJSON(t, ts.URL+"/frame_context/demo/query", core.QueryRequest{Query: "   "})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank query, got %d", resp.StatusCode)
	}
}

func TestQueryUnindexedVideo(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/frame_context/ghost/query", core.QueryRequest{Query: "anything"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unindexed video, got %d", resp.StatusCode)
	}
}

func TestFrameContextEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	seedVideo(t, store, "demo", 2)

	resp, err := http.Get(ts.URL + "/frame_context/demo")
	if err != nil {
		t.Fatalf("GET /frame_context failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before indexing, got %d", resp.StatusCode)
	}

	postJSON(t, ts.URL+"/frame_context/demo/index", nil).Body.Close()

	resp, err = http.Get(ts.URL + "/frame_context/demo")
	if err != nil {
		t.Fatalf("GET /frame_context failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after indexing, got %d", resp.StatusCode)
	}
	var payload core.FrameContextResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(payload.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(payload.Records))
	}
}

func TestAskEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	seedVideo(t, store, "demo", 1)
	postJSON(t, ts.URL+"/frame_context/demo/index", nil).Body.Close()

	resp := postJSON(t, ts.URL+"/ask", core.AskRequest{VideoID: "demo", Question: "What happens?"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var askResp core.AskResponse
	if err := json.NewDecoder(resp.Body).Decode(&askResp); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if askResp.Answer != "a grounded answer" {
		t.Fatalf("unexpected answer: %q", askResp.Answer)
	}

	resp = postJSON(t, ts.URL+"/ask", core.AskRequest{VideoID: "", Question: ""})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty ask, got %d", resp.StatusCode)
	}
}

func TestHealthAndIntegrity(t *testing.T) {
	ts, store := newTestServer(t)
	seedVideo(t, store, "demo", 1)
	postJSON(t, ts.URL+"/frame_context/demo/index", nil).Body.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "ok" || health["store"] != "local" {
		t.Fatalf("unexpected health payload: %v", health)
	}

	resp, err = http.Get(ts.URL + "/integrity")
	if err != nil {
		t.Fatalf("GET /integrity failed: %v", err)
	}
	defer resp.Body.Close()
	var integrity struct {
		Consistent bool                      `json:"consistent"`
		Videos     []storage.IntegrityReport `json:"videos"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&integrity); err != nil {
		t.Fatalf("decode integrity: %v", err)
	}
	if !integrity.Consistent || len(integrity.Videos) != 1 {
		t.Fatalf("unexpected integrity payload: %+v", integrity)
	}
}
