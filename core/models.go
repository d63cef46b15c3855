package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

// Keyframe is one entry of a video's frame manifest, in decomposition order.
type Keyframe struct {
	Filename     string  `json:"filename"`
	TimestampSec float64 `json:"timestamp"`
	Sequence     int     `json:"sequence"`
}

// KeyframeManifest is the canonical ordered frame list for one video.
// Written once per upload; a re-upload of the same video name replaces it.
type KeyframeManifest struct {
	VideoID string     `json:"video_id"`
	Frames  []Keyframe `json:"timestamps"`
}

// FrameContextRecord pairs a keyframe with its caption and the embedding
// of that caption. All embeddings of one video share the same dimension.
type FrameContextRecord struct {
	Filename     string    `json:"filename"`
	TimestampSec float64   `json:"timestamp"`
	Caption      string    `json:"caption"`
	Embedding    []float32 `json:"embedding"`
}

// QueryHit is one retrieved record with its index row and distance.
type QueryHit struct {
	Row          int     `json:"row"`
	Distance     float64 `json:"distance"`
	Filename     string  `json:"filename"`
	TimestampSec float64 `json:"timestamp"`
	Caption      string  `json:"caption"`
}

// ---------------- HTTP payloads ----------------

type UploadResponse struct {
	Filename        string `json:"filename"`
	VideoID         string `json:"video_id"`
	FramesExtracted int    `json:"frames_extracted"`
	Message         string `json:"message"`
}

type IndexResponse struct {
	VideoID string `json:"video_id"`
	Count   int    `json:"count"`
	Skipped int    `json:"skipped"`
}

type QueryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type QueryResponse struct {
	VideoID string     `json:"video_id"`
	Query   string     `json:"query"`
	Hits    []QueryHit `json:"hits"`
}

type FrameContextResponse struct {
	VideoID string               `json:"video_id"`
	Records []FrameContextRecord `json:"records"`
}

type AskRequest struct {
	VideoID  string `json:"video_id"`
	Question string `json:"question"`
}

type AskResponse struct {
	VideoID  string `json:"video_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "write json error: %v", err)
	}
}
