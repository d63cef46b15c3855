package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"videoQA/core"
	"videoQA/processors"
	"videoQA/storage"
)

// Server wires the HTTP surface to the engine. All state lives in the
// injected collaborators; handlers themselves are stateless.
type Server struct {
	uploadDir string
	backend   string

	store     *storage.FrameContextStore
	extractor *processors.KeyframeExtractor
	indexer   *storage.ContextIndexer
	answerer  *processors.AnswerOrchestrator
	log       *slog.Logger

	started time.Time
}

func New(uploadDir, backend string, store *storage.FrameContextStore, extractor *processors.KeyframeExtractor, indexer *storage.ContextIndexer, answerer *processors.AnswerOrchestrator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if backend == "" {
		backend = "local"
	}
	return &Server{
		uploadDir: uploadDir,
		backend:   backend,
		store:     store,
		extractor: extractor,
		indexer:   indexer,
		answerer:  answerer,
		log:       log,
		started:   time.Now(),
	}
}

func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /upload", s.uploadHandler)
	mux.HandleFunc("GET /keyframes/{video_id}", s.keyframesHandler)
	mux.HandleFunc("GET /frame_context/{video_id}", s.frameContextHandler)
	mux.HandleFunc("POST /frame_context/{video_id}/index", s.indexHandler)
	mux.HandleFunc("POST /frame_context/{video_id}/query", s.queryHandler)
	mux.HandleFunc("POST /ask", s.askHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /integrity", s.integrityHandler)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := core.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	core.WriteJSON(w, status, map[string]string{"error": err.Error()})
}

// uploadHandler accepts an .mp4, stores it and decomposes it into a
// keyframe manifest. The video id is the filename without extension, so
// re-uploading the same name replaces the previous manifest.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(512 << 20); err != nil {
		s.writeError(w, &core.ValidationError{Msg: "invalid multipart form: " + err.Error()})
		return
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		s.writeError(w, &core.ValidationError{Msg: "missing file field 'video'"})
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".mp4") {
		s.writeError(w, &core.ValidationError{Msg: "only MP4 files are allowed"})
		return
	}
	videoID := strings.TrimSuffix(filename, filepath.Ext(filename))

	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		s.writeError(w, err)
		return
	}
	videoPath := filepath.Join(s.uploadDir, filename)
	out, err := os.Create(videoPath)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		s.writeError(w, err)
		return
	}
	out.Close()

	manifest, err := s.extractor.Extract(videoPath, s.store.VideoDir(videoID), videoID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.SaveManifest(manifest); err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Info("uploaded video", "video_id", videoID, "frames", len(manifest.Frames))
	core.WriteJSON(w, http.StatusOK, core.UploadResponse{
		Filename:        filename,
		VideoID:         videoID,
		FramesExtracted: len(manifest.Frames),
		Message:         "Upload successful.",
	})
}

func (s *Server) keyframesHandler(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("video_id")
	manifest, err := s.store.LoadManifest(videoID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, manifest)
}

func (s *Server) frameContextHandler(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("video_id")
	records, err := s.store.LoadRecords(videoID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, core.FrameContextResponse{VideoID: videoID, Records: records})
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("video_id")
	records, skipped, err := s.indexer.IndexVideo(r.Context(), videoID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, core.IndexResponse{VideoID: videoID, Count: len(records), Skipped: skipped})
}

func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("video_id")
	var req core.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &core.ValidationError{Msg: "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, &core.ValidationError{Msg: "query required"})
		return
	}

	hits, err := s.indexer.QueryVideo(r.Context(), videoID, req.Query, req.TopK)
	if err != nil {
		s.writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, core.QueryResponse{VideoID: videoID, Query: req.Query, Hits: hits})
}

func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	var req core.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &core.ValidationError{Msg: "invalid json"})
		return
	}
	if req.VideoID == "" || strings.TrimSpace(req.Question) == "" {
		s.writeError(w, &core.ValidationError{Msg: "video_id and question required"})
		return
	}

	answer, err := s.answerer.Answer(r.Context(), req.VideoID, req.Question)
	if err != nil {
		s.writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, core.AskResponse{VideoID: req.VideoID, Question: req.Question, Answer: answer})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	videos, err := s.store.ListVideos()
	if err != nil {
		s.writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_sec":     int(time.Since(s.started).Seconds()),
		"store":          s.backend,
		"indexed_videos": len(videos),
	})
}

// integrityHandler reports, per video, whether the persisted record set
// and similarity index still form a consistent pair.
func (s *Server) integrityHandler(w http.ResponseWriter, r *http.Request) {
	videos, err := s.store.ListVideos()
	if err != nil {
		s.writeError(w, err)
		return
	}
	reports := make([]storage.IntegrityReport, 0, len(videos))
	consistent := true
	for _, id := range videos {
		report := s.store.CheckIntegrity(id)
		if !report.Consistent {
			consistent = false
		}
		reports = append(reports, report)
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"consistent": consistent,
		"videos":     reports,
	})
}
