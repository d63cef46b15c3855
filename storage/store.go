package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"videoQA/core"
)

const (
	manifestFile = "metadata.json"
	recordsFile  = "frame_context.json"
	indexFile    = "index.bin"
)

// FrameContextStore owns the per-video artifacts on disk: the keyframe
// manifest, the frame-context record set and the similarity index blob.
// Records and index are produced together by one indexing pass and
// published together; readers either see both or neither.
type FrameContextStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // one logical writer per video id
}

func NewFrameContextStore(root string) *FrameContextStore {
	return &FrameContextStore{root: root, locks: map[string]*sync.Mutex{}}
}

func (s *FrameContextStore) Root() string { return s.root }

// VideoLock returns the exclusion lock serializing indexing passes for
// one video id.
func (s *FrameContextStore) VideoLock(videoID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[videoID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[videoID] = l
	}
	return l
}

func (s *FrameContextStore) VideoDir(videoID string) string {
	return filepath.Join(s.root, videoID)
}

// FramePath resolves a manifest filename to the frame image on disk.
func (s *FrameContextStore) FramePath(videoID, filename string) string {
	return filepath.Join(s.root, videoID, filename)
}

func (s *FrameContextStore) SaveManifest(manifest *core.KeyframeManifest) error {
	dir := s.VideoDir(manifest.VideoID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, manifestFile), data)
}

func (s *FrameContextStore) LoadManifest(videoID string) (*core.KeyframeManifest, error) {
	data, err := os.ReadFile(filepath.Join(s.VideoDir(videoID), manifestFile))
	if os.IsNotExist(err) {
		return nil, &core.NotFoundError{Resource: "keyframe manifest for video " + videoID}
	}
	if err != nil {
		return nil, err
	}
	var manifest core.KeyframeManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest for %s: %w", videoID, err)
	}
	if manifest.VideoID == "" {
		manifest.VideoID = videoID
	}
	return &manifest, nil
}

// SaveContext replaces the video's record set and index in one publish
// step: both artifacts are written to temp files first and then renamed
// into place, so a concurrent reader never loads a half-written pair.
func (s *FrameContextStore) SaveContext(videoID string, records []core.FrameContextRecord, ix *FlatIndex) error {
	if ix == nil || len(records) != ix.Len() {
		return fmt.Errorf("record/index mismatch for %s: %d records, %d rows", videoID, len(records), indexLen(ix))
	}
	dir := s.VideoDir(videoID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	recordData, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	indexData, err := ix.Marshal()
	if err != nil {
		return err
	}

	recordsTmp := filepath.Join(dir, recordsFile+".tmp")
	indexTmp := filepath.Join(dir, indexFile+".tmp")
	if err := os.WriteFile(recordsTmp, recordData, 0644); err != nil {
		return err
	}
	if err := os.WriteFile(indexTmp, indexData, 0644); err != nil {
		os.Remove(recordsTmp)
		return err
	}
	if err := os.Rename(indexTmp, filepath.Join(dir, indexFile)); err != nil {
		os.Remove(recordsTmp)
		os.Remove(indexTmp)
		return err
	}
	return os.Rename(recordsTmp, filepath.Join(dir, recordsFile))
}

// LoadContext loads the record set and index of one video. Both must
// exist, and agree on the row count, since they are produced together.
func (s *FrameContextStore) LoadContext(videoID string) ([]core.FrameContextRecord, *FlatIndex, error) {
	records, err := s.LoadRecords(videoID)
	if err != nil {
		return nil, nil, err
	}
	indexData, err := os.ReadFile(filepath.Join(s.VideoDir(videoID), indexFile))
	if os.IsNotExist(err) {
		return nil, nil, &core.NotFoundError{Resource: "similarity index for video " + videoID}
	}
	if err != nil {
		return nil, nil, err
	}
	ix, err := UnmarshalFlatIndex(indexData)
	if err != nil {
		return nil, nil, fmt.Errorf("load index for %s: %w", videoID, err)
	}
	if ix.Len() != len(records) {
		return nil, nil, fmt.Errorf("record/index mismatch for %s: %d records, %d rows", videoID, len(records), ix.Len())
	}
	return records, ix, nil
}

func (s *FrameContextStore) LoadRecords(videoID string) ([]core.FrameContextRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.VideoDir(videoID), recordsFile))
	if os.IsNotExist(err) {
		return nil, &core.NotFoundError{Resource: "frame context for video " + videoID}
	}
	if err != nil {
		return nil, err
	}
	var records []core.FrameContextRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse frame context for %s: %w", videoID, err)
	}
	return records, nil
}

// FrameContext lets the store stand in as the local context provider
// for the answering orchestrator.
func (s *FrameContextStore) FrameContext(_ context.Context, videoID string) ([]core.FrameContextRecord, error) {
	return s.LoadRecords(videoID)
}

// ListVideos returns every video id with at least a manifest on disk.
func (s *FrameContextStore) ListVideos() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, ent.Name(), manifestFile)); err == nil {
			ids = append(ids, ent.Name())
		}
	}
	return ids, nil
}

// IntegrityReport describes whether one video's persisted artifacts are
// mutually consistent.
type IntegrityReport struct {
	VideoID     string `json:"video_id"`
	HasManifest bool   `json:"has_manifest"`
	HasRecords  bool   `json:"has_records"`
	HasIndex    bool   `json:"has_index"`
	RecordCount int    `json:"record_count"`
	IndexRows   int    `json:"index_rows"`
	Consistent  bool   `json:"consistent"`
	Detail      string `json:"detail,omitempty"`
}

// CheckIntegrity verifies the record/index pairing invariant for one
// video: the two artifacts must coexist (or both be absent) and agree
// on the row count.
func (s *FrameContextStore) CheckIntegrity(videoID string) IntegrityReport {
	report := IntegrityReport{VideoID: videoID}
	dir := s.VideoDir(videoID)

	if _, err := os.Stat(filepath.Join(dir, manifestFile)); err == nil {
		report.HasManifest = true
	}
	if _, err := os.Stat(filepath.Join(dir, recordsFile)); err == nil {
		report.HasRecords = true
	}
	if _, err := os.Stat(filepath.Join(dir, indexFile)); err == nil {
		report.HasIndex = true
	}

	if report.HasRecords != report.HasIndex {
		report.Detail = "records and index must coexist or both be absent"
		return report
	}
	if !report.HasRecords {
		report.Consistent = true
		return report
	}

	records, ix, err := s.LoadContext(videoID)
	if err != nil {
		report.Detail = err.Error()
		return report
	}
	report.RecordCount = len(records)
	report.IndexRows = ix.Len()
	report.Consistent = true
	return report
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func indexLen(ix *FlatIndex) int {
	if ix == nil {
		return 0
	}
	return ix.Len()
}
