package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"videoQA/core"
)

// DefaultTopK is used when a query does not name a result count.
const DefaultTopK = 3

// Captioner is the image-to-text capability as the indexer consumes it.
type Captioner interface {
	Caption(ctx context.Context, imagePath string) (string, error)
}

// Embedder is the text-to-vector capability as the indexer consumes it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ContextIndexer turns a video's extracted keyframes into a persisted,
// queryable frame-context set. It is the only writer of record sets and
// indexes; the answering side only reads.
type ContextIndexer struct {
	store     *FrameContextStore
	captioner Captioner
	embedder  Embedder
	backend   SimilarityBackend // nil means the on-disk flat index
	log       *slog.Logger
}

func NewContextIndexer(store *FrameContextStore, captioner Captioner, embedder Embedder, backend SimilarityBackend, log *slog.Logger) *ContextIndexer {
	if log == nil {
		log = slog.Default()
	}
	return &ContextIndexer{store: store, captioner: captioner, embedder: embedder, backend: backend, log: log}
}

// IndexVideo captions and embeds every keyframe of the video in manifest
// order, replaces the persisted record set and rebuilds the similarity
// index over it. A manifest entry whose image file is missing is skipped
// and logged; a captioner or embedder failure aborts the whole pass.
func (ci *ContextIndexer) IndexVideo(ctx context.Context, videoID string) ([]core.FrameContextRecord, int, error) {
	lock := ci.store.VideoLock(videoID)
	lock.Lock()
	defer lock.Unlock()

	manifest, err := ci.store.LoadManifest(videoID)
	if err != nil {
		return nil, 0, err
	}

	records := make([]core.FrameContextRecord, 0, len(manifest.Frames))
	embeddings := make([][]float32, 0, len(manifest.Frames))
	skipped := 0
	dim := 0
	for _, frame := range manifest.Frames {
		framePath := ci.store.FramePath(videoID, frame.Filename)
		if _, err := os.Stat(framePath); err != nil {
			ci.log.Warn("skipping missing keyframe", "video_id", videoID, "frame", frame.Filename)
			skipped++
			continue
		}

		caption, err := ci.captioner.Caption(ctx, framePath)
		if err != nil {
			return nil, 0, err
		}
		embedding, err := ci.embedder.Embed(ctx, caption)
		if err != nil {
			return nil, 0, err
		}
		if dim == 0 {
			dim = len(embedding)
		} else if len(embedding) != dim {
			return nil, 0, &core.InferenceError{
				Op:  "embed",
				Err: fmt.Errorf("frame %s embedded with dimension %d, expected %d", frame.Filename, len(embedding), dim),
			}
		}

		records = append(records, core.FrameContextRecord{
			Filename:     frame.Filename,
			TimestampSec: frame.TimestampSec,
			Caption:      caption,
			Embedding:    embedding,
		})
		embeddings = append(embeddings, embedding)
	}

	// An empty pass still publishes an empty pair so queries see an
	// indexed-but-empty video rather than NotFound.
	ix, err := BuildFlatIndex(embeddings)
	if err != nil {
		return nil, 0, err
	}
	if err := ci.store.SaveContext(videoID, records, ix); err != nil {
		return nil, 0, err
	}

	if ci.backend != nil {
		if err := ci.backend.Replace(ctx, videoID, embeddings); err != nil {
			return nil, 0, err
		}
	}

	ci.log.Info("indexed video", "video_id", videoID, "records", len(records), "skipped", skipped, "dim", dim)
	return records, skipped, nil
}

// QueryVideo embeds the query text and returns the topK closest records
// by ascending distance. topK is clamped to the record count; a video
// with an empty record set yields an empty result.
func (ci *ContextIndexer) QueryVideo(ctx context.Context, videoID, query string, topK int) ([]core.QueryHit, error) {
	records, ix, err := ci.store.LoadContext(videoID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []core.QueryHit{}, nil
	}

	queryVec, err := ci.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if topK <= 0 {
		topK = DefaultTopK
	}
	topK = core.Min(topK, len(records))

	var results []SearchResult
	if ci.backend != nil {
		results, err = ci.backend.Search(ctx, videoID, queryVec, topK)
	} else {
		results, err = ix.Search(queryVec, topK)
	}
	if err != nil {
		return nil, err
	}

	hits := make([]core.QueryHit, 0, len(results))
	for _, r := range results {
		if r.Row < 0 || r.Row >= len(records) {
			ci.log.Warn("backend returned out-of-range row", "video_id", videoID, "row", r.Row)
			continue
		}
		rec := records[r.Row]
		hits = append(hits, core.QueryHit{
			Row:          r.Row,
			Distance:     r.Distance,
			Filename:     rec.Filename,
			TimestampSec: rec.TimestampSec,
			Caption:      rec.Caption,
		})
	}
	return hits, nil
}
