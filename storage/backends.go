package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/pgvector/pgvector-go"

	"videoQA/config"
	"videoQA/core"
)

// SimilarityBackend is an optional server-side nearest-neighbor backend
// mirroring the per-video embedding rows. Row numbers are the record
// positions of the video's frame-context set; Replace swaps the whole
// row set for a video in one call, matching the full-replace semantics
// of an indexing pass.
type SimilarityBackend interface {
	Name() string
	Replace(ctx context.Context, videoID string, embeddings [][]float32) error
	Search(ctx context.Context, videoID string, query []float32, k int) ([]SearchResult, error)
}

// OpenBackend selects the similarity backend from config. "local" (the
// default) returns nil: searches then run against the on-disk flat
// index, which is always written regardless of backend.
func OpenBackend(cfg *config.Config) (SimilarityBackend, error) {
	switch cfg.Store {
	case "", "local":
		return nil, nil
	case "pgvector":
		return newPgVectorBackend()
	case "milvus":
		return newMilvusBackend()
	default:
		return nil, fmt.Errorf("unknown STORE backend %q", cfg.Store)
	}
}

// ---------------- PgVector implementation ----------------

type PgVectorBackend struct {
	conn *pgx.Conn

	mu      sync.Mutex
	ensured bool
}

func newPgVectorBackend() (*PgVectorBackend, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		host := envOr("POSTGRES_HOST", "localhost")
		port := envOr("POSTGRES_PORT", "5432")
		user := envOr("POSTGRES_USER", "postgres")
		password := envOr("POSTGRES_PASSWORD", "postgres")
		dbname := envOr("POSTGRES_DB", "videoqa")
		dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, dbname)
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("create vector extension: %w", err)
	}
	return &PgVectorBackend{conn: conn}, nil
}

func (b *PgVectorBackend) Name() string { return "pgvector" }

// ensureTable creates the row table on first use; the vector dimension
// is fixed by the first embedding set seen, as the embedder determines
// it for the whole deployment.
func (b *PgVectorBackend) ensureTable(ctx context.Context, dim int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ensured {
		return nil
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS frame_vectors (
			id SERIAL PRIMARY KEY,
			video_id VARCHAR(255) NOT NULL,
			row_idx INT NOT NULL,
			embedding vector(%d),
			UNIQUE(video_id, row_idx)
		);`, dim)
	if _, err := b.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create frame_vectors table: %w", err)
	}
	if _, err := b.conn.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_frame_vectors_video ON frame_vectors(video_id);"); err != nil {
		return fmt.Errorf("create video index: %w", err)
	}
	b.ensured = true
	return nil
}

func (b *PgVectorBackend) Replace(ctx context.Context, videoID string, embeddings [][]float32) error {
	if len(embeddings) > 0 {
		if err := b.ensureTable(ctx, len(embeddings[0])); err != nil {
			return &core.UpstreamError{Op: "pgvector replace", Err: err}
		}
	}

	tx, err := b.conn.Begin(ctx)
	if err != nil {
		return &core.UpstreamError{Op: "pgvector replace", Err: err}
	}
	defer tx.Rollback(ctx)

	if b.ensured {
		if _, err := tx.Exec(ctx, "DELETE FROM frame_vectors WHERE video_id = $1", videoID); err != nil {
			return &core.UpstreamError{Op: "pgvector replace", Err: err}
		}
	}
	for row, emb := range embeddings {
		_, err := tx.Exec(ctx,
			"INSERT INTO frame_vectors (video_id, row_idx, embedding) VALUES ($1, $2, $3)",
			videoID, row, pgvector.NewVector(emb))
		if err != nil {
			return &core.UpstreamError{Op: "pgvector replace", Err: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &core.UpstreamError{Op: "pgvector replace", Err: err}
	}
	return nil
}

func (b *PgVectorBackend) Search(ctx context.Context, videoID string, query []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(query)
	rows, err := b.conn.Query(ctx, `
		SELECT row_idx, embedding <-> $1 AS distance
		FROM frame_vectors
		WHERE video_id = $2
		ORDER BY embedding <-> $1, row_idx
		LIMIT $3
	`, vec, videoID, k)
	if err != nil {
		return nil, &core.UpstreamError{Op: "pgvector search", Err: err}
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var row int
		var dist float64
		if err := rows.Scan(&row, &dist); err != nil {
			return nil, &core.UpstreamError{Op: "pgvector search", Err: err}
		}
		results = append(results, SearchResult{Row: row, Distance: dist})
	}
	return results, rows.Err()
}

func (b *PgVectorBackend) Close(ctx context.Context) error {
	return b.conn.Close(ctx)
}

// ---------------- Milvus implementation ----------------

type MilvusBackend struct {
	mc   client.Client
	coll string

	mu      sync.Mutex
	ensured bool
}

func newMilvusBackend() (*MilvusBackend, error) {
	addr := envOr("MILVUS_ADDR", "localhost:19530")
	coll := envOr("MILVUS_COLLECTION", "frame_vectors")

	mc, err := client.NewClient(context.Background(), client.Config{
		Address:  addr,
		Username: os.Getenv("MILVUS_USERNAME"),
		Password: os.Getenv("MILVUS_PASSWORD"),
		APIKey:   os.Getenv("MILVUS_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	return &MilvusBackend{mc: mc, coll: coll}, nil
}

func (b *MilvusBackend) Name() string { return "milvus" }

func (b *MilvusBackend) ensureCollection(ctx context.Context, dim int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ensured {
		return nil
	}
	has, err := b.mc.HasCollection(ctx, b.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema()
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("video_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(255))
		schema.WithField(entity.NewField().WithName("row").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim)))
		if err := b.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.L2, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := b.mc.CreateIndex(ctx, b.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := b.mc.LoadCollection(ctx, b.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	b.ensured = true
	return nil
}

func (b *MilvusBackend) Replace(ctx context.Context, videoID string, embeddings [][]float32) error {
	if len(embeddings) > 0 {
		if err := b.ensureCollection(ctx, len(embeddings[0])); err != nil {
			return &core.UpstreamError{Op: "milvus replace", Err: err}
		}
	}
	if !b.ensured {
		return nil
	}

	expr := fmt.Sprintf("video_id == \"%s\"", strings.ReplaceAll(videoID, "\"", "\\\""))
	if err := b.mc.Delete(ctx, b.coll, "", expr); err != nil {
		return &core.UpstreamError{Op: "milvus replace", Err: err}
	}
	if len(embeddings) == 0 {
		return nil
	}

	videoIDs := make([]string, len(embeddings))
	rowNums := make([]int64, len(embeddings))
	vectors := make([][]float32, len(embeddings))
	for i, emb := range embeddings {
		videoIDs[i] = videoID
		rowNums[i] = int64(i)
		vectors[i] = emb
	}
	_, err := b.mc.Insert(ctx, b.coll, "",
		entity.NewColumnVarChar("video_id", videoIDs),
		entity.NewColumnInt64("row", rowNums),
		entity.NewColumnFloatVector("vector", len(embeddings[0]), vectors),
	)
	if err != nil {
		return &core.UpstreamError{Op: "milvus replace", Err: err}
	}
	return nil
}

func (b *MilvusBackend) Search(ctx context.Context, videoID string, query []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	sp, _ := entity.NewIndexHNSWSearchParam(74)
	filter := fmt.Sprintf("video_id == \"%s\"", strings.ReplaceAll(videoID, "\"", "\\\""))
	res, err := b.mc.Search(ctx, b.coll, []string{}, filter, []string{"row"},
		[]entity.Vector{entity.FloatVector(query)}, "vector", entity.L2, k, sp)
	if err != nil {
		return nil, &core.UpstreamError{Op: "milvus search", Err: err}
	}

	var results []SearchResult
	for _, r := range res {
		var rowCol *entity.ColumnInt64
		for _, c := range r.Fields {
			if c.Name() == "row" {
				if col, ok := c.(*entity.ColumnInt64); ok {
					rowCol = col
				}
			}
		}
		if rowCol == nil {
			continue
		}
		data := rowCol.Data()
		for i := 0; i < r.ResultCount && i < len(data); i++ {
			results = append(results, SearchResult{Row: int(data[i]), Distance: float64(r.Scores[i])})
		}
	}
	return results, nil
}

func (b *MilvusBackend) Close() error {
	return b.mc.Close()
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
