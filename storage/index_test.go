package storage

import (
	"math"
	"testing"
)

func TestFlatIndexSelfQuery(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	ix, err := BuildFlatIndex(vectors)
	if err != nil {
		t.Fatalf("BuildFlatIndex failed: %v", err)
	}

	for i, v := range vectors {
		results, err := ix.Search(v, 1)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(results))
		}
		if results[0].Row != i {
			t.Errorf("self-query for row %d returned row %d", i, results[0].Row)
		}
		if math.Abs(results[0].Distance) > 1e-9 {
			t.Errorf("self-query distance should be 0, got %f", results[0].Distance)
		}
	}
}

func TestFlatIndexOrderingAndTies(t *testing.T) {
	// Rows 1 and 2 are equidistant from the query; the lower row must win.
	vectors := [][]float32{
		{10, 0},
		{1, 0},
		{-1, 0},
		{2, 0},
	}
	ix, err := BuildFlatIndex(vectors)
	if err != nil {
		t.Fatalf("BuildFlatIndex failed: %v", err)
	}

	results, err := ix.Search([]float32{0, 0}, 4)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	wantRows := []int{1, 2, 3, 0}
	for i, want := range wantRows {
		if results[i].Row != want {
			t.Errorf("result %d: expected row %d, got %d", i, want, results[i].Row)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("distances not ascending at position %d", i)
		}
	}
}

func TestFlatIndexClampsK(t *testing.T) {
	ix, err := BuildFlatIndex([][]float32{{1, 1}, {2, 2}})
	if err != nil {
		t.Fatalf("BuildFlatIndex failed: %v", err)
	}

	results, err := ix.Search([]float32{0, 0}, 50)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results for oversized k, got %d", len(results))
	}
	seen := map[int]bool{}
	for _, r := range results {
		if r.Row < 0 || r.Row >= 2 {
			t.Errorf("out-of-range row %d", r.Row)
		}
		if seen[r.Row] {
			t.Errorf("duplicate row %d", r.Row)
		}
		seen[r.Row] = true
	}
}

func TestFlatIndexDimensionMismatch(t *testing.T) {
	if _, err := BuildFlatIndex([][]float32{{1, 2}, {1, 2, 3}}); err == nil {
		t.Fatal("expected error for mixed dimensions")
	}

	ix, err := BuildFlatIndex([][]float32{{1, 2}})
	if err != nil {
		t.Fatalf("BuildFlatIndex failed: %v", err)
	}
	if _, err := ix.Search([]float32{1, 2, 3}, 1); err == nil {
		t.Fatal("expected error for mismatched query dimension")
	}
}

func TestFlatIndexEmpty(t *testing.T) {
	ix, err := BuildFlatIndex(nil)
	if err != nil {
		t.Fatalf("BuildFlatIndex failed on empty input: %v", err)
	}
	if ix.Len() != 0 {
		t.Fatalf("expected empty index, got %d rows", ix.Len())
	}
	results, err := ix.Search([]float32{1}, 3)
	if err != nil {
		t.Fatalf("Search on empty index failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results from empty index, got %d", len(results))
	}
}

func TestFlatIndexMarshalRoundtrip(t *testing.T) {
	vectors := [][]float32{{0.5, -1.25, 3}, {1e-7, 42, -0.001}}
	ix, err := BuildFlatIndex(vectors)
	if err != nil {
		t.Fatalf("BuildFlatIndex failed: %v", err)
	}

	blob, err := ix.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	loaded, err := UnmarshalFlatIndex(blob)
	if err != nil {
		t.Fatalf("UnmarshalFlatIndex failed: %v", err)
	}
	if loaded.Len() != ix.Len() || loaded.Dim() != ix.Dim() {
		t.Fatalf("roundtrip changed shape: %d/%d vs %d/%d", loaded.Len(), loaded.Dim(), ix.Len(), ix.Dim())
	}

	// The loaded index must rank identically to the original.
	orig, err := ix.Search(vectors[1], 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	restored, err := loaded.Search(vectors[1], 2)
	if err != nil {
		t.Fatalf("Search on loaded index failed: %v", err)
	}
	for i := range orig {
		if orig[i].Row != restored[i].Row {
			t.Errorf("result %d: row %d vs %d after roundtrip", i, orig[i].Row, restored[i].Row)
		}
	}

	if _, err := UnmarshalFlatIndex([]byte("not an index")); err == nil {
		t.Fatal("expected error for corrupt blob")
	}
}
