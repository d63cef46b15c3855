package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// SearchResult is one nearest-neighbor hit: the index row and its
// squared Euclidean distance to the query.
type SearchResult struct {
	Row      int
	Distance float64
}

// FlatIndex is an exact nearest-neighbor index over fixed-dimension
// vectors. Row i of the index always corresponds to record i of the
// video's frame-context set; it is built once per indexing pass and
// never mutated afterwards.
type FlatIndex struct {
	dim     int
	vectors [][]float32
}

// BuildFlatIndex builds an index over the given vectors in order. All
// vectors must share one dimension. An empty input yields an empty
// index; no dimension is fixed until the first vector.
func BuildFlatIndex(vectors [][]float32) (*FlatIndex, error) {
	ix := &FlatIndex{}
	for i, v := range vectors {
		if ix.dim == 0 {
			ix.dim = len(v)
		}
		if len(v) == 0 || len(v) != ix.dim {
			return nil, fmt.Errorf("vector %d has dimension %d, index dimension is %d", i, len(v), ix.dim)
		}
		row := make([]float32, ix.dim)
		copy(row, v)
		ix.vectors = append(ix.vectors, row)
	}
	return ix, nil
}

func (ix *FlatIndex) Len() int { return len(ix.vectors) }

func (ix *FlatIndex) Dim() int { return ix.dim }

// Search returns the k nearest rows by ascending squared L2 distance.
// Ties are broken by the lower row index so results are deterministic.
// k is clamped to the row count.
func (ix *FlatIndex) Search(query []float32, k int) ([]SearchResult, error) {
	if len(ix.vectors) == 0 {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), ix.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	if k > len(ix.vectors) {
		k = len(ix.vectors)
	}

	results := make([]SearchResult, len(ix.vectors))
	for i, row := range ix.vectors {
		var dist float64
		for j := range row {
			d := float64(query[j]) - float64(row[j])
			dist += d * d
		}
		results[i] = SearchResult{Row: i, Distance: dist}
	}
	sort.Slice(results, func(a, b int) bool {
		if results[a].Distance != results[b].Distance {
			return results[a].Distance < results[b].Distance
		}
		return results[a].Row < results[b].Row
	})
	return results[:k], nil
}

// Index blob layout: magic, version, dim, count, then count*dim float32
// values row-major, all little-endian.
const (
	indexMagic   = uint32(0x46435849) // "FCXI"
	indexVersion = uint32(1)
)

func (ix *FlatIndex) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	for _, v := range []uint32{indexMagic, indexVersion, uint32(ix.dim), uint32(len(ix.vectors))} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	for _, row := range ix.vectors {
		for _, f := range row {
			if err := binary.Write(&buf, binary.LittleEndian, math.Float32bits(f)); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

func UnmarshalFlatIndex(data []byte) (*FlatIndex, error) {
	r := bytes.NewReader(data)
	var header [4]uint32
	for i := range header {
		if err := binary.Read(r, binary.LittleEndian, &header[i]); err != nil {
			return nil, fmt.Errorf("read index header: %w", err)
		}
	}
	if header[0] != indexMagic {
		return nil, fmt.Errorf("bad index magic %#x", header[0])
	}
	if header[1] != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d", header[1])
	}
	dim, count := int(header[2]), int(header[3])
	if count > 0 && dim <= 0 {
		return nil, fmt.Errorf("invalid index dimension %d", dim)
	}

	ix := &FlatIndex{dim: dim}
	for i := 0; i < count; i++ {
		row := make([]float32, dim)
		for j := 0; j < dim; j++ {
			var bits uint32
			if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
				return nil, fmt.Errorf("read index row %d: %w", i, err)
			}
			row[j] = math.Float32frombits(bits)
		}
		ix.vectors = append(ix.vectors, row)
	}
	return ix, nil
}
