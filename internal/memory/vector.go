package memory

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embedding blob layout: a 4-byte little-endian dimension header followed by
// dimension × 4-byte little-endian float32 values. The header makes a
// truncated or mismatched blob detectable on read.
const (
	vectorHeaderSize = 4
	vectorValueSize  = 4
)

// EncodeVector serializes an embedding vector into its storage blob.
func EncodeVector(vector []float32) ([]byte, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("encode vector: empty vector")
	}

	blob := make([]byte, vectorHeaderSize+len(vector)*vectorValueSize)
	binary.LittleEndian.PutUint32(blob[:vectorHeaderSize], uint32(len(vector)))

	offset := vectorHeaderSize
	for i, v := range vector {
		if !isFinite(float64(v)) {
			return nil, fmt.Errorf("encode vector: non-finite value at index %d", i)
		}
		binary.LittleEndian.PutUint32(blob[offset:offset+vectorValueSize], math.Float32bits(v))
		offset += vectorValueSize
	}

	return blob, nil
}

// DecodeVector parses a blob produced by EncodeVector.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob) < vectorHeaderSize {
		return nil, fmt.Errorf("decode vector: blob too short: %d bytes", len(blob))
	}

	dim := int(binary.LittleEndian.Uint32(blob[:vectorHeaderSize]))
	if dim <= 0 {
		return nil, fmt.Errorf("decode vector: invalid dimension: %d", dim)
	}
	if want := vectorHeaderSize + dim*vectorValueSize; len(blob) != want {
		return nil, fmt.Errorf("decode vector: dimension %d does not match payload of %d bytes", dim, len(blob)-vectorHeaderSize)
	}

	vector := make([]float32, dim)
	offset := vectorHeaderSize
	for i := range vector {
		v := math.Float32frombits(binary.LittleEndian.Uint32(blob[offset : offset+vectorValueSize]))
		if !isFinite(float64(v)) {
			return nil, fmt.Errorf("decode vector: non-finite value at index %d", i)
		}
		vector[i] = v
		offset += vectorValueSize
	}

	return vector, nil
}

// CosineSimilarity computes the cosine similarity between two vectors,
// clamped to [-1, 1]. Returns 0 for empty, mismatched, or zero-norm inputs.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	switch {
	case score > 1:
		return 1
	case score < -1:
		return -1
	default:
		return score
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
