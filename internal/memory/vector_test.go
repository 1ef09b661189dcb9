package memory

import (
	"math"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.75, 0}

	blob, err := EncodeVector(vec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeVector(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(vec) {
		t.Fatalf("dimension = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("value %d = %v, want %v", i, got[i], vec[i])
		}
	}
}

func TestEncodeVector_Rejects(t *testing.T) {
	if _, err := EncodeVector(nil); err == nil {
		t.Error("empty vector accepted")
	}
	if _, err := EncodeVector([]float32{float32(math.NaN())}); err == nil {
		t.Error("NaN accepted")
	}
	if _, err := EncodeVector([]float32{float32(math.Inf(1))}); err == nil {
		t.Error("Inf accepted")
	}
}

func TestDecodeVector_Rejects(t *testing.T) {
	blob, _ := EncodeVector([]float32{1, 2, 3})

	if _, err := DecodeVector(blob[:2]); err == nil {
		t.Error("truncated header accepted")
	}
	if _, err := DecodeVector(blob[:len(blob)-4]); err == nil {
		t.Error("truncated payload accepted")
	}
	if _, err := DecodeVector([]byte{0, 0, 0, 0}); err == nil {
		t.Error("zero dimension accepted")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"empty", nil, nil, 0},
		{"mismatched", []float32{1}, []float32{1, 2}, 0},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}
