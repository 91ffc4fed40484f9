package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"
)

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// cosineDistance = 1 - similarity; 0 for identical directions, up to 2 for
// opposed ones.
func cosineDistance(a, b []float32) float64 {
	return 1.0 - cosineSimilarity(a, b)
}

func centroid(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	n := 0
	for _, v := range vecs {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(n))
	}
	return out
}

func hashText(text string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(h[:])
}

func marshalVector(v []float32) []byte {
	b, _ := json.Marshal(v)
	return b
}

func unmarshalVector(raw []byte) []float32 {
	if len(raw) == 0 {
		return nil
	}
	var tmp []float64
	if err := json.Unmarshal(raw, &tmp); err != nil || len(tmp) == 0 {
		return nil
	}
	out := make([]float32, len(tmp))
	for i, f := range tmp {
		out[i] = float32(f)
	}
	return out
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}
