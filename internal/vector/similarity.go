package vector

import "math"

// CosineSimilarity returns dot(a,b) / (|a|·|b|) clamped to [-1, 1].
// It returns 0 when either vector is empty or has zero norm, and when the
// lengths differ (a model/dimension drift never produces a match).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	return clamp(dot/math.Sqrt(normA*normB), -1, 1)
}

// IsZero reports whether v is empty or all zeros.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
