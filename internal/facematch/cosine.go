package facematch

import "math"

// CosineSimilarity computes the cosine similarity of two vectors.
// Returns 0 for vectors of different length, empty vectors or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return clamp(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Dot computes the dot product of two unit vectors, which equals their cosine
// similarity. Callers must pass vectors of equal length.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return clamp(sum)
}

// Norm returns the L2 norm of v, or NaN if any component is not finite.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return math.NaN()
		}
		sum += f * f
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. ok is false for zero vectors and
// vectors containing NaN or Inf.
func Normalize(v []float32) (out []float32, ok bool) {
	n := Norm(v)
	if math.IsNaN(n) || n == 0 {
		return nil, false
	}
	out = make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, true
}

// clamp keeps floating point drift inside [-1, 1].
func clamp(similarity float64) float64 {
	if similarity > 1 {
		return 1
	}
	if similarity < -1 {
		return -1
	}
	return similarity
}
