package vectorindex

import "math"

// Cosine 计算余弦相似度，任一向量为零或维度不一致时为 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64

	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}

	if na == 0 || nb == 0 {
		return 0
	}

	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MeanPairwise 计算成员两两余弦相似度的均值，结果截断到 [0,1]；不足两名成员时为 1.
func MeanPairwise(vecs [][]float32) float64 {
	n := len(vecs)
	if n < 2 {
		return 1.0
	}

	var sum float64

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum += Cosine(vecs[i], vecs[j])
		}
	}

	mean := sum / float64(n*(n-1)/2)

	return math.Max(0, math.Min(1, mean))
}

// Normalize 返回 L2 归一化后的副本.
func Normalize(v []float32) []float32 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}

	out := make([]float32, len(v))
	if sq == 0 {
		return out
	}

	norm := math.Sqrt(sq)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}

	return out
}
