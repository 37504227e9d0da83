package collcomm

// A ReduceFn is an operation that reduces many vectors
// into a single vector.
//
// Implementations must not modify their arguments.
type ReduceFn func(vecs ...[]float64) []float64

// Sum is a ReduceFn that computes a vector sum.
func Sum(vecs ...[]float64) []float64 {
	checkLengths(vecs)
	res := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			res[i] += x
		}
	}
	return res
}

// Adasum is a ReduceFn that combines vectors with
// adaptive summation.
//
// Vectors are combined pairwise in a balanced tree over
// their argument order: (v0 + v1) + (v2 + v3) and so on,
// where + is AdasumPair.
func Adasum(vecs ...[]float64) []float64 {
	checkLengths(vecs)
	level := append([][]float64{}, vecs...)
	for len(level) > 1 {
		var next [][]float64
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
			} else {
				next = append(next, AdasumPair(level[i], level[i+1]))
			}
		}
		level = next
	}
	return append([]float64{}, level[0]...)
}

// AdasumPair combines two vectors so that parallel
// components are averaged and orthogonal components are
// summed:
//
//	(1 - a.b/(2|a|^2)) a + (1 - a.b/(2|b|^2)) b
func AdasumPair(a, b []float64) []float64 {
	checkLengths([][]float64{a, b})
	var dot, normA, normB float64
	for i, x := range a {
		dot += x * b[i]
		normA += x * x
		normB += b[i] * b[i]
	}
	coeffA, coeffB := 1.0, 1.0
	if normA > 0 {
		coeffA = 1 - dot/(2*normA)
	}
	if normB > 0 {
		coeffB = 1 - dot/(2*normB)
	}
	res := make([]float64, len(a))
	for i, x := range a {
		res[i] = coeffA*x + coeffB*b[i]
	}
	return res
}

func checkLengths(vecs [][]float64) {
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			panic("mismatching lengths")
		}
	}
}
