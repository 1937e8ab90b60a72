package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// CTC loss over one sequence, computed in log space with the usual
// blank-interleaved extended target. The gradient is returned with
// respect to the raw logits (softmax already folded in).

var logZero = math.Inf(-1)

// ctcFeasible reports whether a target of this shape can be aligned to
// T frames: every label needs a frame, plus one blank between equal
// neighbours.
func ctcFeasible(T int, target []int) bool {
	required := len(target)
	for i := 1; i < len(target); i++ {
		if target[i] == target[i-1] {
			required++
		}
	}
	return T >= required
}

// CTCLossGrad returns the negative log likelihood of target given the
// logits (T x A) and the gradient of that loss w.r.t. the logits. An
// error is returned when the target cannot be aligned to the sequence.
func CTCLossGrad(logits *mat.Dense, target []int) (float64, *mat.Dense, error) {
	T, A := logits.Dims()
	if !ctcFeasible(T, target) {
		return 0, nil, fmt.Errorf("target of length %d cannot align to %d frames", len(target), T)
	}
	for _, label := range target {
		if label <= BlankIndex || label >= A {
			return 0, nil, fmt.Errorf("label %d outside alphabet of size %d", label, A)
		}
	}

	logProbs := logSoftmaxRows(logits)

	// extended target: blanks around and between labels
	S := 2*len(target) + 1
	extended := make([]int, S)
	for i, label := range target {
		extended[2*i+1] = label
	}

	alpha := fullRows(T, S, logZero)
	beta := fullRows(T, S, logZero)

	alpha[0][0] = logProbs[0][BlankIndex]
	if S > 1 {
		alpha[0][1] = logProbs[0][extended[1]]
	}
	for t := 1; t < T; t++ {
		for s := 0; s < S; s++ {
			sum := alpha[t-1][s]
			if s > 0 {
				sum = logAdd(sum, alpha[t-1][s-1])
			}
			if s > 1 && extended[s] != BlankIndex && extended[s] != extended[s-2] {
				sum = logAdd(sum, alpha[t-1][s-2])
			}
			alpha[t][s] = sum + logProbs[t][extended[s]]
		}
	}

	beta[T-1][S-1] = logProbs[T-1][BlankIndex]
	if S > 1 {
		beta[T-1][S-2] = logProbs[T-1][extended[S-2]]
	}
	for t := T - 2; t >= 0; t-- {
		for s := S - 1; s >= 0; s-- {
			sum := beta[t+1][s]
			if s < S-1 {
				sum = logAdd(sum, beta[t+1][s+1])
			}
			if s < S-2 && extended[s] != BlankIndex && extended[s] != extended[s+2] {
				sum = logAdd(sum, beta[t+1][s+2])
			}
			beta[t][s] = sum + logProbs[t][extended[s]]
		}
	}

	logTotal := alpha[T-1][S-1]
	if S > 1 {
		logTotal = logAdd(logTotal, alpha[T-1][S-2])
	}
	if math.IsInf(logTotal, -1) {
		return 0, nil, fmt.Errorf("no feasible alignment")
	}

	// dL/dlogit[t][k] = softmax - posterior over states emitting k.
	// alpha*beta double counts the emission at t, hence the division.
	grad := mat.NewDense(T, A, nil)
	labelSum := make([]float64, A)
	for t := 0; t < T; t++ {
		for k := 0; k < A; k++ {
			labelSum[k] = logZero
		}
		for s := 0; s < S; s++ {
			k := extended[s]
			labelSum[k] = logAdd(labelSum[k], alpha[t][s]+beta[t][s])
		}
		for k := 0; k < A; k++ {
			posterior := 0.0
			if !math.IsInf(labelSum[k], -1) {
				posterior = math.Exp(labelSum[k] - logProbs[t][k] - logTotal)
			}
			grad.Set(t, k, math.Exp(logProbs[t][k])-posterior)
		}
	}

	return -logTotal, grad, nil
}

// GreedyDecode collapses the per-step argmax: repeats merge, blanks
// separate.
func GreedyDecode(logits *mat.Dense) []int {
	T, A := logits.Dims()
	decoded := []int{}
	prev := BlankIndex
	for t := 0; t < T; t++ {
		best := 0
		bestValue := logits.At(t, 0)
		for k := 1; k < A; k++ {
			if v := logits.At(t, k); v > bestValue {
				best = k
				bestValue = v
			}
		}
		if best != BlankIndex && best != prev {
			decoded = append(decoded, best)
		}
		prev = best
	}
	return decoded
}

func logSoftmaxRows(logits *mat.Dense) [][]float64 {
	T, A := logits.Dims()
	out := make([][]float64, T)
	for t := 0; t < T; t++ {
		row := make([]float64, A)
		maxV := logits.At(t, 0)
		for k := 1; k < A; k++ {
			if v := logits.At(t, k); v > maxV {
				maxV = v
			}
		}
		sum := 0.0
		for k := 0; k < A; k++ {
			sum += math.Exp(logits.At(t, k) - maxV)
		}
		logSum := maxV + math.Log(sum)
		for k := 0; k < A; k++ {
			row[k] = logits.At(t, k) - logSum
		}
		out[t] = row
	}
	return out
}

func logAdd(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

func fullRows(rows, cols int, value float64) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		row := make([]float64, cols)
		for j := range row {
			row[j] = value
		}
		out[i] = row
	}
	return out
}
