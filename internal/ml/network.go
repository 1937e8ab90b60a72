package ml

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// State dict keys, kept compatible with the layer naming the
// aggregation server already knows.
const (
	WeightIHKey = "lstm.weight_ih"
	WeightHHKey = "lstm.weight_hh"
	BiasIHKey   = "lstm.bias_ih"
	BiasHHKey   = "lstm.bias_hh"
	FCWeightKey = "fc.weight"
	FCBiasKey   = "fc.bias"
)

// Network is a single-layer LSTM followed by a linear projection to
// per-step class logits. Gate order inside the stacked 4H dimension is
// input, forget, cell, output.
type Network struct {
	inputSize    int
	hiddenSize   int
	alphabetSize int

	state StateDict
}

// NewNetwork builds a randomly initialized network. Weights are drawn
// uniformly from [-1/sqrt(hidden), 1/sqrt(hidden)].
func NewNetwork(inputSize, hiddenSize, alphabetSize int, seed int64) *Network {
	rng := rand.New(rand.NewSource(seed))
	k := 1.0 / math.Sqrt(float64(hiddenSize))

	state := StateDict{
		WeightIHKey: randomTensor(rng, k, int64(4*hiddenSize), int64(inputSize)),
		WeightHHKey: randomTensor(rng, k, int64(4*hiddenSize), int64(hiddenSize)),
		BiasIHKey:   randomTensor(rng, k, int64(4*hiddenSize)),
		BiasHHKey:   randomTensor(rng, k, int64(4*hiddenSize)),
		FCWeightKey: randomTensor(rng, k, int64(alphabetSize), int64(hiddenSize)),
		FCBiasKey:   randomTensor(rng, k, int64(alphabetSize)),
	}

	return &Network{
		inputSize:    inputSize,
		hiddenSize:   hiddenSize,
		alphabetSize: alphabetSize,
		state:        state,
	}
}

// NewNetworkFromState builds a network around existing weights,
// inferring the dimensions from the tensor shapes.
func NewNetworkFromState(state StateDict) (*Network, error) {
	wih, ok := state[WeightIHKey]
	if !ok || len(wih.Shape) != 2 {
		return nil, fmt.Errorf("state dict missing 2-d tensor %q", WeightIHKey)
	}
	fc, ok := state[FCWeightKey]
	if !ok || len(fc.Shape) != 2 {
		return nil, fmt.Errorf("state dict missing 2-d tensor %q", FCWeightKey)
	}

	hiddenSize := int(wih.Shape[0]) / 4
	network := &Network{
		inputSize:    int(wih.Shape[1]),
		hiddenSize:   hiddenSize,
		alphabetSize: int(fc.Shape[0]),
		state:        state,
	}
	if err := network.validateState(state); err != nil {
		return nil, err
	}
	return network, nil
}

func randomTensor(rng *rand.Rand, k float64, shape ...int64) *Tensor {
	tensor := NewTensor(shape...)
	for i := range tensor.Data {
		tensor.Data[i] = (rng.Float64()*2 - 1) * k
	}
	return tensor
}

func (n *Network) InputSize() int    { return n.inputSize }
func (n *Network) HiddenSize() int   { return n.hiddenSize }
func (n *Network) AlphabetSize() int { return n.alphabetSize }

// State returns the live weights. Callers that need a snapshot must
// Clone; the trainer updates these tensors in place.
func (n *Network) State() StateDict {
	return n.state
}

// SetState swaps in new weights after validating their layout.
func (n *Network) SetState(state StateDict) error {
	if err := n.validateState(state); err != nil {
		return err
	}
	n.state = state
	return nil
}

func (n *Network) validateState(state StateDict) error {
	expected := map[string][]int64{
		WeightIHKey: {int64(4 * n.hiddenSize), int64(n.inputSize)},
		WeightHHKey: {int64(4 * n.hiddenSize), int64(n.hiddenSize)},
		BiasIHKey:   {int64(4 * n.hiddenSize)},
		BiasHHKey:   {int64(4 * n.hiddenSize)},
		FCWeightKey: {int64(n.alphabetSize), int64(n.hiddenSize)},
		FCBiasKey:   {int64(n.alphabetSize)},
	}

	for name, shape := range expected {
		tensor, ok := state[name]
		if !ok {
			return fmt.Errorf("state dict missing tensor %q", name)
		}
		if !shapeEqual(tensor.Shape, shape) {
			return fmt.Errorf("tensor %q has shape %v, want %v", name, tensor.Shape, shape)
		}
	}
	return nil
}

func shapeEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// forwardCache keeps everything the backward pass needs.
type forwardCache struct {
	features *mat.Dense
	gateI    [][]float64
	gateF    [][]float64
	gateG    [][]float64
	gateO    [][]float64
	cell     [][]float64
	tanhCell [][]float64
	hidden   [][]float64
}

// Forward runs the network over one sequence (T x inputSize) and
// returns per-step logits (T x alphabetSize).
func (n *Network) Forward(features *mat.Dense) *mat.Dense {
	logits, _ := n.forward(features)
	return logits
}

func (n *Network) forward(features *mat.Dense) (*mat.Dense, *forwardCache) {
	T, _ := features.Dims()
	H := n.hiddenSize
	A := n.alphabetSize

	wih := n.matView(WeightIHKey)
	whh := n.matView(WeightHHKey)
	wfc := n.matView(FCWeightKey)
	bih := n.state[BiasIHKey].Data
	bhh := n.state[BiasHHKey].Data
	bfc := n.state[FCBiasKey].Data

	cache := &forwardCache{
		features: features,
		gateI:    makeRows(T, H),
		gateF:    makeRows(T, H),
		gateG:    makeRows(T, H),
		gateO:    makeRows(T, H),
		cell:     makeRows(T, H),
		tanhCell: makeRows(T, H),
		hidden:   makeRows(T, H),
	}

	logits := mat.NewDense(T, A, nil)

	hPrev := make([]float64, H)
	cPrev := make([]float64, H)
	zInput := mat.NewVecDense(4*H, nil)
	zHidden := mat.NewVecDense(4*H, nil)
	logitVec := mat.NewVecDense(A, nil)

	for t := 0; t < T; t++ {
		zInput.MulVec(wih, features.RowView(t))
		zHidden.MulVec(whh, mat.NewVecDense(H, hPrev))

		for j := 0; j < H; j++ {
			zi := zInput.AtVec(j) + zHidden.AtVec(j) + bih[j] + bhh[j]
			zf := zInput.AtVec(H+j) + zHidden.AtVec(H+j) + bih[H+j] + bhh[H+j]
			zg := zInput.AtVec(2*H+j) + zHidden.AtVec(2*H+j) + bih[2*H+j] + bhh[2*H+j]
			zo := zInput.AtVec(3*H+j) + zHidden.AtVec(3*H+j) + bih[3*H+j] + bhh[3*H+j]

			i := sigmoid(zi)
			f := sigmoid(zf)
			g := math.Tanh(zg)
			o := sigmoid(zo)

			c := f*cPrev[j] + i*g
			tc := math.Tanh(c)

			cache.gateI[t][j] = i
			cache.gateF[t][j] = f
			cache.gateG[t][j] = g
			cache.gateO[t][j] = o
			cache.cell[t][j] = c
			cache.tanhCell[t][j] = tc
			cache.hidden[t][j] = o * tc
		}

		copy(hPrev, cache.hidden[t])
		copy(cPrev, cache.cell[t])

		logitVec.MulVec(wfc, mat.NewVecDense(H, cache.hidden[t]))
		for a := 0; a < A; a++ {
			logits.Set(t, a, logitVec.AtVec(a)+bfc[a])
		}
	}

	return logits, cache
}

// backward runs truncated BPTT over the whole sequence and accumulates
// parameter gradients into grads.
func (n *Network) backward(cache *forwardCache, dLogits *mat.Dense, grads StateDict) {
	T, _ := dLogits.Dims()
	H := n.hiddenSize
	A := n.alphabetSize
	I := n.inputSize

	whh := n.matView(WeightHHKey)
	wfc := n.matView(FCWeightKey)

	gWih := grads[WeightIHKey].Data
	gWhh := grads[WeightHHKey].Data
	gBih := grads[BiasIHKey].Data
	gBhh := grads[BiasHHKey].Data
	gWfc := grads[FCWeightKey].Data
	gBfc := grads[FCBiasKey].Data

	dhNext := make([]float64, H)
	dcNext := make([]float64, H)
	dz := make([]float64, 4*H)
	dhFromFC := mat.NewVecDense(H, nil)
	dhRec := mat.NewVecDense(H, nil)

	for t := T - 1; t >= 0; t-- {
		// linear head
		for a := 0; a < A; a++ {
			dl := dLogits.At(t, a)
			gBfc[a] += dl
			row := a * H
			for j := 0; j < H; j++ {
				gWfc[row+j] += dl * cache.hidden[t][j]
			}
		}

		dhFromFC.MulVec(wfc.T(), dLogits.RowView(t))

		for j := 0; j < H; j++ {
			dh := dhFromFC.AtVec(j) + dhNext[j]

			i := cache.gateI[t][j]
			f := cache.gateF[t][j]
			g := cache.gateG[t][j]
			o := cache.gateO[t][j]
			tc := cache.tanhCell[t][j]

			cPrev := 0.0
			if t > 0 {
				cPrev = cache.cell[t-1][j]
			}

			dout := dh * tc
			dc := dh*o*(1-tc*tc) + dcNext[j]

			dzi := dc * g * i * (1 - i)
			dzf := dc * cPrev * f * (1 - f)
			dzg := dc * i * (1 - g*g)
			dzo := dout * o * (1 - o)

			dcNext[j] = dc * f

			dz[j] = dzi
			dz[H+j] = dzf
			dz[2*H+j] = dzg
			dz[3*H+j] = dzo
		}

		for r := 0; r < 4*H; r++ {
			d := dz[r]
			gBih[r] += d
			gBhh[r] += d
			rowI := r * I
			for col := 0; col < I; col++ {
				gWih[rowI+col] += d * cache.features.At(t, col)
			}
			if t > 0 {
				rowH := r * H
				hPrev := cache.hidden[t-1]
				for col := 0; col < H; col++ {
					gWhh[rowH+col] += d * hPrev[col]
				}
			}
		}

		dhRec.MulVec(whh.T(), mat.NewVecDense(4*H, dz))
		copy(dhNext, dhRec.RawVector().Data)
	}
}

// matView wraps a 2-d state tensor as a gonum matrix without copying.
func (n *Network) matView(name string) *mat.Dense {
	tensor := n.state[name]
	return mat.NewDense(int(tensor.Shape[0]), int(tensor.Shape[1]), tensor.Data)
}

func makeRows(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	return out
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}
