package ml

import "math"

// Adam optimizer over a state dict, with the usual bias-corrected
// moment estimates.
type Adam struct {
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64

	step      int
	firstMom  StateDict
	secondMom StateDict
}

func NewAdam(params StateDict, learningRate float64) *Adam {
	return &Adam{
		learningRate: learningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-8,
		firstMom:     params.ZeroLike(),
		secondMom:    params.ZeroLike(),
	}
}

// Step applies one update to params in place from the given gradients.
func (opt *Adam) Step(params, grads StateDict) {
	opt.step++
	correction1 := 1 - math.Pow(opt.beta1, float64(opt.step))
	correction2 := 1 - math.Pow(opt.beta2, float64(opt.step))

	for name, param := range params {
		grad := grads[name]
		m := opt.firstMom[name]
		v := opt.secondMom[name]
		for i := range param.Data {
			g := grad.Data[i]
			m.Data[i] = opt.beta1*m.Data[i] + (1-opt.beta1)*g
			v.Data[i] = opt.beta2*v.Data[i] + (1-opt.beta2)*g*g
			mHat := m.Data[i] / correction1
			vHat := v.Data[i] / correction2
			param.Data[i] -= opt.learningRate * mHat / (math.Sqrt(vHat) + opt.epsilon)
		}
	}
}
