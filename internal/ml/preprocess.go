package ml

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
)

// NumFeatures is the width of a preprocessed feature row:
// [x, y, dt, vx, vy, ax, ay].
const NumFeatures = 7

const clipLimit = 10.0

// PreprocessSwipe turns a pixel-space trajectory into model features.
// Velocities and accelerations are computed from the raw pixel series
// first and only then normalized by the keyboard dimensions, matching
// how the training data was produced.
func PreprocessSwipe(coords []model.CoordinatePoint, keyboardWidth, keyboardHeight float64) (*mat.Dense, error) {
	if len(coords) < 2 {
		return nil, fmt.Errorf("need at least 2 points, got %d", len(coords))
	}

	n := len(coords)
	xPixel := make([]float64, n)
	yPixel := make([]float64, n)
	t := make([]float64, n)
	for i, p := range coords {
		xPixel[i] = p.X
		yPixel[i] = p.Y
		t[i] = p.T
	}

	// dt = diff(t) with the first element zeroed
	dt := make([]float64, n)
	for i := 1; i < n; i++ {
		dt[i] = t[i] - t[i-1]
	}

	dtGrad := gradient(t)
	for i := range dtGrad {
		if dtGrad[i] == 0 {
			dtGrad[i] = 1e-8
		}
	}

	vxPixel := divide(gradient(xPixel), dtGrad)
	vyPixel := divide(gradient(yPixel), dtGrad)
	axPixel := divide(gradient(vxPixel), dtGrad)
	ayPixel := divide(gradient(vyPixel), dtGrad)

	features := mat.NewDense(n, NumFeatures, nil)
	for i := 0; i < n; i++ {
		features.Set(i, 0, xPixel[i]/keyboardWidth)
		features.Set(i, 1, yPixel[i]/keyboardHeight)
		features.Set(i, 2, dt[i])
		features.Set(i, 3, clip(vxPixel[i]/keyboardWidth))
		features.Set(i, 4, clip(vyPixel[i]/keyboardHeight))
		features.Set(i, 5, clip(axPixel[i]/keyboardWidth))
		features.Set(i, 6, clip(ayPixel[i]/keyboardHeight))
	}

	return features, nil
}

// gradient is the unit-spacing central-difference gradient: forward
// difference at the first point, backward at the last, central between.
func gradient(values []float64) []float64 {
	n := len(values)
	g := make([]float64, n)
	if n < 2 {
		return g
	}
	g[0] = values[1] - values[0]
	g[n-1] = values[n-1] - values[n-2]
	for i := 1; i < n-1; i++ {
		g[i] = (values[i+1] - values[i-1]) / 2
	}
	return g
}

func divide(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] / b[i]
	}
	return out
}

func clip(v float64) float64 {
	if v > clipLimit {
		return clipLimit
	}
	if v < -clipLimit {
		return -clipLimit
	}
	return v
}
