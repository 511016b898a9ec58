package model

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Network dimensions: 23 inputs, one hidden layer, 4 bounded outputs.
const (
	hiddenSize = 12
	outputSize = 4
)

// regressor is the opaque trainable mapping behind the preference model.
// Outputs are bounded to (-1,1) by the final nonlinearity so the affine map
// to decibels is always defined.
type regressor interface {
	predict(in []float64) []float64
	step(in, target []float64)
	fit(inputs, targets [][]float64, epochs int)
	marshal() ([]byte, error)
	unmarshal(b []byte) error
}

// network is a small feed-forward regressor with tanh activations trained by
// gradient descent.
type network struct {
	InputSize int         `json:"input_size"`
	W1        [][]float64 `json:"w1"`
	B1        []float64   `json:"b1"`
	W2        [][]float64 `json:"w2"`
	B2        []float64   `json:"b2"`
	LR        float64     `json:"lr"`
}

// newNetwork creates a deterministically initialized network. The output
// layer starts at zero so an untrained model predicts the tanh center.
func newNetwork(inputSize int) *network {
	rnd := rand.New(rand.NewSource(1))
	w1 := make([][]float64, hiddenSize)
	for i := range w1 {
		w1[i] = make([]float64, inputSize)
		for j := range w1[i] {
			w1[i][j] = rnd.Float64()*0.2 - 0.1
		}
	}
	w2 := make([][]float64, outputSize)
	for i := range w2 {
		w2[i] = make([]float64, hiddenSize)
	}
	return &network{
		InputSize: inputSize,
		W1:        w1,
		B1:        make([]float64, hiddenSize),
		W2:        w2,
		B2:        make([]float64, outputSize),
		LR:        0.05,
	}
}

func (n *network) forward(in []float64) (hidden, out []float64) {
	hidden = make([]float64, hiddenSize)
	for i := range hidden {
		z := n.B1[i]
		for j, x := range in {
			z += n.W1[i][j] * x
		}
		hidden[i] = math.Tanh(z)
	}
	out = make([]float64, outputSize)
	for i := range out {
		z := n.B2[i]
		for j, h := range hidden {
			z += n.W2[i][j] * h
		}
		out[i] = math.Tanh(z)
	}
	return hidden, out
}

func (n *network) predict(in []float64) []float64 {
	_, out := n.forward(in)
	return out
}

// step performs one gradient descent update on a single example.
func (n *network) step(in, target []float64) {
	hidden, out := n.forward(in)

	// Output layer deltas for squared error through tanh.
	deltaOut := make([]float64, outputSize)
	for i := range deltaOut {
		deltaOut[i] = (out[i] - target[i]) * (1 - out[i]*out[i])
	}

	deltaHidden := make([]float64, hiddenSize)
	for j := range deltaHidden {
		var sum float64
		for i := range deltaOut {
			sum += n.W2[i][j] * deltaOut[i]
		}
		deltaHidden[j] = sum * (1 - hidden[j]*hidden[j])
	}

	for i := range n.W2 {
		for j := range n.W2[i] {
			n.W2[i][j] -= n.LR * deltaOut[i] * hidden[j]
		}
		n.B2[i] -= n.LR * deltaOut[i]
	}
	for i := range n.W1 {
		for j := range n.W1[i] {
			n.W1[i][j] -= n.LR * deltaHidden[i] * in[j]
		}
		n.B1[i] -= n.LR * deltaHidden[i]
	}
}

// fit retrains over the full batch for the given number of epochs, running
// the forward and backward passes as whole-batch matrix operations.
func (n *network) fit(inputs, targets [][]float64, epochs int) {
	if len(inputs) == 0 || len(inputs) != len(targets) {
		return
	}
	x := mat.NewDense(len(inputs), n.InputSize, nil)
	y := mat.NewDense(len(targets), outputSize, nil)
	for i := range inputs {
		x.SetRow(i, inputs[i])
		y.SetRow(i, targets[i])
	}
	w1 := denseFromRows(hiddenSize, n.InputSize, n.W1)
	w2 := denseFromRows(outputSize, hiddenSize, n.W2)

	var h, o, dOut, dHidden, gradW1, gradW2 mat.Dense
	for e := 0; e < epochs; e++ {
		// H = tanh(X W1^T + B1), O = tanh(H W2^T + B2)
		h.Mul(x, w1.T())
		h.Apply(func(_, j int, v float64) float64 {
			return math.Tanh(v + n.B1[j])
		}, &h)
		o.Mul(&h, w2.T())
		o.Apply(func(_, j int, v float64) float64 {
			return math.Tanh(v + n.B2[j])
		}, &o)

		// Squared-error deltas through the tanh nonlinearities.
		dOut.Sub(&o, y)
		dOut.Apply(func(i, j int, v float64) float64 {
			out := o.At(i, j)
			return v * (1 - out*out)
		}, &dOut)
		dHidden.Mul(&dOut, w2)
		dHidden.Apply(func(i, j int, v float64) float64 {
			hid := h.At(i, j)
			return v * (1 - hid*hid)
		}, &dHidden)

		gradW2.Mul(dOut.T(), &h)
		gradW2.Scale(n.LR, &gradW2)
		w2.Sub(w2, &gradW2)
		subColSums(n.B2, &dOut, n.LR)

		gradW1.Mul(dHidden.T(), x)
		gradW1.Scale(n.LR, &gradW1)
		w1.Sub(w1, &gradW1)
		subColSums(n.B1, &dHidden, n.LR)
	}

	for i := range n.W1 {
		mat.Row(n.W1[i], i, w1)
	}
	for i := range n.W2 {
		mat.Row(n.W2[i], i, w2)
	}
}

func denseFromRows(rows, cols int, w [][]float64) *mat.Dense {
	d := mat.NewDense(rows, cols, nil)
	for i := range w {
		d.SetRow(i, w[i])
	}
	return d
}

// subColSums subtracts lr times each column sum of m from dst.
func subColSums(dst []float64, m *mat.Dense, lr float64) {
	rows, cols := m.Dims()
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += m.At(i, j)
		}
		dst[j] -= lr * sum
	}
}

func (n *network) marshal() ([]byte, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("model: couldn't marshal parameters: %w", err)
	}
	return b, nil
}

func (n *network) unmarshal(b []byte) error {
	var decoded network
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("model: couldn't unmarshal parameters: %w", err)
	}
	if decoded.InputSize == 0 || len(decoded.W1) != hiddenSize || len(decoded.W2) != outputSize {
		return fmt.Errorf("model: parameter shape mismatch")
	}
	*n = decoded
	return nil
}
