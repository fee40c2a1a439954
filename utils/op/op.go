// Package op provides extended Gorgonia graph operations.
//
// Masks produced by comparisons carry no gradient, so gradients flow
// only through the selected operand of Clip, Min, and Max.
package op

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// Clip clips each element of value to the range [min, max]. The
// bounds are scalar nodes, so they may be graph inputs which are set
// before each run.
func Clip(value, min, max *G.Node) (*G.Node, error) {
	// Elements below the minimum
	minMask, err := G.Lt(value, min, true)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}
	minVal, err := G.HadamardProd(min, minMask)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}

	// Elements within the bounds
	isMaskGte, err := G.Gte(value, min, true)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}
	isMaskLte, err := G.Lte(value, max, true)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}
	isMask, err := G.HadamardProd(isMaskGte, isMaskLte)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}
	isVal, err := G.HadamardProd(value, isMask)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}

	// Elements above the maximum
	maxMask, err := G.Gt(value, max, true)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}
	maxVal, err := G.HadamardProd(max, maxMask)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}

	return G.ReduceAdd(G.Nodes{minVal, isVal, maxVal})
}

// Min returns the elementwise minimum of two nodes. If values are
// equal the first value is returned.
func Min(a, b *G.Node) (*G.Node, error) {
	aMask, err := G.Lte(a, b, true)
	if err != nil {
		return nil, fmt.Errorf("min: %v", err)
	}
	aVal, err := G.HadamardProd(a, aMask)
	if err != nil {
		return nil, fmt.Errorf("min: %v", err)
	}

	bMask, err := G.Lt(b, a, true)
	if err != nil {
		return nil, fmt.Errorf("min: %v", err)
	}
	bVal, err := G.HadamardProd(b, bMask)
	if err != nil {
		return nil, fmt.Errorf("min: %v", err)
	}
	return G.Add(aVal, bVal)
}

// Max returns the elementwise maximum of two nodes. If values are
// equal the first value is returned.
func Max(a, b *G.Node) (*G.Node, error) {
	aMask, err := G.Gte(a, b, true)
	if err != nil {
		return nil, fmt.Errorf("max: %v", err)
	}
	aVal, err := G.HadamardProd(a, aMask)
	if err != nil {
		return nil, fmt.Errorf("max: %v", err)
	}

	bMask, err := G.Gt(b, a, true)
	if err != nil {
		return nil, fmt.Errorf("max: %v", err)
	}
	bVal, err := G.HadamardProd(b, bMask)
	if err != nil {
		return nil, fmt.Errorf("max: %v", err)
	}
	return G.Add(aVal, bVal)
}

// LogSumExp calculates the log of the summation of exponentials of
// all logits along the given axis of a matrix, shifting by the
// maximum for stability.
func LogSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{1}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// LogSoftmax returns the log probabilities of the categorical
// distributions parameterized by each row of logits
func LogSoftmax(logits *G.Node) *G.Node {
	lse := LogSumExp(logits, 1)
	return G.Must(G.BroadcastSub(logits, lse, nil, []byte{1}))
}

// DiagGaussianLogPdf returns the log density of each row of actions
// under a diagonal Gaussian with the means in the corresponding row of
// mean and log-variances logVar. The mean and actions nodes are
// [batch, dims] matrices. The logVar node is a [1, dims] matrix
// shared by every row.
func DiagGaussianLogPdf(mean, logVar, actions *G.Node) *G.Node {
	dims := float64(mean.Shape()[1])
	negativeHalf := G.NewConstant(-0.5)

	// -½ Σ (a - μ)² / σ²
	diff := G.Must(G.Sub(actions, mean))
	sq := G.Must(G.Square(diff))
	variance := G.Must(G.Exp(logVar))
	quad := G.Must(G.BroadcastHadamardDiv(sq, variance, nil, []byte{0}))
	exponent := G.Must(G.Sum(quad, 1))
	exponent = G.Must(G.HadamardProd(exponent, negativeHalf))

	// -½ Σ log σ² - (d/2) log 2π
	logDet := G.Must(G.Sum(logVar))
	logDet = G.Must(G.Mul(logDet, negativeHalf))
	norm := G.NewConstant(-dims / 2 * math.Log(2*math.Pi))
	terms := G.Must(G.Add(logDet, norm))

	return G.Must(G.Add(exponent, terms))
}

// DiagGaussianEntropy returns the entropy of a diagonal Gaussian with
// log-variances logVar, a [1, dims] matrix
func DiagGaussianEntropy(logVar *G.Node) *G.Node {
	dims := float64(logVar.Shape()[1])
	half := G.NewConstant(0.5)

	sum := G.Must(G.Sum(logVar))
	sum = G.Must(G.Mul(sum, half))
	norm := G.NewConstant(dims / 2 * (1 + math.Log(2*math.Pi)))
	return G.Must(G.Add(sum, norm))
}
