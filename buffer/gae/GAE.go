// Package gae implements discounted returns and generalized advantage
// estimation, GAE(λ), following https://arxiv.org/abs/1506.02438.
//
// All functions operate on the rewards and value estimates of a single
// trajectory, ordered in time.
package gae

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrDimensionMismatch is reported when sequences which should be
// aligned step for step have different lengths.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// stdEpsilon is added to the standard deviation when standardizing
const stdEpsilon = 1e-8

// DiscountedReturns computes the discounted return from every step of
// a trajectory, working backwards from the bootstrap value. Given
// rewards [r0 r1 ... rN], discount ℽ, and bootstrap b, it returns:
//
//	[
//		r0 + ℽ r1 + ℽ^2 r2 + ... + ℽ^N rN + ℽ^(N+1) b
//		r1 + ℽ r2 + ... + ℽ^(N-1) rN + ℽ^N b
//		...
//		rN + ℽ b
//	]
func DiscountedReturns(rewards []float64, gamma, bootstrap float64) []float64 {
	returns := make([]float64, len(rewards))
	acc := bootstrap
	for t := len(rewards) - 1; t >= 0; t-- {
		acc = acc*gamma + rewards[t]
		returns[t] = acc
	}
	return returns
}

// Advantages computes the GAE(λ) advantage of each step of a
// trajectory. The bootstrap value is the value of the state following
// the last step; it should be 0 if the trajectory ended in a terminal
// state and v(s) of the final observation if it was cut off.
func Advantages(rewards, values []float64, gamma, lambda,
	bootstrap float64) ([]float64, error) {
	if len(rewards) != len(values) {
		return nil, fmt.Errorf("advantages: %w: one value is needed per "+
			"reward \n\twant(%v)\n\thave(%v)", ErrDimensionMismatch,
			len(rewards), len(values))
	}
	if len(rewards) == 0 {
		return []float64{}, nil
	}

	deltas := tdResiduals(rewards, values, gamma, bootstrap)
	return DiscountedReturns(deltas.RawVector().Data, gamma*lambda, 0), nil
}

// tdResiduals returns δ_t = r_t + ℽ v(s_{t+1}) - v(s_t) for each step,
// where the value following the last step is the bootstrap value.
func tdResiduals(rewards, values []float64, gamma,
	bootstrap float64) *mat.VecDense {
	n := len(rewards)

	nextVals := make([]float64, n)
	copy(nextVals, values[1:])
	nextVals[n-1] = bootstrap

	stateVals := mat.NewVecDense(n, append([]float64(nil), values...))
	nextStateVals := mat.NewVecDense(n, nextVals)
	rews := mat.NewVecDense(n, append([]float64(nil), rewards...))

	deltas := mat.NewVecDense(n, nil)
	deltas.AddScaledVec(rews, gamma, nextStateVals)
	deltas.SubVec(deltas, stateVals)
	return deltas
}

// TargetValues returns the regression targets of the value function,
// advantage + value at each step.
func TargetValues(advantages, values []float64) ([]float64, error) {
	if len(advantages) != len(values) {
		return nil, fmt.Errorf("targetvalues: %w: one value is needed per "+
			"advantage \n\twant(%v)\n\thave(%v)", ErrDimensionMismatch,
			len(advantages), len(values))
	}

	targets := make([]float64, len(values))
	floats.AddTo(targets, advantages, values)
	return targets, nil
}

// Standardize returns x shifted and scaled to have mean 0 and standard
// deviation 1. Sequences with fewer than two elements are only
// centred.
func Standardize(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}

	mean := stat.Mean(x, nil)
	copy(out, x)
	floats.AddConst(-mean, out)
	if len(x) < 2 {
		return out
	}

	std := stat.StdDev(x, nil) + stdEpsilon
	floats.Scale(1/std, out)
	return out
}
