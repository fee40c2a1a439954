package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ProbEpsilon is added to old probabilities in the probability ratio
const ProbEpsilon = 1e-10

// The functions in this file compute the PPO loss directly on
// probabilities. Every Policy must compute the same quantities in
// its own TrainBatch.

// Ratio returns the probability ratio new / (old + ProbEpsilon)
func Ratio(newProb, oldProb float64) float64 {
	return newProb / (oldProb + ProbEpsilon)
}

// Surrogate returns the clipped surrogate objective
// min(ratio * adv, clip(ratio, 1-ε, 1+ε) * adv)
func Surrogate(ratio, advantage, epsilon float64) float64 {
	clipped := math.Max(1-epsilon, math.Min(ratio, 1+epsilon))
	return math.Min(ratio*advantage, clipped*advantage)
}

// PolicyLoss returns 1 - mean(surrogate) over a batch
func PolicyLoss(ratios, advantages []float64, epsilon float64) (float64,
	error) {
	if len(ratios) != len(advantages) {
		return 0, fmt.Errorf("policyloss: one advantage is needed per "+
			"ratio \n\twant(%v)\n\thave(%v)", len(ratios), len(advantages))
	}
	surrogates := make([]float64, len(ratios))
	for i := range ratios {
		surrogates[i] = Surrogate(ratios[i], advantages[i], epsilon)
	}
	return 1 - stat.Mean(surrogates, nil), nil
}

// ValueLoss returns the mean squared error between values and targets
func ValueLoss(values, targets []float64) (float64, error) {
	if len(values) != len(targets) {
		return 0, fmt.Errorf("valueloss: one target is needed per value "+
			"\n\twant(%v)\n\thave(%v)", len(values), len(targets))
	}
	diff := make([]float64, len(values))
	floats.SubTo(diff, values, targets)
	return floats.Dot(diff, diff) / float64(len(diff)), nil
}

// CategoricalEntropy returns -Σ p log p of a categorical distribution.
// Zero probabilities contribute nothing.
func CategoricalEntropy(probs []float64) float64 {
	entropy := 0.0
	for _, p := range probs {
		if p > 0 {
			entropy -= p * math.Log(p)
		}
	}
	return entropy
}

// GaussianEntropy returns the entropy of a diagonal Gaussian with
// log-variances logVar, ½ Σ (log σ² + 1 + log 2π).
func GaussianEntropy(logVar []float64) float64 {
	d := float64(len(logVar))
	return 0.5*floats.Sum(logVar) + 0.5*d*(1+math.Log(2*math.Pi))
}

// TotalLoss combines the three losses with the Hyperparameters'
// weights: policy + wv*value - we*entropy
func TotalLoss(policy, value, entropy float64, h Hyperparameters) float64 {
	return policy + h.ValueLossWeight*value - h.EntropyLossWeight*entropy
}

// Objective computes all PPO losses of a batch given the probabilities
// and values of the current parameters and the mean entropy of the
// current action distributions.
func Objective(newProbs, oldProbs, advantages, values, targets []float64,
	entropy float64, h Hyperparameters) (Losses, error) {
	if len(newProbs) != len(oldProbs) {
		return Losses{}, fmt.Errorf("objective: one old probability is "+
			"needed per new probability \n\twant(%v)\n\thave(%v)",
			len(newProbs), len(oldProbs))
	}

	ratios := make([]float64, len(newProbs))
	for i := range newProbs {
		ratios[i] = Ratio(newProbs[i], oldProbs[i])
	}

	policy, err := PolicyLoss(ratios, advantages, h.ClipEpsilon)
	if err != nil {
		return Losses{}, fmt.Errorf("objective: %v", err)
	}
	value, err := ValueLoss(values, targets)
	if err != nil {
		return Losses{}, fmt.Errorf("objective: %v", err)
	}

	return Losses{
		Total:   TotalLoss(policy, value, entropy, h),
		Value:   value,
		Policy:  policy,
		Entropy: entropy,
	}, nil
}
