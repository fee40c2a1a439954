// Package ppo implements the Proximal Policy Optimization training
// loop: collecting trajectories of many agents, estimating advantages
// with GAE(λ), and training a model.Policy on shuffled minibatches
// of a shared experience buffer.
package ppo

import (
	"fmt"

	"github.com/samuelfneumann/goppo/model"
)

// Config holds the hyperparameters of a Trainer. Configs can be read
// from JSON, YAML, or the environment.
type Config struct {
	MaxTotalSteps int `json:"max_total_steps" yaml:"max_total_steps" env:"PPO_MAX_TOTAL_STEPS" env-default:"100000"`

	Gamma  float64 `json:"reward_discount_factor" yaml:"reward_discount_factor" env:"PPO_REWARD_DISCOUNT_FACTOR" env-default:"0.99"`
	Lambda float64 `json:"reward_gae_factor" yaml:"reward_gae_factor" env:"PPO_REWARD_GAE_FACTOR" env-default:"0.95"`

	ValueLossWeight   float64 `json:"value_loss_weight" yaml:"value_loss_weight" env:"PPO_VALUE_LOSS_WEIGHT" env-default:"0.5"`
	EntropyLossWeight float64 `json:"entropy_loss_weight" yaml:"entropy_loss_weight" env:"PPO_ENTROPY_LOSS_WEIGHT" env-default:"0.01"`
	ClipEpsilon       float64 `json:"clip_epsilon" yaml:"clip_epsilon" env:"PPO_CLIP_EPSILON" env-default:"0.2"`

	BatchSize          int `json:"batch_size" yaml:"batch_size" env:"PPO_BATCH_SIZE" env-default:"64"`
	BufferSizeForTrain int `json:"buffer_size_for_train" yaml:"buffer_size_for_train" env:"PPO_BUFFER_SIZE_FOR_TRAIN" env-default:"2048"`
	NumEpochPerTrain   int `json:"num_epoch_per_train" yaml:"num_epoch_per_train" env:"PPO_NUM_EPOCH_PER_TRAIN" env-default:"10"`

	// MaxBatchesPerEpoch caps the number of minibatches of an epoch,
	// 0 for no cap
	MaxBatchesPerEpoch int `json:"max_batches_per_epoch" yaml:"max_batches_per_epoch" env:"PPO_MAX_BATCHES_PER_EPOCH" env-default:"0"`

	LearningRate      float64 `json:"learning_rate" yaml:"learning_rate" env:"PPO_LEARNING_RATE" env-default:"0.0003"`
	SaveModelInterval int     `json:"save_model_interval" yaml:"save_model_interval" env:"PPO_SAVE_MODEL_INTERVAL" env-default:"10"`

	// NormalizeAdvantages standardizes the advantages of each epoch
	NormalizeAdvantages bool `json:"normalize_advantages" yaml:"normalize_advantages" env:"PPO_NORMALIZE_ADVANTAGES" env-default:"false"`

	// LogWindow is the averaging window of reported statistics
	LogWindow int `json:"log_window" yaml:"log_window" env:"PPO_LOG_WINDOW" env-default:"100"`

	Seed uint64 `json:"seed" yaml:"seed" env:"PPO_SEED" env-default:"1"`
}

// DefaultConfig returns a Config with commonly used hyperparameters
func DefaultConfig() Config {
	return Config{
		MaxTotalSteps:      100000,
		Gamma:              0.99,
		Lambda:             0.95,
		ValueLossWeight:    0.5,
		EntropyLossWeight:  0.01,
		ClipEpsilon:        0.2,
		BatchSize:          64,
		BufferSizeForTrain: 2048,
		NumEpochPerTrain:   10,
		LearningRate:       3e-4,
		SaveModelInterval:  10,
		LogWindow:          100,
		Seed:               1,
	}
}

// BufferCapacity returns the capacity of the experience buffer, twice
// the training threshold.
func (c Config) BufferCapacity() int {
	return 2 * c.BufferSizeForTrain
}

// Hyperparameters returns the loss coefficients of each training step
func (c Config) Hyperparameters() model.Hyperparameters {
	return model.Hyperparameters{
		ClipEpsilon:       c.ClipEpsilon,
		ValueLossWeight:   c.ValueLossWeight,
		EntropyLossWeight: c.EntropyLossWeight,
	}
}

// Validate checks the Config for illegal values
func (c Config) Validate() error {
	if c.MaxTotalSteps < 1 {
		return fmt.Errorf("validate: max total steps must be positive")
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: discount factor must be in [0, 1] "+
			"\n\thave(%v)", c.Gamma)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("validate: gae factor must be in [0, 1] "+
			"\n\thave(%v)", c.Lambda)
	}
	if c.ClipEpsilon <= 0 {
		return fmt.Errorf("validate: clip epsilon must be positive")
	}
	if c.ValueLossWeight < 0 || c.EntropyLossWeight < 0 {
		return fmt.Errorf("validate: loss weights cannot be negative")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("validate: batch size must be positive")
	}
	if c.BufferSizeForTrain < c.BatchSize {
		return fmt.Errorf("validate: buffer size for training must be at "+
			"least one batch \n\twant(>= %v)\n\thave(%v)", c.BatchSize,
			c.BufferSizeForTrain)
	}
	if c.NumEpochPerTrain < 1 {
		return fmt.Errorf("validate: epochs per training must be positive")
	}
	if c.MaxBatchesPerEpoch < 0 {
		return fmt.Errorf("validate: max batches per epoch cannot be " +
			"negative")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("validate: learning rate must be positive")
	}
	if c.SaveModelInterval < 0 {
		return fmt.Errorf("validate: save model interval cannot be " +
			"negative")
	}
	if c.LogWindow < 1 {
		return fmt.Errorf("validate: log window must be positive")
	}
	return nil
}
