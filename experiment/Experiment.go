// Package experiment implements functionality for running a PPO
// training experiment: loading its configuration, building the
// environments, model, and trainer it describes, and running the
// online training loop.
package experiment

import (
	"fmt"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog"
	"github.com/samuelfneumann/goppo/environment"
	"github.com/samuelfneumann/goppo/environment/classiccontrol/cartpole"
	"github.com/samuelfneumann/goppo/environment/classiccontrol/pendulum"
	"github.com/samuelfneumann/goppo/initwfn"
	"github.com/samuelfneumann/goppo/model"
	"github.com/samuelfneumann/goppo/model/mlp"
	"github.com/samuelfneumann/goppo/network"
	"github.com/samuelfneumann/goppo/ppo"
	"github.com/samuelfneumann/goppo/solver"
)

// Names of the available environments
const (
	Cartpole = "cartpole"

	// Pendulum only supports Continuous actions
	Pendulum = "pendulum"
)

// Config represents a configuration of an experiment
type Config struct {
	PPO         ppo.Config   `json:"ppo" yaml:"ppo"`
	Environment EnvConfig    `json:"environment" yaml:"environment"`
	Model       ModelConfig  `json:"model" yaml:"model"`
	Output      OutputConfig `json:"output" yaml:"output"`
}

// EnvConfig describes the environments the agents act in. Each agent
// acts in its own environment.
type EnvConfig struct {
	Name         string           `json:"name" yaml:"name" env:"ENV_NAME" env-default:"cartpole"`
	ActionType   model.ActionType `json:"action_type" yaml:"action_type" env:"ENV_ACTION_TYPE" env-default:"Discrete"`
	NumAgents    int              `json:"num_agents" yaml:"num_agents" env:"ENV_NUM_AGENTS" env-default:"8"`
	EpisodeSteps int              `json:"episode_steps" yaml:"episode_steps" env:"ENV_EPISODE_STEPS" env-default:"500"`
	Discount     float64          `json:"discount" yaml:"discount" env:"ENV_DISCOUNT" env-default:"1.0"`
}

// ModelConfig describes the policy and value networks
type ModelConfig struct {
	HiddenSizes []int       `json:"hidden_sizes" yaml:"hidden_sizes" env:"MODEL_HIDDEN_SIZES" env-default:"64,64"`
	Activation  string      `json:"activation" yaml:"activation" env:"MODEL_ACTIVATION" env-default:"tanh"`
	Solver      solver.Type `json:"solver" yaml:"solver" env:"MODEL_SOLVER" env-default:"Adam"`

	// GradientClip clips gradients of Adam and Vanilla solvers, <= 0
	// for no clipping
	GradientClip float64 `json:"gradient_clip" yaml:"gradient_clip" env:"MODEL_GRADIENT_CLIP" env-default:"-1"`
	InitLogVar   float64 `json:"init_log_var" yaml:"init_log_var" env:"MODEL_INIT_LOG_VAR" env-default:"0"`

	// Weights is a checkpoint to start training from
	Weights string `json:"weights" yaml:"weights" env:"MODEL_WEIGHTS"`
}

// OutputConfig describes where and how results are reported
type OutputConfig struct {
	Dir string `json:"dir" yaml:"dir" env:"OUTPUT_DIR" env-default:"runs"`

	// RunID names the run; a random one is generated if empty
	RunID    string `json:"run_id" yaml:"run_id" env:"OUTPUT_RUN_ID"`
	LogLevel string `json:"log_level" yaml:"log_level" env:"OUTPUT_LOG_LEVEL" env-default:"info"`
	Progress bool   `json:"progress" yaml:"progress" env:"OUTPUT_PROGRESS" env-default:"true"`
}

// Load reads a Config from the file at path, which may be JSON, YAML,
// TOML, or EDN, and overrides it with environment variables. If path is
// empty, the Config is read from environment variables only. Missing
// values take their defaults.
func Load(path string) (Config, error) {
	var c Config
	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&c)
	} else {
		err = cleanenv.ReadConfig(path, &c)
	}
	if err != nil {
		return Config{}, fmt.Errorf("load: %v", err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("load: %v", err)
	}
	return c, nil
}

// Usage returns a description of the environment variables a Config
// can be read from
func Usage() (string, error) {
	var c Config
	return cleanenv.GetDescription(&c, nil)
}

// Validate checks the Config for illegal values
func (c Config) Validate() error {
	if err := c.PPO.Validate(); err != nil {
		return err
	}

	if c.Environment.ActionType != model.Discrete &&
		c.Environment.ActionType != model.Continuous {
		return fmt.Errorf("validate: unknown action type %q",
			c.Environment.ActionType)
	}
	switch c.Environment.Name {
	case Cartpole:
	case Pendulum:
		if c.Environment.ActionType != model.Continuous {
			return fmt.Errorf("validate: %v only supports %v actions",
				Pendulum, model.Continuous)
		}
	default:
		return fmt.Errorf("validate: unknown environment %q",
			c.Environment.Name)
	}
	if c.Environment.NumAgents < 1 {
		return fmt.Errorf("validate: at least one agent is needed")
	}
	if c.Environment.EpisodeSteps < 1 {
		return fmt.Errorf("validate: episode steps must be positive")
	}

	for _, size := range c.Model.HiddenSizes {
		if size < 1 {
			return fmt.Errorf("validate: hidden layer sizes must be "+
				"positive \n\thave(%v)", c.Model.HiddenSizes)
		}
	}
	if _, err := network.ActivationByName(c.Model.Activation); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	switch c.Model.Solver {
	case solver.Adam, solver.RMSProp, solver.Vanilla:
	default:
		return fmt.Errorf("validate: unknown solver %q", c.Model.Solver)
	}

	if _, err := zerolog.ParseLevel(c.Output.LogLevel); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	return nil
}

// LogLevel returns the configured logging level
func (c Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Output.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// RunDir returns the directory of the output of run runID
func (c Config) RunDir(runID string) string {
	return filepath.Join(c.Output.Dir, runID)
}

// NewEnvironment returns a Vector of NumAgents environments. The i-th
// environment samples starting states with seed + i.
func (c Config) NewEnvironment(seed uint64,
	logger zerolog.Logger) (*environment.Vector, error) {
	envs := make([]environment.Environment, c.Environment.NumAgents)
	for i := range envs {
		e, err := c.newEnvironment(seed + uint64(i))
		if err != nil {
			return nil, fmt.Errorf("newenvironment: %v", err)
		}
		envs[i] = e
	}
	return environment.NewVector(envs, logger)
}

func (c Config) newEnvironment(seed uint64) (environment.Environment,
	error) {
	steps, discount := c.Environment.EpisodeSteps, c.Environment.Discount

	switch c.Environment.Name {
	case Cartpole:
		task := cartpole.NewBalance(cartpole.NewDefaultStarter(seed), steps,
			cartpole.FailAngle)
		if c.Environment.ActionType == model.Discrete {
			e, _ := cartpole.NewDiscrete(task, discount)
			return e, nil
		}
		e, _ := cartpole.NewContinuous(task, discount)
		return e, nil

	case Pendulum:
		task := pendulum.NewSwingUp(pendulum.NewDefaultStarter(seed), steps)
		e, _ := pendulum.NewContinuous(task, discount)
		return e, nil
	}
	return nil, fmt.Errorf("unknown environment %q", c.Environment.Name)
}

// Layout returns the observation and action layout of the agents
// acting in v
func (c Config) Layout(v *environment.Vector) ppo.Layout {
	return ppo.Layout{
		VectorSize: v.ObservationSpec().Size(),
		ActionType: c.Environment.ActionType,
		ActionSize: v.ActionSpec().Size(),
	}
}

// NewModel returns a new model for agents with the given layout
func (c Config) NewModel(layout ppo.Layout) (*mlp.Model, error) {
	s, err := c.newSolver()
	if err != nil {
		return nil, fmt.Errorf("newmodel: %v", err)
	}

	hidden := len(c.Model.HiddenSizes)
	biases := make([]bool, hidden)
	activations := make([]*network.Activation, hidden)
	for i := range activations {
		biases[i] = true
		activations[i], err = network.ActivationByName(c.Model.Activation)
		if err != nil {
			return nil, fmt.Errorf("newmodel: %v", err)
		}
	}

	return mlp.New(mlp.Config{
		ActionType:   layout.ActionType,
		ActionSize:   layout.ActionSize,
		VectorSize:   layout.VectorSize,
		VisualShapes: layout.VisualShapes,
		HiddenSizes:  append([]int(nil), c.Model.HiddenSizes...),
		Biases:       biases,
		Activations:  activations,
		InitWFn:      initwfn.NewGlorotU(1.0),
		Solver:       s,
		TrainBatch:   c.PPO.BatchSize,
		EvalBatch:    c.Environment.NumAgents,
		InitLogVar:   c.Model.InitLogVar,
		Seed:         c.PPO.Seed,
	})
}

// newSolver returns the configured solver. The losses are averaged
// over each batch, so the solvers use a batch size of 1.
func (c Config) newSolver() (*solver.Solver, error) {
	lr := c.PPO.LearningRate
	switch c.Model.Solver {
	case solver.Adam:
		return solver.NewAdam(lr, 1e-8, 0.9, 0.999, 1, c.Model.GradientClip)
	case solver.RMSProp:
		return solver.NewDefaultRMSProp(lr, 1)
	case solver.Vanilla:
		return solver.NewVanilla(lr, 1, c.Model.GradientClip)
	}
	return nil, fmt.Errorf("newsolver: unknown solver %q", c.Model.Solver)
}
