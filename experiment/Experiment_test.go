package experiment

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/goppo/experiment/checkpointer"
	"github.com/samuelfneumann/goppo/model"
	"github.com/samuelfneumann/goppo/ppo"
	"github.com/samuelfneumann/goppo/stats"
)

const testConfigYAML = `
ppo:
  max_total_steps: 40
  batch_size: 4
  buffer_size_for_train: 8
  num_epoch_per_train: 2
  learning_rate: 0.001
environment:
  num_agents: 2
  episode_steps: 10
model:
  hidden_sizes: [8]
output:
  log_level: debug
`

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}
	return path
}

func loadTestConfig(t *testing.T) Config {
	c, err := Load(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return c
}

func TestLoad(t *testing.T) {
	c := loadTestConfig(t)

	if c.PPO.BatchSize != 4 || c.PPO.BufferSizeForTrain != 8 {
		t.Errorf("ppo config: \n\twant(4, 8)\n\thave(%v, %v)",
			c.PPO.BatchSize, c.PPO.BufferSizeForTrain)
	}
	if c.PPO.Gamma != 0.99 || c.PPO.ClipEpsilon != 0.2 {
		t.Errorf("defaults: \n\twant(0.99, 0.2)\n\thave(%v, %v)",
			c.PPO.Gamma, c.PPO.ClipEpsilon)
	}
	if c.Environment.Name != Cartpole ||
		c.Environment.ActionType != model.Discrete {
		t.Errorf("environment: \n\twant(%v, %v)\n\thave(%v, %v)", Cartpole,
			model.Discrete, c.Environment.Name, c.Environment.ActionType)
	}
	if len(c.Model.HiddenSizes) != 1 || c.Model.HiddenSizes[0] != 8 {
		t.Errorf("hidden sizes: \n\twant([8])\n\thave(%v)",
			c.Model.HiddenSizes)
	}
	if c.LogLevel() != zerolog.DebugLevel {
		t.Errorf("log level: \n\twant(%v)\n\thave(%v)", zerolog.DebugLevel,
			c.LogLevel())
	}
}

func TestLoadInvalid(t *testing.T) {
	for name, contents := range map[string]string{
		"environment": "environment:\n  name: pong\n",
		"batch":       "ppo:\n  batch_size: 64\n  buffer_size_for_train: 8\n",
		"activation":  "model:\n  activation: swish\n",
	} {
		if _, err := Load(writeConfig(t, contents)); err == nil {
			t.Errorf("load %v: expected an error", name)
		}
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("load: expected an error for a missing file")
	}
}

func TestUsage(t *testing.T) {
	usage, err := Usage()
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if !bytes.Contains([]byte(usage), []byte("PPO_BATCH_SIZE")) {
		t.Errorf("usage should describe PPO_BATCH_SIZE:\n%v", usage)
	}
}

// setup builds everything needed to run the experiment described by c
func setup(t *testing.T, c Config) (*Online, *ppo.Trainer, *stats.Recorder,
	string) {
	logger := zerolog.Nop()
	v, err := c.NewEnvironment(c.PPO.Seed, logger)
	if err != nil {
		t.Fatalf("newenvironment: %v", err)
	}
	layout := c.Layout(v)
	m, err := c.NewModel(layout)
	if err != nil {
		t.Fatalf("newmodel: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	recorder := stats.NewRecorder(logger, nil)
	trainer, err := ppo.New(m, recorder, layout, c.PPO, logger)
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}

	dir := t.TempDir()
	check := checkpointer.NewNStep(1, m,
		checkpointer.RunEnumerator(dir, "test", ".bin"))
	return NewOnline(v, trainer, recorder, nil, logger, check), trainer,
		recorder, dir
}

func TestOnlineDiscrete(t *testing.T) {
	c := loadTestConfig(t)
	o, trainer, recorder, dir := setup(t, c)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if trainer.Steps() < c.PPO.MaxTotalSteps {
		t.Errorf("steps: \n\twant(>= %v)\n\thave(%v)", c.PPO.MaxTotalSteps,
			trainer.Steps())
	}
	if trainer.Updates() < 1 {
		t.Fatalf("the model should have been trained")
	}
	if recorder.Count(ppo.StatReturn) < 1 {
		t.Errorf("episode returns should have been recorded")
	}
	if recorder.Count(ppo.StatTotalLoss) != trainer.Updates() {
		t.Errorf("losses: \n\twant(%v)\n\thave(%v)", trainer.Updates(),
			recorder.Count(ppo.StatTotalLoss))
	}

	files, err := filepath.Glob(filepath.Join(dir, "test-*.bin"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) != trainer.Updates() {
		t.Errorf("checkpoints: \n\twant(%v)\n\thave(%v)", trainer.Updates(),
			len(files))
	}

	// Checkpoints restore into a model of the same architecture
	v, err := c.NewEnvironment(0, zerolog.Nop())
	if err != nil {
		t.Fatalf("newenvironment: %v", err)
	}
	fresh, err := c.NewModel(c.Layout(v))
	if err != nil {
		t.Fatalf("newmodel: %v", err)
	}
	defer fresh.Close()
	if err := checkpointer.Restore(fresh, files[0]); err != nil {
		t.Errorf("restore: %v", err)
	}
}

func TestOnlineContinuous(t *testing.T) {
	c := loadTestConfig(t)
	c.Environment.ActionType = model.Continuous
	o, trainer, _, _ := setup(t, c)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if trainer.Updates() < 1 {
		t.Errorf("the model should have been trained")
	}
}

func TestOnlineCancelled(t *testing.T) {
	c := loadTestConfig(t)
	o, trainer, _, _ := setup(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("run: \n\twant(%v)\n\thave(%v)", context.Canceled, err)
	}
	if trainer.Steps() != 0 {
		t.Errorf("no steps should be taken, have %v", trainer.Steps())
	}
}

func TestOnlinePendulum(t *testing.T) {
	c := loadTestConfig(t)
	c.Environment.Name = Pendulum
	c.Environment.ActionType = model.Continuous
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	o, trainer, recorder, _ := setup(t, c)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if trainer.Updates() < 1 {
		t.Errorf("the model should have been trained")
	}

	// Pendulum episodes are truncated after exactly EpisodeSteps steps
	if mean, ok := recorder.Mean(ppo.StatEpisodeLength); !ok ||
		mean != float64(c.Environment.EpisodeSteps) {
		t.Errorf("episode length: \n\twant(%v)\n\thave(%v)",
			c.Environment.EpisodeSteps, mean)
	}

	c.Environment.ActionType = model.Discrete
	if err := c.Validate(); err == nil {
		t.Errorf("validate: pendulum should not allow discrete actions")
	}
}
