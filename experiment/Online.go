package experiment

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/goppo/buffer"
	"github.com/samuelfneumann/goppo/environment"
	"github.com/samuelfneumann/goppo/experiment/checkpointer"
	"github.com/samuelfneumann/goppo/ppo"
	"github.com/schollz/progressbar/v3"
)

const progressThrottle = 100 * time.Millisecond

// Flusher reports the statistics gathered since training started,
// e.g. a stats.Recorder
type Flusher interface {
	Flush(step int) error
}

// Online is an experiment which trains agents online: all agents act
// in their environments, observe the outcome, and the model is
// trained whenever enough experience has been gathered. The
// experiment ends once the agents have taken a total number of steps.
type Online struct {
	env           *environment.Vector
	trainer       *ppo.Trainer
	stats         Flusher
	checkpointers []checkpointer.Checkpointer
	maxSteps      int

	logger zerolog.Logger
	bar    *progressbar.ProgressBar
}

// NewOnline creates and returns a new online experiment training
// trainer in the environments of v. Statistics are flushed to stats
// after every update, and each Checkpointer is called after every
// update. Progress is drawn to progress, which may be nil.
func NewOnline(v *environment.Vector, trainer *ppo.Trainer, stats Flusher,
	progress io.Writer, logger zerolog.Logger,
	c ...checkpointer.Checkpointer) *Online {
	maxSteps := trainer.Config().MaxTotalSteps
	if progress == nil {
		progress = io.Discard
	}
	bar := progressbar.NewOptions(maxSteps,
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("training"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(progressThrottle),
	)

	return &Online{
		env:           v,
		trainer:       trainer,
		stats:         stats,
		checkpointers: c,
		maxSteps:      maxSteps,
		logger:        logger.With().Str("component", "experiment").Logger(),
		bar:           bar,
	}
}

// Register adds a Checkpointer to the experiment
func (o *Online) Register(c checkpointer.Checkpointer) {
	o.checkpointers = append(o.checkpointers, c)
}

// Run runs the experiment until the agents have taken the maximum
// number of steps or ctx is done
func (o *Online) Run(ctx context.Context) error {
	o.logger.Info().
		Int("agents", o.env.Len()).
		Int("max_steps", o.maxSteps).
		Msg("training started")

	for o.trainer.Steps() < o.maxSteps {
		if err := ctx.Err(); err != nil {
			o.logger.Warn().Int("steps", o.trainer.Steps()).
				Msg("training interrupted")
			return err
		}
		if err := o.Step(); err != nil {
			return fmt.Errorf("run: %w", err)
		}
	}

	if err := o.bar.Finish(); err != nil {
		return fmt.Errorf("run: %v", err)
	}
	o.logger.Info().
		Int("steps", o.trainer.Steps()).
		Int("updates", o.trainer.Updates()).
		Int("episodes", o.env.Episodes()).
		Msg("training finished")
	return nil
}

// Step takes one step with every agent and trains the model if enough
// experience has been gathered
func (o *Online) Step() error {
	ids, current := o.env.Current()
	actions, err := o.trainer.Act(ids, current)
	if err != nil {
		return fmt.Errorf("step: %w", err)
	}

	next, err := o.env.Step(actions)
	if err != nil {
		return fmt.Errorf("step: %w", err)
	}
	if err := o.trainer.Observe(ids, next); err != nil {
		return fmt.Errorf("step: %w", err)
	}
	if err := o.bar.Add(len(ids)); err != nil {
		return fmt.Errorf("step: %v", err)
	}

	if !o.trainer.IsReadyToUpdate() {
		return nil
	}
	return o.update()
}

// update trains the model, reports statistics, and checkpoints
func (o *Online) update() error {
	if _, err := o.trainer.Update(); err != nil {
		if buffer.IsInsufficientData(err) {
			o.logger.Warn().Err(err).Msg("update skipped")
			return nil
		}
		return fmt.Errorf("update: %w", err)
	}

	if o.stats != nil {
		if err := o.stats.Flush(o.trainer.Steps()); err != nil {
			return fmt.Errorf("update: %v", err)
		}
	}

	for _, c := range o.checkpointers {
		path, err := c.Checkpoint(o.trainer.Updates())
		if err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if path != "" {
			o.logger.Info().
				Int("update", o.trainer.Updates()).
				Str("path", path).
				Msg("checkpoint saved")
		}
	}
	return nil
}
