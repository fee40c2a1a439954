package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samuelfneumann/goppo/experiment"
	"github.com/samuelfneumann/goppo/experiment/checkpointer"
	"github.com/samuelfneumann/goppo/ppo"
	"github.com/samuelfneumann/goppo/stats"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON, YAML, "+
		"TOML, or EDN configuration file; environment variables are used "+
		"if empty")
	usage := flag.Bool("usage", false, "print the configuration "+
		"environment variables and exit")
	flag.Parse()

	if *usage {
		text, err := experiment.Usage()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(text)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "goppo: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	c, err := experiment.Load(configPath)
	if err != nil {
		return err
	}

	runID := c.Output.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	dir := c.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	logger := zerolog.New(os.Stderr).Level(c.LogLevel()).With().
		Timestamp().
		Str("run_id", runID).
		Logger()

	store, err := stats.NewStore(filepath.Join(dir, "stats.db"), runID)
	if err != nil {
		return err
	}
	defer store.Close()
	recorder := stats.NewRecorder(logger, store)

	v, err := c.NewEnvironment(c.PPO.Seed, logger)
	if err != nil {
		return err
	}
	layout := c.Layout(v)

	m, err := c.NewModel(layout)
	if err != nil {
		return err
	}
	defer m.Close()
	if c.Model.Weights != "" {
		if err := checkpointer.Restore(m, c.Model.Weights); err != nil {
			return err
		}
		logger.Info().Str("path", c.Model.Weights).Msg("weights restored")
	}

	trainer, err := ppo.New(m, recorder, layout, c.PPO, logger)
	if err != nil {
		return err
	}

	var progress io.Writer
	if c.Output.Progress {
		progress = os.Stdout
	}
	check := checkpointer.NewNStep(c.PPO.SaveModelInterval, m,
		checkpointer.RunEnumerator(filepath.Join(dir, "checkpoints"), runID,
			".bin"))
	o := experiment.NewOnline(v, trainer, recorder, progress, logger, check)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := o.Run(ctx); err != nil {
		return err
	}

	// Always keep the final weights
	final, err := m.SaveWeights()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "final.bin"), final, 0o644)
}
