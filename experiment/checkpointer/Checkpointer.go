// Package checkpointer implements saving model parameters to disk as
// training progresses
package checkpointer

import (
	"fmt"
	"os"
)

// Serializable is an object whose parameters can be saved
type Serializable interface {
	SaveWeights() ([]byte, error)
}

// Restorable is an object whose parameters can be restored from a
// checkpoint
type Restorable interface {
	LoadWeights([]byte) error
}

// Checkpointer checkpoints serializable objects based on the number of
// training updates performed
type Checkpointer interface {
	// Checkpoint is called after every training update. It returns
	// the file written, or "" if no checkpoint was due.
	Checkpoint(update int) (string, error)
}

// Restore restores r from the checkpoint file at path
func Restore(r Restorable, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("restore: %v", err)
	}
	if err := r.LoadWeights(data); err != nil {
		return fmt.Errorf("restore: %v", err)
	}
	return nil
}
