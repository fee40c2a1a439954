package checkpointer

import (
	"fmt"
	"os"
	"path/filepath"
)

// nStep implements checkpointing every N updates
type nStep struct {
	interval int
	object   Serializable

	// filename returns the name of the file to save the object in.
	//
	// If each checkpoint should be saved in a separate file with each
	// file having an incremented number as a suffix (e.g. file1.bin,
	// file2.bin, ..., fileK.bin), then use FilenameEnumerator or
	// RunEnumerator.
	//
	// Otherwise, if the filename does not matter, use FileTimer to
	// generate the required naming function. For example:
	//
	// n := NewNStep(10, object, FileTimer("filename", ".bin"))
	filename func() string
}

// NewNStep returns a checkpointer that checkpoints every n updates. If
// n is 0, no checkpoints are written.
func NewNStep(n int, object Serializable,
	filename func() string) Checkpointer {
	return &nStep{
		interval: n,
		object:   object,
		filename: filename,
	}
}

// Checkpoint saves the tracked object if update is a multiple of the
// interval
func (n *nStep) Checkpoint(update int) (string, error) {
	if n.interval <= 0 || update%n.interval != 0 {
		return "", nil
	}

	data, err := n.object.SaveWeights()
	if err != nil {
		return "", fmt.Errorf("checkpoint: %v", err)
	}

	path := n.filename()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("checkpoint: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("checkpoint: %v", err)
	}
	return path, nil
}
