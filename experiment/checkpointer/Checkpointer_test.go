package checkpointer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// weights saves and restores its bytes
type weights struct {
	data  []byte
	saves int
}

func (w *weights) SaveWeights() ([]byte, error) {
	w.saves++
	return []byte(fmt.Sprintf("%s-%d", w.data, w.saves)), nil
}

func (w *weights) LoadWeights(data []byte) error {
	w.data = append([]byte(nil), data...)
	return nil
}

func TestNStep(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	w := &weights{data: []byte("w")}
	c := NewNStep(2, w, RunEnumerator(dir, "run", ".bin"))

	var written []string
	for update := 1; update <= 5; update++ {
		path, err := c.Checkpoint(update)
		if err != nil {
			t.Fatalf("checkpoint: %v", err)
		}
		if path != "" {
			written = append(written, path)
		}
	}

	want := []string{filepath.Join(dir, "run-1.bin"),
		filepath.Join(dir, "run-2.bin")}
	if len(written) != len(want) {
		t.Fatalf("checkpoints: \n\twant(%v)\n\thave(%v)", want, written)
	}
	for i := range want {
		if written[i] != want[i] {
			t.Errorf("checkpoint %v: \n\twant(%v)\n\thave(%v)", i, want[i],
				written[i])
		}
	}

	data, err := os.ReadFile(written[1])
	if err != nil {
		t.Fatalf("readfile: %v", err)
	}
	if !bytes.Equal(data, []byte("w-2")) {
		t.Errorf("checkpoint contents: \n\twant(w-2)\n\thave(%s)", data)
	}
}

func TestNStepDisabled(t *testing.T) {
	w := &weights{}
	c := NewNStep(0, w, FileTimer(filepath.Join(t.TempDir(), "w"), ".bin"))
	for update := 1; update <= 3; update++ {
		if path, err := c.Checkpoint(update); path != "" || err != nil {
			t.Fatalf("checkpoint: expected no checkpoint, have (%v, %v)",
				path, err)
		}
	}
	if w.saves != 0 {
		t.Errorf("weights should never be saved, saved %v times", w.saves)
	}
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	w := &weights{data: []byte("w")}
	path, err := NewNStep(1, w, RunEnumerator(dir, "r", ".bin")).
		Checkpoint(1)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	restored := &weights{}
	if err := Restore(restored, path); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !bytes.Equal(restored.data, []byte("w-1")) {
		t.Errorf("restored: \n\twant(w-1)\n\thave(%s)", restored.data)
	}

	if err := Restore(restored, filepath.Join(dir, "missing.bin")); err == nil {
		t.Errorf("restore: expected an error for a missing file")
	}
}

func TestFilenameEnumerator(t *testing.T) {
	next := FilenameEnumerator(3, "file", ".gob")
	for _, want := range []string{"file4.gob", "file5.gob"} {
		if have := next(); have != want {
			t.Errorf("filename: \n\twant(%v)\n\thave(%v)", want, have)
		}
	}
}
