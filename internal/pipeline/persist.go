package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/kravscan/internal/model"
)

// persist writes the pre-dedup candidates and the final result into dir and
// records the final file on res.
func (pl *Pipeline) persist(dir string, b *batch, res *Result) error {
	initial := make([]Candidate, 0, len(b.included)+len(b.uncertain))
	initial = append(initial, b.included...)
	initial = append(initial, b.uncertain...)

	errInitial := writeJSON(filepath.Join(dir, InitialFile), initial)

	final := filepath.Join(dir, FinalFile)
	res.Artifact = final
	errFinal := writeJSON(final, res)
	return errors.Join(errInitial, errFinal)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return model.WriteFileAtomic(path, data, 0o644)
}

// LoadResult reads a persisted requirements file.
func LoadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return &res, nil
}
