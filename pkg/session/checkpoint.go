// Package session persists annotation progress: a JSON checkpoint of the
// traversal state and the semicolon-delimited patch log of labels.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/menta2k/patch-annotator/pkg/types"
)

var (
	// ErrCheckpointCorrupt is returned when a checkpoint cannot be used to
	// resume. Callers fall back to a fresh session.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")
	// ErrNoCheckpoint is returned by Load when no checkpoint exists
	ErrNoCheckpoint = errors.New("no checkpoint")
)

// Snapshot is the content of the checkpoint file
type Snapshot struct {
	Path       string                 `json:"path"`
	OutputPath string                 `json:"outputpath"`
	FileIdx    int                    `json:"file_idx"`
	Files      []string               `json:"files"`
	CropData   []types.CropDescriptor `json:"crop_data"`
	N          int                    `json:"n"`
	Classes    []types.Scores         `json:"classes"`
	Structures []types.Structure      `json:"structures"`
	Ambiguous  []types.Ambiguous      `json:"ambiguous"`

	LabelingTimes []string `json:"labelling_times,omitempty"`
	PendingAmend  bool     `json:"pending_amend,omitempty"`
}

// History is the label history kept alongside the traversal state
type History struct {
	Classes    []types.Scores
	Structures []types.Structure
	Ambiguous  []types.Ambiguous
	Times      []time.Duration
}

// Len returns the number of committed labels
func (h *History) Len() int {
	return len(h.Structures)
}

// Push appends a committed record
func (h *History) Push(r types.LabelRecord) {
	h.Classes = append(h.Classes, r.Classes)
	h.Structures = append(h.Structures, r.Structure)
	h.Ambiguous = append(h.Ambiguous, r.Ambiguous)
	h.Times = append(h.Times, r.LabelingTime)
}

// Pop removes the most recent entry
func (h *History) Pop() bool {
	n := h.Len()
	if n == 0 {
		return false
	}
	h.Classes = h.Classes[:n-1]
	h.Structures = h.Structures[:n-1]
	h.Ambiguous = h.Ambiguous[:n-1]
	if len(h.Times) == n {
		h.Times = h.Times[:n-1]
	}
	return true
}

// Checkpoint reads and writes the snapshot file
type Checkpoint struct {
	path string
}

// NewCheckpoint returns a checkpoint stored at path
func NewCheckpoint(path string) *Checkpoint {
	return &Checkpoint{path: path}
}

// Path returns the checkpoint file path
func (c *Checkpoint) Path() string {
	return c.path
}

// Exists reports whether a checkpoint file is present
func (c *Checkpoint) Exists() bool {
	info, err := os.Stat(c.path)
	return err == nil && !info.IsDir()
}

// Save overwrites the checkpoint via a temporary file and a rename
func (c *Checkpoint) Save(s *Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// Load reads and validates the checkpoint. It returns ErrNoCheckpoint when
// the file is absent and ErrCheckpointCorrupt when it cannot be resumed.
func (c *Checkpoint) Load() (*Snapshot, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointCorrupt, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Remove deletes the checkpoint. A missing file is not an error.
func (c *Checkpoint) Remove() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}

// Validate checks the structural consistency of a snapshot
func (s *Snapshot) Validate() error {
	switch {
	case s.Path == "" || s.OutputPath == "":
		return fmt.Errorf("%w: missing source or output path", ErrCheckpointCorrupt)
	case len(s.Files) == 0:
		return fmt.Errorf("%w: empty file list", ErrCheckpointCorrupt)
	case s.FileIdx < 0 || s.FileIdx >= len(s.Files):
		return fmt.Errorf("%w: file index %d out of range", ErrCheckpointCorrupt, s.FileIdx)
	case s.N < 0 || s.N > len(s.CropData):
		return fmt.Errorf("%w: crop position %d out of range", ErrCheckpointCorrupt, s.N)
	case len(s.Classes) != len(s.Structures) || len(s.Ambiguous) != len(s.Structures):
		return fmt.Errorf("%w: label history lengths differ", ErrCheckpointCorrupt)
	case len(s.LabelingTimes) != 0 && len(s.LabelingTimes) != len(s.Structures):
		return fmt.Errorf("%w: labelling time history length differs", ErrCheckpointCorrupt)
	}
	for i, st := range s.Structures {
		if st < types.StructureAbsent || st > types.StructureAmbiguous {
			return fmt.Errorf("%w: structure %d at %d", ErrCheckpointCorrupt, st, i)
		}
	}
	if info, err := os.Stat(s.OutputPath); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: output directory %s is missing", ErrCheckpointCorrupt, s.OutputPath)
	}
	if len(s.Structures) > 0 && !fileExists(filepath.Join(s.OutputPath, PatchLogName)) {
		return fmt.Errorf("%w: patch log missing from %s", ErrCheckpointCorrupt, s.OutputPath)
	}
	return nil
}

// History returns the label history stored in the snapshot
func (s *Snapshot) History() (*History, error) {
	h := &History{
		Classes:    append([]types.Scores(nil), s.Classes...),
		Structures: append([]types.Structure(nil), s.Structures...),
		Ambiguous:  append([]types.Ambiguous(nil), s.Ambiguous...),
	}
	for _, t := range s.LabelingTimes {
		d, err := ParseClock(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCheckpointCorrupt, err)
		}
		h.Times = append(h.Times, d)
	}
	return h, nil
}

// SetHistory stores the label history in the snapshot
func (s *Snapshot) SetHistory(h *History) {
	s.Classes = append([]types.Scores{}, h.Classes...)
	s.Structures = append([]types.Structure{}, h.Structures...)
	s.Ambiguous = append([]types.Ambiguous{}, h.Ambiguous...)
	s.LabelingTimes = nil
	if len(h.Times) == len(h.Structures) {
		for _, t := range h.Times {
			s.LabelingTimes = append(s.LabelingTimes, FormatClock(t))
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
