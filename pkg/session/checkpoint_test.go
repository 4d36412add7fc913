package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/menta2k/patch-annotator/pkg/types"
)

func createTestSnapshot(outputDir string) *Snapshot {
	s := &Snapshot{
		Path:       "/data",
		OutputPath: outputDir,
		FileIdx:    1,
		Files:      []string{"a.tif", "b.tif"},
		CropData: []types.CropDescriptor{
			{Image: "/data/b.tif", X: 0, Y: 48, Size: 64},
			{Image: "/data/b.tif", X: 96, Y: 0, Size: 64},
		},
		N: 1,
	}
	h := &History{}
	h.Push(createTestRecord(0, types.StructurePresent))
	h.Push(createTestRecord(48, types.StructureAbsent))
	s.SetHistory(h)
	return s
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	NewPatchLog(dir, SchemaV2).Append(createTestRecord(0, types.StructurePresent))

	cp := NewCheckpoint(filepath.Join(dir, "history.json"))
	snap := createTestSnapshot(dir)
	snap.PendingAmend = true
	if err := cp.Save(snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !cp.Exists() {
		t.Fatal("Expected checkpoint to exist")
	}

	loaded, err := cp.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.FileIdx != 1 || loaded.N != 1 || len(loaded.CropData) != 2 {
		t.Errorf("Unexpected position %+v", loaded)
	}
	if loaded.CropData[1] != snap.CropData[1] {
		t.Errorf("Expected crop %+v, got %+v", snap.CropData[1], loaded.CropData[1])
	}
	if !loaded.PendingAmend {
		t.Error("Expected pending amend to survive")
	}

	h, err := loaded.History()
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if h.Len() != 2 || h.Structures[1] != types.StructureAbsent {
		t.Errorf("Unexpected history %+v", h)
	}
	if h.Classes[0] != (types.Scores{0.5, 0.25, 1, 0}) || !h.Ambiguous[0][1] {
		t.Errorf("Unexpected scores %+v", h.Classes[0])
	}
	if h.Times[0] != 65*time.Second {
		t.Errorf("Expected 65s, got %v", h.Times[0])
	}
}

func TestCheckpointFieldNames(t *testing.T) {
	dir := t.TempDir()
	cp := NewCheckpoint(filepath.Join(dir, "history.json"))
	snap := createTestSnapshot(dir)
	snap.SetHistory(&History{})
	if err := cp.Save(snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(cp.Path())
	if err != nil {
		t.Fatalf("Failed to read checkpoint: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Checkpoint is not a JSON object: %v", err)
	}
	for _, key := range []string{"path", "outputpath", "file_idx", "files", "crop_data", "n", "classes", "structures", "ambiguous"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("Expected key %q in checkpoint", key)
		}
	}

	var crops []map[string]any
	json.Unmarshal(raw["crop_data"], &crops)
	for _, key := range []string{"image", "X", "Y", "size"} {
		if _, ok := crops[0][key]; !ok {
			t.Errorf("Expected crop key %q", key)
		}
	}
}

func TestCheckpointMissing(t *testing.T) {
	cp := NewCheckpoint(filepath.Join(t.TempDir(), "history.json"))
	if _, err := cp.Load(); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("Expected ErrNoCheckpoint, got %v", err)
	}
	if err := cp.Remove(); err != nil {
		t.Errorf("Expected Remove of a missing checkpoint to succeed, got %v", err)
	}
}

func TestCheckpointCorrupt(t *testing.T) {
	dir := t.TempDir()
	NewPatchLog(dir, SchemaV2).Append(createTestRecord(0, types.StructurePresent))

	tests := []struct {
		name   string
		modify func(s *Snapshot)
	}{
		{"file index out of range", func(s *Snapshot) { s.FileIdx = 2 }},
		{"negative cursor", func(s *Snapshot) { s.N = -1 }},
		{"cursor beyond plan", func(s *Snapshot) { s.N = 3 }},
		{"history lengths differ", func(s *Snapshot) { s.Classes = s.Classes[:1] }},
		{"invalid structure", func(s *Snapshot) { s.Structures[0] = 7 }},
		{"empty file list", func(s *Snapshot) { s.Files = nil }},
		{"missing patch log", func(s *Snapshot) {
			s.OutputPath = filepath.Join(dir, "elsewhere")
			os.MkdirAll(s.OutputPath, 0o755)
		}},
		{"bad labelling time", func(s *Snapshot) { s.LabelingTimes[0] = "soon" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := NewCheckpoint(filepath.Join(dir, "history.json"))
			snap := createTestSnapshot(dir)
			tt.modify(snap)
			if err := cp.Save(snap); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			loaded, err := cp.Load()
			if err == nil {
				_, err = loaded.History()
			}
			if !errors.Is(err, ErrCheckpointCorrupt) {
				t.Errorf("Expected ErrCheckpointCorrupt, got %v", err)
			}
		})
	}
}

func TestCheckpointMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := NewCheckpoint(path).Load(); !errors.Is(err, ErrCheckpointCorrupt) {
		t.Errorf("Expected ErrCheckpointCorrupt, got %v", err)
	}
}

func TestCheckpointWithoutHistoryNeedsNoLog(t *testing.T) {
	dir := t.TempDir()
	cp := NewCheckpoint(filepath.Join(dir, "history.json"))
	snap := createTestSnapshot(dir)
	snap.SetHistory(&History{})
	cp.Save(snap)

	if _, err := cp.Load(); err != nil {
		t.Errorf("Expected empty history to load without a patch log, got %v", err)
	}

	if err := cp.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if cp.Exists() {
		t.Error("Expected checkpoint to be removed")
	}
}

func TestCheckpointNeedsOutputDir(t *testing.T) {
	dir := t.TempDir()
	cp := NewCheckpoint(filepath.Join(dir, "history.json"))

	snap := createTestSnapshot(filepath.Join(dir, "gone"))
	snap.SetHistory(&History{})
	cp.Save(snap)
	if _, err := cp.Load(); !errors.Is(err, ErrCheckpointCorrupt) {
		t.Errorf("Expected ErrCheckpointCorrupt for a missing output directory, got %v", err)
	}

	file := filepath.Join(dir, "labels")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	snap.OutputPath = file
	cp.Save(snap)
	if _, err := cp.Load(); !errors.Is(err, ErrCheckpointCorrupt) {
		t.Errorf("Expected ErrCheckpointCorrupt when the output path is a file, got %v", err)
	}
}

func TestHistoryPop(t *testing.T) {
	h := &History{}
	if h.Pop() {
		t.Error("Expected Pop on empty history to fail")
	}
	h.Push(createTestRecord(0, types.StructurePresent))
	h.Push(createTestRecord(48, types.StructureAbsent))
	if !h.Pop() || h.Len() != 1 || len(h.Times) != 1 {
		t.Errorf("Expected one entry after Pop, got %+v", h)
	}
	if h.Structures[0] != types.StructurePresent {
		t.Error("Expected the most recent entry to be removed")
	}
}
