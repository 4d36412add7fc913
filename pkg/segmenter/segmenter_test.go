package segmenter

import (
	"testing"
)

// createTestChannel creates a width×height channel with a bright square
// [100,300)² holding a dark hole [190,210)²
func createTestChannel() ([]float32, int, int) {
	const width, height = 400, 400
	channel := make([]float32, width*height)
	for y := 100; y < 300; y++ {
		for x := 100; x < 300; x++ {
			if x >= 190 && x < 210 && y >= 190 && y < 210 {
				continue
			}
			channel[y*width+x] = 1000
		}
	}
	return channel, width, height
}

func TestNew(t *testing.T) {
	s := New()
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.Policy() != PolicyForeground {
		t.Errorf("Expected foreground policy by default, got %s", s.Policy())
	}
	if s.config.EdgeSize != 256 {
		t.Errorf("Expected edge size 256, got %d", s.config.EdgeSize)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    Policy
		wantErr bool
	}{
		{"all", PolicyAll, false},
		{"", PolicyAll, false},
		{"Foreground", PolicyForeground, false},
		{"edges", PolicyEdges, false},
		{"edge", PolicyEdges, false},
		{"random", PolicyAll, true},
	}

	for _, tt := range tests {
		got, err := ParsePolicy(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParsePolicy(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestParseThresholdMethod(t *testing.T) {
	if m, err := ParseThresholdMethod("median"); err != nil || m != ThresholdMedian {
		t.Errorf("Expected median, got %s (%v)", m, err)
	}
	if _, err := ParseThresholdMethod("otsu"); err == nil {
		t.Error("Expected error for unknown threshold method")
	}
}

func TestSegmentSizeMismatch(t *testing.T) {
	s := New()
	if _, err := s.Segment(make([]float32, 10), 4, 4); err == nil {
		t.Error("Expected error for channel size mismatch")
	}
}

func TestSegmentPolicyAll(t *testing.T) {
	channel, width, height := createTestChannel()
	s := NewWithConfig(Config{Policy: PolicyAll})

	mask, err := s.Segment(channel, width, height)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if mask.Count() != width*height {
		t.Errorf("Expected full mask, got %d of %d pixels", mask.Count(), width*height)
	}
}

func TestSegmentForegroundFillsHoles(t *testing.T) {
	channel, width, height := createTestChannel()
	s := New()

	mask, err := s.Segment(channel, width, height)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	foreground := [][2]int{{200, 200}, {150, 150}, {105, 200}, {290, 290}}
	for _, p := range foreground {
		if !mask.At(p[0], p[1]) {
			t.Errorf("Expected (%d, %d) to be foreground", p[0], p[1])
		}
	}
	background := [][2]int{{10, 10}, {350, 200}, {200, 390}}
	for _, p := range background {
		if mask.At(p[0], p[1]) {
			t.Errorf("Expected (%d, %d) to be background", p[0], p[1])
		}
	}
}

func TestSegmentMedianThreshold(t *testing.T) {
	const width, height = 400, 100
	channel := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < 240; x++ {
			channel[y*width+x] = 1000
		}
	}

	s := NewWithConfig(Config{
		Policy:     PolicyForeground,
		Threshold:  ThresholdMedian,
		BlurSigma:  2,
		BlurCutoff: 0.3,
	})
	mask, err := s.Segment(channel, width, height)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if !mask.At(10, 50) {
		t.Error("Expected bright side to be foreground")
	}
	if mask.At(390, 50) {
		t.Error("Expected dark side to be background")
	}
}

func TestSegmentEdgeBand(t *testing.T) {
	channel, width, height := createTestChannel()
	cfg := DefaultConfig()
	cfg.Policy = PolicyEdges
	cfg.EdgeSize = 21
	s := NewWithConfig(cfg)

	mask, err := s.Segment(channel, width, height)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	if mask.At(200, 150) {
		t.Error("Expected square interior to be eroded away")
	}
	if !mask.At(105, 200) {
		t.Error("Expected pixel near the square border to be in the edge band")
	}
	if mask.At(10, 10) {
		t.Error("Expected background to stay background")
	}

	full, _ := New().Segment(channel, width, height)
	for i, v := range mask.Pix {
		if v && !full.Pix[i] {
			t.Fatalf("Edge band pixel %d is not foreground", i)
		}
	}
}

func TestFillHoles(t *testing.T) {
	mask := NewMask(5, 5)
	// ring around (2, 2)
	for _, p := range [][2]int{{1, 1}, {2, 1}, {3, 1}, {1, 2}, {3, 2}, {1, 3}, {2, 3}, {3, 3}} {
		mask.Set(p[0], p[1], true)
	}
	fillHoles(mask)

	if !mask.At(2, 2) {
		t.Error("Expected enclosed pixel to be filled")
	}
	if mask.At(0, 0) {
		t.Error("Expected border background to stay background")
	}
	if mask.Count() != 9 {
		t.Errorf("Expected 9 foreground pixels, got %d", mask.Count())
	}
}

func TestThresholdMatchesNumpy(t *testing.T) {
	median := NewWithConfig(Config{Policy: PolicyForeground, Threshold: ThresholdMedian})
	if got := median.threshold([]float32{30, 0, 20, 10}); got != 15 {
		t.Errorf("Expected median 15, got %v", got)
	}

	mean := New()
	if got := mean.threshold([]float32{0, 10, 20, 30}); got != 11.25 {
		t.Errorf("Expected 0.75×mean 11.25, got %v", got)
	}
}
