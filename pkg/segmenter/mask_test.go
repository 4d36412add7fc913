package segmenter

import "testing"

func TestMaskCountIn(t *testing.T) {
	mask := FullMask(100, 100)

	if got := mask.CountIn(0, 0, 10, 10); got != 100 {
		t.Errorf("Expected 100, got %d", got)
	}
	if got := mask.CountIn(-5, -5, 5, 5); got != 25 {
		t.Errorf("Expected clipped count 25, got %d", got)
	}
	if got := mask.CountIn(120, 0, 130, 10); got != 0 {
		t.Errorf("Expected 0 outside the mask, got %d", got)
	}
}

func TestMaskFractionInOverhang(t *testing.T) {
	mask := FullMask(100, 100)

	if got := mask.FractionIn(0, 0, 40); got != 1 {
		t.Errorf("Expected 1, got %f", got)
	}
	// only a 20×20 corner of the 40×40 window lies inside
	if got := mask.FractionIn(80, 80, 40); got != 0.25 {
		t.Errorf("Expected 0.25, got %f", got)
	}
	if got := mask.FractionIn(0, 0, 0); got != 0 {
		t.Errorf("Expected 0 for empty window, got %f", got)
	}
}

func TestMaskSetInvalidatesSums(t *testing.T) {
	mask := NewMask(10, 10)
	if got := mask.CountIn(0, 0, 10, 10); got != 0 {
		t.Fatalf("Expected empty mask, got %d", got)
	}

	mask.Set(3, 4, true)
	mask.Set(50, 50, true)
	if got := mask.CountIn(0, 0, 10, 10); got != 1 {
		t.Errorf("Expected 1 after Set, got %d", got)
	}
	if !mask.At(3, 4) || mask.At(-1, 0) {
		t.Error("Unexpected At result")
	}
}
