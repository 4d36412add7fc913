package main

import (
	"testing"

	"github.com/menta2k/patch-annotator/pkg/types"
)

func TestParseLabel(t *testing.T) {
	scores, amb, err := parseLabel([]string{"0.1", "1", "?2,4"}, types.DefaultScores(), types.Ambiguous{})
	if err != nil {
		t.Fatalf("parseLabel failed: %v", err)
	}
	if scores != (types.Scores{0.1, 1, 0.5, 0.5}) {
		t.Errorf("Unexpected scores %v", scores)
	}
	if amb != (types.Ambiguous{false, true, false, true}) {
		t.Errorf("Unexpected ambiguous flags %v", amb)
	}
}

func TestParseLabelInvalid(t *testing.T) {
	tests := [][]string{
		{"1.5"},
		{"abc"},
		{"?5"},
		{"0", "0", "0", "0", "0"},
	}
	for _, args := range tests {
		if _, _, err := parseLabel(args, types.DefaultScores(), types.Ambiguous{}); err == nil {
			t.Errorf("Expected error for %v", args)
		}
	}
}
