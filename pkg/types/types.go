package types

import "time"

// NumClasses is the number of per-category intensity scores recorded for a crop
const NumClasses = 4

// Structure is the operator's verdict on whether a crop contains the structure of interest
type Structure int

const (
	StructureAbsent    Structure = 0 // skipped, no structure
	StructurePresent   Structure = 1 // submitted with class scores
	StructureAmbiguous Structure = 2
)

func (s Structure) String() string {
	switch s {
	case StructureAbsent:
		return "absent"
	case StructurePresent:
		return "present"
	case StructureAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// Scores holds the per-category intensity scores, each in [0,1]
type Scores [NumClasses]float64

// DefaultScores returns the neutral scores presented for a fresh crop
func DefaultScores() Scores {
	return Scores{0.5, 0.5, 0.5, 0.5}
}

// Ambiguous flags the categories the operator could not score
type Ambiguous [NumClasses]bool

// CropDescriptor identifies one presentable tile within one source image.
// The JSON field names match the checkpoint format.
type CropDescriptor struct {
	Image string `json:"image"`
	Y     int    `json:"Y"`
	X     int    `json:"X"`
	Size  int    `json:"size"`
}

// LabelRecord is one line of the patch log
type LabelRecord struct {
	Source       string
	X            int
	Y            int
	Size         int
	Structure    Structure
	Classes      Scores
	Ambiguous    Ambiguous
	LabelingTime time.Duration
}

// NewLabelRecord builds a record for the given crop
func NewLabelRecord(crop CropDescriptor, structure Structure, classes Scores, ambiguous Ambiguous, elapsed time.Duration) LabelRecord {
	return LabelRecord{
		Source:       crop.Image,
		X:            crop.X,
		Y:            crop.Y,
		Size:         crop.Size,
		Structure:    structure,
		Classes:      classes,
		Ambiguous:    ambiguous,
		LabelingTime: elapsed,
	}
}
