// Package segmenter derives a binary foreground mask from the structural
// channel of a microscopy image. The crop planner uses the mask to skip
// tiles that are mostly background.
package segmenter

import (
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/patch-annotator/internal/stats"
)

// Policy selects which pixels count as foreground when planning crops
type Policy int

const (
	// PolicyAll admits every tile
	PolicyAll Policy = iota
	// PolicyForeground keeps tiles covering the filled foreground
	PolicyForeground
	// PolicyEdges keeps tiles covering the border band of the foreground
	PolicyEdges
)

func (p Policy) String() string {
	switch p {
	case PolicyAll:
		return "all"
	case PolicyForeground:
		return "foreground"
	case PolicyEdges:
		return "edges"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses the config spelling of a policy
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "none", "":
		return PolicyAll, nil
	case "foreground":
		return PolicyForeground, nil
	case "edges", "edge":
		return PolicyEdges, nil
	}
	return PolicyAll, fmt.Errorf("unknown segmentation policy %q", s)
}

// ThresholdMethod selects the statistic that separates background
type ThresholdMethod int

const (
	// ThresholdMean marks pixels below 0.75×mean as background
	ThresholdMean ThresholdMethod = iota
	// ThresholdMedian marks pixels below the median as background
	ThresholdMedian
)

func (t ThresholdMethod) String() string {
	if t == ThresholdMedian {
		return "median"
	}
	return "mean"
}

// ParseThresholdMethod parses the config spelling of a threshold method
func ParseThresholdMethod(s string) (ThresholdMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mean", "":
		return ThresholdMean, nil
	case "median":
		return ThresholdMedian, nil
	}
	return ThresholdMean, fmt.Errorf("unknown threshold method %q", s)
}

// Config holds configuration for foreground segmentation
type Config struct {
	Policy     Policy
	Threshold  ThresholdMethod
	BlurSigma  float64
	BlurCutoff float64
	// EdgeSize is the side of the square structuring element used to
	// erode the foreground under PolicyEdges
	EdgeSize int
}

// DefaultConfig returns the segmentation used for annotation
func DefaultConfig() Config {
	return Config{
		Policy:     PolicyForeground,
		Threshold:  ThresholdMean,
		BlurSigma:  2,
		BlurCutoff: 0.3,
		EdgeSize:   256,
	}
}

// Segmenter computes foreground masks
type Segmenter struct {
	config Config
}

// New creates a Segmenter with the default configuration
func New() *Segmenter {
	return &Segmenter{config: DefaultConfig()}
}

// NewWithConfig creates a Segmenter with custom configuration
func NewWithConfig(config Config) *Segmenter {
	return &Segmenter{config: config}
}

// Policy returns the configured policy
func (s *Segmenter) Policy() Policy {
	return s.config.Policy
}

// Segment returns the foreground mask of a raw channel laid out row-major
// with the given width and height.
func (s *Segmenter) Segment(channel []float32, width, height int) (*Mask, error) {
	if width <= 0 || height <= 0 || len(channel) != width*height {
		return nil, fmt.Errorf("channel size %d does not match %dx%d", len(channel), width, height)
	}
	if s.config.Policy == PolicyAll {
		return FullMask(width, height), nil
	}

	cut := s.threshold(channel)
	rough := image.NewGray(image.Rect(0, 0, width, height))
	for i, v := range channel {
		if float64(v) < cut {
			rough.Pix[i] = 255
		}
	}

	background := rough
	if s.config.BlurSigma > 0 {
		blurred := imaging.Blur(rough, s.config.BlurSigma)
		cutoff := s.config.BlurCutoff * 255
		background = image.NewGray(rough.Bounds())
		for i := range background.Pix {
			if float64(blurred.Pix[i*4]) > cutoff {
				background.Pix[i] = 255
			}
		}
	}

	mask := NewMask(width, height)
	for i := range mask.Pix {
		mask.Pix[i] = background.Pix[i] == 0
	}
	fillHoles(mask)

	if s.config.Policy == PolicyEdges {
		return edgeBand(mask, s.config.EdgeSize), nil
	}
	return mask, nil
}

func (s *Segmenter) threshold(channel []float32) float64 {
	values := make([]float64, len(channel))
	for i, v := range channel {
		values[i] = float64(v)
	}
	if s.config.Threshold == ThresholdMedian {
		sort.Float64s(values)
		return stats.Percentile(values, 0.5)
	}
	return stat.Mean(values, nil) * 0.75
}

// fillHoles turns background regions that do not touch the border into
// foreground (4-connectivity).
func fillHoles(m *Mask) {
	w, h := m.Width, m.Height
	reached := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))

	push := func(x, y int) {
		i := y*w + x
		if m.Pix[i] || reached[i] {
			return
		}
		reached[i] = true
		queue = append(queue, i)
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}

	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}

	for i := range m.Pix {
		if !reached[i] {
			m.Pix[i] = true
		}
	}
	m.sat = nil
}

// edgeBand returns the foreground minus its erosion by a size×size square.
// The structuring element is clipped at the image border.
func edgeBand(m *Mask, size int) *Mask {
	if size <= 1 {
		return NewMask(m.Width, m.Height)
	}
	before := size / 2
	after := size - 1 - before

	out := NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		y0, y1 := max(y-before, 0), min(y+after+1, m.Height)
		for x := 0; x < m.Width; x++ {
			if !m.Pix[y*m.Width+x] {
				continue
			}
			x0, x1 := max(x-before, 0), min(x+after+1, m.Width)
			eroded := m.CountIn(x0, y0, x1, y1) == (x1-x0)*(y1-y0)
			out.Pix[y*m.Width+x] = !eroded
		}
	}
	return out
}
