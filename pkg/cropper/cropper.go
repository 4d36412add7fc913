// Package cropper plans the tile grid over an image and cuts padded crops
// for annotation.
package cropper

import (
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"

	"github.com/menta2k/patch-annotator/pkg/segmenter"
	"github.com/menta2k/patch-annotator/pkg/types"
)

// Planner tiles images into overlapping crops
type Planner struct {
	config CropConfig
	rng    *rand.Rand
}

// CropConfig holds configuration for crop planning
type CropConfig struct {
	TileSize int
	Step     int
	// TotalSize is the side of the canvas a crop is presented in; the
	// tile sits in its center surrounded by context
	TotalSize             int
	MinForegroundFraction float64
}

// DefaultConfig returns the tiling used for annotation: 64px tiles on a
// 48px grid, shown with context in a 128px canvas
func DefaultConfig() CropConfig {
	return CropConfig{
		TileSize:              64,
		Step:                  48,
		TotalSize:             128,
		MinForegroundFraction: 0.25,
	}
}

// Validate checks the tiling geometry
func (c CropConfig) Validate() error {
	if c.TileSize < 1 {
		return fmt.Errorf("tile size must be positive")
	}
	if c.Step < 1 {
		return fmt.Errorf("step must be positive")
	}
	if c.TotalSize < c.TileSize {
		return fmt.Errorf("total size %d is smaller than tile size %d", c.TotalSize, c.TileSize)
	}
	if c.MinForegroundFraction < 0 || c.MinForegroundFraction > 1 {
		return fmt.Errorf("min foreground fraction must be between 0 and 1")
	}
	return nil
}

// New creates a new Planner with default configuration
func New() *Planner {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new Planner with custom configuration
func NewWithConfig(config CropConfig) *Planner {
	return &Planner{
		config: config,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// SetRand replaces the source used to shuffle plans
func (p *Planner) SetRand(rng *rand.Rand) {
	p.rng = rng
}

// Config returns the planner configuration
func (p *Planner) Config() CropConfig {
	return p.config
}

// Candidates walks the tiling grid over a width×height image and returns,
// in grid order, every tile whose foreground fraction reaches the configured
// minimum. A nil mask admits every tile.
func (p *Planner) Candidates(path string, width, height int, mask *segmenter.Mask) []types.CropDescriptor {
	var crops []types.CropDescriptor
	for y := 0; y < height; y += p.config.Step {
		for x := 0; x < width; x += p.config.Step {
			if mask != nil && mask.FractionIn(x, y, p.config.TileSize) < p.config.MinForegroundFraction {
				continue
			}
			crops = append(crops, types.CropDescriptor{
				Image: path,
				Y:     y,
				X:     x,
				Size:  p.config.TileSize,
			})
		}
	}
	return crops
}

// Plan returns the admitted tiles in random presentation order
func (p *Planner) Plan(path string, width, height int, mask *segmenter.Mask) []types.CropDescriptor {
	crops := p.Candidates(path, width, height, mask)
	p.rng.Shuffle(len(crops), func(i, j int) {
		crops[i], crops[j] = crops[j], crops[i]
	})
	return crops
}

// Extract cuts the crop out of img with (totalSize-tileSize)/2 pixels of
// context on each side. Pixels outside img are black; the result is always
// totalSize×totalSize.
func Extract(img *image.NRGBA, crop types.CropDescriptor, totalSize int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, totalSize, totalSize))
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 255
	}

	pad := (totalSize - crop.Size) / 2
	region := image.Rect(crop.X-pad, crop.Y-pad, crop.X-pad+totalSize, crop.Y-pad+totalSize)
	visible := region.Intersect(img.Bounds())
	if visible.Empty() {
		return out
	}

	for y := visible.Min.Y; y < visible.Max.Y; y++ {
		src := img.PixOffset(visible.Min.X, y)
		dst := out.PixOffset(visible.Min.X-region.Min.X, y-region.Min.Y)
		copy(out.Pix[dst:dst+visible.Dx()*4], img.Pix[src:src+visible.Dx()*4])
	}
	return out
}

// FrameOverlay returns a copy of crop with a white square marking the tile
// inside its context.
func FrameOverlay(crop *image.NRGBA, tileSize, totalSize int) *image.NRGBA {
	out := image.NewNRGBA(crop.Bounds())
	copy(out.Pix, crop.Pix)

	white := color.NRGBA{255, 255, 255, 255}
	x0 := (totalSize - tileSize) / 2
	x1 := x0 + tileSize
	drawHLine(out, x0-1, x0-1, x1+1, white)
	drawHLine(out, x1, x0-1, x1+1, white)
	drawVLine(out, x0-1, x0-1, x1+1, white)
	drawVLine(out, x1, x0-1, x1+1, white)
	return out
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
