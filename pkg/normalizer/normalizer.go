// Package normalizer turns raw two-channel microscopy images into 8-bit
// RGB buffers suitable for display and cropping.
package normalizer

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/menta2k/patch-annotator/internal/stats"
)

// ErrUnreadableImage is returned when a source image cannot be decoded or
// carries fewer than two channels.
var ErrUnreadableImage = errors.New("unreadable image")

// DecodeFunc decodes the image stored at path
type DecodeFunc func(path string) (image.Image, error)

// Config holds configuration for intensity normalization
type Config struct {
	// Percentile in [0,1] used as the upper bound of each channel
	Percentile float64
	// SwapChannels maps channel 1 to red and channel 0 to green
	SwapChannels bool
}

// DefaultConfig returns the normalization used for annotation
func DefaultConfig() Config {
	return Config{
		Percentile:   0.999,
		SwapChannels: true,
	}
}

// Source is a decoded multi-channel image in floating point.
// Channels[c][y*Width+x] holds channel c of pixel (x, y).
type Source struct {
	Path     string
	Width    int
	Height   int
	Channels [][]float32
}

// Channel returns channel c, or nil if the source has fewer channels
func (s *Source) Channel(c int) []float32 {
	if c < 0 || c >= len(s.Channels) {
		return nil
	}
	return s.Channels[c]
}

// Normalizer loads and normalizes source images
type Normalizer struct {
	config Config
	decode DecodeFunc
}

// New creates a Normalizer with the default configuration
func New(decode DecodeFunc) *Normalizer {
	return NewWithConfig(DefaultConfig(), decode)
}

// NewWithConfig creates a Normalizer with custom configuration
func NewWithConfig(config Config, decode DecodeFunc) *Normalizer {
	if config.Percentile <= 0 || config.Percentile > 1 {
		config.Percentile = DefaultConfig().Percentile
	}
	return &Normalizer{config: config, decode: decode}
}

// Load decodes the image at path into a Source
func (n *Normalizer) Load(path string) (*Source, error) {
	if n.decode == nil {
		return nil, fmt.Errorf("%w: no decoder configured for %s", ErrUnreadableImage, path)
	}
	img, err := n.decode(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableImage, path, err)
	}
	src, err := FromImage(img)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	src.Path = path
	return src, nil
}

// FromImage splits a decoded image into its first two channels (red and
// green). Grayscale images only carry one channel and are rejected.
func FromImage(img image.Image) (*Source, error) {
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return nil, fmt.Errorf("%w: single-channel image", ErrUnreadableImage)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnreadableImage)
	}

	ch0 := make([]float32, width*height)
	ch1 := make([]float32, width*height)

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < height; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < width; x++ {
				ch0[y*width+x] = float32(row[x*4])
				ch1[y*width+x] = float32(row[x*4+1])
			}
		}
	case *image.NRGBA64:
		for y := 0; y < height; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < width; x++ {
				ch0[y*width+x] = float32(uint16(row[x*8])<<8 | uint16(row[x*8+1]))
				ch1[y*width+x] = float32(uint16(row[x*8+2])<<8 | uint16(row[x*8+3]))
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, g, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				ch0[y*width+x] = float32(r)
				ch1[y*width+x] = float32(g)
			}
		}
	}

	return &Source{
		Width:    width,
		Height:   height,
		Channels: [][]float32{ch0, ch1},
	}, nil
}

// Normalize percentile-normalizes the two real channels to 8 bits and
// returns them as an RGB image whose blue channel is always zero.
func (n *Normalizer) Normalize(src *Source) (*image.NRGBA, error) {
	if src == nil || len(src.Channels) < 2 {
		return nil, fmt.Errorf("%w: need two channels", ErrUnreadableImage)
	}
	size := src.Width * src.Height
	if size == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnreadableImage)
	}
	if len(src.Channels[0]) != size || len(src.Channels[1]) != size {
		return nil, fmt.Errorf("%w: channel size does not match %dx%d", ErrUnreadableImage, src.Width, src.Height)
	}

	c0 := n.normalizeChannel(src.Channels[0])
	c1 := n.normalizeChannel(src.Channels[1])

	red, green := c0, c1
	if n.config.SwapChannels {
		red, green = c1, c0
	}

	out := image.NewNRGBA(image.Rect(0, 0, src.Width, src.Height))
	for i := 0; i < size; i++ {
		out.Pix[i*4+0] = red[i]
		out.Pix[i*4+1] = green[i]
		out.Pix[i*4+2] = 0
		out.Pix[i*4+3] = 255
	}
	return out, nil
}

func (n *Normalizer) normalizeChannel(channel []float32) []uint8 {
	values := make([]float64, len(channel))
	for i, v := range channel {
		values[i] = float64(v)
	}
	floats.AddConst(-floats.Min(values), values)

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	upper := stats.Percentile(sorted, n.config.Percentile)

	out := make([]uint8, len(values))
	if upper <= 0 {
		return out
	}
	for i, v := range values {
		v /= upper
		if v > 1 {
			v = 1
		} else if v < 0 {
			v = 0
		}
		out[i] = uint8(v * 255)
	}
	return out
}
