package processing

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/patch-annotator/pkg/types"
)

// Processor handles image decoding and patch export
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// LoadImage loads an image from a file path with TIFF and WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	// Fallback: explicit decode
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	img, err := p.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w for %s", err, path)
	}
	return img, nil
}

// DecodeImage decodes an image from byte data with WebP support
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	// Try standard image.Decode first
	reader := bytes.NewReader(data)
	if img, _, err := image.Decode(reader); err == nil {
		return img, nil
	}

	// Try WebP decode
	reader = bytes.NewReader(data)
	if img, err := webp.Decode(reader); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// PatchFilename returns the export name of a labelled crop:
// <source base>_x<X>_y<Y>_s<structure>.<ext>
func PatchFilename(record types.LabelRecord, format string) string {
	base := filepath.Base(record.Source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	ext := strings.ToLower(format)
	if ext == "jpeg" || ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s_x%d_y%d_s%d.%s", base, record.X, record.Y, int(record.Structure), ext)
}

// ExportPatch writes a labelled crop into outDir and returns the written path
func (p *Processor) ExportPatch(img image.Image, record types.LabelRecord, outDir, format string, quality int) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create patch directory: %w", err)
	}
	path := filepath.Join(outDir, PatchFilename(record, format))
	// quality 100 selects lossless WebP
	if err := p.SaveImage(img, path, format, quality, strings.EqualFold(format, "webp") && quality >= 100); err != nil {
		return "", fmt.Errorf("failed to save patch %s: %w", path, err)
	}
	return path, nil
}
