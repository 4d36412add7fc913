// Package loader iterates over the crops of a directory of source images.
//
// A Loader holds the traversal state of an annotation session: the ordered
// file list, the shuffled crop plan of the active file and the cursor into
// that plan. Crops are produced one at a time by Advance; Retreat steps back
// to the crop before the one on display, within the active file only.
package loader

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/menta2k/patch-annotator/pkg/cropper"
	"github.com/menta2k/patch-annotator/pkg/normalizer"
	"github.com/menta2k/patch-annotator/pkg/segmenter"
	"github.com/menta2k/patch-annotator/pkg/types"
)

var (
	// ErrEndOfStream is returned by Advance once every file is exhausted
	ErrEndOfStream = errors.New("end of stream")
	// ErrNoPrevious is returned by Retreat when there is no earlier crop in
	// the active file
	ErrNoPrevious = errors.New("no previous crop")
)

// State is the cursor state
type State int

const (
	StateActive State = iota
	StateExhaustedImage
	StateExhaustedAll
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExhaustedImage:
		return "exhausted-image"
	case StateExhaustedAll:
		return "exhausted-all"
	default:
		return "unknown"
	}
}

// Components are the per-image processing steps used by a Loader
type Components struct {
	Normalizer *normalizer.Normalizer
	Segmenter  *segmenter.Segmenter
	Planner    *cropper.Planner
}

// Position is the persistable part of a Loader
type Position struct {
	Root    string
	Files   []string
	FileIdx int
	Plan    []types.CropDescriptor
	N       int
}

// Loader is the crop cursor. It is not safe for concurrent use.
type Loader struct {
	comps     Components
	totalSize int
	log       zerolog.Logger

	root    string
	files   []string
	fileIdx int
	plan    []types.CropDescriptor
	n       int
	done    bool

	image *image.NRGBA
}

// Option configures a Loader
type Option func(*Loader)

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(l *Loader) {
		l.log = log
	}
}

func newLoader(comps Components, opts []Option) *Loader {
	l := &Loader{
		comps:     comps,
		totalSize: comps.Planner.Config().TotalSize,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// New starts a fresh traversal of files (names relative to root) and plans
// the first file.
func New(root string, files []string, comps Components, opts ...Option) (*Loader, error) {
	l := newLoader(comps, opts)
	l.root = root
	l.files = append([]string(nil), files...)

	if len(l.files) == 0 {
		l.done = true
		return l, nil
	}
	if err := l.planFile(0); err != nil {
		return nil, err
	}
	return l, nil
}

// Restore rebuilds a Loader pinned to a saved position. The crop plan is
// taken as is; only the active image is reloaded and normalized.
func Restore(pos Position, comps Components, opts ...Option) (*Loader, error) {
	l := newLoader(comps, opts)
	l.root = pos.Root
	l.files = append([]string(nil), pos.Files...)
	l.fileIdx = pos.FileIdx
	l.plan = append([]types.CropDescriptor(nil), pos.Plan...)
	l.n = pos.N

	if l.fileIdx < 0 || l.n < 0 || l.n > len(l.plan) {
		return nil, fmt.Errorf("position out of range: file %d, crop %d of %d", l.fileIdx, l.n, len(l.plan))
	}
	if l.fileIdx >= len(l.files) {
		l.done = true
		return l, nil
	}

	img, err := l.normalize(l.path(l.fileIdx))
	if err != nil {
		return nil, err
	}
	l.image = img
	l.log.Info().Str("file", l.files[l.fileIdx]).Int("crop", l.n).Int("crops", len(l.plan)).Msg("restored position")
	return l, nil
}

// Advance returns the next crop and its descriptor, moving on to the next
// file when the active one is exhausted. After the last file it returns
// ErrEndOfStream, and keeps doing so.
func (l *Loader) Advance() (*image.NRGBA, types.CropDescriptor, error) {
	if l.done {
		return nil, types.CropDescriptor{}, ErrEndOfStream
	}

	for l.n >= len(l.plan) {
		next := l.fileIdx + 1
		if next >= len(l.files) {
			l.fileIdx = len(l.files)
			l.done = true
			l.plan = nil
			l.n = 0
			l.image = nil
			l.log.Info().Msg("all files exhausted")
			return nil, types.CropDescriptor{}, ErrEndOfStream
		}
		if err := l.planFile(next); err != nil {
			return nil, types.CropDescriptor{}, err
		}
	}

	crop := l.plan[l.n]
	out := cropper.Extract(l.image, crop, l.totalSize)
	l.n++
	return out, crop, nil
}

// Retreat shows the crop before the one on display and rewinds the cursor
// by one, so the following Advance reproduces the crop that was on display.
// It never crosses into the previous file.
func (l *Loader) Retreat() (*image.NRGBA, types.CropDescriptor, error) {
	if l.done || l.n < 2 {
		return nil, types.CropDescriptor{}, ErrNoPrevious
	}
	l.n--
	crop := l.plan[l.n-1]
	return cropper.Extract(l.image, crop, l.totalSize), crop, nil
}

// CanRetreat reports whether Retreat would succeed
func (l *Loader) CanRetreat() bool {
	return !l.done && l.n >= 2
}

// Current returns the descriptor of the crop on display
func (l *Loader) Current() (types.CropDescriptor, bool) {
	if l.done || l.n < 1 || l.n > len(l.plan) {
		return types.CropDescriptor{}, false
	}
	return l.plan[l.n-1], true
}

// State returns the cursor state
func (l *Loader) State() State {
	switch {
	case l.done:
		return StateExhaustedAll
	case l.n >= len(l.plan):
		return StateExhaustedImage
	default:
		return StateActive
	}
}

// Position returns a copy of the traversal state
func (l *Loader) Position() Position {
	return Position{
		Root:    l.root,
		Files:   append([]string(nil), l.files...),
		FileIdx: l.fileIdx,
		Plan:    append([]types.CropDescriptor(nil), l.plan...),
		N:       l.n,
	}
}

// Remaining returns the number of crops left in the active file
func (l *Loader) Remaining() int {
	return len(l.plan) - l.n
}

func (l *Loader) path(idx int) string {
	return filepath.Join(l.root, l.files[idx])
}

func (l *Loader) normalize(path string) (*image.NRGBA, error) {
	src, err := l.comps.Normalizer.Load(path)
	if err != nil {
		return nil, err
	}
	return l.comps.Normalizer.Normalize(src)
}

// planFile makes idx the active file: normalize, segment, plan
func (l *Loader) planFile(idx int) error {
	path := l.path(idx)
	src, err := l.comps.Normalizer.Load(path)
	if err != nil {
		return err
	}
	img, err := l.comps.Normalizer.Normalize(src)
	if err != nil {
		return err
	}

	var mask *segmenter.Mask
	if l.comps.Segmenter != nil && l.comps.Segmenter.Policy() != segmenter.PolicyAll {
		mask, err = l.comps.Segmenter.Segment(src.Channel(1), src.Width, src.Height)
		if err != nil {
			return fmt.Errorf("failed to segment %s: %w", path, err)
		}
	}

	l.fileIdx = idx
	l.image = img
	l.plan = l.comps.Planner.Plan(path, src.Width, src.Height, mask)
	l.n = 0

	l.log.Info().
		Str("file", l.files[idx]).
		Int("index", idx).
		Int("width", src.Width).
		Int("height", src.Height).
		Int("crops", len(l.plan)).
		Msg("planned file")
	return nil
}
