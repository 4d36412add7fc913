// Package patchannotator drives manual annotation of microscopy images.
//
// Large two-channel images are tiled into overlapping crops which are shown
// to an operator one at a time. Every verdict is appended to a
// semicolon-delimited patch log in the output directory, and the traversal
// state is checkpointed after each action so that a session can be closed
// and resumed later.
//
// Basic usage:
//
//	cfg := config.Default()
//	cfg.Paths.SourceDir = "images"
//	cfg.Paths.OutputDir = "labels"
//
//	a, err := patchannotator.Start(cfg, patchannotator.StartOptions{Resume: true})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer a.Close()
//
//	for !a.Done() {
//		crop, desc, _ := a.Current()
//		// show crop, collect scores ...
//		if err := a.Submit(types.DefaultScores(), types.Ambiguous{}); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package consists of these components:
//
// 1. Normalizer (pkg/normalizer): decodes images and maps both channels to 8 bits
// 2. Segmenter (pkg/segmenter): finds the foreground used to filter tiles
// 3. Cropper (pkg/cropper): plans the tile grid and cuts padded crops
// 4. Loader (pkg/loader): the forward/backward crop cursor
// 5. Session (pkg/session): checkpoint, patch log and labelling stopwatch
package patchannotator

import (
	"errors"
	"fmt"
	"image"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/menta2k/patch-annotator/internal/config"
	"github.com/menta2k/patch-annotator/internal/logger"
	"github.com/menta2k/patch-annotator/internal/utils"
	"github.com/menta2k/patch-annotator/pkg/cropper"
	"github.com/menta2k/patch-annotator/pkg/loader"
	"github.com/menta2k/patch-annotator/pkg/normalizer"
	"github.com/menta2k/patch-annotator/pkg/processing"
	"github.com/menta2k/patch-annotator/pkg/segmenter"
	"github.com/menta2k/patch-annotator/pkg/session"
	"github.com/menta2k/patch-annotator/pkg/types"
)

// Version of the annotator
const Version = "1.0.0"

var (
	// ErrNoPrevious is returned by GoBack when there is nothing to undo
	ErrNoPrevious = loader.ErrNoPrevious
	// ErrImageBoundary is returned by GoBack when the last label belongs to
	// the previous image; undo never crosses images
	ErrImageBoundary = fmt.Errorf("%w: the crop on display is the first of its image", loader.ErrNoPrevious)
	// ErrFinished is returned by label actions once every crop is labelled
	ErrFinished = errors.New("all crops labelled")
)

// Options holds collaborators that tests and front-ends may replace
type Options struct {
	Logger zerolog.Logger
	Now    func() time.Time
	Rand   *rand.Rand
	Decode normalizer.DecodeFunc
}

// Option configures an Annotator
type Option func(*Options)

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(o *Options) { o.Logger = log }
}

// WithClock sets the clock used to time labelling
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// WithRand sets the random source used to shuffle crop plans
func WithRand(rng *rand.Rand) Option {
	return func(o *Options) { o.Rand = rng }
}

// WithDecoder replaces the image decoder
func WithDecoder(decode normalizer.DecodeFunc) Option {
	return func(o *Options) { o.Decode = decode }
}

// StartOptions carries the operator's answers to the start-up questions
type StartOptions struct {
	// Resume continues from the checkpoint if one exists
	Resume bool
	// AppendLog keeps writing into an existing patch log of a fresh
	// session; otherwise the old log is renamed first
	AppendLog bool
}

// Annotator is one annotation session. It owns the crop cursor and all
// session files; it is not safe for concurrent use.
type Annotator struct {
	cfg       *config.Config
	opts      Options
	log       zerolog.Logger
	sessionID string

	sourceDir string
	outputDir string

	loader     *loader.Loader
	checkpoint *session.Checkpoint
	patchLog   *session.PatchLog
	history    *session.History
	stopwatch  *session.Stopwatch
	processor  *processing.Processor

	crop    *image.NRGBA
	current types.CropDescriptor
	done    bool

	// bounded undo: one committed record may be taken back
	canUndo      bool
	pendingAmend bool
	prefill      types.Scores
	prefillAmb   types.Ambiguous
	lastExport   string
}

// Start opens a session: it resumes from the checkpoint when asked to and
// the checkpoint is usable, otherwise it starts fresh over cfg.Paths.
func Start(cfg *config.Config, start StartOptions, opts ...Option) (*Annotator, error) {
	if start.Resume {
		a, err := Restore(cfg, opts...)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, session.ErrNoCheckpoint) && !errors.Is(err, session.ErrCheckpointCorrupt) {
			return nil, err
		}
		o := buildOptions(opts)
		o.Logger.Warn().Err(err).Msg("cannot resume, starting a fresh session")
	}

	if cfg.Paths.SourceDir == "" || cfg.Paths.OutputDir == "" {
		return nil, fmt.Errorf("source and output directories are required")
	}
	if !start.AppendLog {
		schema, err := session.ParseSchema(cfg.Session.LogSchema)
		if err != nil {
			return nil, err
		}
		patchLog := session.NewPatchLog(cfg.Paths.OutputDir, schema)
		if rotated, err := patchLog.Rotate(time.Now()); err != nil {
			return nil, err
		} else if rotated != "" {
			o := buildOptions(opts)
			o.Logger.Info().Str("renamed", rotated).Msg("rotated existing patch log")
		}
	}
	return New(cfg, opts...)
}

// New starts a fresh session over every image in cfg.Paths.SourceDir
func New(cfg *config.Config, opts ...Option) (*Annotator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Paths.SourceDir == "" || cfg.Paths.OutputDir == "" {
		return nil, fmt.Errorf("source and output directories are required")
	}
	files, err := utils.ListImageFiles(cfg.Paths.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list source directory: %w", err)
	}
	if err := utils.EnsureDir(cfg.Paths.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	a, err := newAnnotator(cfg, cfg.Paths.SourceDir, cfg.Paths.OutputDir, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	comps, err := a.components()
	if err != nil {
		return nil, err
	}
	a.loader, err = loader.New(a.sourceDir, files, comps, loader.WithLogger(logger.Component(a.log, "loader")))
	if err != nil {
		return nil, err
	}
	a.history = &session.History{}

	a.log.Info().Str("source", a.sourceDir).Str("output", a.outputDir).Int("files", len(files)).Msg("started fresh session")
	if err := a.advance(); err != nil {
		return nil, err
	}
	return a, nil
}

// Restore resumes the session stored in the checkpoint. The paths come from
// the checkpoint, the geometry from cfg. It returns session.ErrNoCheckpoint
// or session.ErrCheckpointCorrupt when there is nothing usable to resume.
func Restore(cfg *config.Config, opts ...Option) (*Annotator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	snap, err := session.NewCheckpoint(cfg.Session.CheckpointPath).Load()
	if err != nil {
		return nil, err
	}
	history, err := snap.History()
	if err != nil {
		return nil, err
	}
	if !utils.FileExists(filepath.Join(snap.Path, snap.Files[snap.FileIdx])) {
		return nil, fmt.Errorf("%w: source image %s is missing", session.ErrCheckpointCorrupt, snap.Files[snap.FileIdx])
	}

	a, err := newAnnotator(cfg, snap.Path, snap.OutputPath, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	comps, err := a.components()
	if err != nil {
		return nil, err
	}
	a.loader, err = loader.Restore(loader.Position{
		Root:    snap.Path,
		Files:   snap.Files,
		FileIdx: snap.FileIdx,
		Plan:    snap.CropData,
		N:       snap.N,
	}, comps, loader.WithLogger(logger.Component(a.log, "loader")))
	if err != nil {
		return nil, err
	}
	a.history = history
	a.pendingAmend = snap.PendingAmend
	a.canUndo = history.Len() > 0 && !snap.PendingAmend

	a.log.Info().
		Str("source", a.sourceDir).
		Int("file", snap.FileIdx).
		Int("crop", snap.N).
		Int("labels", history.Len()).
		Msg("resumed session")
	if err := a.advance(); err != nil {
		return nil, err
	}
	return a, nil
}

func buildOptions(opts []Option) Options {
	o := Options{
		Logger: zerolog.Nop(),
		Now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Decode == nil {
		o.Decode = processing.NewProcessor().LoadImage
	}
	return o
}

func newAnnotator(cfg *config.Config, sourceDir, outputDir string, o Options) (*Annotator, error) {
	schema, err := session.ParseSchema(cfg.Session.LogSchema)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	return &Annotator{
		cfg:        cfg,
		opts:       o,
		log:        o.Logger.With().Str("session", id).Logger(),
		sessionID:  id,
		sourceDir:  sourceDir,
		outputDir:  outputDir,
		checkpoint: session.NewCheckpoint(cfg.Session.CheckpointPath),
		patchLog:   session.NewPatchLog(outputDir, schema),
		stopwatch:  session.NewStopwatch(o.Now),
		processor:  processing.NewProcessor(),
		prefill:    types.DefaultScores(),
	}, nil
}

// components builds the per-image pipeline from the configuration
func (a *Annotator) components() (loader.Components, error) {
	policy, err := segmenter.ParsePolicy(a.cfg.Segmentation.Policy)
	if err != nil {
		return loader.Components{}, err
	}
	threshold, err := segmenter.ParseThresholdMethod(a.cfg.Segmentation.Threshold)
	if err != nil {
		return loader.Components{}, err
	}

	planner := cropper.NewWithConfig(cropper.CropConfig{
		TileSize:              a.cfg.Crop.TileSize,
		Step:                  a.cfg.Crop.Step,
		TotalSize:             a.cfg.Crop.TotalSize,
		MinForegroundFraction: a.cfg.Crop.MinForegroundFraction,
	})
	if a.opts.Rand != nil {
		planner.SetRand(a.opts.Rand)
	}

	return loader.Components{
		Normalizer: normalizer.NewWithConfig(normalizer.Config{
			Percentile:   a.cfg.Normalize.Percentile,
			SwapChannels: a.cfg.Normalize.SwapChannels,
		}, a.opts.Decode),
		Segmenter: segmenter.NewWithConfig(segmenter.Config{
			Policy:     policy,
			Threshold:  threshold,
			BlurSigma:  a.cfg.Segmentation.BlurSigma,
			BlurCutoff: a.cfg.Segmentation.BlurCutoff,
			EdgeSize:   a.cfg.Segmentation.EdgeSize,
		}),
		Planner: planner,
	}, nil
}

// Current returns the crop on display and its descriptor
func (a *Annotator) Current() (*image.NRGBA, types.CropDescriptor, bool) {
	if a.done || a.crop == nil {
		return nil, types.CropDescriptor{}, false
	}
	return a.crop, a.current, true
}

// Framed returns the crop on display with the tile outlined
func (a *Annotator) Framed() *image.NRGBA {
	if a.done || a.crop == nil {
		return nil
	}
	return cropper.FrameOverlay(a.crop, a.current.Size, a.cfg.Crop.TotalSize)
}

// Prefill returns the scores to preset for the crop on display: the
// defaults, or the values of a label that was just taken back
func (a *Annotator) Prefill() (types.Scores, types.Ambiguous) {
	return a.prefill, a.prefillAmb
}

// Done reports whether every crop of every image has been presented
func (a *Annotator) Done() bool {
	return a.done
}

// Labelled returns the number of labels committed in this session
func (a *Annotator) Labelled() int {
	return a.history.Len()
}

// SessionID identifies this run in the logs
func (a *Annotator) SessionID() string {
	return a.sessionID
}

// OutputDir returns the directory holding the patch log
func (a *Annotator) OutputDir() string {
	return a.outputDir
}

// Elapsed returns the labelling time of the crop on display
func (a *Annotator) Elapsed() time.Duration {
	return a.stopwatch.Elapsed()
}

// Submit records that the crop shows the structure, with class scores
func (a *Annotator) Submit(scores types.Scores, ambiguous types.Ambiguous) error {
	return a.commit(types.StructurePresent, scores, ambiguous)
}

// Skip records that the crop shows no structure
func (a *Annotator) Skip(scores types.Scores, ambiguous types.Ambiguous) error {
	return a.commit(types.StructureAbsent, scores, ambiguous)
}

// MarkAmbiguous records that the operator cannot decide
func (a *Annotator) MarkAmbiguous(scores types.Scores, ambiguous types.Ambiguous) error {
	return a.commit(types.StructureAmbiguous, scores, ambiguous)
}

func (a *Annotator) commit(structure types.Structure, scores types.Scores, ambiguous types.Ambiguous) error {
	if a.done {
		return ErrFinished
	}
	for i, v := range scores {
		if v < 0 || v > 1 {
			return fmt.Errorf("class %d score %.2f is outside [0, 1]", i+1, v)
		}
	}

	record := types.NewLabelRecord(a.current, structure, scores, ambiguous, a.stopwatch.Elapsed())

	// export first so that a failed export leaves log and checkpoint in step
	exported, err := a.export(record)
	if err != nil {
		return err
	}

	if a.pendingAmend {
		err = a.patchLog.AmendLast(record)
	} else {
		err = a.patchLog.Append(record)
	}
	if err != nil {
		a.removeExport(exported)
		return err
	}
	a.lastExport = exported

	a.history.Push(record)
	a.canUndo = true
	a.pendingAmend = false

	a.log.Debug().
		Str("image", record.Source).
		Int("x", record.X).
		Int("y", record.Y).
		Stringer("structure", record.Structure).
		Dur("elapsed", record.LabelingTime).
		Msg("label committed")

	if err := a.snapshot(false); err != nil {
		return err
	}
	return a.advance()
}

// GoBack takes back the most recent label and shows its crop again. Only one
// label can be taken back, and never across an image boundary.
func (a *Annotator) GoBack() error {
	if a.done || !a.canUndo || a.history.Len() == 0 {
		return ErrNoPrevious
	}
	if !a.loader.CanRetreat() {
		return ErrImageBoundary
	}

	crop, desc, err := a.loader.Retreat()
	if err != nil {
		return err
	}

	last := a.history.Len() - 1
	a.prefill = a.history.Classes[last]
	a.prefillAmb = a.history.Ambiguous[last]
	a.history.Pop()

	a.removeExport(a.lastExport)
	a.lastExport = ""

	a.crop = crop
	a.current = desc
	a.canUndo = false
	a.pendingAmend = true
	a.stopwatch.Reset()

	a.log.Debug().Str("image", desc.Image).Int("x", desc.X).Int("y", desc.Y).Msg("went back")
	return a.Snapshot()
}

// export writes the crop on display as an image when export is enabled and
// returns the written path
func (a *Annotator) export(record types.LabelRecord) (string, error) {
	if !a.cfg.Export.Enabled {
		return "", nil
	}
	dir := a.cfg.Export.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(a.outputDir, dir)
	}
	return a.processor.ExportPatch(a.crop, record, dir, strings.ToLower(a.cfg.Export.Format), a.cfg.Export.Quality)
}

func (a *Annotator) removeExport(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.log.Warn().Err(err).Str("path", path).Msg("failed to remove exported patch")
	}
}

// Pause stops the labelling clock
func (a *Annotator) Pause() {
	a.stopwatch.Pause()
}

// Resume restarts the labelling clock
func (a *Annotator) Resume() {
	a.stopwatch.Resume()
}

// Paused reports whether the labelling clock is stopped
func (a *Annotator) Paused() bool {
	return !a.stopwatch.Running()
}

// Snapshot writes the checkpoint so that a resumed session presents the
// crop on display again. It does nothing once every image is done.
func (a *Annotator) Snapshot() error {
	return a.snapshot(true)
}

// snapshot writes the checkpoint; unlabelled tells whether the crop on
// display still lacks a label, in which case the cursor is saved one step
// back.
func (a *Annotator) snapshot(unlabelled bool) error {
	if a.done {
		return nil
	}
	pos := a.loader.Position()
	n := pos.N
	if unlabelled && n > 0 {
		n--
	}
	snap := &session.Snapshot{
		Path:         a.sourceDir,
		OutputPath:   a.outputDir,
		FileIdx:      pos.FileIdx,
		Files:        pos.Files,
		CropData:     pos.Plan,
		N:            n,
		PendingAmend: a.pendingAmend,
	}
	snap.SetHistory(a.history)
	if err := a.checkpoint.Save(snap); err != nil {
		return err
	}
	return nil
}

// Close checkpoints the session for a later resume
func (a *Annotator) Close() error {
	if err := a.Snapshot(); err != nil {
		return err
	}
	a.log.Info().Int("labels", a.history.Len()).Bool("done", a.done).Msg("session closed")
	return nil
}

// advance shows the next crop; at the end of the stream the checkpoint is
// deleted since there is nothing left to resume
func (a *Annotator) advance() error {
	crop, desc, err := a.loader.Advance()
	if errors.Is(err, loader.ErrEndOfStream) {
		a.done = true
		a.crop = nil
		a.current = types.CropDescriptor{}
		a.canUndo = false
		a.log.Info().Int("labels", a.history.Len()).Msg("labelled all of the data")
		return a.checkpoint.Remove()
	}
	if err != nil {
		return err
	}

	a.crop = crop
	a.current = desc
	a.prefill = types.DefaultScores()
	a.prefillAmb = types.Ambiguous{}
	a.stopwatch.Reset()
	return nil
}
