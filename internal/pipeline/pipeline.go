// Package pipeline owns the single in-flight ML workflow: an uploaded
// dataset, its preprocessed features, a train/test split and a trained model.
//
// Every stage runs under one mutex and commits its outputs only when it
// succeeds, so a failed call leaves earlier results untouched.
package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/YuminosukeSato/pipelab/internal/config"
	"github.com/YuminosukeSato/pipelab/internal/dataset"
	"github.com/YuminosukeSato/pipelab/pkg/errors"
	"github.com/YuminosukeSato/pipelab/pkg/log"
)

// Stage is the furthest completed step of the workflow.
type Stage int

const (
	StageEmpty Stage = iota
	StageDatasetLoaded
	StagePreprocessed
	StageSplit
	StageTrained
)

func (s Stage) String() string {
	switch s {
	case StageDatasetLoaded:
		return "dataset_loaded"
	case StagePreprocessed:
		return "preprocessed"
	case StageSplit:
		return "split"
	case StageTrained:
		return "trained"
	default:
		return "empty"
	}
}

// Settings are the tunables a Pipeline reads from configuration.
type Settings struct {
	RandomSeed           int64
	DefaultTestSize      float64
	PreviewRows          int
	ProcessedPreviewRows int
	CascadeInvalidation  bool

	LogisticMaxIter int
	LogisticC       float64

	TreeCriterion       string
	TreeMaxDepth        int
	TreeMinSamplesSplit int
	TreeMinSamplesLeaf  int

	PlotWidthInches  float64
	PlotHeightInches float64
}

// SettingsFromConfig extracts pipeline settings from the service configuration.
func SettingsFromConfig(c *config.Config) Settings {
	return Settings{
		RandomSeed:           c.Pipeline.RandomSeed,
		DefaultTestSize:      c.Pipeline.DefaultTestSize,
		PreviewRows:          c.Pipeline.PreviewRows,
		ProcessedPreviewRows: c.Pipeline.ProcessedPreviewRows,
		CascadeInvalidation:  c.Pipeline.CascadeInvalidation,
		LogisticMaxIter:      c.Model.Logistic.MaxIter,
		LogisticC:            c.Model.Logistic.C,
		TreeCriterion:        c.Model.Tree.Criterion,
		TreeMaxDepth:         c.Model.Tree.MaxDepth,
		TreeMinSamplesSplit:  c.Model.Tree.MinSamplesSplit,
		TreeMinSamplesLeaf:   c.Model.Tree.MinSamplesLeaf,
		PlotWidthInches:      c.Plot.WidthInches,
		PlotHeightInches:     c.Plot.HeightInches,
	}
}

// DefaultSettings returns the settings of the default configuration.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default())
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger replaces the pipeline logger.
func WithLogger(logger log.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// Pipeline is the stateful workflow. The zero value is not usable; call New.
type Pipeline struct {
	mu       sync.Mutex
	settings Settings
	logger   log.Logger

	store     dataset.Store
	processed *ProcessedData
	split     *SplitData
	model     *TrainedModel
}

// New returns an empty pipeline.
func New(settings Settings, opts ...Option) *Pipeline {
	p := &Pipeline{
		settings: settings,
		logger:   log.GetLoggerWithName("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Settings returns the settings the pipeline was created with.
func (p *Pipeline) Settings() Settings {
	return p.settings
}

// Upload parses a file and makes it the current dataset. A successful upload
// discards every downstream result.
func (p *Pipeline) Upload(ctx context.Context, filename string, r io.Reader) (*dataset.Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	ds, err := dataset.Parse(filename, r)
	if err != nil {
		return nil, p.fail("upload", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "upload cancelled")
	}

	p.store.Put(ds)
	p.processed = nil
	p.split = nil
	p.model = nil

	summary := dataset.Summarize(ds, p.settings.PreviewRows)
	p.logger.Info("Dataset uploaded",
		log.StageKey, "upload",
		log.DatasetIDKey, ds.ID,
		log.FilenameKey, ds.Filename,
		log.SamplesKey, ds.NRows(),
		log.FeaturesKey, ds.NColumns(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return &summary, nil
}

// Status reports which stages have completed.
type Status struct {
	DatasetUploaded      bool     `json:"dataset_uploaded"`
	DatasetID            *string  `json:"dataset_id"`
	DataPreprocessed     bool     `json:"data_preprocessed"`
	PreprocessingApplied *string  `json:"preprocessing_applied"`
	DataSplit            bool     `json:"data_split"`
	ModelTrained         bool     `json:"model_trained"`
	ModelType            *string  `json:"model_type"`
	Accuracy             *float64 `json:"accuracy"`
	Stage                string   `json:"stage"`
}

// Status returns a snapshot of the pipeline state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s Status
	if ds, ok := p.store.Get(); ok {
		s.DatasetUploaded = true
		id := ds.ID
		s.DatasetID = &id
	}
	if p.processed != nil {
		s.DataPreprocessed = true
		if p.processed.ScalerName != "" {
			name := p.processed.ScalerName
			s.PreprocessingApplied = &name
		}
	}
	s.DataSplit = p.split != nil
	if p.model != nil {
		s.ModelTrained = true
		name, acc := p.model.DisplayName, p.model.Accuracy
		s.ModelType = &name
		s.Accuracy = &acc
	}
	s.Stage = p.stage().String()
	return s
}

// Stage returns the furthest completed stage.
func (p *Pipeline) Stage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage()
}

func (p *Pipeline) stage() Stage {
	_, hasDataset := p.store.Get()
	switch {
	case !hasDataset:
		return StageEmpty
	case p.processed == nil:
		return StageDatasetLoaded
	case p.split == nil:
		return StagePreprocessed
	case p.model == nil:
		return StageSplit
	default:
		return StageTrained
	}
}

// Reset discards everything.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.store.Clear()
	p.processed = nil
	p.split = nil
	p.model = nil
	p.logger.Info("Pipeline reset", log.StageKey, "reset")
}

// fail logs a stage failure at a level matching its kind and returns err.
func (p *Pipeline) fail(stage string, err error) error {
	if errors.KindOf(err) == errors.KindInput {
		p.logger.Warn("Stage rejected",
			log.StageKey, stage,
			log.ErrorTypeKey, errors.KindInput.String(),
			log.ErrorCodeKey, errorCode(err),
			"reason", errors.UserMessage(err),
		)
		return err
	}
	p.logger.Error("Stage failed", err,
		log.StageKey, stage,
		log.ErrorTypeKey, errors.KindInternal.String(),
		log.ErrorCodeKey, errorCode(err),
	)
	return err
}

// errorCode classifies err for the error.code log attribute.
func errorCode(err error) string {
	var notFitted *errors.NotFittedError
	var dim *errors.DimensionError
	var unstable *errors.NumericalInstabilityError
	switch {
	case errors.As(err, &notFitted):
		return log.ErrorNotFitted
	case errors.As(err, &dim):
		return log.ErrorDimensionMismatch
	case errors.Is(err, errors.ErrEmptyFile), errors.Is(err, errors.ErrEmptyData):
		return log.ErrorEmptyData
	case errors.KindOf(err) == errors.KindInput:
		return log.ErrorInvalidInput
	case errors.As(err, &unstable):
		return log.ErrorConvergence
	}
	return log.ErrorInternal
}

// internal runs fn and reports its failure, including a panic, as an
// internal error of the stage named by op ("preprocessing data", ...).
func internal(op string, fn func() error) error {
	if err := errors.SafeExecute(op, fn); err != nil {
		if errors.KindOf(err) == errors.KindInput {
			return err
		}
		return errors.NewInternalError(op, err)
	}
	return nil
}
