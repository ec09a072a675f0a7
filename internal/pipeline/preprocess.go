package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pipelab/internal/dataset"
	"github.com/YuminosukeSato/pipelab/pkg/errors"
	"github.com/YuminosukeSato/pipelab/pkg/log"
	"github.com/YuminosukeSato/pipelab/preprocessing"
)

// PreprocessRequest selects the scaling and the target column.
type PreprocessRequest struct {
	// Type is "standardization", "normalization" or anything else for no scaling.
	Type         string
	TargetColumn string
}

// ProcessedData is the feature matrix and target derived from the dataset.
type ProcessedData struct {
	Features       *mat.Dense
	Target         []int
	FeatureNames   []string
	DroppedColumns []string
	Mode           preprocessing.ScalingMode
	ScalerName     string
	TargetColumn   string
	TargetNote     string
	ImputationNote string
}

// PreprocessPreview shows the first processed rows.
type PreprocessPreview struct {
	Features []map[string]float64 `json:"features"`
	Target   []int                `json:"target"`
}

// PreprocessResult is the preprocess response body.
type PreprocessResult struct {
	PreprocessingType *string           `json:"preprocessing_type"`
	FeatureCount      int               `json:"feature_count"`
	SampleCount       int               `json:"sample_count"`
	FeatureColumns    []string          `json:"feature_columns"`
	DroppedColumns    []string          `json:"dropped_columns"`
	Preview           PreprocessPreview `json:"preview"`
	TargetNote        string            `json:"target_note,omitempty"`
	ImputationNote    string            `json:"imputation_note,omitempty"`
}

// Preprocess derives features and target from the current dataset.
func (p *Pipeline) Preprocess(ctx context.Context, req PreprocessRequest) (*PreprocessResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	ds, ok := p.store.Get()
	if !ok {
		return nil, p.fail("preprocess", errors.NewInputError(opPreprocess, errors.ErrNoDataset, "No dataset uploaded"))
	}

	processed, err := buildProcessed(ds, req)
	if err != nil {
		return nil, p.fail("preprocess", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "preprocess cancelled")
	}

	p.processed = processed
	p.invalidateAfter(StagePreprocessed)

	p.logger.Info("Data preprocessed",
		log.StageKey, "preprocess",
		log.DatasetIDKey, ds.ID,
		log.TargetColumnKey, processed.TargetColumn,
		log.ScalingKey, processed.Mode.String(),
		log.SamplesKey, len(processed.Target),
		log.FeaturesKey, len(processed.FeatureNames),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return processed.result(req.Type, p.settings.ProcessedPreviewRows), nil
}

func buildProcessed(ds *dataset.Dataset, req PreprocessRequest) (*ProcessedData, error) {
	target, err := NormalizeTarget(ds, req.TargetColumn)
	if err != nil {
		return nil, err
	}

	var features []*dataset.Column
	var names, dropped []string
	for _, c := range ds.Columns {
		if c.Name == req.TargetColumn {
			continue
		}
		if c.Type.IsNumeric() {
			features = append(features, c)
			names = append(names, c.Name)
		} else {
			dropped = append(dropped, c.Name)
		}
	}
	if len(features) == 0 {
		return nil, errors.NewInputError(opPreprocess, errors.ErrNoFeatures,
			"No numeric feature columns available for training")
	}

	X := mat.NewDense(len(target.Rows), len(features), nil)
	missing := false
	for k, i := range target.Rows {
		for j, c := range features {
			v := c.Values[i]
			if math.IsNaN(v) {
				missing = true
			}
			X.Set(k, j, v)
		}
	}

	out := &ProcessedData{
		Target:         target.Labels,
		FeatureNames:   names,
		DroppedColumns: dropped,
		Mode:           preprocessing.ParseScalingMode(req.Type),
		TargetColumn:   req.TargetColumn,
		TargetNote:     target.Note,
	}

	err = internal(opPreprocess, func() error {
		var input mat.Matrix = X
		if missing {
			imputer := preprocessing.NewSimpleImputer("mean")
			imputed, err := imputer.FitTransform(X)
			if err != nil {
				return err
			}
			input = imputed
			out.ImputationNote = imputationNote(imputer, names)
		}
		scaled, name, err := preprocessing.ScaleFeatures(input, out.Mode)
		if err != nil {
			return err
		}
		if err := errors.CheckNumericalStability(opPreprocess, scaled.RawMatrix().Data, 0); err != nil {
			return errors.WrapInputError(opPreprocess, errors.ErrNonFiniteFeatures, err,
				"Feature values are too large to scale; scaled features are not finite")
		}
		out.Features = scaled
		out.ScalerName = name
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func imputationNote(imputer *preprocessing.SimpleImputer, names []string) string {
	var cols []string
	for j, n := range imputer.MissingCounts {
		if n > 0 {
			cols = append(cols, fmt.Sprintf("%s (%d)", names[j], n))
		}
	}
	return fmt.Sprintf("Imputed %d missing feature value(s) with column means: %s.",
		imputer.TotalMissing(), strings.Join(cols, ", "))
}

func (d *ProcessedData) result(requestedType string, previewRows int) *PreprocessResult {
	rows, _ := d.Features.Dims()
	n := previewRows
	if n > rows {
		n = rows
	}
	preview := PreprocessPreview{
		Features: make([]map[string]float64, n),
		Target:   append([]int(nil), d.Target[:n]...),
	}
	for i := 0; i < n; i++ {
		rec := make(map[string]float64, len(d.FeatureNames))
		for j, name := range d.FeatureNames {
			rec[name] = d.Features.At(i, j)
		}
		preview.Features[i] = rec
	}

	var pt *string
	if requestedType != "" {
		pt = &requestedType
	}
	dropped := d.DroppedColumns
	if dropped == nil {
		dropped = []string{}
	}
	return &PreprocessResult{
		PreprocessingType: pt,
		FeatureCount:      len(d.FeatureNames),
		SampleCount:       rows,
		FeatureColumns:    d.FeatureNames,
		DroppedColumns:    dropped,
		Preview:           preview,
		TargetNote:        d.TargetNote,
		ImputationNote:    d.ImputationNote,
	}
}

// invalidateAfter drops results of stages after s when cascade invalidation
// is on and warns about the stale results it keeps otherwise.
func (p *Pipeline) invalidateAfter(s Stage) {
	var stale []string
	if s < StageSplit && p.split != nil {
		if p.settings.CascadeInvalidation {
			p.split = nil
		} else {
			stale = append(stale, "split")
		}
	}
	if s < StageTrained && p.model != nil {
		if p.settings.CascadeInvalidation {
			p.model = nil
		} else {
			stale = append(stale, "model")
		}
	}
	if len(stale) > 0 {
		p.logger.Warn("Keeping results computed from earlier data",
			log.StageKey, s.String(),
			"stale", strings.Join(stale, ","),
		)
	}
}
