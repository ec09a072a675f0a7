package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pipelab/model_selection"
	"github.com/YuminosukeSato/pipelab/pkg/errors"
	"github.com/YuminosukeSato/pipelab/pkg/log"
)

const (
	opSplit = "splitting data"

	noteRandomSplit = "Not enough samples per class for stratified split; using random split instead."
)

// SplitRequest sets the test fraction. Nil uses the configured default.
type SplitRequest struct {
	TestSize *float64
}

// SplitData is the train/test partition of the processed data.
type SplitData struct {
	XTrain, XTest *mat.Dense
	YTrain, YTest []int
	// TrainIndex and TestIndex are row indices into ProcessedData.
	TrainIndex, TestIndex []int
	Stratified            bool
	Note                  string
	TestFraction          float64
}

// SplitResult is the split response body.
type SplitResult struct {
	TrainSize  int     `json:"train_size"`
	TestSize   int     `json:"test_size"`
	TrainRatio float64 `json:"train_ratio"`
	TestRatio  float64 `json:"test_ratio"`
	Stratified bool    `json:"stratified"`
	Note       string  `json:"note,omitempty"`
}

// Split partitions the processed data with the configured seed. Stratification
// is used whenever every class has at least two rows.
func (p *Pipeline) Split(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	if p.processed == nil {
		return nil, p.fail("split", errors.NewInputError(opSplit, errors.ErrPreprocessingRequired, "Please preprocess data first"))
	}

	testSize := p.settings.DefaultTestSize
	if req.TestSize != nil {
		testSize = *req.TestSize
	}
	data, err := splitProcessed(p.processed, testSize, p.settings.RandomSeed)
	if err != nil {
		return nil, p.fail("split", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "split cancelled")
	}

	p.split = data
	p.invalidateAfter(StageSplit)

	p.logger.Info("Data split",
		log.StageKey, "split",
		log.RandomSeedKey, p.settings.RandomSeed,
		"split.train", len(data.YTrain),
		"split.test", len(data.YTest),
		"split.stratified", data.Stratified,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return &SplitResult{
		TrainSize:  len(data.YTrain),
		TestSize:   len(data.YTest),
		TrainRatio: 1 - testSize,
		TestRatio:  testSize,
		Stratified: data.Stratified,
		Note:       data.Note,
	}, nil
}

func splitProcessed(d *ProcessedData, testSize float64, seed int64) (*SplitData, error) {
	if math.IsNaN(testSize) || testSize <= 0 || testSize >= 1 {
		return nil, errors.NewInputError(opSplit, errors.ErrInvalidSplitFraction,
			fmt.Sprintf("test_size must be between 0 and 1 (exclusive), got %v", testSize))
	}

	stratify := model_selection.CanStratify(d.Target)
	var res *model_selection.SplitResult
	err := errors.SafeExecute(opSplit, func() error {
		var err error
		res, err = model_selection.TrainTestSplit(d.Features, d.Target, model_selection.SplitOptions{
			TestSize:    testSize,
			RandomState: seed,
			Stratify:    stratify,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, errors.ErrInvalidSplitFraction) {
			return nil, errors.WrapInputError(opSplit, errors.ErrInvalidSplitFraction, err, err.Error())
		}
		return nil, errors.NewInternalError(opSplit, err)
	}

	data := &SplitData{
		XTrain:       res.XTrain,
		XTest:        res.XTest,
		YTrain:       res.YTrain,
		YTest:        res.YTest,
		TrainIndex:   res.TrainIndex,
		TestIndex:    res.TestIndex,
		Stratified:   res.Stratified,
		TestFraction: testSize,
	}
	if !stratify {
		data.Note = noteRandomSplit
	}
	return data, nil
}
