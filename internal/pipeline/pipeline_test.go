package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/pipelab/pkg/errors"
	"github.com/YuminosukeSato/pipelab/pkg/log"
)

// binaryCSV builds n rows of two numeric features and a binary target that
// depends on their sum.
func binaryCSV(n int) string {
	rng := rand.New(rand.NewSource(1))
	var b strings.Builder
	b.WriteString("f1,f2,target\n")
	for i := 0; i < n; i++ {
		x1, x2 := rng.NormFloat64(), rng.NormFloat64()*3+10
		label := 0
		if x1+(x2-10)/3 > 0 {
			label = 1
		}
		fmt.Fprintf(&b, "%.4f,%.4f,%d\n", x1, x2, label)
	}
	return b.String()
}

func newTestPipeline(t *testing.T, mutate ...func(*Settings)) (*Pipeline, *log.TestLogger) {
	t.Helper()
	s := DefaultSettings()
	for _, m := range mutate {
		m(&s)
	}
	logger, _ := log.NewTestLogger(log.LevelDebug)
	return New(s, WithLogger(logger)), logger
}

func upload(t *testing.T, p *Pipeline, csv string) {
	t.Helper()
	_, err := p.Upload(context.Background(), "data.csv", strings.NewReader(csv))
	require.NoError(t, err)
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)

	summary, err := p.Upload(ctx, "data.csv", strings.NewReader(binaryCSV(100)))
	require.NoError(t, err)
	assert.Equal(t, 100, summary.Rows)
	assert.Equal(t, 3, summary.Columns)
	assert.Len(t, summary.Preview, 10)

	pre, err := p.Preprocess(ctx, PreprocessRequest{Type: "standardization", TargetColumn: "target"})
	require.NoError(t, err)
	assert.Equal(t, 2, pre.FeatureCount)
	assert.Equal(t, 100, pre.SampleCount)
	assert.Equal(t, []string{"f1", "f2"}, pre.FeatureColumns)
	assert.Len(t, pre.Preview.Features, 5)
	assert.Empty(t, pre.TargetNote)

	testSize := 0.2
	sp, err := p.Split(ctx, SplitRequest{TestSize: &testSize})
	require.NoError(t, err)
	assert.Equal(t, 80, sp.TrainSize)
	assert.Equal(t, 20, sp.TestSize)
	assert.InDelta(t, 0.8, sp.TrainRatio, 1e-12)
	assert.True(t, sp.Stratified)
	assert.Empty(t, sp.Note)

	tr, err := p.Train(ctx, TrainRequest{ModelType: ModelLogisticRegression})
	require.NoError(t, err)
	assert.Equal(t, "Logistic Regression", tr.ModelType)
	assert.GreaterOrEqual(t, tr.Accuracy, 0.0)
	assert.LessOrEqual(t, tr.Accuracy, 1.0)
	assert.Equal(t, 20, tr.PredictionsCount)
	require.NotEmpty(t, tr.ConfusionMatrixImage)
	_, err = base64.StdEncoding.DecodeString(tr.ConfusionMatrixImage)
	assert.NoError(t, err)

	st := p.Status()
	assert.True(t, st.DatasetUploaded)
	assert.True(t, st.DataPreprocessed)
	assert.True(t, st.DataSplit)
	assert.True(t, st.ModelTrained)
	require.NotNil(t, st.PreprocessingApplied)
	assert.Equal(t, "StandardScaler", *st.PreprocessingApplied)
	require.NotNil(t, st.Accuracy)
	assert.Equal(t, tr.Accuracy, *st.Accuracy)
	assert.Equal(t, "trained", st.Stage)

	body, err := json.Marshal(tr)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"macro avg"`)
	assert.Contains(t, string(body), `"f1-score"`)
}

func TestDecisionTreeTraining(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	upload(t, p, binaryCSV(60))

	_, err := p.Preprocess(ctx, PreprocessRequest{Type: "normalization", TargetColumn: "target"})
	require.NoError(t, err)
	_, err = p.Split(ctx, SplitRequest{})
	require.NoError(t, err)

	tr, err := p.Train(ctx, TrainRequest{ModelType: ModelDecisionTree})
	require.NoError(t, err)
	assert.Equal(t, "Decision Tree Classifier", tr.ModelType)
	assert.Equal(t, 12, tr.PredictionsCount)

	st := p.Status()
	assert.Equal(t, "MinMaxScaler", *st.PreprocessingApplied)
	assert.Equal(t, "Decision Tree Classifier", *st.ModelType)
}

func TestStageOrdering(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)

	_, err := p.Preprocess(ctx, PreprocessRequest{TargetColumn: "target"})
	assert.True(t, errors.Is(err, errors.ErrNoDataset))
	assert.Equal(t, "No dataset uploaded", errors.UserMessage(err))

	_, err = p.Split(ctx, SplitRequest{})
	assert.True(t, errors.Is(err, errors.ErrPreprocessingRequired))

	_, err = p.Train(ctx, TrainRequest{ModelType: ModelDecisionTree})
	assert.True(t, errors.Is(err, errors.ErrSplitRequired))

	upload(t, p, binaryCSV(20))
	_, err = p.Split(ctx, SplitRequest{})
	assert.True(t, errors.Is(err, errors.ErrPreprocessingRequired))

	_, err = p.Preprocess(ctx, PreprocessRequest{TargetColumn: "target"})
	require.NoError(t, err)
	_, err = p.Train(ctx, TrainRequest{ModelType: ModelDecisionTree})
	assert.True(t, errors.Is(err, errors.ErrSplitRequired))
	assert.Equal(t, errors.KindInput, errors.KindOf(err))
}

func TestInvalidModelType(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	upload(t, p, binaryCSV(20))
	_, err := p.Preprocess(ctx, PreprocessRequest{TargetColumn: "target"})
	require.NoError(t, err)
	_, err = p.Split(ctx, SplitRequest{})
	require.NoError(t, err)

	for _, mt := range []string{"", "svm", "Decision_Tree"} {
		_, err := p.Train(ctx, TrainRequest{ModelType: mt})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidModelType))
		assert.Equal(t, "Invalid model type", errors.UserMessage(err))
	}
	assert.False(t, p.Status().ModelTrained)
}

func TestUploadFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	upload(t, p, binaryCSV(20))
	before := p.Status()

	_, err := p.Upload(ctx, "data.json", strings.NewReader("{}"))
	assert.True(t, errors.Is(err, errors.ErrUnsupportedFormat))
	_, err = p.Upload(ctx, "data.csv", strings.NewReader(""))
	assert.True(t, errors.Is(err, errors.ErrEmptyFile))

	assert.Equal(t, before, p.Status())
}

func TestUploadResetsDownstream(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	upload(t, p, binaryCSV(30))
	_, err := p.Preprocess(ctx, PreprocessRequest{Type: "standardization", TargetColumn: "target"})
	require.NoError(t, err)
	_, err = p.Split(ctx, SplitRequest{})
	require.NoError(t, err)

	upload(t, p, binaryCSV(30))
	st := p.Status()
	assert.True(t, st.DatasetUploaded)
	assert.False(t, st.DataPreprocessed)
	assert.Nil(t, st.PreprocessingApplied)
	assert.False(t, st.DataSplit)
	assert.Equal(t, "dataset_loaded", st.Stage)
}

func TestRerunKeepsDownstreamByDefault(t *testing.T) {
	ctx := context.Background()
	p, logger := newTestPipeline(t)
	upload(t, p, binaryCSV(30))
	_, err := p.Preprocess(ctx, PreprocessRequest{TargetColumn: "target"})
	require.NoError(t, err)
	_, err = p.Split(ctx, SplitRequest{})
	require.NoError(t, err)
	_, err = p.Train(ctx, TrainRequest{ModelType: ModelDecisionTree})
	require.NoError(t, err)

	_, err = p.Preprocess(ctx, PreprocessRequest{Type: "normalization", TargetColumn: "target"})
	require.NoError(t, err)

	st := p.Status()
	assert.True(t, st.DataSplit)
	assert.True(t, st.ModelTrained)
	assert.True(t, logger.ContainsMessage("Keeping results computed from earlier data"))
}

func TestCascadeInvalidation(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t, func(s *Settings) { s.CascadeInvalidation = true })
	upload(t, p, binaryCSV(30))
	_, err := p.Preprocess(ctx, PreprocessRequest{TargetColumn: "target"})
	require.NoError(t, err)
	_, err = p.Split(ctx, SplitRequest{})
	require.NoError(t, err)
	_, err = p.Train(ctx, TrainRequest{ModelType: ModelDecisionTree})
	require.NoError(t, err)

	_, err = p.Split(ctx, SplitRequest{})
	require.NoError(t, err)
	st := p.Status()
	assert.True(t, st.DataSplit)
	assert.False(t, st.ModelTrained)
	assert.Nil(t, st.Accuracy)

	_, err = p.Preprocess(ctx, PreprocessRequest{TargetColumn: "target"})
	require.NoError(t, err)
	st = p.Status()
	assert.False(t, st.DataSplit)
	assert.Equal(t, "preprocessed", st.Stage)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	upload(t, p, binaryCSV(30))
	_, err := p.Preprocess(ctx, PreprocessRequest{TargetColumn: "target"})
	require.NoError(t, err)

	p.Reset()
	assert.Equal(t, Status{Stage: "empty"}, p.Status())
	assert.Equal(t, StageEmpty, p.Stage())

	p.Reset()
	assert.Equal(t, Status{Stage: "empty"}, p.Status())
}

func TestSplitIsDeterministic(t *testing.T) {
	ctx := context.Background()
	run := func() *SplitData {
		p, _ := newTestPipeline(t)
		upload(t, p, binaryCSV(50))
		_, err := p.Preprocess(ctx, PreprocessRequest{TargetColumn: "target"})
		require.NoError(t, err)
		_, err = p.Split(ctx, SplitRequest{})
		require.NoError(t, err)
		return p.split
	}
	a, b := run(), run()
	assert.Equal(t, a.TrainIndex, b.TrainIndex)
	assert.Equal(t, a.TestIndex, b.TestIndex)
}

func TestSplitFallsBackToRandom(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	upload(t, p, "x,y\n1,0\n2,0\n3,0\n4,0\n5,1\n")
	_, err := p.Preprocess(ctx, PreprocessRequest{TargetColumn: "y"})
	require.NoError(t, err)

	sp, err := p.Split(ctx, SplitRequest{})
	require.NoError(t, err)
	assert.False(t, sp.Stratified)
	assert.Equal(t, noteRandomSplit, sp.Note)
	assert.Equal(t, 4, sp.TrainSize)
	assert.Equal(t, 1, sp.TestSize)
}

func TestSplitInvalidFraction(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	upload(t, p, binaryCSV(20))
	_, err := p.Preprocess(ctx, PreprocessRequest{TargetColumn: "target"})
	require.NoError(t, err)

	for _, ts := range []float64{0, 1, -0.5, 1.5, math.NaN()} {
		ts := ts
		_, err := p.Split(ctx, SplitRequest{TestSize: &ts})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidSplitFraction))
		assert.Equal(t, errors.KindInput, errors.KindOf(err))
	}
	assert.False(t, p.Status().DataSplit)
}

func TestPreprocessFeatures(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	upload(t, p, "a,name,flag,b,label\n1,x,true,2,yes\n,y,false,4,no\n3,z,true,,yes\n5,w,false,8,no\n")

	pre, err := p.Preprocess(ctx, PreprocessRequest{Type: "none", TargetColumn: "label"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, pre.FeatureColumns)
	assert.Equal(t, []string{"name", "flag"}, pre.DroppedColumns)
	assert.Equal(t, noteCategorical, pre.TargetNote)
	assert.Contains(t, pre.ImputationNote, "Imputed 2 missing feature value(s)")
	assert.Equal(t, []int{1, 0, 1, 0}, pre.Preview.Target)
	assert.Equal(t, 3.0, pre.Preview.Features[1]["a"])
	assert.InDelta(t, 14.0/3, pre.Preview.Features[2]["b"], 1e-12)
	require.NotNil(t, pre.PreprocessingType)
	assert.Equal(t, "none", *pre.PreprocessingType)
	assert.Nil(t, p.Status().PreprocessingApplied)
}

func TestPreprocessErrors(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	upload(t, p, "name,label\nx,1\ny,0\n")

	_, err := p.Preprocess(ctx, PreprocessRequest{TargetColumn: "label"})
	assert.True(t, errors.Is(err, errors.ErrNoFeatures))

	_, err = p.Preprocess(ctx, PreprocessRequest{TargetColumn: "missing"})
	assert.True(t, errors.Is(err, errors.ErrTargetColumnNotFound))
	assert.False(t, p.Status().DataPreprocessed)
}

func TestPreprocessImputesNonFiniteCells(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	summary, err := p.Upload(ctx, "data.csv", strings.NewReader("f1,f2,label\n1,inf,0\n2,3,1\n3,4,0\n4,-Infinity,1\n5,5,0\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.MissingValues["f2"])

	pre, err := p.Preprocess(ctx, PreprocessRequest{Type: "standardization", TargetColumn: "label"})
	require.NoError(t, err)
	assert.Contains(t, pre.ImputationNote, "f2 (2)")
	assert.InDelta(t, 0.0, pre.Preview.Features[0]["f2"], 1e-12)

	r, c := p.processed.Features.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := p.processed.Features.At(i, j)
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "feature (%d,%d) = %v", i, j, v)
		}
	}
}

func TestPreprocessRejectsOverflowingFeatures(t *testing.T) {
	ctx := context.Background()
	p, logger := newTestPipeline(t)
	upload(t, p, "f1,f2,label\n1,1.5e308,0\n2,1.5e308,1\n3,-1.0,0\n4,2.0,1\n")

	_, err := p.Preprocess(ctx, PreprocessRequest{Type: "standardization", TargetColumn: "label"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNonFiniteFeatures))
	assert.Equal(t, errors.KindInput, errors.KindOf(err))
	assert.False(t, p.Status().DataPreprocessed)
	assert.True(t, logger.ContainsField(log.ErrorCodeKey, log.ErrorInvalidInput))

	_, err = p.Preprocess(ctx, PreprocessRequest{Type: "none", TargetColumn: "label"})
	require.NoError(t, err)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not fitted", errors.NewNotFittedError("Tree", "Predict"), log.ErrorNotFitted},
		{"dimension", errors.NewDimensionError("Predict", 2, 3, 1), log.ErrorDimensionMismatch},
		{"empty file", errors.NewInputError("upload", errors.ErrEmptyFile, "No file provided"), log.ErrorEmptyData},
		{"wrapped empty data", errors.NewInternalError(opTrain, errors.Wrap(errors.ErrEmptyData, "fit")), log.ErrorEmptyData},
		{"input", errors.NewInputError(opTrain, errors.ErrInvalidModelType, "Invalid model type"), log.ErrorInvalidInput},
		{"instability", errors.NewInternalError(opTrain, errors.NewNumericalInstabilityError("gradient", []float64{math.NaN()}, 3)), log.ErrorConvergence},
		{"other", errors.NewInternalError(opTrain, errors.New("boom")), log.ErrorInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}

func TestCancelledContextDoesNotCommit(t *testing.T) {
	p, _ := newTestPipeline(t)
	upload(t, p, binaryCSV(20))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Preprocess(ctx, PreprocessRequest{TargetColumn: "target"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, p.Status().DataPreprocessed)
}

func TestConcurrentStagesAreSerialized(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	upload(t, p, binaryCSV(40))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mode := "standardization"
			if i%2 == 0 {
				mode = "normalization"
			}
			_, err := p.Preprocess(ctx, PreprocessRequest{Type: mode, TargetColumn: "target"})
			assert.NoError(t, err)
			_ = p.Status()
		}(i)
	}
	wg.Wait()

	rows, cols := p.processed.Features.Dims()
	assert.Equal(t, 40, rows)
	assert.Equal(t, 2, cols)
	assert.Len(t, p.processed.Target, rows)
}
