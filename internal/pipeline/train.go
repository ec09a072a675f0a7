package pipeline

import (
	"context"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pipelab/core/model"
	"github.com/YuminosukeSato/pipelab/metrics"
	"github.com/YuminosukeSato/pipelab/pkg/errors"
	"github.com/YuminosukeSato/pipelab/pkg/log"
	"github.com/YuminosukeSato/pipelab/plot"
	"github.com/YuminosukeSato/pipelab/sklearn/linear_model"
	"github.com/YuminosukeSato/pipelab/sklearn/tree"
)

const opTrain = "training model"

// Supported model types.
const (
	ModelLogisticRegression = "logistic_regression"
	ModelDecisionTree       = "decision_tree"
)

var displayNames = map[string]string{
	ModelLogisticRegression: "Logistic Regression",
	ModelDecisionTree:       "Decision Tree Classifier",
}

// DisplayName returns the human readable name of a model type, or "" if unknown.
func DisplayName(modelType string) string {
	return displayNames[modelType]
}

// TrainRequest selects the classifier.
type TrainRequest struct {
	ModelType string
}

// TrainedModel is a fitted classifier and its evaluation on the test set.
type TrainedModel struct {
	Classifier      model.Classifier
	Type            string
	DisplayName     string
	Accuracy        float64
	Predictions     []int
	Report          *metrics.ClassificationReport
	ConfusionMatrix [][]int
	Labels          []int
	ImageBase64     string
}

// TrainResult is the train response body.
type TrainResult struct {
	ModelType            string                        `json:"model_type"`
	Accuracy             float64                       `json:"accuracy"`
	ClassificationReport *metrics.ClassificationReport `json:"classification_report"`
	ConfusionMatrixImage string                        `json:"confusion_matrix_image"`
	ConfusionMatrix      [][]int                       `json:"confusion_matrix"`
	Labels               []int                         `json:"labels"`
	PredictionsCount     int                           `json:"predictions_count"`
}

// Train fits the requested classifier on the training partition and
// evaluates it on the test partition.
func (p *Pipeline) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	if p.split == nil {
		return nil, p.fail("train", errors.NewInputError(opTrain, errors.ErrSplitRequired, "Please split data first"))
	}
	clf, err := p.newClassifier(req.ModelType)
	if err != nil {
		return nil, p.fail("train", err)
	}
	if pg, ok := clf.(model.ParameterGetter); ok {
		p.logger.Debug("Training classifier", log.ModelNameKey, req.ModelType, "params", pg.GetParams())
	}

	trained, err := p.fitAndEvaluate(clf, req.ModelType, p.split)
	if err != nil {
		return nil, p.fail("train", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "train cancelled")
	}
	p.model = trained

	p.logger.Info("Model trained",
		log.StageKey, "train",
		log.ModelNameKey, trained.DisplayName,
		log.SamplesKey, len(p.split.YTrain),
		log.PredsKey, len(trained.Predictions),
		log.AccuracyKey, trained.Accuracy,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return &TrainResult{
		ModelType:            trained.DisplayName,
		Accuracy:             trained.Accuracy,
		ClassificationReport: trained.Report,
		ConfusionMatrixImage: trained.ImageBase64,
		ConfusionMatrix:      trained.ConfusionMatrix,
		Labels:               trained.Labels,
		PredictionsCount:     len(trained.Predictions),
	}, nil
}

func (p *Pipeline) newClassifier(modelType string) (model.Classifier, error) {
	s := p.settings
	switch modelType {
	case ModelLogisticRegression:
		return linear_model.NewLogisticRegression(
			linear_model.WithLRMaxIter(s.LogisticMaxIter),
			linear_model.WithLRC(s.LogisticC),
			linear_model.WithLRRandomState(s.RandomSeed),
		), nil
	case ModelDecisionTree:
		return tree.NewDecisionTreeClassifier(
			tree.WithCriterion(s.TreeCriterion),
			tree.WithMaxDepth(s.TreeMaxDepth),
			tree.WithMinSamplesSplit(s.TreeMinSamplesSplit),
			tree.WithMinSamplesLeaf(s.TreeMinSamplesLeaf),
			tree.WithRandomState(s.RandomSeed),
		), nil
	}
	return nil, errors.NewInputError(opTrain, errors.ErrInvalidModelType, "Invalid model type")
}

func (p *Pipeline) fitAndEvaluate(clf model.Classifier, modelType string, data *SplitData) (*TrainedModel, error) {
	out := &TrainedModel{
		Classifier:  clf,
		Type:        modelType,
		DisplayName: DisplayName(modelType),
	}
	err := internal(opTrain, func() error {
		if err := clf.Fit(data.XTrain, labelColumn(data.YTrain)); err != nil {
			return err
		}
		pred, err := clf.Predict(data.XTest)
		if err != nil {
			return err
		}
		out.Predictions = labelsOf(pred)

		if out.Accuracy, err = metrics.AccuracyScore(data.YTest, out.Predictions); err != nil {
			return err
		}
		if out.ConfusionMatrix, out.Labels, err = metrics.ConfusionMatrix(data.YTest, out.Predictions); err != nil {
			return err
		}
		if out.Report, err = metrics.NewClassificationReport(data.YTest, out.Predictions); err != nil {
			return err
		}
		out.ImageBase64, err = plot.ConfusionMatrixBase64(out.ConfusionMatrix, out.Labels,
			"Confusion Matrix - "+out.DisplayName,
			plot.WithSize(p.settings.PlotWidthInches, p.settings.PlotHeightInches))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func labelColumn(y []int) *mat.Dense {
	data := make([]float64, len(y))
	for i, v := range y {
		data[i] = float64(v)
	}
	return mat.NewDense(len(y), 1, data)
}

func labelsOf(m mat.Matrix) []int {
	r, _ := m.Dims()
	out := make([]int, r)
	for i := range out {
		out[i] = int(m.At(i, 0))
	}
	return out
}
