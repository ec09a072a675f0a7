// Package tree provides a CART decision tree classifier compatible with
// scikit-learn's DecisionTreeClassifier.
package tree

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/pipelab/core/model"
	"github.com/YuminosukeSato/pipelab/core/parallel"
	"github.com/YuminosukeSato/pipelab/metrics"
	"github.com/YuminosukeSato/pipelab/pkg/errors"
	"github.com/YuminosukeSato/pipelab/pkg/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	_ model.Classifier      = (*DecisionTreeClassifier)(nil)
	_ model.ParameterSetter = (*DecisionTreeClassifier)(nil)
)

// Features are searched in parallel only when a node has at least this many.
const parallelFeatureThreshold = 8

// DecisionTreeClassifier is a binary-split CART classifier.
//
// Thresholds are midpoints between consecutive distinct feature values;
// samples with x <= threshold go left. Impure nodes are split whenever a
// split satisfying min_samples_leaf exists, even if it does not reduce the
// impurity, so XOR-like patterns are learnable.
type DecisionTreeClassifier struct {
	state *model.StateManager

	// Hyperparameters
	criterion       string // "gini" or "entropy"
	maxDepth        int    // 0 means unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	randomState     int64 // orders the feature search; ties go to the earlier feature

	// Fitted attributes
	root                *node
	classes_            []int
	nClasses_           int
	nFeatures_          int
	featureImportances_ []float64
	depth_              int
	nLeaves_            int

	logger log.Logger
}

type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node

	counts   []float64 // per-class sample counts
	nSamples int
	impurity float64
}

func (n *node) isLeaf() bool { return n.left == nil }

// Option is a functional option for DecisionTreeClassifier
type Option func(*DecisionTreeClassifier)

// WithCriterion sets the impurity measure ("gini" or "entropy")
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeClassifier) { dt.criterion = criterion }
}

// WithMaxDepth limits the depth of the tree. 0 means unlimited.
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeClassifier) { dt.maxDepth = depth }
}

// WithMinSamplesSplit sets the minimum number of samples required to split a node
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum number of samples required in each leaf
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesLeaf = n }
}

// WithRandomState sets the seed that orders the feature search
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeClassifier) { dt.randomState = seed }
}

// WithLogger replaces the component logger
func WithLogger(logger log.Logger) Option {
	return func(dt *DecisionTreeClassifier) { dt.logger = logger }
}

// NewDecisionTreeClassifier creates a new DecisionTreeClassifier
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		maxDepth:        0,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		randomState:     0,
		logger:          log.GetLoggerWithName("DecisionTreeClassifier"),
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

func (dt *DecisionTreeClassifier) validateParams() error {
	if dt.criterion != "gini" && dt.criterion != "entropy" {
		return errors.NewValidationError("criterion", "must be 'gini' or 'entropy'", dt.criterion)
	}
	if dt.maxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be non-negative (0 means unlimited)", dt.maxDepth)
	}
	if dt.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be at least 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", dt.minSamplesLeaf)
	}
	return nil
}

// Fit builds the tree from X (n_samples x n_features) and y (n_samples x 1)
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	if err := dt.validateParams(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows != nSamples {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("DecisionTreeClassifier.Fit", fmt.Sprintf("y must be a column vector: got shape (%d, %d)", yRows, yCols))
	}

	classSet := make(map[int]struct{})
	for i := 0; i < nSamples; i++ {
		classSet[int(y.At(i, 0))] = struct{}{}
	}
	classes := make([]int, 0, len(classSet))
	for c := range classSet {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	labels := make([]int, nSamples)
	for i := range labels {
		labels[i] = sort.SearchInts(classes, int(y.At(i, 0)))
	}

	dt.classes_ = classes
	dt.nClasses_ = len(classes)
	dt.nFeatures_ = nFeatures
	dt.featureImportances_ = make([]float64, nFeatures)
	dt.depth_ = 0
	dt.nLeaves_ = 0

	dt.logger.Debug("Training started",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.ClassesKey, dt.nClasses_,
	)

	b := &builder{
		dt:     dt,
		X:      mat.DenseCopyOf(X),
		labels: labels,
		rng:    rand.New(rand.NewSource(dt.randomState)),
	}
	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}
	dt.root = b.build(indices, 0)

	if total := floats.Sum(dt.featureImportances_); total > 0 {
		floats.Scale(1/total, dt.featureImportances_)
	}

	dt.state.SetDimensions(nFeatures, nSamples)
	dt.state.SetFitted()
	dt.logger.Debug("Training completed",
		log.OperationKey, log.OperationFit,
		"tree.depth", dt.depth_,
		"tree.leaves", dt.nLeaves_,
	)
	return nil
}

type builder struct {
	dt     *DecisionTreeClassifier
	X      *mat.Dense
	labels []int
	rng    *rand.Rand
}

type split struct {
	feature   int
	threshold float64
	rank      int // position of the feature in the node's search order
	score     float64
	valid     bool
}

// better orders candidate splits: larger impurity decrease, then earlier in the search order
func (s split) better(o split) bool {
	if !o.valid {
		return s.valid
	}
	if !s.valid {
		return false
	}
	if s.score != o.score {
		return s.score > o.score
	}
	return s.rank < o.rank
}

func (b *builder) build(indices []int, depth int) *node {
	dt := b.dt
	n := &node{
		counts:   make([]float64, dt.nClasses_),
		nSamples: len(indices),
	}
	for _, i := range indices {
		n.counts[b.labels[i]]++
	}
	n.impurity = dt.impurity(n.counts, float64(n.nSamples))

	if depth > dt.depth_ {
		dt.depth_ = depth
	}

	stop := n.impurity <= 1e-12 ||
		n.nSamples < dt.minSamplesSplit ||
		n.nSamples < 2*dt.minSamplesLeaf ||
		(dt.maxDepth > 0 && depth >= dt.maxDepth)
	if !stop {
		if best := b.bestSplit(indices, n); best.valid {
			var left, right []int
			for _, i := range indices {
				if b.X.At(i, best.feature) <= best.threshold {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			n.feature = best.feature
			n.threshold = best.threshold
			n.left = b.build(left, depth+1)
			n.right = b.build(right, depth+1)

			dt.featureImportances_[best.feature] += float64(n.nSamples)*n.impurity -
				float64(n.left.nSamples)*n.left.impurity -
				float64(n.right.nSamples)*n.right.impurity
			return n
		}
	}
	dt.nLeaves_++
	return n
}

// bestSplit searches every feature for the threshold that minimises the
// weighted child impurity.
func (b *builder) bestSplit(indices []int, parent *node) split {
	nFeatures := b.dt.nFeatures_
	order := b.rng.Perm(nFeatures)

	found := make([]split, nFeatures)
	parallel.ParallelizeWithThreshold(nFeatures, parallelFeatureThreshold, func(start, end int) {
		sorted := make([]int, len(indices))
		for rank := start; rank < end; rank++ {
			f := order[rank]
			copy(sorted, indices)
			found[rank] = b.splitFeature(sorted, f, rank, parent)
		}
	})

	var best split
	for _, s := range found {
		if s.better(best) {
			best = s
		}
	}
	return best
}

func (b *builder) splitFeature(sorted []int, f, rank int, parent *node) split {
	dt := b.dt
	sort.SliceStable(sorted, func(i, j int) bool {
		return b.X.At(sorted[i], f) < b.X.At(sorted[j], f)
	})

	total := float64(len(sorted))
	left := make([]float64, dt.nClasses_)
	right := append([]float64(nil), parent.counts...)
	best := split{feature: f, rank: rank}

	for pos := 0; pos < len(sorted)-1; pos++ {
		c := b.labels[sorted[pos]]
		left[c]++
		right[c]--

		nLeft := pos + 1
		nRight := len(sorted) - nLeft
		if nLeft < dt.minSamplesLeaf || nRight < dt.minSamplesLeaf {
			continue
		}
		v, next := b.X.At(sorted[pos], f), b.X.At(sorted[pos+1], f)
		if next <= v {
			continue
		}

		child := (float64(nLeft)*dt.impurity(left, float64(nLeft)) +
			float64(nRight)*dt.impurity(right, float64(nRight))) / total
		score := parent.impurity - child
		if !best.valid || score > best.score {
			threshold := v + (next-v)/2
			if threshold >= next {
				threshold = v
			}
			best.threshold = threshold
			best.score = score
			best.valid = true
		}
	}
	return best
}

func (dt *DecisionTreeClassifier) impurity(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	if dt.criterion == "entropy" {
		h := 0.0
		for _, c := range counts {
			if c > 0 {
				p := c / n
				h -= p * math.Log2(p)
			}
		}
		return h
	}
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}

func (dt *DecisionTreeClassifier) leaf(x []float64) *node {
	n := dt.root
	for !n.isLeaf() {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n
}

func (dt *DecisionTreeClassifier) checkPredict(X mat.Matrix, method string) error {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", method); err != nil {
		return err
	}
	if _, c := X.Dims(); c != dt.nFeatures_ {
		return errors.NewDimensionError("DecisionTreeClassifier."+method, dt.nFeatures_, c, 1)
	}
	return nil
}

// Predict returns the majority class of the leaf each sample falls into
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.checkPredict(X, "Predict"); err != nil {
		return nil, err
	}
	r, _ := X.Dims()
	out := mat.NewDense(r, 1, nil)
	row := make([]float64, dt.nFeatures_)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		out.Set(i, 0, float64(dt.classes_[floats.MaxIdx(dt.leaf(row).counts)]))
	}
	return out, nil
}

// PredictProba returns the class distribution of the leaf each sample falls into
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.checkPredict(X, "PredictProba"); err != nil {
		return nil, err
	}
	r, _ := X.Dims()
	out := mat.NewDense(r, dt.nClasses_, nil)
	row := make([]float64, dt.nFeatures_)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		l := dt.leaf(row)
		for k, c := range l.counts {
			out.Set(i, k, c/float64(l.nSamples))
		}
	}
	return out, nil
}

// Score returns the mean accuracy on the given data and labels
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0.0
	}
	yTrue, yPred := mat.Col(nil, 0, y), mat.Col(nil, 0, pred)
	if len(yTrue) == 0 || len(yPred) == 0 {
		return 0.0
	}
	acc, err := metrics.Accuracy(mat.NewVecDense(len(yTrue), yTrue), mat.NewVecDense(len(yPred), yPred))
	if err != nil {
		return 0.0
	}
	return acc
}

// IsFitted reports whether Fit has completed successfully
func (dt *DecisionTreeClassifier) IsFitted() bool {
	return dt.state.IsFitted()
}

// Classes returns the sorted class labels seen during Fit
func (dt *DecisionTreeClassifier) Classes() []int {
	return append([]int(nil), dt.classes_...)
}

// GetFeatureImportances returns the normalized total impurity decrease per feature
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.featureImportances_...)
}

// GetDepth returns the depth of the fitted tree (a single leaf has depth 0)
func (dt *DecisionTreeClassifier) GetDepth() int {
	return dt.depth_
}

// GetNLeaves returns the number of leaves of the fitted tree
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	return dt.nLeaves_
}

// GetParams returns the model hyperparameters
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.criterion,
		"max_depth":         dt.maxDepth,
		"min_samples_split": dt.minSamplesSplit,
		"min_samples_leaf":  dt.minSamplesLeaf,
		"random_state":      dt.randomState,
	}
}

// SetParams sets the model hyperparameters. Values are validated at Fit.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "criterion":
			dt.criterion, ok = value.(string)
		case "max_depth":
			dt.maxDepth, ok = value.(int)
		case "min_samples_split":
			dt.minSamplesSplit, ok = value.(int)
		case "min_samples_leaf":
			dt.minSamplesLeaf, ok = value.(int)
		case "random_state":
			dt.randomState, ok = value.(int64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, "wrong type", value)
		}
	}
	return nil
}
