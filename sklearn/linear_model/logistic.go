package linear_model

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
	"gonum.org/v1/gonum/optimize"
)

var (
	_ model.Classifier      = (*LogisticRegression)(nil)
	_ model.ParameterSetter = (*LogisticRegression)(nil)
)

// LogisticRegression implements logistic regression for classification
// Compatible with scikit-learn's LogisticRegression.
//
// The objective is the mean log-loss plus ||w||^2 / (2*C*n_samples) for the
// l2 penalty, which has the same minimiser as scikit-learn's formulation.
// Binary problems fit a single weight vector; with more classes the model is
// multinomial (softmax) unless multi_class is "ovr".
type LogisticRegression struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	penalty      string  // Regularization: "l2", "none"
	C            float64 // Inverse regularization strength (1/alpha)
	fitIntercept bool    // Whether to fit intercept
	randomState  int64   // Random seed, used by the "gd" solver initialisation
	solver       string  // Solver: "lbfgs", "gd"
	maxIter      int     // Maximum iterations
	multiClass   string  // Multi-class: "auto", "ovr", "multinomial"
	tol          float64 // Tolerance for stopping

	// Model parameters
	coef_      [][]float64 // Coefficients (n_classes x n_features or 1 x n_features for binary)
	intercept_ []float64   // Intercept terms
	classes_   []int       // Unique class labels
	nClasses_  int         // Number of classes
	nFeatures_ int         // Number of features
	nIter_     []int       // Actual iterations per fitted problem

	rand   *rand.Rand
	logger log.Logger
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		randomState:  -1,
		solver:       "lbfgs",
		maxIter:      100,
		multiClass:   "auto",
		tol:          1e-4,
		logger:       log.GetLoggerWithName("LogisticRegression"),
	}

	for _, opt := range opts {
		opt(lr)
	}
	lr.resetRand()
	return lr
}

func (lr *LogisticRegression) resetRand() {
	if lr.randomState >= 0 {
		lr.rand = rand.New(rand.NewSource(lr.randomState))
	} else {
		lr.rand = rand.New(rand.NewSource(rand.Int63()))
	}
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.penalty = penalty
	}
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.fitIntercept = fit
	}
}

// WithLRSolver sets the optimization solver
func WithLRSolver(solver string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.solver = solver
	}
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

// WithLRMultiClass sets the multiclass strategy
func WithLRMultiClass(multiClass string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.multiClass = multiClass
	}
}

// WithLRRandomState sets the random seed
func WithLRRandomState(seed int64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.randomState = seed
	}
}

// WithLRLogger replaces the component logger
func WithLRLogger(logger log.Logger) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.logger = logger
	}
}

func (lr *LogisticRegression) validateParams() error {
	switch lr.penalty {
	case "l2", "none":
	default:
		return errors.NewValidationError("penalty", "only 'l2' and 'none' are supported", lr.penalty)
	}
	switch lr.solver {
	case "lbfgs", "gd":
	default:
		return errors.NewValidationError("solver", "must be 'lbfgs' or 'gd'", lr.solver)
	}
	switch lr.multiClass {
	case "auto", "ovr", "multinomial":
	default:
		return errors.NewValidationError("multi_class", "must be 'auto', 'ovr' or 'multinomial'", lr.multiClass)
	}
	if lr.C <= 0 {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	if lr.maxIter < 1 {
		return errors.NewValidationError("max_iter", "must be at least 1", lr.maxIter)
	}
	return nil
}

// Fit trains the logistic regression model
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	if err := lr.validateParams(); err != nil {
		return err
	}

	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("LogisticRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("LogisticRegression.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("LogisticRegression.Fit", fmt.Sprintf("y must be a column vector: got shape (%d, %d)", yRows, yCols))
	}

	lr.extractClasses(y)
	if lr.nClasses_ < 2 {
		return errors.NewValueError("LogisticRegression.Fit",
			fmt.Sprintf("this solver needs samples of at least 2 classes in the data, but the data contains only one class: %d", lr.classes_[0]))
	}
	lr.nFeatures_ = nFeatures
	lr.resetRand()

	lr.logger.Debug("Training started",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.ClassesKey, lr.nClasses_,
	)

	Xd := mat.DenseCopyOf(X)
	labels := make([]int, nSamples)
	for i := range labels {
		labels[i] = lr.classIndex(int(y.At(i, 0)))
	}

	var err error
	switch {
	case lr.nClasses_ == 2:
		lr.coef_ = [][]float64{nil}
		lr.intercept_ = []float64{0}
		lr.nIter_ = []int{0}
		yBinary := make([]float64, nSamples)
		for i, k := range labels {
			if k == 1 {
				yBinary[i] = 1
			}
		}
		err = lr.fitBinaryProblem(Xd, yBinary, 0)
	case lr.multiClass == "ovr":
		err = lr.fitOVR(Xd, labels)
	default:
		err = lr.fitMultinomial(Xd, labels)
	}
	if err != nil {
		return err
	}

	lr.state.SetDimensions(nFeatures, nSamples)
	lr.state.SetFitted()
	lr.logger.Debug("Training completed",
		log.OperationKey, log.OperationFit,
		log.IterationKey, lr.nIter_,
	)
	return nil
}

// extractClasses identifies unique class labels
func (lr *LogisticRegression) extractClasses(y mat.Matrix) {
	rows, _ := y.Dims()
	classMap := make(map[int]bool)
	for i := 0; i < rows; i++ {
		classMap[int(y.At(i, 0))] = true
	}

	lr.classes_ = make([]int, 0, len(classMap))
	for class := range classMap {
		lr.classes_ = append(lr.classes_, class)
	}
	sort.Ints(lr.classes_)
	lr.nClasses_ = len(lr.classes_)
}

func (lr *LogisticRegression) classIndex(label int) int {
	return sort.SearchInts(lr.classes_, label)
}

// penaltyScale returns the l2 weight applied to 0.5*||w||^2 in the mean objective
func (lr *LogisticRegression) penaltyScale(nSamples int) float64 {
	if lr.penalty == "none" {
		return 0
	}
	return 1.0 / (lr.C * float64(nSamples))
}

// fitOVR fits one binary problem per class. Problems are independent and run in parallel.
func (lr *LogisticRegression) fitOVR(X *mat.Dense, labels []int) error {
	nSamples := len(labels)
	lr.coef_ = make([][]float64, lr.nClasses_)
	lr.intercept_ = make([]float64, lr.nClasses_)
	lr.nIter_ = make([]int, lr.nClasses_)

	// per-class seeds keep "gd" deterministic regardless of scheduling
	seeds := make([]int64, lr.nClasses_)
	for k := range seeds {
		seeds[k] = lr.rand.Int63()
	}

	return parallel.ForEach(lr.nClasses_, 1, func(k int) error {
		yBinary := make([]float64, nSamples)
		for i, c := range labels {
			if c == k {
				yBinary[i] = 1
			}
		}
		sub := &LogisticRegression{
			penalty: lr.penalty, C: lr.C, fitIntercept: lr.fitIntercept,
			solver: lr.solver, maxIter: lr.maxIter, tol: lr.tol,
			coef_: [][]float64{nil}, intercept_: []float64{0}, nIter_: []int{0},
			rand: rand.New(rand.NewSource(seeds[k])), logger: lr.logger,
		}
		if err := sub.fitBinaryProblem(X, yBinary, 0); err != nil {
			return errors.Wrapf(err, "failed to fit class %d", lr.classes_[k])
		}
		lr.coef_[k] = sub.coef_[0]
		lr.intercept_[k] = sub.intercept_[0]
		lr.nIter_[k] = sub.nIter_[0]
		return nil
	})
}

// fitBinaryProblem fits weights for row idx of coef_ against 0/1 targets.
// Parameters are laid out as [w_0 .. w_{d-1}, b].
func (lr *LogisticRegression) fitBinaryProblem(X *mat.Dense, yBinary []float64, idx int) error {
	nSamples, nFeatures := X.Dims()
	alpha := lr.penaltyScale(nSamples)
	z := mat.NewVecDense(nSamples, nil)
	resid := mat.NewVecDense(nSamples, nil)

	objective := func(grad, params []float64) float64 {
		w := mat.NewVecDense(nFeatures, params[:nFeatures])
		b := 0.0
		if lr.fitIntercept {
			b = params[nFeatures]
		}
		z.MulVec(X, w)
		loss := 0.0
		for i := 0; i < nSamples; i++ {
			zi := z.AtVec(i) + b
			loss += softplus(zi) - yBinary[i]*zi
			resid.SetVec(i, sigmoid(zi)-yBinary[i])
		}
		n := float64(nSamples)
		loss = loss/n + 0.5*alpha*floats.Dot(params[:nFeatures], params[:nFeatures])

		if grad != nil {
			gw := mat.NewVecDense(nFeatures, grad[:nFeatures])
			gw.MulVec(X.T(), resid)
			gw.ScaleVec(1/n, gw)
			floats.AddScaled(grad[:nFeatures], alpha, params[:nFeatures])
			grad[nFeatures] = 0
			if lr.fitIntercept {
				grad[nFeatures] = mat.Sum(resid) / n
			}
		}
		return loss
	}

	params, iters, err := lr.minimize(objective, nFeatures+1)
	if err != nil {
		return err
	}
	lr.coef_[idx] = params[:nFeatures]
	lr.intercept_[idx] = 0
	if lr.fitIntercept {
		lr.intercept_[idx] = params[nFeatures]
	}
	lr.nIter_[idx] = iters
	return nil
}

// fitMultinomial fits softmax regression over all classes jointly.
// Parameters are laid out class by class as [w_k0 .. w_k{d-1}, b_k].
func (lr *LogisticRegression) fitMultinomial(X *mat.Dense, labels []int) error {
	nSamples, nFeatures := X.Dims()
	K := lr.nClasses_
	stride := nFeatures + 1
	alpha := lr.penaltyScale(nSamples)

	W := mat.NewDense(nFeatures, K, nil)
	scores := mat.NewDense(nSamples, K, nil)
	resid := mat.NewDense(nSamples, K, nil)
	gradW := mat.NewDense(nFeatures, K, nil)

	objective := func(grad, params []float64) float64 {
		for k := 0; k < K; k++ {
			for j := 0; j < nFeatures; j++ {
				W.Set(j, k, params[k*stride+j])
			}
		}
		scores.Mul(X, W)

		loss := 0.0
		row := make([]float64, K)
		for i := 0; i < nSamples; i++ {
			for k := 0; k < K; k++ {
				row[k] = scores.At(i, k)
				if lr.fitIntercept {
					row[k] += params[k*stride+nFeatures]
				}
			}
			lse := floats.LogSumExp(row)
			loss += lse - row[labels[i]]
			for k := 0; k < K; k++ {
				p := math.Exp(row[k] - lse)
				if k == labels[i] {
					p -= 1
				}
				resid.Set(i, k, p)
			}
		}
		n := float64(nSamples)
		reg := 0.0
		for k := 0; k < K; k++ {
			wk := params[k*stride : k*stride+nFeatures]
			reg += floats.Dot(wk, wk)
		}
		loss = loss/n + 0.5*alpha*reg

		if grad != nil {
			gradW.Mul(X.T(), resid)
			for k := 0; k < K; k++ {
				for j := 0; j < nFeatures; j++ {
					grad[k*stride+j] = gradW.At(j, k)/n + alpha*params[k*stride+j]
				}
				grad[k*stride+nFeatures] = 0
				if lr.fitIntercept {
					grad[k*stride+nFeatures] = mat.Sum(resid.ColView(k)) / n
				}
			}
		}
		return loss
	}

	params, iters, err := lr.minimize(objective, K*stride)
	if err != nil {
		return err
	}
	lr.coef_ = make([][]float64, K)
	lr.intercept_ = make([]float64, K)
	for k := 0; k < K; k++ {
		lr.coef_[k] = append([]float64(nil), params[k*stride:k*stride+nFeatures]...)
		if lr.fitIntercept {
			lr.intercept_[k] = params[k*stride+nFeatures]
		}
	}
	lr.nIter_ = []int{iters}
	return nil
}

// minimize runs the configured solver on a combined loss/gradient function.
// A ConvergenceWarning is emitted when max_iter is reached.
func (lr *LogisticRegression) minimize(objective func(grad, params []float64) float64, dim int) ([]float64, int, error) {
	if lr.solver == "gd" {
		return lr.gradientDescent(objective, dim)
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 { return objective(nil, x) },
		Grad: func(grad, x []float64) { objective(grad, x) },
	}
	settings := &optimize.Settings{
		MajorIterations:   lr.maxIter,
		GradientThreshold: lr.tol,
	}
	result, err := optimize.Minimize(problem, make([]float64, dim), settings, &optimize.LBFGS{})
	if result == nil {
		return nil, 0, errors.NewModelError("LogisticRegression.Fit", "optimization failed", err)
	}
	iters := result.Stats.MajorIterations
	if result.Status == optimize.IterationLimit {
		errors.Warn(errors.NewConvergenceWarning("LogisticRegression", iters, ""))
	} else if err != nil {
		// line search stalls near the optimum are reported as errors; the
		// location reached is still the best one found
		lr.logger.Debug("Optimizer stopped early", log.IterationKey, iters, "reason", err.Error())
	}
	if err := errors.CheckNumericalStability("LogisticRegression.Fit", result.X, iters); err != nil {
		return nil, iters, err
	}
	return result.X, iters, nil
}

// gradientDescent is full-batch gradient descent with a decaying learning rate
// and a small random initialisation.
func (lr *LogisticRegression) gradientDescent(objective func(grad, params []float64) float64, dim int) ([]float64, int, error) {
	params := make([]float64, dim)
	for i := range params {
		params[i] = lr.rand.NormFloat64() * 0.01
	}
	grad := make([]float64, dim)

	const baseLearningRate = 1.0
	iter := 0
	converged := false
	for iter < lr.maxIter {
		objective(grad, params)
		learningRate := baseLearningRate / (1.0 + 0.1*float64(iter))
		floats.AddScaled(params, -learningRate, grad)
		iter++
		if floats.Norm(grad, math.Inf(1)) < lr.tol {
			converged = true
			break
		}
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning("LogisticRegression", iter, ""))
	}
	if err := errors.CheckNumericalStability("LogisticRegression.Fit", params, iter); err != nil {
		return nil, iter, err
	}
	return params, iter, nil
}

// decisionFunction returns the linear scores, one column per coef_ row
func (lr *LogisticRegression) decisionFunction(X mat.Matrix) (*mat.Dense, error) {
	nSamples, nFeatures := X.Dims()
	if nFeatures != lr.nFeatures_ {
		return nil, errors.NewDimensionError("LogisticRegression.Predict", lr.nFeatures_, nFeatures, 1)
	}
	W := mat.NewDense(nFeatures, len(lr.coef_), nil)
	for k, w := range lr.coef_ {
		W.SetCol(k, w)
	}
	scores := mat.NewDense(nSamples, len(lr.coef_), nil)
	scores.Mul(X, W)
	scores.Apply(func(_, k int, v float64) float64 { return v + lr.intercept_[k] }, scores)
	return scores, nil
}

// Predict makes predictions for input data
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.state.RequireFitted("LogisticRegression", "Predict"); err != nil {
		return nil, err
	}
	scores, err := lr.decisionFunction(X)
	if err != nil {
		return nil, err
	}

	nSamples, _ := X.Dims()
	predictions := mat.NewDense(nSamples, 1, nil)
	for i := 0; i < nSamples; i++ {
		if lr.nClasses_ == 2 {
			k := 0
			if scores.At(i, 0) > 0 {
				k = 1
			}
			predictions.Set(i, 0, float64(lr.classes_[k]))
			continue
		}
		predictions.Set(i, 0, float64(lr.classes_[floats.MaxIdx(scores.RawRowView(i))]))
	}
	return predictions, nil
}

// PredictProba returns probability estimates for each class
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.state.RequireFitted("LogisticRegression", "PredictProba"); err != nil {
		return nil, err
	}
	scores, err := lr.decisionFunction(X)
	if err != nil {
		return nil, err
	}

	nSamples, _ := X.Dims()
	probas := mat.NewDense(nSamples, lr.nClasses_, nil)
	for i := 0; i < nSamples; i++ {
		row := scores.RawRowView(i)
		switch {
		case lr.nClasses_ == 2:
			p1 := sigmoid(row[0])
			probas.Set(i, 0, 1-p1)
			probas.Set(i, 1, p1)
		case lr.multiClass == "ovr":
			out := probas.RawRowView(i)
			for k, v := range row {
				out[k] = sigmoid(v)
			}
			floats.Scale(1/floats.Sum(out), out)
		default:
			lse := floats.LogSumExp(row)
			out := probas.RawRowView(i)
			for k, v := range row {
				out[k] = math.Exp(v - lse)
			}
		}
	}
	return probas, nil
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	pred, err := lr.Predict(X)
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
func (lr *LogisticRegression) IsFitted() bool {
	return lr.state.IsFitted()
}

// Classes returns the sorted class labels seen during Fit
func (lr *LogisticRegression) Classes() []int {
	return append([]int(nil), lr.classes_...)
}

// NIter returns the number of optimizer iterations per fitted problem
func (lr *LogisticRegression) NIter() []int {
	return append([]int(nil), lr.nIter_...)
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"random_state":  lr.randomState,
		"solver":        lr.solver,
		"max_iter":      lr.maxIter,
		"multi_class":   lr.multiClass,
		"tol":           lr.tol,
	}
}

// SetParams sets the model hyperparameters. Values are validated at Fit.
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "penalty":
			lr.penalty, ok = value.(string)
		case "C":
			lr.C, ok = value.(float64)
		case "fit_intercept":
			lr.fitIntercept, ok = value.(bool)
		case "random_state":
			lr.randomState, ok = value.(int64)
		case "solver":
			lr.solver, ok = value.(string)
		case "max_iter":
			lr.maxIter, ok = value.(int)
		case "multi_class":
			lr.multiClass, ok = value.(string)
		case "tol":
			lr.tol, ok = value.(float64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, "wrong type", value)
		}
	}
	return nil
}

// sigmoid computes the sigmoid function
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1.0 / (1.0 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1.0 + e)
}

// softplus computes log(1 + exp(z)) without overflow
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
