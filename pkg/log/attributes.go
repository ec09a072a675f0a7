// Package log defines standard attribute keys for pipeline and machine learning
// operations.
//
// Using these keys keeps log records filterable across the HTTP layer, the
// pipeline stages and the estimators. Keys follow a hierarchical naming
// convention (e.g. "model.name", "data.samples").

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of machine learning model.
	// Examples: "LogisticRegression", "StandardScaler", "DecisionTreeClassifier"
	ModelNameKey = "model.name"

	// OperationKey specifies the machine learning operation being performed.
	// Standard values: "fit", "predict", "transform", "fit_transform", "score"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component or package is performing the operation.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"
)

// Data Shape and Characteristics
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	ClassesKey  = "data.classes"
	DataTypeKey = "data.type"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// AccuracyKey records model accuracy for evaluation operations.
	AccuracyKey = "metrics.accuracy"

	// LossKey records loss value during training or evaluation.
	LossKey = "metrics.loss"

	// IterationKey records the current iteration number during iterative processes.
	IterationKey = "training.iteration"
)

// Prediction Context
const (
	PredsKey = "preds.count"
)

// Error and Warning Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	// Examples: "DIMENSION_MISMATCH", "NOT_FITTED", "CONVERGENCE_FAILURE"
	ErrorCodeKey = "error.code"

	// ErrorTypeKey categorizes the type of error encountered.
	// Examples: "InputError", "InternalError"
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	// Populated automatically when an error is logged.
	StacktraceKey = "error.stacktrace"

	// SuggestionKey provides helpful suggestions for resolving issues.
	SuggestionKey = "error.suggestion"
)

// Configuration
const (
	// HyperParamsKey contains model hyperparameters as a structured object.
	HyperParamsKey = "model.hyperparams"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Pipeline and Transport
const (
	// StageKey names the pipeline stage: "upload", "preprocess", "split", "train", "reset".
	StageKey = "pipeline.stage"

	// DatasetIDKey identifies the dataset currently held by the pipeline.
	DatasetIDKey = "dataset.id"

	// FilenameKey is the name of an uploaded file.
	FilenameKey = "dataset.filename"

	// ScalingKey records the preprocessing scaler applied to the features.
	ScalingKey = "pipeline.scaling"

	// TargetColumnKey is the column used as the classification target.
	TargetColumnKey = "pipeline.target_column"

	// RequestIDKey correlates log records with one HTTP request.
	RequestIDKey = "http.request_id"

	// MethodKey, PathKey and StatusKey describe an HTTP exchange.
	MethodKey = "http.method"
	PathKey   = "http.path"
	StatusKey = "http.status"
)

// Standard attribute values.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"

	PhaseTraining      = "training"
	PhaseTesting       = "testing"
	PhasePreprocessing = "preprocessing"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorInvalidInput      = "INVALID_INPUT"
	ErrorConvergence       = "CONVERGENCE_FAILURE"
	ErrorInternal          = "INTERNAL"
)
