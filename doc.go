// Package pipelab is an interactive machine learning pipeline service for
// small tabular datasets.
//
// A client uploads one CSV or Excel file, chooses a target column and a
// feature scaling mode, splits the rows into train and test sets and trains
// a classifier. Each step is a separate HTTP call against the same
// in-process state, and the service answers with accuracy, a per-class
// classification report and a rendered confusion matrix.
//
// # Layout
//
//   - cmd/pipelab: the CLI (serve, config, version)
//   - internal/api: chi router and JSON handlers
//   - internal/pipeline: the stateful upload, preprocess, split and train workflow
//   - internal/dataset: CSV/XLS/XLSX parsing and column type inference
//   - internal/config: viper configuration
//   - preprocessing, model_selection, metrics, sklearn/...: the numeric building blocks
//   - plot: confusion matrix rendering with gonum/plot
//   - pkg/log, pkg/errors: zerolog logging and cockroachdb/errors based errors
//
// # Quick Start
//
//	pipelab config init
//	pipelab serve --addr :5000
//
//	curl -F file=@iris.csv localhost:5000/api/upload
//	curl -d '{"type":"standardization","target_column":"species"}' localhost:5000/api/preprocess
//	curl -d '{"test_size":0.2}' localhost:5000/api/split
//	curl -d '{"model_type":"logistic_regression"}' localhost:5000/api/train
package pipelab
