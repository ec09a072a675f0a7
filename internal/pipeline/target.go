package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/pipelab/internal/dataset"
	"github.com/YuminosukeSato/pipelab/pkg/errors"
	"github.com/YuminosukeSato/pipelab/preprocessing"
)

const (
	opPreprocess = "preprocessing data"

	// maxDiscreteClasses is the largest number of distinct integer values a
	// numeric target may have before it is treated as continuous.
	maxDiscreteClasses = 20
	targetQuantiles    = 4

	noteCategorical  = "Target was categorical text and was encoded to numeric classes."
	noteContinuous   = "Target appeared continuous; it was binned into quartiles for classification. Bins: %s"
	noteMissingRows  = "Dropped %d row(s) with a missing target value."
	msgSingleClass   = "Target column has only one class; cannot train a classifier."
	msgTargetMissing = "Target column not found"
)

// TargetResult is a classification target derived from a dataset column.
type TargetResult struct {
	// Labels holds one class code per kept row.
	Labels []int
	// Rows are the dataset row indices kept, in order.
	Rows []int
	Note string
}

// NormalizeTarget turns a column into integer class labels.
//
// Text columns are label-encoded in sorted order. Numeric columns with more
// than 20 distinct values, or any non-integer value, are cut into quartile
// bins. Other numeric columns are used as-is and must hold at least two
// classes. Rows whose target is missing are dropped.
func NormalizeTarget(ds *dataset.Dataset, column string) (*TargetResult, error) {
	col, ok := ds.Column(column)
	if !ok {
		return nil, errors.NewInputError(opPreprocess, errors.ErrTargetColumnNotFound, msgTargetMissing)
	}

	var notes []string
	rows := make([]int, 0, ds.NRows())
	for i := 0; i < ds.NRows(); i++ {
		if !col.Missing[i] {
			rows = append(rows, i)
		}
	}
	if dropped := ds.NRows() - len(rows); dropped > 0 {
		notes = append(notes, fmt.Sprintf(noteMissingRows, dropped))
	}
	if len(rows) == 0 {
		return nil, errors.NewInputError(opPreprocess, errors.ErrDegenerateTarget,
			"Target column has no values; cannot train a classifier.")
	}

	res := &TargetResult{Rows: rows}
	switch col.Type {
	case dataset.TypeObject:
		raw := make([]string, len(rows))
		for k, i := range rows {
			raw[k] = col.Raw[i]
		}
		labels, err := preprocessing.NewLabelEncoder().FitTransform(raw)
		if err != nil {
			return nil, errors.NewInternalError(opPreprocess, err)
		}
		res.Labels = labels
		notes = append(notes, noteCategorical)

	default:
		values := make([]float64, len(rows))
		for k, i := range rows {
			values[k] = col.Values[i]
		}
		unique, integerLike := describeNumeric(values)
		switch {
		case unique > maxDiscreteClasses || !integerLike:
			labels, edges, err := binQuartiles(values)
			if err != nil {
				return nil, err
			}
			res.Labels = labels
			notes = append(notes, fmt.Sprintf(noteContinuous, formatEdges(edges)))
		case unique <= 1:
			return nil, errors.NewInputError(opPreprocess, errors.ErrDegenerateTarget, msgSingleClass)
		default:
			res.Labels = make([]int, len(values))
			for k, v := range values {
				res.Labels[k] = int(v)
			}
		}
	}
	res.Note = strings.Join(notes, " ")
	return res, nil
}

func describeNumeric(values []float64) (unique int, integerLike bool) {
	seen := make(map[float64]struct{}, len(values))
	integerLike = true
	for _, v := range values {
		seen[v] = struct{}{}
		if math.Mod(v, 1) != 0 {
			integerLike = false
		}
	}
	return len(seen), integerLike
}

func binQuartiles(values []float64) ([]int, []float64, error) {
	q := preprocessing.NewQuantileDiscretizer(targetQuantiles)
	labels, err := q.FitTransform(values)
	if err != nil {
		var ve *errors.ValueError
		if errors.As(err, &ve) {
			return nil, nil, errors.WrapInputError(opPreprocess, errors.ErrDegenerateTarget, err, msgSingleClass)
		}
		return nil, nil, errors.NewInternalError(opPreprocess, err)
	}
	if q.NBins() < 2 {
		return nil, nil, errors.NewInputError(opPreprocess, errors.ErrDegenerateTarget, msgSingleClass)
	}
	return labels, q.Edges, nil
}

// formatEdges renders bin edges like a Python list of floats, e.g. [0.0, 2.5].
func formatEdges(edges []float64) string {
	parts := make([]string, len(edges))
	for i, e := range edges {
		parts[i] = pyFloat(e)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func pyFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	abs := math.Abs(v)
	if abs >= 1e16 || (abs != 0 && abs < 1e-4) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}
