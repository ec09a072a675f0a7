package preprocessing

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/pipelab/core/model"
	"github.com/YuminosukeSato/pipelab/pkg/errors"
)

// LabelEncoder は文字列ラベルを 0..k-1 の整数に変換する
// クラスは辞書順にソートされる
type LabelEncoder struct {
	model.BaseEstimator

	// Classes はソート済みのクラス
	Classes []string

	index map[string]int
}

// NewLabelEncoder は新しいLabelEncoderを作成する
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{}
}

// Fit はラベルの集合を学習する
func (e *LabelEncoder) Fit(labels []string) error {
	if len(labels) == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	seen := make(map[string]struct{}, len(labels))
	classes := make([]string, 0)
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		classes = append(classes, l)
	}
	sort.Strings(classes)

	e.Classes = classes
	e.index = make(map[string]int, len(classes))
	for i, c := range classes {
		e.index[c] = i
	}
	e.SetFitted()
	return nil
}

// Transform はラベルを整数コードに変換する
func (e *LabelEncoder) Transform(labels []string) ([]int, error) {
	if !e.IsFitted() {
		return nil, errors.NewNotFittedError("LabelEncoder", "Transform")
	}
	codes := make([]int, len(labels))
	for i, l := range labels {
		code, ok := e.index[l]
		if !ok {
			return nil, errors.NewValueError("LabelEncoder.Transform", "y contains previously unseen label "+l)
		}
		codes[i] = code
	}
	return codes, nil
}

// FitTransform は学習と変換を同時に行う
func (e *LabelEncoder) FitTransform(labels []string) ([]int, error) {
	if err := e.Fit(labels); err != nil {
		return nil, err
	}
	return e.Transform(labels)
}

// InverseTransform は整数コードを元のラベルに戻す
func (e *LabelEncoder) InverseTransform(codes []int) ([]string, error) {
	if !e.IsFitted() {
		return nil, errors.NewNotFittedError("LabelEncoder", "InverseTransform")
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		if c < 0 || c >= len(e.Classes) {
			return nil, errors.NewValueError("LabelEncoder.InverseTransform", "code out of range")
		}
		out[i] = e.Classes[c]
	}
	return out, nil
}

// QuantileDiscretizer は連続値を分位点で区間に分け、区間番号をラベルとする
// 分位点は線形補間 (numpy の "linear" 定義) で計算し、重複する境界は取り除く
// 最初の区間は左端を含む [e0, e1]、以降は (e_{i}, e_{i+1}]
type QuantileDiscretizer struct {
	model.BaseEstimator

	// NQuantiles は分位数 (4 なら四分位)
	NQuantiles int

	// Edges は重複を除いた区間境界
	Edges []float64
}

// NewQuantileDiscretizer は新しいQuantileDiscretizerを作成する
func NewQuantileDiscretizer(nQuantiles int) *QuantileDiscretizer {
	return &QuantileDiscretizer{NQuantiles: nQuantiles}
}

// Fit は区間境界を計算する。境界が2つ未満の場合はエラー
func (q *QuantileDiscretizer) Fit(values []float64) error {
	if len(values) == 0 {
		return errors.NewModelError("QuantileDiscretizer.Fit", "empty data", errors.ErrEmptyData)
	}
	if q.NQuantiles < 1 {
		return errors.NewValidationError("n_quantiles", "must be at least 1", q.NQuantiles)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	edges := make([]float64, 0, q.NQuantiles+1)
	for i := 0; i <= q.NQuantiles; i++ {
		e := quantileSorted(sorted, float64(i)/float64(q.NQuantiles))
		if len(edges) > 0 && e == edges[len(edges)-1] {
			continue
		}
		edges = append(edges, e)
	}
	if len(edges) < 2 {
		return errors.NewValueError("QuantileDiscretizer.Fit", "bin edges must be unique; all values are identical")
	}

	q.Edges = edges
	q.SetFitted()
	return nil
}

// NBins は区間の数
func (q *QuantileDiscretizer) NBins() int {
	if len(q.Edges) < 2 {
		return 0
	}
	return len(q.Edges) - 1
}

// Transform は各値の区間番号を返す。範囲外の値は -1
func (q *QuantileDiscretizer) Transform(values []float64) ([]int, error) {
	if !q.IsFitted() {
		return nil, errors.NewNotFittedError("QuantileDiscretizer", "Transform")
	}
	out := make([]int, len(values))
	lo, hi := q.Edges[0], q.Edges[len(q.Edges)-1]
	for i, v := range values {
		switch {
		case math.IsNaN(v) || v < lo || v > hi:
			out[i] = -1
		case v == lo:
			out[i] = 0
		default:
			// 最初の e_k >= v を探す。v は (e_{k-1}, e_k] に入る
			out[i] = sort.SearchFloat64s(q.Edges, v) - 1
		}
	}
	return out, nil
}

// FitTransform は学習と変換を同時に行う
func (q *QuantileDiscretizer) FitTransform(values []float64) ([]int, error) {
	if err := q.Fit(values); err != nil {
		return nil, err
	}
	return q.Transform(values)
}

// Quantile は x の p 分位点を線形補間で返す (numpy.quantile の既定と同じ)
// x は変更されない
func Quantile(x []float64, p float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	return quantileSorted(sorted, p)
}

func quantileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo+1 >= n {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}
