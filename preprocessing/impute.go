package preprocessing

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/pipelab/core/model"
	"github.com/YuminosukeSato/pipelab/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// SimpleImputer は欠損値(NaN)を列ごとの統計量で置き換える
// 現在サポートする strategy は "mean" と "median"
// 全て欠損の列は 0 で埋める
type SimpleImputer struct {
	model.BaseEstimator

	// Strategy は補完方法
	Strategy string

	// Statistics は各列の補完値
	Statistics []float64

	// MissingCounts は学習データの各列の欠損数
	MissingCounts []int

	NFeatures int
}

// NewSimpleImputer は新しいSimpleImputerを作成する
func NewSimpleImputer(strategy string) *SimpleImputer {
	return &SimpleImputer{Strategy: strategy}
}

// Fit は各列の非欠損値から補完値を計算する
func (s *SimpleImputer) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("SimpleImputer.Fit", "empty data", errors.ErrEmptyData)
	}
	if s.Strategy != "mean" && s.Strategy != "median" {
		return errors.NewValidationError("strategy", "must be 'mean' or 'median'", s.Strategy)
	}

	stats := make([]float64, c)
	missing := make([]int, c)
	for j := 0; j < c; j++ {
		present := make([]float64, 0, r)
		for i := 0; i < r; i++ {
			v := X.At(i, j)
			if math.IsNaN(v) {
				missing[j]++
				continue
			}
			present = append(present, v)
		}
		if len(present) == 0 {
			continue
		}
		if s.Strategy == "median" {
			stats[j] = Quantile(present, 0.5)
		} else {
			stats[j] = stat.Mean(present, nil)
		}
	}

	s.Statistics, s.MissingCounts, s.NFeatures = stats, missing, c
	s.SetFitted()
	return nil
}

// Transform は NaN を補完値で置き換えた新しい行列を返す
func (s *SimpleImputer) Transform(X mat.Matrix) (mat.Matrix, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("SimpleImputer", "Transform")
	}
	r, c := X.Dims()
	if c != s.NFeatures {
		return nil, errors.NewDimensionError("SimpleImputer.Transform", s.NFeatures, c, 1)
	}
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, j int, v float64) float64 {
		if math.IsNaN(v) {
			return s.Statistics[j]
		}
		return v
	}, X)
	return out, nil
}

// FitTransform は学習と変換を同時に行う
func (s *SimpleImputer) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// TotalMissing は学習データの欠損セル数の合計
func (s *SimpleImputer) TotalMissing() int {
	total := 0
	for _, n := range s.MissingCounts {
		total += n
	}
	return total
}

func (s *SimpleImputer) String() string {
	return fmt.Sprintf("SimpleImputer(strategy=%s)", s.Strategy)
}
