package preprocessing

import (
	"strings"

	"github.com/YuminosukeSato/pipelab/core/model"
	"gonum.org/v1/gonum/mat"
)

// ScalingMode は特徴量スケーリングの種類
type ScalingMode int

const (
	// ModeNone はスケーリングを行わない
	ModeNone ScalingMode = iota
	// ModeStandardize は StandardScaler による標準化
	ModeStandardize
	// ModeNormalize は MinMaxScaler による [0,1] 正規化
	ModeNormalize
)

// ParseScalingMode はリクエストの文字列をScalingModeに変換する
// 未知の値(空文字や "none" を含む)は ModeNone になる
func ParseScalingMode(s string) ScalingMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standardization", "standardize":
		return ModeStandardize
	case "normalization", "normalize":
		return ModeNormalize
	default:
		return ModeNone
	}
}

func (m ScalingMode) String() string {
	switch m {
	case ModeStandardize:
		return "standardization"
	case ModeNormalize:
		return "normalization"
	default:
		return "none"
	}
}

// Scaler は名前を持つ特徴量変換器
type Scaler interface {
	model.Transformer
	Name() string
}

// NewScaler はモードに対応するスケーラーを返す。ModeNone では nil
func NewScaler(mode ScalingMode) Scaler {
	switch mode {
	case ModeStandardize:
		return NewStandardScalerDefault()
	case ModeNormalize:
		return NewMinMaxScalerDefault()
	default:
		return nil
	}
}

// ScaleFeatures はモードに従って X を新たにfitしたスケーラーで変換する
// 戻り値の名前は "StandardScaler" / "MinMaxScaler"、スケーリングなしの場合は空文字
// 入力は変更されない
func ScaleFeatures(X mat.Matrix, mode ScalingMode) (*mat.Dense, string, error) {
	scaler := NewScaler(mode)
	if scaler == nil {
		return mat.DenseCopyOf(X), "", nil
	}
	out, err := scaler.FitTransform(X)
	if err != nil {
		return nil, "", err
	}
	return mat.DenseCopyOf(out), scaler.Name(), nil
}
