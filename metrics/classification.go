package metrics

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/pipelab/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	if yTrue == nil || yPred == nil || yTrue.Len() == 0 {
		return 0, errors.NewValueError("Accuracy", "empty vector")
	}
	n := yTrue.Len()
	if yPred.Len() != n {
		return 0, errors.NewDimensionError("Accuracy", n, yPred.Len(), 0)
	}

	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ClassificationError は誤分類率 (1 - 正解率) を計算する
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

// AccuracyScore は整数ラベルの正解率を計算する
func AccuracyScore(yTrue, yPred []int) (float64, error) {
	if err := checkLabels("AccuracyScore", yTrue, yPred); err != nil {
		return 0, err
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// UniqueLabels は yTrue と yPred に現れるラベルの和集合を昇順で返す
func UniqueLabels(yTrue, yPred []int) []int {
	seen := make(map[int]struct{})
	for _, v := range yTrue {
		seen[v] = struct{}{}
	}
	for _, v := range yPred {
		seen[v] = struct{}{}
	}
	labels := make([]int, 0, len(seen))
	for v := range seen {
		labels = append(labels, v)
	}
	sort.Ints(labels)
	return labels
}

// ConfusionMatrix は混同行列を計算する
// 行が真のラベル、列が予測ラベルで、順序は返される labels に従う
func ConfusionMatrix(yTrue, yPred []int) (cm [][]int, labels []int, err error) {
	if err := checkLabels("ConfusionMatrix", yTrue, yPred); err != nil {
		return nil, nil, err
	}
	labels = UniqueLabels(yTrue, yPred)
	index := make(map[int]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	cm = make([][]int, len(labels))
	for i := range cm {
		cm[i] = make([]int, len(labels))
	}
	for i := range yTrue {
		cm[index[yTrue[i]]][index[yPred[i]]]++
	}
	return cm, labels, nil
}

// ClassMetrics は1クラス(または平均)の評価値
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// ClassificationReport はscikit-learnの classification_report(output_dict=True) と同じ構造を持つ
// 分母が0になる値は0とする
type ClassificationReport struct {
	Labels      []int
	PerClass    map[int]ClassMetrics
	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
}

// NewClassificationReport は評価レポートを作成する
func NewClassificationReport(yTrue, yPred []int) (*ClassificationReport, error) {
	cm, labels, err := ConfusionMatrix(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	acc, err := AccuracyScore(yTrue, yPred)
	if err != nil {
		return nil, err
	}

	report := &ClassificationReport{
		Labels:   labels,
		PerClass: make(map[int]ClassMetrics, len(labels)),
		Accuracy: acc,
	}

	var undefinedPrecision, undefinedRecall bool
	total := len(yTrue)
	for k, label := range labels {
		tp := cm[k][k]
		predicted, support := 0, 0
		for i := range labels {
			predicted += cm[i][k]
			support += cm[k][i]
		}

		precision := 0.0
		if predicted > 0 {
			precision = float64(tp) / float64(predicted)
		} else {
			undefinedPrecision = true
		}
		recall := 0.0
		if support > 0 {
			recall = float64(tp) / float64(support)
		} else {
			undefinedRecall = true
		}
		f1 := errors.SafeDivide(2*precision*recall, precision+recall)

		m := ClassMetrics{Precision: precision, Recall: recall, F1Score: f1, Support: support}
		report.PerClass[label] = m

		n := float64(len(labels))
		report.MacroAvg.Precision += precision / n
		report.MacroAvg.Recall += recall / n
		report.MacroAvg.F1Score += f1 / n

		w := float64(support) / float64(total)
		report.WeightedAvg.Precision += precision * w
		report.WeightedAvg.Recall += recall * w
		report.WeightedAvg.F1Score += f1 * w
	}
	report.MacroAvg.Support = total
	report.WeightedAvg.Support = total

	if undefinedPrecision {
		errors.Warn(errors.NewUndefinedMetricWarning("precision", "no predicted samples for some labels", 0))
	}
	if undefinedRecall {
		errors.Warn(errors.NewUndefinedMetricWarning("recall", "no true samples for some labels", 0))
	}
	return report, nil
}

// MarshalJSON はラベルを昇順に、続けて "accuracy", "macro avg", "weighted avg" の順で出力する
func (r *ClassificationReport) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
	for _, l := range r.Labels {
		if err := write(strconv.Itoa(l), r.PerClass[l]); err != nil {
			return nil, err
		}
	}
	if err := write("accuracy", r.Accuracy); err != nil {
		return nil, err
	}
	if err := write("macro avg", r.MacroAvg); err != nil {
		return nil, err
	}
	if err := write("weighted avg", r.WeightedAvg); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func checkLabels(op string, yTrue, yPred []int) error {
	if len(yTrue) == 0 {
		return errors.NewValueError(op, "empty labels")
	}
	if len(yPred) != len(yTrue) {
		return errors.NewDimensionError(op, len(yTrue), len(yPred), 0)
	}
	return nil
}
