// Package plot renders evaluation charts with gonum/plot.
package plot

import (
	"bytes"
	"encoding/base64"
	"image/color"
	"strconv"
	"time"

	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/pipelab/pkg/errors"
	"github.com/YuminosukeSato/pipelab/pkg/log"
)

// Default figure size, matching an 8x6 inch matplotlib figure.
const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 6 * vg.Inch
)

// ConfusionOptions controls the rendered heatmap.
type ConfusionOptions struct {
	Title  string
	XLabel string
	YLabel string
	Width  vg.Length
	Height vg.Length
}

// Option mutates ConfusionOptions.
type Option func(*ConfusionOptions)

// WithSize sets the figure size in inches.
func WithSize(widthInches, heightInches float64) Option {
	return func(o *ConfusionOptions) {
		if widthInches > 0 {
			o.Width = vg.Length(widthInches) * vg.Inch
		}
		if heightInches > 0 {
			o.Height = vg.Length(heightInches) * vg.Inch
		}
	}
}

// WithAxisLabels overrides the axis titles.
func WithAxisLabels(x, y string) Option {
	return func(o *ConfusionOptions) {
		o.XLabel = x
		o.YLabel = y
	}
}

// confusionGrid adapts a confusion matrix to plotter.GridXYZ.
// Row 0 of the matrix is drawn at the top, as in a seaborn heatmap.
type confusionGrid struct {
	cm [][]int
}

func (g confusionGrid) Dims() (c, r int) { return len(g.cm), len(g.cm) }
func (g confusionGrid) Z(c, r int) float64 {
	return float64(g.cm[len(g.cm)-1-r][c])
}
func (g confusionGrid) X(c int) float64 { return float64(c) }
func (g confusionGrid) Y(r int) float64 { return float64(r) }

// ConfusionMatrixPNG draws cm as an annotated heatmap and returns PNG bytes.
// cm[i][j] counts samples with true label labels[i] predicted as labels[j].
func ConfusionMatrixPNG(cm [][]int, labels []int, title string, opts ...Option) ([]byte, error) {
	n := len(cm)
	if n == 0 {
		return nil, errors.NewValueError("ConfusionMatrixPNG", "confusion matrix is empty")
	}
	if len(labels) != n {
		return nil, errors.NewDimensionError("ConfusionMatrixPNG", n, len(labels), 0)
	}
	maxCount := 0
	for _, row := range cm {
		if len(row) != n {
			return nil, errors.NewDimensionError("ConfusionMatrixPNG", n, len(row), 1)
		}
		for _, v := range row {
			if v > maxCount {
				maxCount = v
			}
		}
	}

	o := ConfusionOptions{
		Title:  title,
		XLabel: "Predicted Label",
		YLabel: "True Label",
		Width:  DefaultWidth,
		Height: DefaultHeight,
	}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	p := gplot.New()
	p.Title.Text = o.Title
	p.X.Label.Text = o.XLabel
	p.Y.Label.Text = o.YLabel
	p.X.Min, p.X.Max = -0.5, float64(n)-0.5
	p.Y.Min, p.Y.Max = -0.5, float64(n)-0.5

	grid := confusionGrid{cm: cm}
	hm := plotter.NewHeatMap(grid, Blues(256))
	hm.Min, hm.Max = 0, float64(maxCount)
	p.Add(hm)

	xTicks := make([]gplot.Tick, n)
	yTicks := make([]gplot.Tick, n)
	for i, l := range labels {
		xTicks[i] = gplot.Tick{Value: float64(i), Label: strconv.Itoa(l)}
		yTicks[i] = gplot.Tick{Value: float64(n - 1 - i), Label: strconv.Itoa(l)}
	}
	p.X.Tick.Marker = gplot.ConstantTicks(xTicks)
	p.Y.Tick.Marker = gplot.ConstantTicks(yTicks)

	annotations, err := annotate(cm, maxCount)
	if err != nil {
		return nil, errors.Wrap(err, "failed to annotate confusion matrix")
	}
	p.Add(annotations)

	w, err := p.WriterTo(o.Width, o.Height, "png")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create png canvas")
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to encode png")
	}

	log.GetLoggerWithName("plot").Debug("Confusion matrix rendered",
		log.ClassesKey, n,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// ConfusionMatrixBase64 is ConfusionMatrixPNG encoded with standard base64.
func ConfusionMatrixBase64(cm [][]int, labels []int, title string, opts ...Option) (string, error) {
	png, err := ConfusionMatrixPNG(cm, labels, title, opts...)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// annotate places each count at the center of its cell. Dark cells get white text.
func annotate(cm [][]int, maxCount int) (*plotter.Labels, error) {
	n := len(cm)
	xyl := plotter.XYLabels{
		XYs:    make(plotter.XYs, 0, n*n),
		Labels: make([]string, 0, n*n),
	}
	colors := make([]color.Color, 0, n*n)
	for i, row := range cm {
		for j, v := range row {
			xyl.XYs = append(xyl.XYs, plotter.XY{X: float64(j), Y: float64(n - 1 - i)})
			xyl.Labels = append(xyl.Labels, strconv.Itoa(v))
			if maxCount > 0 && float64(v) > float64(maxCount)/2 {
				colors = append(colors, color.White)
			} else {
				colors = append(colors, color.Black)
			}
		}
	}
	labels, err := plotter.NewLabels(xyl)
	if err != nil {
		return nil, err
	}
	for i := range labels.TextStyle {
		labels.TextStyle[i].XAlign = draw.XCenter
		labels.TextStyle[i].YAlign = draw.YCenter
		labels.TextStyle[i].Color = colors[i]
	}
	return labels, nil
}
