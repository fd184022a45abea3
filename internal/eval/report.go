package eval

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteReport renders an HTML page with the precision-recall curve and the
// F-measure over threshold of every model.
func (e *Evaluator) WriteReport(w io.Writer) error {
	if !e.HasResults() {
		return ErrNoResults
	}
	pr := charts.NewLine()
	pr.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Evaluation", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Precision / Recall", Subtitle: fmt.Sprintf("%d positives, %d negatives", len(e.positives), len(e.negatives))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: 0, Max: 1, Name: "Recall", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: 0, Max: 1, Name: "Precision", NameLocation: "middle", NameGap: 30}),
	)
	fm := charts.NewLine()
	fm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "F-measure by threshold"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Threshold", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: 0, Max: 1, Name: "F-measure", NameLocation: "middle", NameGap: 30}),
	)

	for i, c := range e.results {
		prData := make([]opts.LineData, len(c.Rows))
		fmData := make([]opts.LineData, len(c.Rows))
		for r, row := range c.Rows {
			prData[r] = opts.LineData{Value: []interface{}{c.Recall(r), c.Precision(r)}}
			fmData[r] = opts.LineData{Value: []interface{}{row.Threshold, c.FMeasure(r, 1)}}
		}
		name := e.className(i)
		pr.AddSeries(name, prData, charts.WithLineChartOpts(opts.LineChart{Step: "end"}))
		fm.AddSeries(name, fmData)
	}

	page := components.NewPage()
	page.AddCharts(pr, fm)
	return page.Render(w)
}
