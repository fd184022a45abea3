package eval

import (
	"bufio"
	"fmt"
	"io"
)

// DumpResults writes the curves of all models as tab separated tables.
func (e *Evaluator) DumpResults(w io.Writer) error {
	if !e.HasResults() {
		return ErrNoResults
	}
	bw := bufio.NewWriter(w)
	for i, c := range e.results {
		if i > 0 {
			fmt.Fprintln(bw)
		}
		fmt.Fprintf(bw, "# model %d\t%s\tobjects=%d\n", i, e.className(i), c.NumObjects)
		fmt.Fprintln(bw, "threshold\ttp\tfp\tnp\tprecision\trecall\tfmeasure")
		for r, row := range c.Rows {
			fmt.Fprintf(bw, "%g\t%d\t%d\t%d\t%.6f\t%.6f\t%.6f\n",
				row.Threshold, row.TP, row.FP, row.NP, c.Precision(r), c.Recall(r), c.FMeasure(r, 1))
		}
	}
	return bw.Flush()
}

func (e *Evaluator) className(i int) string {
	if i < e.detector.NumModels() {
		return e.detector.Class(i).Name
	}
	return fmt.Sprintf("model-%d", i)
}
