package eval

import (
	"sort"

	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/geometry"
)

// TestResult is one operating point of a ranked curve: counts over all
// detections scoring at least Threshold.
type TestResult struct {
	Threshold float64 `json:"threshold"`
	TP        int     `json:"tp"`
	FP        int     `json:"fp"`
	NP        int     `json:"np"` // TP + FP
}

// Record is one scored detection labelled as true or false positive.
type Record struct {
	Score float64
	TP    bool
}

// Curve is the ranked result table of one model, sorted by descending
// threshold.
type Curve struct {
	Rows       []TestResult `json:"rows"`
	NumObjects int          `json:"num_objects"`
}

// BuildCurve sweeps every distinct score of records as a threshold.
func BuildCurve(records []Record, numObjects int) Curve {
	sorted := append([]Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	c := Curve{NumObjects: numObjects}
	tp, fp := 0, 0
	for i, r := range sorted {
		if r.TP {
			tp++
		} else {
			fp++
		}
		if i+1 < len(sorted) && sorted[i+1].Score == r.Score {
			continue
		}
		c.Rows = append(c.Rows, TestResult{Threshold: r.Score, TP: tp, FP: fp, NP: tp + fp})
	}
	return c
}

// Precision of row i.
func (c Curve) Precision(i int) float64 {
	r := c.Rows[i]
	if r.NP == 0 {
		return 0
	}
	return float64(r.TP) / float64(r.NP)
}

// Recall of row i.
func (c Curve) Recall(i int) float64 {
	if c.NumObjects == 0 {
		return 0
	}
	return float64(c.Rows[i].TP) / float64(c.NumObjects)
}

// FMeasure returns F_b = (1+b²)PR / (b²P + R) of row i.
func (c Curve) FMeasure(i int, b float64) float64 {
	return fMeasure(c.Precision(i), c.Recall(i), b)
}

func fMeasure(p, r, b float64) float64 {
	b2 := b * b
	if b2*p+r == 0 {
		return 0
	}
	return (1 + b2) * p * r / (b2*p + r)
}

// MaxFMeasure returns the best F_b and its threshold. Ties go to the
// first row, i.e. the highest threshold. An empty curve yields (0, 0).
func (c Curve) MaxFMeasure(b float64) (f, threshold float64) {
	best := -1
	for i := range c.Rows {
		if v := c.FMeasure(i, b); best < 0 || v > f {
			best, f = i, v
		}
	}
	if best < 0 {
		return 0, 0
	}
	return f, c.Rows[best].Threshold
}

// FMeasureAt returns F_b of the row with the lowest threshold not below
// threshold, or 0 if every row is below it.
func (c Curve) FMeasureAt(threshold, b float64) float64 {
	i := sort.Search(len(c.Rows), func(i int) bool { return c.Rows[i].Threshold < threshold })
	if i == 0 {
		return 0
	}
	return c.FMeasure(i-1, b)
}

// AveragePrecision integrates the precision-recall staircase with
// precision made monotone from the right (all points interpolation).
func (c Curve) AveragePrecision() float64 {
	n := len(c.Rows)
	if n == 0 || c.NumObjects == 0 {
		return 0
	}
	prec := make([]float64, n)
	for i := range prec {
		prec[i] = c.Precision(i)
	}
	for i := n - 2; i >= 0; i-- {
		prec[i] = max(prec[i], prec[i+1])
	}
	var ap, prevRecall float64
	for i := range c.Rows {
		r := c.Recall(i)
		ap += (r - prevRecall) * prec[i]
		prevRecall = r
	}
	return ap
}

// Match labels dets, which must be sorted best first, against the ground
// truth boxes. Each detection claims the unmatched truth box it overlaps
// most, if that overlap reaches overlap. Unclaimed detections overlapping
// an ignore box by at least overlap are dropped; the rest are false
// positives.
func Match(dets []detect.Detection, truth, ignore []geometry.Rectangle, overlap float64) []Record {
	matched := make([]bool, len(truth))
	records := make([]Record, 0, len(dets))
	for _, d := range dets {
		best, bestIoU := -1, overlap
		for i, t := range truth {
			if matched[i] {
				continue
			}
			if iou := d.Box.Overlap(t); iou >= bestIoU && (best < 0 || iou > bestIoU) {
				best, bestIoU = i, iou
			}
		}
		if best >= 0 {
			matched[best] = true
			records = append(records, Record{Score: d.Score, TP: true})
			continue
		}
		if overlapsAny(d.Box, ignore, overlap) {
			continue
		}
		records = append(records, Record{Score: d.Score})
	}
	return records
}

func overlapsAny(b geometry.Rectangle, boxes []geometry.Rectangle, overlap float64) bool {
	for _, o := range boxes {
		if b.Overlap(o) >= overlap {
			return true
		}
	}
	return false
}
