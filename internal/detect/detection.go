package detect

import (
	"container/heap"
	"sort"

	"github.com/banshee-data/artos/internal/geometry"
)

// Detection is one scored window.
type Detection struct {
	ClassName  string             `json:"class_name"`
	SynsetID   string             `json:"synset_id,omitempty"`
	Score      float64            `json:"score"`
	Box        geometry.Rectangle `json:"box"`
	ClassIndex int                `json:"class_index"`
	ModelIndex int                `json:"model_index"` // component within the class mixture
}

// Better orders detections by descending score, then class name, then box
// position, then component.
func (d Detection) Better(o Detection) bool {
	if d.Score != o.Score {
		return d.Score > o.Score
	}
	if d.ClassName != o.ClassName {
		return d.ClassName < o.ClassName
	}
	if d.Box != o.Box {
		return d.Box.Less(o.Box)
	}
	return d.ModelIndex < o.ModelIndex
}

// SortDetections sorts best first.
func SortDetections(ds []Detection) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Better(ds[j]) })
}

// Suppress applies greedy non-maximum suppression within each class: a
// detection is dropped when it overlaps a better detection of the same class
// by more than overlap (IoU). The result is sorted best first.
func Suppress(ds []Detection, overlap float64) []Detection {
	SortDetections(ds)
	kept := ds[:0:0]
	for _, d := range ds {
		if !conflicts(kept, d, overlap) {
			kept = append(kept, d)
		}
	}
	return kept
}

func conflicts(kept []Detection, d Detection, overlap float64) bool {
	for _, k := range kept {
		if k.ClassIndex == d.ClassIndex && k.Box.Overlap(d.Box) > overlap {
			return true
		}
	}
	return false
}

// worstFirst is a heap whose root is the weakest detection.
type worstFirst []Detection

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return h[j].Better(h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(Detection)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopK keeps the k best detections seen so far, suppressing overlaps as
// candidates arrive. A candidate beaten by an overlapping kept detection of
// its class is discarded; a candidate that beats overlapping kept
// detections replaces them.
type TopK struct {
	k       int
	overlap float64
	items   worstFirst
}

// NewTopK creates a collector for at most k detections.
func NewTopK(k int, overlap float64) *TopK {
	return &TopK{k: k, overlap: overlap}
}

// Offer considers d for inclusion.
func (t *TopK) Offer(d Detection) {
	if t.k <= 0 {
		return
	}
	if len(t.items) == t.k && !d.Better(t.items[0]) {
		return
	}
	var displaced bool
	for _, it := range t.items {
		if it.ClassIndex != d.ClassIndex || it.Box.Overlap(d.Box) <= t.overlap {
			continue
		}
		if !d.Better(it) {
			return
		}
		displaced = true
	}
	if displaced {
		kept := t.items[:0]
		for _, it := range t.items {
			if it.ClassIndex == d.ClassIndex && it.Box.Overlap(d.Box) > t.overlap {
				continue
			}
			kept = append(kept, it)
		}
		t.items = kept
		heap.Init(&t.items)
	}
	heap.Push(&t.items, d)
	if len(t.items) > t.k {
		heap.Pop(&t.items)
	}
}

// Len returns the number of kept detections.
func (t *TopK) Len() int { return len(t.items) }

// Best returns the kept detection with the highest rank.
func (t *TopK) Best() (Detection, bool) {
	if len(t.items) == 0 {
		return Detection{}, false
	}
	best := t.items[0]
	for _, it := range t.items[1:] {
		if it.Better(best) {
			best = it
		}
	}
	return best, true
}

// Sorted returns the kept detections best first.
func (t *TopK) Sorted() []Detection {
	out := append([]Detection(nil), t.items...)
	SortDetections(out)
	return out
}
