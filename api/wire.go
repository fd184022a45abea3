package api

import (
	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/eval"
	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/geometry"
	"github.com/banshee-data/artos/internal/repository"
)

// FlatDetection is a detection in wire form. Right and Bottom are
// exclusive.
type FlatDetection struct {
	ClassName [44]byte
	SynsetID  [16]byte
	Score     float32
	Left      int32
	Top       int32
	Right     int32
	Bottom    int32
}

// FlatBoundingBox is a box given by its top-left corner and size.
type FlatBoundingBox struct {
	Left   int32
	Top    int32
	Width  int32
	Height int32
}

// RawTestResult is one row of an evaluation curve. TP and FP count the
// detections scoring at least Threshold; NP is the number of ground-truth
// objects of the class, so TP/NP is the recall.
type RawTestResult struct {
	Threshold float32
	TP        uint32
	FP        uint32
	NP        uint32
}

// SynsetSearchResult is one synset of a listing or search.
type SynsetSearchResult struct {
	SynsetID    [32]byte
	Description [220]byte
	Score       float32
}

// FeatureExtractorInfo names an extractor.
type FeatureExtractorInfo struct {
	Type [32]byte
	Name [100]byte
}

// FeatureExtractorParameter is one extractor parameter with its value in
// the field matching Type.
type FeatureExtractorParameter struct {
	Name        [52]byte
	Type        ParamType
	IntValue    int32
	ScalarValue float32
	StringValue string
}

// setText copies s into dst, truncating so that at least one NUL remains.
func setText(dst []byte, s string) {
	clear(dst)
	if len(dst) == 0 {
		return
	}
	copy(dst[:len(dst)-1], s)
}

// Text returns the NUL terminated string held in b.
func Text(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func flatDetection(d detect.Detection) FlatDetection {
	var f FlatDetection
	setText(f.ClassName[:], d.ClassName)
	setText(f.SynsetID[:], d.SynsetID)
	f.Score = float32(d.Score)
	l, t, r, b := d.Box.ToExclusive()
	f.Left, f.Top, f.Right, f.Bottom = int32(l), int32(t), int32(r), int32(b)
	return f
}

// Rect returns the box as a rectangle.
func (b FlatBoundingBox) Rect() geometry.Rectangle {
	return geometry.Rect(int(b.Left), int(b.Top), int(b.Width), int(b.Height))
}

func rects(boxes []FlatBoundingBox) []geometry.Rectangle {
	if len(boxes) == 0 {
		return nil
	}
	out := make([]geometry.Rectangle, len(boxes))
	for i, b := range boxes {
		out[i] = b.Rect()
	}
	return out
}

func rawTestResult(r eval.TestResult, numObjects int) RawTestResult {
	return RawTestResult{
		Threshold: float32(r.Threshold),
		TP:        uint32(r.TP),
		FP:        uint32(r.FP),
		NP:        uint32(numObjects),
	}
}

func synsetResult(s repository.Synset, score float64) SynsetSearchResult {
	var r SynsetSearchResult
	setText(r.SynsetID[:], s.ID)
	setText(r.Description[:], s.Description)
	r.Score = float32(score)
	return r
}

func extractorInfo(e features.Extractor) FeatureExtractorInfo {
	var info FeatureExtractorInfo
	setText(info.Type[:], e.Type())
	setText(info.Name[:], e.Name())
	return info
}

func extractorParameter(p features.Parameter) FeatureExtractorParameter {
	var out FeatureExtractorParameter
	setText(out.Name[:], p.Name)
	switch p.Type {
	case features.IntParam:
		out.Type = ParamInt
		out.IntValue = int32(p.IntValue)
	case features.ScalarParam:
		out.Type = ParamScalar
		out.ScalarValue = float32(p.ScalarValue)
	case features.StringParam:
		out.Type = ParamString
		out.StringValue = p.StringValue
	default:
		out.Type = ParamType(p.Type)
	}
	return out
}
