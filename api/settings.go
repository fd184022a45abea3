package api

import "github.com/banshee-data/artos/internal/features"

// ChangeFeatureExtractor selects a default instance of typ for learners and
// background estimation created afterwards.
func (t *Toolkit) ChangeFeatureExtractor(typ string) Status {
	return statusFromError(t.settings.Change(typ), scopeSettings)
}

// FeatureExtractorGetInfo describes the selected extractor.
func (t *Toolkit) FeatureExtractorGetInfo() FeatureExtractorInfo {
	return extractorInfo(t.settings.Extractor())
}

// ListFeatureExtractors writes the registered extractors into buf and
// returns how many were written, or the total when buf is nil.
func (t *Toolkit) ListFeatureExtractors(buf []FeatureExtractorInfo) int {
	all := features.All()
	if buf == nil {
		return len(all)
	}
	n := min(len(buf), len(all))
	for i := 0; i < n; i++ {
		buf[i] = extractorInfo(all[i])
	}
	return n
}

// ListFeatureExtractorParams writes the default parameters of extractor
// type typ into buf.
func (t *Toolkit) ListFeatureExtractorParams(typ string, buf []FeatureExtractorParameter) (int, Status) {
	e, err := features.New(typ)
	if err != nil {
		return 0, statusFromError(err, scopeSettings)
	}
	return writeParams(e.ListParameters(), buf), OK
}

// FeatureExtractorListParams writes the current parameters of the selected
// extractor into buf.
func (t *Toolkit) FeatureExtractorListParams(buf []FeatureExtractorParameter) int {
	return writeParams(t.settings.Parameters(), buf)
}

func writeParams(params []features.Parameter, buf []FeatureExtractorParameter) int {
	if buf == nil {
		return len(params)
	}
	n := min(len(buf), len(params))
	for i := 0; i < n; i++ {
		buf[i] = extractorParameter(params[i])
	}
	return n
}

func (t *Toolkit) FeatureExtractorSetIntParam(name string, value int) Status {
	return statusFromError(t.settings.SetIntParam(name, value), scopeSettings)
}

func (t *Toolkit) FeatureExtractorSetScalarParam(name string, value float64) Status {
	return statusFromError(t.settings.SetScalarParam(name, value), scopeSettings)
}

func (t *Toolkit) FeatureExtractorSetStringParam(name, value string) Status {
	return statusFromError(t.settings.SetStringParam(name, value), scopeSettings)
}
