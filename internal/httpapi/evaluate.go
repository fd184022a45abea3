package httpapi

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/banshee-data/artos/api"
	"github.com/banshee-data/artos/internal/httputil"
)

// evaluate replaces the evaluation samples of the server's detector with
// the images of a repository synset and runs the evaluation. Form fields:
// synset (required), negatives, overlap and granularity.
func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.repoRoot == "" {
		httputil.NotFound(w, "no repository configured")
		return
	}
	synset := r.FormValue("synset")
	if synset == "" {
		httputil.BadRequest(w, "'synset' is required")
		return
	}
	negatives, ok := intForm(r, "negatives", 0)
	if !ok {
		httputil.BadRequest(w, "invalid 'negatives' parameter")
		return
	}
	granularity, ok := intForm(r, "granularity", 0)
	if !ok {
		httputil.BadRequest(w, "invalid 'granularity' parameter")
		return
	}
	overlap := s.tk.Config().GetEvalOverlap()
	if v := r.FormValue("overlap"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1 {
			httputil.BadRequest(w, "invalid 'overlap' parameter")
			return
		}
		overlap = f
	}

	s.evalMu.Lock()
	defer s.evalMu.Unlock()
	if !s.resetEvaluator() {
		httputil.InternalServerError(w, "detector session is gone")
		return
	}
	if st := s.tk.EvaluatorAddSamplesFromSynset(s.detector, s.repoRoot, synset, negatives); st != api.OK {
		writeStatus(w, "failed to add samples", st)
		return
	}
	if st := s.tk.EvaluatorRun(r.Context(), s.detector, granularity, overlap, nil); st != api.OK {
		writeStatus(w, "evaluation failed", st)
		return
	}

	results := make([]ModelResult, 0)
	for i, class := range s.classNames() {
		res := ModelResult{Class: class}
		f, th, st := s.tk.EvaluatorGetMaxFMeasure(s.detector, i)
		switch st {
		case api.OK:
		case api.DetectNoResults:
			// no detection of this class on any image
			results = append(results, res)
			continue
		default:
			writeStatus(w, "failed to read results", st)
			return
		}
		res.MaxFMeasure, res.Threshold = f, th
		res.AveragePrecision, _ = s.tk.EvaluatorGetAP(s.detector, i)
		res.Rows, _ = s.tk.EvaluatorGetRawResults(s.detector, nil, i)
		results = append(results, res)
	}
	s.log.Printf("evaluated %d models on synset %s", len(results), synset)
	httputil.WriteJSONOK(w, results)
}

// showReport renders the charts of the last evaluation.
func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sess, ok := s.tk.Registry().LockDetector(s.detector)
	if !ok {
		httputil.InternalServerError(w, "detector session is gone")
		return
	}
	var page bytes.Buffer
	err := sess.Evaluator.WriteReport(&page)
	sess.Unlock()
	if err != nil {
		httputil.NotFound(w, "no evaluation results")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page.Bytes())
}

func (s *Server) resetEvaluator() bool {
	sess, ok := s.tk.Registry().LockDetector(s.detector)
	if !ok {
		return false
	}
	sess.Evaluator.Reset()
	sess.Unlock()
	return true
}

func (s *Server) classNames() []string {
	sess, ok := s.tk.Registry().LockDetector(s.detector)
	if !ok {
		return nil
	}
	defer sess.Unlock()
	names := make([]string, sess.Detector.NumModels())
	for i := range names {
		names[i] = sess.Detector.Class(i).Name
	}
	return names
}

func intForm(r *http.Request, key string, def int) (int, bool) {
	v := r.FormValue(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
