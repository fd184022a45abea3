// Package httpapi serves a detector and the image repository of an
// api.Toolkit over HTTP.
package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/artos/api"
	"github.com/banshee-data/artos/internal/httputil"
	"github.com/banshee-data/artos/internal/monitoring"
	"github.com/banshee-data/artos/internal/version"
)

// ANSI escape codes for the request log
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// maxImageBytes bounds the body of a detection request.
const maxImageBytes = 32 << 20

// Detection is a detection in JSON form. Right and Bottom are exclusive.
type Detection struct {
	Class  string  `json:"class"`
	Synset string  `json:"synset,omitempty"`
	Score  float64 `json:"score"`
	Left   int     `json:"left"`
	Top    int     `json:"top"`
	Right  int     `json:"right"`
	Bottom int     `json:"bottom"`
}

// Synset is one synset of a listing or search.
type Synset struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Score       float64 `json:"score,omitempty"`
}

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

// ModelResult summarises the evaluation of one detector class.
type ModelResult struct {
	Class            string  `json:"class"`
	MaxFMeasure      float64 `json:"max_f_measure"`
	Threshold        float64 `json:"threshold"`
	AveragePrecision float64 `json:"average_precision"`
	Rows             int     `json:"rows"`
}

// Server owns one detector session of the toolkit. Evaluation runs are
// serialised; detection requests share the session lock.
type Server struct {
	tk       *api.Toolkit
	detector uint32
	repoRoot string

	evalMu sync.Mutex
	log    monitoring.ComponentLogger
}

// NewServer creates the server's detector and loads the configured model
// list into it.
func NewServer(tk *api.Toolkit) (*Server, error) {
	cfg := tk.Config()
	s := &Server{
		tk:       tk,
		repoRoot: cfg.GetRepositoryRoot(),
		log:      monitoring.Component("Server", "", false),
	}
	s.detector = tk.CreateDetector(cfg.GetNMSOverlap(), cfg.GetInterval(), false)
	if s.detector == 0 {
		return nil, fmt.Errorf("failed to create detector")
	}
	if list := cfg.GetModelList(); list != "" {
		if st := tk.AddModels(s.detector, list); st != api.OK {
			tk.DestroyDetector(s.detector)
			return nil, fmt.Errorf("failed to load model list %s: %w", list, st.Err())
		}
	}
	return s, nil
}

// Detector returns the handle of the server's detector session.
func (s *Server) Detector() uint32 { return s.detector }

// Close destroys the detector session.
func (s *Server) Close() {
	s.tk.DestroyDetector(s.detector)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration of every request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux mounts the JSON API and the report page.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/extractors", s.listExtractors)
	mux.HandleFunc("/api/sessions", s.showSessions)
	mux.HandleFunc("/api/synsets", s.listSynsets)
	mux.HandleFunc("/api/models", s.addModel)
	mux.HandleFunc("/api/detect", s.detect)
	mux.HandleFunc("/api/evaluate", s.evaluate)
	mux.HandleFunc("/report", s.showReport)
	return mux
}

// AttachAdminRoutes mounts the SQL console over the synset index of the
// configured repository. Without a configured repository it does nothing.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) error {
	if s.repoRoot == "" {
		return nil
	}
	repo, err := s.tk.Repository(s.repoRoot)
	if err != nil {
		return fmt.Errorf("failed to open repository %s: %w", s.repoRoot, err)
	}
	return repo.Index().AttachAdminRoutes(mux, "synsets")
}

// httpStatus maps a toolkit status to the HTTP status of its response.
func httpStatus(st api.Status) int {
	switch st {
	case api.FileNotFound, api.DirectoryNotFound, api.RepoSynsetNotFound, api.IndexOutOfBounds:
		return http.StatusNotFound
	case api.InvalidImgData, api.DetectInvalidImgData, api.DetectInvalidAnnotations,
		api.DetectInvalidModelFile, api.DetectInvalidModelListFile, api.DetectInvalidFeatures,
		api.DetectMixedFeatures, api.DetectTooManyModels,
		api.SettingsUnknownFeatureExtractor, api.SettingsUnknownParameter, api.SettingsInvalidParameterValue:
		return http.StatusBadRequest
	case api.DetectNoModels, api.DetectNoImages, api.DetectNoResults, api.RepoInvalidRepository:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeStatus(w http.ResponseWriter, msg string, st api.Status) {
	httputil.WriteStatusError(w, httpStatus(st), msg, st.String(), int(st))
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, VersionInfo{
		Version:   version.Version,
		GitSHA:    version.GitSHA,
		BuildTime: version.BuildTime,
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.tk.Config())
}

type extractorInfo struct {
	Type       string      `json:"type"`
	Name       string      `json:"name"`
	Parameters []parameter `json:"parameters,omitempty"`
}

type parameter struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

func (s *Server) listExtractors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	all := make([]api.FeatureExtractorInfo, s.tk.ListFeatureExtractors(nil))
	s.tk.ListFeatureExtractors(all)
	available := make([]extractorInfo, len(all))
	for i, info := range all {
		available[i] = extractorInfo{Type: api.Text(info.Type[:]), Name: api.Text(info.Name[:])}
	}

	info := s.tk.FeatureExtractorGetInfo()
	params := make([]api.FeatureExtractorParameter, s.tk.FeatureExtractorListParams(nil))
	s.tk.FeatureExtractorListParams(params)
	current := extractorInfo{Type: api.Text(info.Type[:]), Name: api.Text(info.Name[:])}
	for _, p := range params {
		var v interface{}
		switch p.Type {
		case api.ParamInt:
			v = p.IntValue
		case api.ParamScalar:
			v = p.ScalarValue
		default:
			v = p.StringValue
		}
		current.Parameters = append(current.Parameters, parameter{Name: api.Text(p.Name[:]), Value: v})
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"current":   current,
		"available": available,
	})
}

func (s *Server) showSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	detectors, learners := s.tk.Registry().Live()
	httputil.WriteJSONOK(w, map[string]int{
		"detectors":          detectors,
		"learners":           learners,
		"feature_extractors": s.tk.NumFeatureExtractorsInDetector(s.detector),
	})
}

// listSynsets lists the repository synsets, or searches them when q is
// given. limit caps the result count.
func (s *Server) listSynsets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.repoRoot == "" {
		httputil.NotFound(w, "no repository configured")
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	buf := make([]api.SynsetSearchResult, limit)
	var n int
	var st api.Status
	if q := r.URL.Query().Get("q"); q != "" {
		n, st = s.tk.SearchSynsets(s.repoRoot, q, buf)
	} else {
		n, st = s.tk.ListSynsets(s.repoRoot, buf)
	}
	if st != api.OK {
		writeStatus(w, "failed to list synsets", st)
		return
	}
	out := make([]Synset, n)
	for i, res := range buf[:n] {
		out[i] = Synset{
			ID:          api.Text(res.SynsetID[:]),
			Description: api.Text(res.Description[:]),
			Score:       float64(res.Score),
		}
	}
	httputil.WriteJSONOK(w, out)
}

// addModel loads a model file into the server's detector. Form fields:
// class, file, threshold and synset.
func (s *Server) addModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	class := r.FormValue("class")
	file := r.FormValue("file")
	if class == "" || file == "" {
		httputil.BadRequest(w, "'class' and 'file' are required")
		return
	}
	var th float64
	if v := r.FormValue("threshold"); v != "" {
		var err error
		if th, err = strconv.ParseFloat(v, 64); err != nil {
			httputil.BadRequest(w, "invalid 'threshold' parameter")
			return
		}
	}
	if st := s.tk.AddModel(s.detector, class, file, th, r.FormValue("synset")); st != api.OK {
		writeStatus(w, fmt.Sprintf("failed to add model %s", class), st)
		return
	}
	s.log.Printf("added model %s from %s", class, file)
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"class": class})
}

// detect runs the detector on the encoded image in the request body. max
// limits the number of detections; max=1 returns only the best one.
func (s *Server) detect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := 0
	if m := r.URL.Query().Get("max"); m != "" {
		n, err := strconv.Atoi(m)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "invalid 'max' parameter")
			return
		}
		limit = n
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImageBytes+1))
	if err != nil {
		httputil.BadRequest(w, "failed to read image")
		return
	}
	if len(data) > maxImageBytes {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	if limit == 0 {
		total, st := s.tk.DetectEncoded(s.detector, data, nil)
		if st != api.OK {
			writeStatus(w, "detection failed", st)
			return
		}
		limit = total
	}
	out := []Detection{}
	if limit > 0 {
		buf := make([]api.FlatDetection, limit)
		n, st := s.tk.DetectEncoded(s.detector, data, buf)
		if st != api.OK {
			writeStatus(w, "detection failed", st)
			return
		}
		for _, d := range buf[:n] {
			out = append(out, Detection{
				Class:  api.Text(d.ClassName[:]),
				Synset: api.Text(d.SynsetID[:]),
				Score:  float64(d.Score),
				Left:   int(d.Left),
				Top:    int(d.Top),
				Right:  int(d.Right),
				Bottom: int(d.Bottom),
			})
		}
	}
	httputil.WriteJSONOK(w, out)
}
