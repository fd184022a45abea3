// Package session keeps the detector and learner sessions of a toolkit
// behind 1-based integer handles.
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/artos/internal/background"
	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/eval"
	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/learn"
	"github.com/banshee-data/artos/internal/monitoring"
	"github.com/banshee-data/artos/internal/repository"
)

// Detector is a detector session: the detector and the evaluator that
// scores it. Callers hold the session lock for the whole operation and
// take it with Acquire, which fails once the session was destroyed.
type Detector struct {
	sync.Mutex
	ID        string
	Detector  *detect.Detector
	Evaluator *eval.Evaluator

	closed bool
}

// Acquire locks the session and reports whether it is still live. When it
// returns false the session is left unlocked.
func (s *Detector) Acquire() bool {
	s.Lock()
	if s.closed {
		s.Unlock()
		return false
	}
	return true
}

// Learner is a learner session.
type Learner struct {
	sync.Mutex
	ID      string
	Learner *learn.Learner

	closed bool
}

// Acquire locks the session and reports whether it is still live. When it
// returns false the session is left unlocked.
func (s *Learner) Acquire() bool {
	s.Lock()
	if s.closed {
		s.Unlock()
		return false
	}
	return true
}

// Registry maps handles to live sessions. A destroyed slot stays nil and
// is never handed out again.
type Registry struct {
	mu        sync.Mutex
	detectors []*Detector
	learners  []*Learner
	log       monitoring.ComponentLogger
}

// NewRegistry returns an empty registry.
func NewRegistry(debug bool) *Registry {
	return &Registry{log: monitoring.Component("Registry", "", debug)}
}

// CreateDetector adds a detector session and returns its handle.
func (r *Registry) CreateDetector(cfg detect.Config, evalOpts eval.Options) uint32 {
	d := detect.NewDetector(cfg)
	evalOpts.Debug = evalOpts.Debug || cfg.Debug
	s := &Detector{ID: uuid.NewString(), Detector: d, Evaluator: eval.New(d, evalOpts)}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors = append(r.detectors, s)
	h := uint32(len(r.detectors))
	r.log.Debugf("detector %d created (%s)", h, s.ID)
	return h
}

// CreateLearner adds a learner session and returns its handle, or 0 and the
// reason when the learner cannot be created.
func (r *Registry) CreateLearner(e features.Extractor, bg *background.Model, repo *repository.Repository, opts learn.Options) (uint32, error) {
	l, err := learn.New(e, bg, repo, opts)
	if err != nil {
		return 0, err
	}
	s := &Learner{ID: l.ID(), Learner: l}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.learners = append(r.learners, s)
	h := uint32(len(r.learners))
	r.log.Debugf("learner %d created (%s)", h, s.ID)
	return h, nil
}

// Detector returns the live detector session h.
func (r *Registry) Detector(h uint32) (*Detector, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == 0 || int(h) > len(r.detectors) || r.detectors[h-1] == nil {
		return nil, false
	}
	return r.detectors[h-1], true
}

// Learner returns the live learner session h.
func (r *Registry) Learner(h uint32) (*Learner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == 0 || int(h) > len(r.learners) || r.learners[h-1] == nil {
		return nil, false
	}
	return r.learners[h-1], true
}

// LockDetector resolves h and acquires its session. The caller unlocks it.
func (r *Registry) LockDetector(h uint32) (*Detector, bool) {
	s, ok := r.Detector(h)
	if !ok || !s.Acquire() {
		return nil, false
	}
	return s, true
}

// LockLearner resolves h and acquires its session. The caller unlocks it.
func (r *Registry) LockLearner(h uint32) (*Learner, bool) {
	s, ok := r.Learner(h)
	if !ok || !s.Acquire() {
		return nil, false
	}
	return s, true
}

// IsValidDetector reports whether h refers to a live detector session.
func (r *Registry) IsValidDetector(h uint32) bool {
	_, ok := r.Detector(h)
	return ok
}

// IsValidLearner reports whether h refers to a live learner session.
func (r *Registry) IsValidLearner(h uint32) bool {
	_, ok := r.Learner(h)
	return ok
}

// DestroyDetector releases the samples of session h and clears its slot.
// It waits for a running operation on the session and reports whether h
// was live.
func (r *Registry) DestroyDetector(h uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == 0 || int(h) > len(r.detectors) || r.detectors[h-1] == nil {
		return false
	}
	s := r.detectors[h-1]
	s.Lock()
	r.release("detector", h, s.Evaluator.Reset)
	s.closed = true
	s.Unlock()
	r.detectors[h-1] = nil
	return true
}

// DestroyLearner releases the samples of session h and clears its slot.
func (r *Registry) DestroyLearner(h uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == 0 || int(h) > len(r.learners) || r.learners[h-1] == nil {
		return false
	}
	s := r.learners[h-1]
	s.Lock()
	r.release("learner", h, s.Learner.Close)
	s.closed = true
	s.Unlock()
	r.learners[h-1] = nil
	return true
}

// release runs fn and logs instead of propagating a panic.
func (r *Registry) release(kind string, h uint32, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Printf("releasing %s %d failed: %v", kind, h, p)
		}
	}()
	fn()
	r.log.Debugf("%s %d destroyed", kind, h)
}

// Live returns the number of live detector and learner sessions.
func (r *Registry) Live() (detectors, learners int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.detectors {
		if s != nil {
			detectors++
		}
	}
	for _, s := range r.learners {
		if s != nil {
			learners++
		}
	}
	return detectors, learners
}

// Close destroys every live session.
func (r *Registry) Close() {
	r.mu.Lock()
	nd, nl := len(r.detectors), len(r.learners)
	r.mu.Unlock()
	for h := 1; h <= nd; h++ {
		r.DestroyDetector(uint32(h))
	}
	for h := 1; h <= nl; h++ {
		r.DestroyLearner(uint32(h))
	}
}
