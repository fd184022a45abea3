// Package progress reports two-level progress of long running operations
// and carries the caller's request to abort them.
package progress

import (
	"context"
	"errors"
)

// ErrAborted is returned by operations stopped through their Reporter.
var ErrAborted = errors.New("operation aborted")

// Func receives the overall step, the overall step count, the sub-step and
// the sub-step count. Returning false asks the operation to stop.
type Func func(overallStep, overallTotal, subStep, subTotal int) bool

// Reporter forwards progress to a Func. Once the callback returns false or
// the context is done, the reporter stays aborted and never calls back
// again. A nil *Reporter reports nothing and never aborts.
type Reporter struct {
	ctx     context.Context
	fn      Func
	total   int
	step    int
	aborted bool
}

// New returns a reporter for an operation of total overall steps. fn may be
// nil and ctx may be nil.
func New(ctx context.Context, fn Func, total int) *Reporter {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Reporter{ctx: ctx, fn: fn, total: total}
}

// Simple adapts a single-level callback. The overall step is ignored and
// the sub-step is reported as the current position.
func Simple(ctx context.Context, fn func(current, total int) bool) *Reporter {
	var f Func
	if fn != nil {
		f = func(_, _, sub, subTotal int) bool { return fn(sub, subTotal) }
	}
	return New(ctx, f, 1)
}

// Start reports (0, total, 0, 0).
func (r *Reporter) Start() bool {
	if r == nil {
		return true
	}
	r.step = 0
	return r.report(0, 0)
}

// BeginPhase moves to the next overall step without reporting.
func (r *Reporter) BeginPhase() {
	if r == nil {
		return
	}
	if r.step < r.total {
		r.step++
	}
}

// Step returns the current overall step.
func (r *Reporter) Step() int {
	if r == nil {
		return 0
	}
	return r.step
}

// Advance reports sub-step sub of subTotal within the current overall step.
// It returns false once the operation has been aborted.
func (r *Reporter) Advance(sub, subTotal int) bool {
	if r == nil {
		return true
	}
	return r.report(sub, subTotal)
}

// Finish reports (total, total, 0, 0) unless aborted.
func (r *Reporter) Finish() bool {
	if r == nil {
		return true
	}
	r.step = r.total
	return r.report(0, 0)
}

// Aborted reports whether the operation has been asked to stop.
func (r *Reporter) Aborted() bool {
	if r == nil {
		return false
	}
	if !r.aborted && r.ctx.Err() != nil {
		r.aborted = true
	}
	return r.aborted
}

// Err returns ErrAborted once aborted, nil otherwise.
func (r *Reporter) Err() error {
	if r.Aborted() {
		return ErrAborted
	}
	return nil
}

func (r *Reporter) report(sub, subTotal int) bool {
	if r.Aborted() {
		return false
	}
	if r.fn != nil && !r.fn(r.step, r.total, sub, subTotal) {
		r.aborted = true
	}
	return !r.aborted
}
