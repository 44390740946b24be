package server

import (
	"errors"
	"fmt"

	"github.com/chazu/unscript/decompiler"
)

var errStopped = errors.New("worker stopped")

// request represents a unit of work to be executed on the worker goroutine.
type request struct {
	fn   func(*decompiler.Decompiler) (any, error)
	done chan result
}

// result holds the return value from a worker operation.
type result struct {
	value any
	err   error
}

// Worker runs decompilations one at a time on a dedicated goroutine so
// editor requests never structure two scripts at once.
type Worker struct {
	dec      *decompiler.Decompiler
	requests chan request
	quit     chan struct{}
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(d *decompiler.Decompiler) *Worker {
	w := &Worker{
		dec:      d,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the decompiler, recovering from panics.
func (w *Worker) execute(fn func(*decompiler.Decompiler) (any, error)) result {
	var res result
	func() {
		defer func() {
			if r := recover(); r != nil {
				res.err = fmt.Errorf("worker panic: %v", r)
			}
		}()
		res.value, res.err = fn(w.dec)
	}()
	return res
}

// Do submits a function for execution on the worker goroutine and blocks
// until it completes. Panics are returned as errors.
func (w *Worker) Do(fn func(*decompiler.Decompiler) (any, error)) (any, error) {
	select {
	case <-w.quit:
		return nil, errStopped
	default:
	}

	req := request{
		fn:   fn,
		done: make(chan result, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, errStopped
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.quit:
		return nil, errStopped
	}
}

// Decompile runs a decompilation on the worker goroutine.
func (w *Worker) Decompile(script []byte) (*decompiler.Result, error) {
	v, err := w.Do(func(d *decompiler.Decompiler) (any, error) {
		return d.Decompile(script)
	})
	if err != nil {
		return nil, err
	}
	return v.(*decompiler.Result), nil
}

// Stop shuts down the worker goroutine.
func (w *Worker) Stop() {
	close(w.quit)
}
