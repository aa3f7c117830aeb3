package classifier

import "sync/atomic"

// Stub is a deterministic, in-memory Classifier for tests that don't need
// a real model loaded. It returns a
// fixed set of results for every window, or an error when Fail is set.
type Stub struct {
	Results []Result
	Fail    error

	calls  atomic.Int64
	closed atomic.Bool
}

func (s *Stub) Classify(window []float32) ([]Result, error) {
	s.calls.Add(1)
	if s.Fail != nil {
		return nil, s.Fail
	}
	return s.Results, nil
}

func (s *Stub) Close() error {
	s.closed.Store(true)
	return nil
}

// Calls reports how many times Classify has been invoked.
func (s *Stub) Calls() int64 { return s.calls.Load() }

// Closed reports whether Close has been called.
func (s *Stub) Closed() bool { return s.closed.Load() }
