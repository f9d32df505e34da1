package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// Source-bound tasks (those opening database connections) are throttled
// separately from compute-only tasks so a slow extraction never starves
// in-process work, and vice versa.
type ConcurrencyStrategy interface {
	// CanStartSource returns true if a source-bound task can start.
	CanStartSource() bool
	// CanStartCompute returns true if a compute-only task can start.
	CanStartCompute() bool
	// OnStartSource is called when a source-bound task starts.
	OnStartSource()
	// OnStartCompute is called when a compute-only task starts.
	OnStartCompute()
	// OnCompleteSource is called when a source-bound task completes.
	OnCompleteSource()
	// OnCompleteCompute is called when a compute-only task completes.
	OnCompleteCompute()
}

// SerializedStrategy runs at most one source-bound task and one compute-only
// task at a time. One of each may run in parallel. This is the default: a
// single workflow's steps are ordered anyway, and serializing source access
// keeps connection pressure on customer databases predictable.
type SerializedStrategy struct {
	mu             sync.Mutex
	sourceRunning  bool
	computeRunning bool
}

// NewSerializedStrategy creates the default strategy.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStartSource() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.sourceRunning
}

func (s *SerializedStrategy) CanStartCompute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.computeRunning
}

func (s *SerializedStrategy) OnStartSource() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourceRunning = true
}

func (s *SerializedStrategy) OnStartCompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computeRunning = true
}

func (s *SerializedStrategy) OnCompleteSource() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourceRunning = false
}

func (s *SerializedStrategy) OnCompleteCompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computeRunning = false
}

// ThrottledSourceStrategy allows up to maxConcurrent source-bound tasks to
// run in parallel. Compute-only tasks are still serialized.
type ThrottledSourceStrategy struct {
	mu             sync.Mutex
	maxConcurrent  int
	sourceRunning  int
	computeRunning bool
}

// NewThrottledSourceStrategy creates a strategy allowing up to maxConcurrent
// concurrent source-bound tasks.
func NewThrottledSourceStrategy(maxConcurrent int) *ThrottledSourceStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledSourceStrategy{maxConcurrent: maxConcurrent}
}

func (s *ThrottledSourceStrategy) CanStartSource() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceRunning < s.maxConcurrent
}

func (s *ThrottledSourceStrategy) CanStartCompute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.computeRunning
}

func (s *ThrottledSourceStrategy) OnStartSource() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourceRunning++
}

func (s *ThrottledSourceStrategy) OnStartCompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computeRunning = true
}

func (s *ThrottledSourceStrategy) OnCompleteSource() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sourceRunning > 0 {
		s.sourceRunning--
	}
}

func (s *ThrottledSourceStrategy) OnCompleteCompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computeRunning = false
}
