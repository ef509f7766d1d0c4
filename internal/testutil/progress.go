package testutil

import "sync"

// RecordingMonitor is a progress monitor that counts what it is told.
// It satisfies engine.ProgressMonitor.
type RecordingMonitor struct {
	mu        sync.Mutex
	done      int
	calls     int
	completed int
}

// NewRecordingMonitor returns an empty monitor.
func NewRecordingMonitor() *RecordingMonitor {
	return &RecordingMonitor{}
}

// WorkDone adds count to the finished total.
func (m *RecordingMonitor) WorkDone(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done += count
	m.calls++
}

// Completed records that the monitor was retired.
func (m *RecordingMonitor) Completed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

// Done returns the sum of all WorkDone counts.
func (m *RecordingMonitor) Done() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Calls returns how many times WorkDone was called.
func (m *RecordingMonitor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// CompletedCount returns how many times Completed was called.
func (m *RecordingMonitor) CompletedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed
}
