package engine

// ProgressMonitor receives one unit of work per batch that leaves the
// queue, whether it was applied or optimized away before it ever ran.
//
// The queue calls the monitor while holding its lock: implementations must
// return quickly and must not call back into the queue.
type ProgressMonitor interface {
	// WorkDone reports count finished batches.
	WorkDone(count int)

	// Completed is called when the monitor is replaced so it can close out
	// any work it still considers pending.
	Completed()
}

// noopMonitor is installed when no monitor has been set.
type noopMonitor struct{}

func (noopMonitor) WorkDone(int) {}
func (noopMonitor) Completed()   {}
