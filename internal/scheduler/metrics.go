package scheduler

// Observer receives scheduler instrumentation. Implementations must never
// fail or block; telemetry is not allowed to raise into the processing
// path.
type Observer interface {
	EnvelopeConsumed()
	EnvelopeCommitted()
	EnvelopeMirrored()
	TasksEnqueued(n int)
	TaskCompleted()
	TaskFailed()
	WorkerBusy(delta int)
}

// NopObserver discards all instrumentation.
type NopObserver struct{}

func (NopObserver) EnvelopeConsumed()  {}
func (NopObserver) EnvelopeCommitted() {}
func (NopObserver) EnvelopeMirrored()  {}
func (NopObserver) TasksEnqueued(int)  {}
func (NopObserver) TaskCompleted()     {}
func (NopObserver) TaskFailed()        {}
func (NopObserver) WorkerBusy(int)     {}
