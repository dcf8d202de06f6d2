package worker

// persistOperations writes the chain to storage when signaled. A failed
// write is logged and the next signal tries again.
func (w *Worker) persistOperations() {
	w.evHandler("worker: persistOperations: G started")
	defer w.evHandler("worker: persistOperations: G completed")

	for {
		select {
		case <-w.persist:
			if !w.isShutdown() {
				if err := w.state.Persist(); err != nil {
					w.evHandler("worker: persistOperations: WARNING: %s", err)
				}
			}
		case <-w.shut:
			w.evHandler("worker: persistOperations: received shut signal")
			return
		}
	}
}
