package worker

import (
	"context"
	"time"
)

// heartbeatOperations pings the peers on an interval.
func (w *Worker) heartbeatOperations() {
	w.evHandler("worker: heartbeatOperations: G started")
	defer w.evHandler("worker: heartbeatOperations: G completed")

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				w.net.Heartbeat()
			}
		case <-w.shut:
			w.evHandler("worker: heartbeatOperations: received shut signal")
			return
		}
	}
}

// discoveryOperations handles finding new peers.
func (w *Worker) discoveryOperations() {
	w.evHandler("worker: discoveryOperations: G started")
	defer w.evHandler("worker: discoveryOperations: G completed")

	ticker := time.NewTicker(w.cfg.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				w.runDiscoveryOperation()
			}
		case <-w.shut:
			w.evHandler("worker: discoveryOperations: received shut signal")
			return
		}
	}
}

// runDiscoveryOperation asks the peers for their peers and dials the new
// ones. It gives up when the worker is shut down.
func (w *Worker) runDiscoveryOperation() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-w.shut:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.net.Discover(ctx)
}

// sweepOperations drops transactions that waited too long in the mempool.
func (w *Worker) sweepOperations() {
	w.evHandler("worker: sweepOperations: G started")
	defer w.evHandler("worker: sweepOperations: G completed")

	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				if n := w.state.SweepMempool(); n > 0 {
					w.evHandler("worker: sweepOperations: expired %d transactions", n)
				}
			}
		case <-w.shut:
			w.evHandler("worker: sweepOperations: received shut signal")
			return
		}
	}
}
