// Package crashguard paces how fast a supervised worker process gets
// respawned after it crashes.
//
// A guard tracks one worker's consecutive-crash count and applies
// exponential backoff, jittered to avoid synchronized retries across a
// whole fleet: the first crash waits a short base delay, each further
// consecutive crash doubles it up to a cap, and a recorded success
// clears the backoff back to zero.
//
// Usage:
//
//	registry := crashguard.NewRegistry(500*time.Millisecond, 30*time.Second)
//	g := registry.Get("worker-0")
//	if g.Allow() {
//	    // respawn the worker...
//	    if err != nil {
//	        g.RecordFailure()
//	    } else {
//	        g.RecordSuccess()
//	    }
//	}
package crashguard
