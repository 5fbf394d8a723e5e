// Package worker supervises a fleet of worker subprocesses the way a
// prefork HTTP server would: the supervisor binds the listening
// socket(s) itself and hands each worker a pre-bound file descriptor
// over exec.Cmd.ExtraFiles, so workers share accept duty on the same
// port without SO_REUSEPORT. A crashing worker is respawned, guarded
// by internal/crashguard so a tight crash loop doesn't spin the CPU.
package worker
