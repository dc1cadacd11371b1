package supervisor

import "errors"

var (
	// ErrNotSpawned is returned by operations that require a live worker
	// process when none has been spawned yet.
	ErrNotSpawned = errors.New("supervisor: no worker process spawned")
	// ErrAlreadySpawned is returned when a spawn is attempted while a worker
	// process is already running for this Host.
	ErrAlreadySpawned = errors.New("supervisor: worker process already spawned")
	// ErrWorkerCrashed is surfaced through Stats/Status after the worker
	// process exits unexpectedly while running (§4.4's crash-detection rule).
	ErrWorkerCrashed = errors.New("supervisor: worker died")
	// ErrStopTimedOut is returned by Stop/Exit when the worker didn't exit
	// within the grace period and still had not exited within the second
	// grace period after being killed.
	ErrStopTimedOut = errors.New("supervisor: worker did not exit in time, killed")
)
