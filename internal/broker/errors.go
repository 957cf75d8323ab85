package broker

import "errors"

// ErrUnavailable signals the broker cannot be reached or opened. The job
// coordinator treats it as the trigger for the in-process fallback executor
// rather than surfacing it to the caller as a job failure.
var ErrUnavailable = errors.New("broker unavailable")

// ErrJobNotFound is returned when a job id is unknown to the broker.
var ErrJobNotFound = errors.New("job not found")
