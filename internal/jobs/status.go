package jobs

// Status represents the lifecycle state of a token job. These values
// must match the text values written to the jobs snapshot file.
//
// Centralizing these here avoids scattering string literals like
// "pending" or "done" across packages.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether a job in this status will never be mutated
// again by the handshake that produced it.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}
