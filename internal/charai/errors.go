package charai

import "errors"

var (
	// ErrInvalidEmail indicates the login-initiate step did not return a
	// polling UUID, which the service does when it rejects the email.
	ErrInvalidEmail = errors.New("invalid email or failed to get polling UUID")

	// ErrMalformedLink indicates the magic link URL is missing its
	// one-time oobCode query parameter.
	ErrMalformedLink = errors.New("failed to extract OOB code from magic link")

	// ErrTimeout indicates the magic link was not clicked within the
	// polling window.
	ErrTimeout = errors.New("magic link was not clicked within the allotted window")
)
