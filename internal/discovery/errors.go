package discovery

import "errors"

var (
	// ErrNotRunning is returned when a search is requested while the
	// service is stopped.
	ErrNotRunning = errors.New("discovery: service not running")

	// ErrAlreadyRunning is returned when the service is started twice.
	ErrAlreadyRunning = errors.New("discovery: service already running")

	// ErrInvalidResponse is returned for replies that cannot be parsed
	// or carry no usable location.
	ErrInvalidResponse = errors.New("discovery: invalid response")
)
