package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// KV store and service errors
	ErrKVRequest          = fmt.Errorf("KV request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrTimeout            = fmt.Errorf("operation timed out")

	// Ledger and index errors
	ErrNotFound          = fmt.Errorf("not found")
	ErrJobNotFound       = fmt.Errorf("job not found")
	ErrInvalidTransition = fmt.Errorf("invalid job status transition")

	// Input validation errors
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrInvalidPayload   = fmt.Errorf("invalid import payload")
	ErrInvalidFormat    = fmt.Errorf("invalid format")
	ErrInvalidOperation = fmt.Errorf("invalid operation")
	ErrMissingArgument  = fmt.Errorf("missing required argument")
	ErrInvalidArgument  = fmt.Errorf("invalid argument")
)
