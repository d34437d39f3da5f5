package backend

import (
	"fmt"

	"github.com/leapstack-labs/geomancer/pkg/config"
)

// ErrConfiguration is config.ErrConfiguration, re-exported so callers of
// this package can match configuration errors with errors.Is.
var ErrConfiguration = config.ErrConfiguration

// ErrMissingDBURL is returned when no backend could be resolved for a cast.
var ErrMissingDBURL = fmt.Errorf("%w: dburl was not supplied", ErrConfiguration)

// UnknownBackendError is returned when a URL names an unsupported backend.
type UnknownBackendError struct {
	Scheme    string
	Available []Kind
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown backend %q (available: %v)", e.Scheme, e.Available)
}

// Unwrap makes the error match ErrConfiguration.
func (e *UnknownBackendError) Unwrap() error { return ErrConfiguration }

// InvalidURLError is returned when a database URL cannot be parsed.
type InvalidURLError struct {
	URL string
	Err error
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid database url %q: %v", e.URL, e.Err)
}

// Unwrap returns both the parse error and ErrConfiguration.
func (e *InvalidURLError) Unwrap() []error { return []error{ErrConfiguration, e.Err} }

// IncompatibleBackendError is returned when a spell cannot run on a backend.
type IncompatibleBackendError struct {
	Spell   string
	Backend Kind
	Reason  string
}

func (e *IncompatibleBackendError) Error() string {
	msg := fmt.Sprintf("%s is incompatible with the %s backend", e.Spell, e.Backend)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap makes the error match ErrConfiguration.
func (e *IncompatibleBackendError) Unwrap() error { return ErrConfiguration }

// UploadIncompleteError is returned when an asynchronous upload did not
// finish within its retry budget. The relation may still appear later.
type UploadIncompleteError struct {
	Path     string
	Attempts int
}

func (e *UploadIncompleteError) Error() string {
	return fmt.Sprintf("upload to %s did not complete after %d attempts", e.Path, e.Attempts)
}
