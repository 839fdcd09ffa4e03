package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrNoPushToken aborts a dispatch before anything is recorded.
	ErrNoPushToken = errors.New("user has no registered push destination")
	// ErrDuplicateCall means an original call already went out today.
	ErrDuplicateCall = errors.New("call already dispatched today")
	// ErrTransport wraps push delivery failures.
	ErrTransport = errors.New("push transport failed")
	// ErrSession wraps media session failures; dispatch degrades instead of failing.
	ErrSession = errors.New("media session unavailable")
	// ErrRetryCapExceeded stops a retry chain after MaxRetryAttempts.
	ErrRetryCapExceeded = errors.New("retry cap exceeded")
)
