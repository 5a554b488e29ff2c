package analyses

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrFinished      = errors.New("analysis already finished")
	ErrNoFiles       = errors.New("at least one file is required")
	ErrTooManyEvents = errors.New("polling too fast")
)
