package llm

import "errors"

// Error kinds. Use errors.Is against these to classify an *Error.
var (
	ErrRateLimited = errors.New("llm: rate limited")
	ErrServer      = errors.New("llm: server error")
	ErrTransport   = errors.New("llm: transport error")
	ErrClient      = errors.New("llm: client error")
	ErrParse       = errors.New("llm: parse error")
)

// Error is returned by every Client operation that fails at the gateway or
// while decoding model output.
type Error struct {
	Kind       error
	StatusCode int
	Body       string
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the transport may repeat the call.
func (e *Error) Retryable() bool {
	return e.Kind == ErrRateLimited || e.Kind == ErrServer || e.Kind == ErrTransport
}

func parseError(msg string, cause error) *Error {
	return &Error{Kind: ErrParse, Msg: msg, Err: cause}
}

func preview(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
