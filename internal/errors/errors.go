package errors

import "fmt"

// RagrepError is the structured error type threaded through every
// component. It carries enough context for the daemon to translate a
// failure into a wire-protocol Error message without losing its kind.
type RagrepError struct {
	Kind      Kind
	Message   string
	Severity  Severity
	Path      string // file or resource the error concerns, if any
	Cause     error
	Retryable bool
}

func (e *RagrepError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Path, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *RagrepError) Unwrap() error { return e.Cause }

// Is matches another *RagrepError by Kind, so errors.Is(err, Sentinel(KindParseError)) works.
func (e *RagrepError) Is(target error) bool {
	t, ok := target.(*RagrepError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs a RagrepError of the given kind, deriving severity and
// retryability from the kind unless overridden later.
func New(kind Kind, message string, cause error) *RagrepError {
	return &RagrepError{
		Kind:      kind,
		Message:   message,
		Severity:  defaultSeverity(kind),
		Cause:     cause,
		Retryable: retryableKind(kind),
	}
}

// WithPath annotates the error with the file or resource path it concerns.
func (e *RagrepError) WithPath(path string) *RagrepError {
	e.Path = path
	return e
}

// Sentinel returns a bare RagrepError usable as an errors.Is() target for
// a given kind.
func Sentinel(kind Kind) *RagrepError {
	return &RagrepError{Kind: kind}
}

func Configuration(msg string, cause error) *RagrepError {
	return New(KindConfiguration, msg, cause)
}

func UnsupportedLanguage(ext string) *RagrepError {
	return New(KindUnsupportedLanguage, "no chunker registered for extension "+ext, nil)
}

func ParseError(path string, cause error) *RagrepError {
	return New(KindParseError, cause.Error(), cause).WithPath(path)
}

func IO(path string, cause error) *RagrepError {
	return New(KindIO, cause.Error(), cause).WithPath(path)
}

func StoreConflict(msg string, cause error) *RagrepError {
	return New(KindStoreConflict, msg, cause)
}

func ModelUnavailable(msg string, cause error) *RagrepError {
	return New(KindModelUnavailable, msg, cause)
}

func ProtocolError(msg string) *RagrepError {
	return New(KindProtocolError, msg, nil)
}

func AlreadyRunning(pid int) *RagrepError {
	return New(KindAlreadyRunning, fmt.Sprintf("daemon already running with pid %d", pid), nil)
}

// IsRetryable reports whether retrying the operation that produced err
// could plausibly succeed.
func IsRetryable(err error) bool {
	var re *RagrepError
	if as(err, &re) {
		return re.Retryable
	}
	return false
}

// IsFatal reports whether err should abort the calling operation entirely.
func IsFatal(err error) bool {
	var re *RagrepError
	if as(err, &re) {
		return re.Severity == SeverityFatal
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not a *RagrepError.
func KindOf(err error) Kind {
	var re *RagrepError
	if as(err, &re) {
		return re.Kind
	}
	return ""
}

func as(err error, target **RagrepError) bool {
	for err != nil {
		if re, ok := err.(*RagrepError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
