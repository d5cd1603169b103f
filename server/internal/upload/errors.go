package upload

import "fmt"

// Kind classifies an upload failure.
type Kind int

const (
	KindMissingFile Kind = iota + 1
	KindMissingDestination
	KindUnsupportedType
	KindPathTraversal
	KindStorage
)

// Code returns the machine-readable error code for k.
func (k Kind) Code() string {
	switch k {
	case KindMissingFile:
		return "MISSING_FILE"
	case KindMissingDestination:
		return "MISSING_DESTINATION"
	case KindUnsupportedType:
		return "UNSUPPORTED_TYPE"
	case KindPathTraversal:
		return "PATH_TRAVERSAL"
	case KindStorage:
		return "STORAGE_ERROR"
	default:
		return "UNKNOWN"
	}
}

func (k Kind) String() string { return k.Code() }

// Sentinels for errors.Is.
var (
	ErrMissingFile        = &Error{Kind: KindMissingFile}
	ErrMissingDestination = &Error{Kind: KindMissingDestination}
	ErrUnsupportedType    = &Error{Kind: KindUnsupportedType}
	ErrPathTraversal      = &Error{Kind: KindPathTraversal}
	ErrStorage            = &Error{Kind: KindStorage}
)

// Error is an upload failure.
type Error struct {
	Kind Kind
	Msg  string

	// DetectedType is the sniffed MIME type for KindUnsupportedType.
	DetectedType string

	// Err is the underlying I/O error for KindStorage.
	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Code()
	}
	if e.Err != nil {
		return fmt.Sprintf("upload: %s: %v", msg, e.Err)
	}
	return "upload: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

func storageError(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Msg: msg, Err: err}
}
