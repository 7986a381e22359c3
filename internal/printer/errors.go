package printer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures reported to callers.
type ErrorKind int

const (
	InvalidArgument ErrorKind = iota + 1
	Unavailable
	AlreadyBusy
	NotConnected
	ConnectionFailed
	OperationFailed
	DiscoveryFailed
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case Unavailable:
		return "Unavailable"
	case AlreadyBusy:
		return "AlreadyBusy"
	case NotConnected:
		return "NotConnected"
	case ConnectionFailed:
		return "ConnectionFailed"
	case OperationFailed:
		return "OperationFailed"
	case DiscoveryFailed:
		return "DiscoveryFailed"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Wire codes carried in Error.Code.
const (
	CodeInvalidAddress     = "INVALID_ADDRESS"
	CodeInvalidPayload     = "INVALID_PAYLOAD"
	CodeInvalidEncoding    = "INVALID_ENCODING"
	CodeBusy               = "BUSY"
	CodeAlreadyConnecting  = "ALREADY_CONNECTING"
	CodeAlreadyDiscovering = "ALREADY_DISCOVERING"
	CodeNotConnected       = "NOT_CONNECTED"
	CodeConnectionFailed   = "CONNECTION_FAILED"
	CodePrintFailed        = "PRINT_FAIL"
	CodeQueryFailed        = "QUERY_FAIL"
	CodeDiscoveryFailed    = "DISCOVERY_FAILED"
	CodeUnavailable        = "BLUETOOTH_UNAVAILABLE"
	CodePairFailed         = "PAIR_FAILED"
	CodeUnpairFailed       = "UNPAIR_FAILED"
	CodeGetPairedFailed    = "GET_PAIRED_ERROR"
)

// Error is the structured error returned by every upward operation. The
// underlying cause, if any, is available through Unwrap.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind. A target without a code
// matches every code of its kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// Detail returns the cause's message, or "" when there is none.
func (e *Error) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Sentinels for errors.Is, one per kind.
var (
	ErrInvalidArgument  = &Error{Kind: InvalidArgument, Message: "invalid argument"}
	ErrUnavailable      = &Error{Kind: Unavailable, Message: "unavailable"}
	ErrAlreadyBusy      = &Error{Kind: AlreadyBusy, Message: "already busy"}
	ErrNotConnected     = &Error{Kind: NotConnected, Message: "not connected"}
	ErrConnectionFailed = &Error{Kind: ConnectionFailed, Message: "connection failed"}
	ErrOperationFailed  = &Error{Kind: OperationFailed, Message: "operation failed"}
	ErrDiscoveryFailed  = &Error{Kind: DiscoveryFailed, Message: "discovery failed"}

	ErrAlreadyDiscovering = &Error{Kind: AlreadyBusy, Code: CodeAlreadyDiscovering, Message: "discovery already in progress"}

	// ErrLinkLost is the cause attached to state changes forced by the
	// transport dropping underneath an active connection.
	ErrLinkLost = errors.New("link lost")
)

func newError(kind ErrorKind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func invalidAddress() *Error {
	return newError(InvalidArgument, CodeInvalidAddress, "invalid printer address", nil)
}

// KindOf returns the ErrorKind of err, if err is or wraps an *Error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
