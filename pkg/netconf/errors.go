package netconf

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrorKind classifies protocol faults raised while handling an rpc.
type ErrorKind int

const (
	// KindMalformedMessage: the document does not parse, or lacks an rpc root
	// or a message-id.
	KindMalformedMessage ErrorKind = iota + 1

	// KindBadMessage: the rpc does not carry exactly one operation element.
	KindBadMessage

	// KindMissingElement: a mandatory operation parameter is absent.
	KindMissingElement

	// KindUnknownElement: an operation parameter is not recognized.
	KindUnknownElement

	// KindNotImplemented: no handler is registered for the operation.
	KindNotImplemented

	// KindUnexpectedHandlerFailure: a handler failed in a way it did not report
	// as a protocol fault.
	KindUnexpectedHandlerFailure

	// KindPreconditionFailure: the server is not accepting configuration work,
	// either because it is not started or the order engine is saturated.
	KindPreconditionFailure

	// KindOperationFailed: an asynchronous operation completed unsuccessfully.
	KindOperationFailed

	// KindLockDenied: the datastore lock is held by another session.
	KindLockDenied

	// KindInvalidValue: a parameter carries an unacceptable value.
	KindInvalidValue
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedMessage:
		return "MalformedMessage"
	case KindBadMessage:
		return "BadMessage"
	case KindMissingElement:
		return "MissingElement"
	case KindUnknownElement:
		return "UnknownElement"
	case KindNotImplemented:
		return "NotImplemented"
	case KindUnexpectedHandlerFailure:
		return "UnexpectedHandlerFailure"
	case KindPreconditionFailure:
		return "PreconditionFailure"
	case KindOperationFailed:
		return "OperationFailed"
	case KindLockDenied:
		return "LockDenied"
	case KindInvalidValue:
		return "InvalidValue"
	default:
		return "Unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// error-type values (RFC 6241 section 4.3).
const (
	ErrorTypeTransport   = "transport"
	ErrorTypeRPC         = "rpc"
	ErrorTypeProtocol    = "protocol"
	ErrorTypeApplication = "application"
)

// error-tag values used by this server.
const (
	TagMalformedMessage      = "malformed-message"
	TagMissingElement        = "missing-element"
	TagUnknownElement        = "unknown-element"
	TagOperationNotSupported = "operation-not-supported"
	TagOperationFailed       = "operation-failed"
	TagLockDenied            = "lock-denied"
	TagInvalidValue          = "invalid-value"
)

const SeverityError = "error"

// ErrorInfo is one child of <error-info>.
type ErrorInfo struct {
	Name  string
	Value string
}

// RPCError is a protocol fault. It is returned as an error by validation
// code and rendered into an <rpc-error> by Reply.
type RPCError struct {
	Kind     ErrorKind
	Type     string
	Tag      string
	Severity string
	Message  string
	Info     []ErrorInfo

	// Cause is the underlying failure, if any. It is logged, never sent.
	Cause error
}

func (e *RPCError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s/%s): %s: %v", e.Kind, e.Type, e.Tag, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s/%s): %s", e.Kind, e.Type, e.Tag, e.Message)
}

func (e *RPCError) Unwrap() error {
	return e.Cause
}

// FatalOn reports whether the fault must close a session using framing f
// instead of being answered. Without chunked framing a broken message may
// have desynchronized the stream, so MalformedMessage and BadMessage are
// fatal there.
func (e *RPCError) FatalOn(f Framing) bool {
	if f == FramingChunked {
		return false
	}
	return e.Kind == KindMalformedMessage || e.Kind == KindBadMessage
}

func newRPCError(kind ErrorKind, typ, tag, msg string) *RPCError {
	return &RPCError{Kind: kind, Type: typ, Tag: tag, Severity: SeverityError, Message: msg}
}

// NewMalformedMessage reports an unparseable rpc or one lacking rpc/message-id.
func NewMalformedMessage(msg string, cause error) *RPCError {
	e := newRPCError(KindMalformedMessage, ErrorTypeRPC, TagMalformedMessage, msg)
	e.Cause = cause
	return e
}

// NewBadMessage reports an rpc whose operation element count is not exactly one.
func NewBadMessage(msg string) *RPCError {
	e := newRPCError(KindBadMessage, ErrorTypeRPC, TagMalformedMessage, msg)
	e.Info = []ErrorInfo{{Name: "bad-element", Value: "rpc"}}
	return e
}

func NewMissingElement(element string) *RPCError {
	e := newRPCError(KindMissingElement, ErrorTypeProtocol, TagMissingElement,
		"missing mandatory element "+element)
	e.Info = []ErrorInfo{{Name: "bad-element", Value: element}}
	return e
}

func NewUnknownElement(element string) *RPCError {
	e := newRPCError(KindUnknownElement, ErrorTypeProtocol, TagUnknownElement,
		"unknown element "+element)
	e.Info = []ErrorInfo{{Name: "bad-element", Value: element}}
	return e
}

func NewNotImplemented(operation string) *RPCError {
	return newRPCError(KindNotImplemented, ErrorTypeProtocol, TagOperationNotSupported,
		"operation "+operation+" is not supported")
}

// NewUnexpectedHandlerFailure wraps an arbitrary handler error. The cause is
// not exposed to the client.
func NewUnexpectedHandlerFailure(cause error) *RPCError {
	e := newRPCError(KindUnexpectedHandlerFailure, ErrorTypeApplication, TagOperationFailed,
		"unexpected failure while processing the request")
	e.Cause = cause
	return e
}

func NewPreconditionFailure(msg string) *RPCError {
	return newRPCError(KindPreconditionFailure, ErrorTypeApplication, TagOperationFailed, msg)
}

func NewOperationFailed(msg string) *RPCError {
	return newRPCError(KindOperationFailed, ErrorTypeApplication, TagOperationFailed, msg)
}

// NewLockDenied reports that holder already owns the lock.
func NewLockDenied(holder uint64) *RPCError {
	e := newRPCError(KindLockDenied, ErrorTypeProtocol, TagLockDenied,
		"lock is already held by session "+strconv.FormatUint(holder, 10))
	e.Info = []ErrorInfo{{Name: "session-id", Value: strconv.FormatUint(holder, 10)}}
	return e
}

func NewInvalidValue(msg string) *RPCError {
	return newRPCError(KindInvalidValue, ErrorTypeProtocol, TagInvalidValue, msg)
}

// AsRPCError extracts an *RPCError from err's chain.
func AsRPCError(err error) (*RPCError, bool) {
	var re *RPCError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
