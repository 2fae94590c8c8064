// Package mockerr defines the typed error kinds cap-grpc raises across
// configuration loading, IDL compilation, and request handling, along with
// the status code mapping used to translate a mock's error specification
// into a gRPC status.
package mockerr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// Kind distinguishes the disposition an error should receive: fatal at
// startup, or converted into a per-call gRPC status.
type Kind int

const (
	KindConfigLoad Kind = iota
	KindProtoCompile
	KindDescriptorNotFound
	KindUnknownMockTarget
	KindTemplateRender
	KindYamlParse
	KindModelValidation
	KindTypeCoercion
	KindProxyRPC
	KindProxyOther
	KindMock
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfigLoad:
		return "config_load"
	case KindProtoCompile:
		return "proto_compile"
	case KindDescriptorNotFound:
		return "descriptor_not_found"
	case KindUnknownMockTarget:
		return "unknown_mock_target"
	case KindTemplateRender:
		return "template_render"
	case KindYamlParse:
		return "yaml_parse"
	case KindModelValidation:
		return "model_validation"
	case KindTypeCoercion:
		return "type_coercion"
	case KindProxyRPC:
		return "proxy_rpc"
	case KindProxyOther:
		return "proxy_other"
	case KindMock:
		return "mock"
	default:
		return "internal"
	}
}

// Fatal reports whether an error of this kind should abort the process
// at startup rather than be converted into a per-call RPC status.
func (k Kind) Fatal() bool {
	switch k {
	case KindConfigLoad, KindProtoCompile:
		return true
	default:
		return false
	}
}

// Error is a typed, wrapped error carrying the kind used to decide its
// disposition (fatal at startup, or converted into a gRPC status per call).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind and operation label.
func New(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf constructs a new Error from a formatted message.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindInternal, false
}

// StatusCode maps a positional status code (1..16, per the gRPC status
// code table) to its codes.Code. Any value outside that range — including
// 0, which the mock schema never maps to a code — falls back to
// codes.Unknown, the same disposition used for any other unrecognized code.
func StatusCode(n int) codes.Code {
	switch n {
	case 1:
		return codes.Canceled
	case 2:
		return codes.Unknown
	case 3:
		return codes.InvalidArgument
	case 4:
		return codes.DeadlineExceeded
	case 5:
		return codes.NotFound
	case 6:
		return codes.AlreadyExists
	case 7:
		return codes.PermissionDenied
	case 8:
		return codes.ResourceExhausted
	case 9:
		return codes.FailedPrecondition
	case 10:
		return codes.Aborted
	case 11:
		return codes.OutOfRange
	case 12:
		return codes.Unimplemented
	case 13:
		return codes.Internal
	case 14:
		return codes.Unavailable
	case 15:
		return codes.DataLoss
	case 16:
		return codes.Unauthenticated
	default:
		return codes.Unknown
	}
}
