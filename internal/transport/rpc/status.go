package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	objerr "github.com/bleepstore/objstore/pkg/errors"
)

// FromStatus maps a gRPC call error to the taxonomy. Non-status errors are
// treated as transport failures.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := objerr.As(err); ok {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return objerr.Wrap(objerr.Timeout, err, "deadline exceeded")
	}
	s, ok := status.FromError(err)
	if !ok {
		return objerr.FromTransport(err)
	}
	return objerr.WithCode(kindForCode(s.Code()), int(s.Code()), messageFor(s))
}

func kindForCode(c codes.Code) objerr.Kind {
	switch c {
	case codes.NotFound:
		return objerr.NotFound
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange, codes.AlreadyExists:
		return objerr.Validation
	case codes.Unauthenticated, codes.PermissionDenied:
		return objerr.Authentication
	case codes.DeadlineExceeded:
		return objerr.Timeout
	case codes.Unavailable, codes.Canceled:
		return objerr.Connection
	case codes.Unimplemented:
		return objerr.Unsupported
	default:
		return objerr.Server
	}
}

func messageFor(s *status.Status) string {
	if s.Message() != "" {
		return s.Message()
	}
	return s.Code().String()
}

// ToStatus converts a taxonomy error into a gRPC status error for the
// server side. Errors outside the taxonomy become Internal.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		if _, isObj := objerr.As(err); !isObj {
			return err
		}
	}
	e := objerr.Normalize(err)
	return status.Error(codeForKind(e.Kind), e.Message)
}

func codeForKind(k objerr.Kind) codes.Code {
	switch k {
	case objerr.NotFound:
		return codes.NotFound
	case objerr.Validation:
		return codes.InvalidArgument
	case objerr.Authentication:
		return codes.Unauthenticated
	case objerr.Timeout:
		return codes.DeadlineExceeded
	case objerr.Connection:
		return codes.Unavailable
	case objerr.Unsupported:
		return codes.Unimplemented
	default:
		return codes.Internal
	}
}
