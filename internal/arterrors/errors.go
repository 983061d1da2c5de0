// Package arterrors classifies storage failures into domain errors, which
// carry an RPC status code, and everything else, which is reported as
// INTERNAL.
package arterrors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DomainError 是存储层产生的已分类错误，携带状态码和可直接返回给调用方的消息。
type DomainError struct {
	Code    codes.Code
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// GRPCStatus lets grpc's status.FromError recognise the error.
func (e *DomainError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// New 创建一个 DomainError。
func New(code codes.Code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Wrap 创建一个保留底层错误的 DomainError。
func Wrap(code codes.Code, err error, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func InvalidArgument(format string, args ...any) *DomainError {
	return New(codes.InvalidArgument, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *DomainError {
	return New(codes.NotFound, fmt.Sprintf(format, args...))
}

func ResourceExhausted(format string, args ...any) *DomainError {
	return New(codes.ResourceExhausted, fmt.Sprintf(format, args...))
}

func Aborted(format string, args ...any) *DomainError {
	return New(codes.Aborted, fmt.Sprintf(format, args...))
}

// AsDomain 返回错误链中的 DomainError (如果有)。
func AsDomain(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsDomain reports whether err carries a DomainError anywhere in its chain.
func IsDomain(err error) bool {
	_, ok := AsDomain(err)
	return ok
}

// Status 将任意错误转换为 RPC 状态：DomainError 保留其状态码和消息，
// 其他错误一律为 INTERNAL，消息为 err.Error()。
func Status(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	if de, ok := AsDomain(err); ok {
		return status.New(de.Code, de.Message)
	}
	return status.New(codes.Internal, err.Error())
}

// HTTPStatusFromCode maps an RPC code onto the HTTP status used when the
// status payload is written to an HTTP response.
func HTTPStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return 499
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusRequestEntityTooLarge
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
