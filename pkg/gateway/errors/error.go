package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorAuthInvalid      = ErrorCode("AuthInvalid")
	ErrorNoCapacity       = ErrorCode("NoCapacity")
	ErrorInitializing     = ErrorCode("Initializing")
	ErrorCreationFailed   = ErrorCode("CreationFailed")
	ErrorUserCodeError    = ErrorCode("UserCodeError")
	ErrorUserCodeTimeout  = ErrorCode("UserCodeTimeout")
	ErrorTransportFailure = ErrorCode("TransportFailure")
	ErrorNotFound         = ErrorCode("NotFound")
	ErrorInternal         = ErrorCode("Internal")
	ErrorUnknown          = ErrorCode("Unknown")
)

type Error struct {
	Code    ErrorCode
	Message string
}

func (t *Error) Error() string {
	return fmt.Sprintf("%s: %s", t.Code, t.Message)
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func GetErrCode(err error) ErrorCode {
	var innerErr = &Error{}
	ok := errors.As(err, &innerErr)
	if !ok {
		return ErrorUnknown
	}
	return innerErr.Code
}

// HTTPStatus maps an ErrorCode to the status the gateway surfaces for it.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrorAuthInvalid:
		return http.StatusUnauthorized
	case ErrorNoCapacity, ErrorInitializing, ErrorCreationFailed:
		return http.StatusServiceUnavailable
	case ErrorUserCodeError, ErrorUserCodeTimeout:
		return http.StatusBadRequest
	case ErrorTransportFailure:
		return http.StatusGatewayTimeout
	case ErrorNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
