package api

import (
	"errors"
	"fmt"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg   string
	param string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

func invalidParam(param, format string, args ...any) error {
	return invalidRequestError{msg: fmt.Sprintf(format, args...), param: param}
}

// errorParam returns the request field an invalid request error points at.
func errorParam(err error) string {
	var ire invalidRequestError
	if errors.As(err, &ire) {
		return ire.param
	}
	return ""
}
