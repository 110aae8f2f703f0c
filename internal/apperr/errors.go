package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInternal        = errors.New("internal error")
)
