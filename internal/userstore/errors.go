package userstore

import "errors"

// ErrInvalidInput is returned for list filters containing reserved markers.
var ErrInvalidInput = errors.New("invalid input")
