package organizations

import "errors"

var (
	ErrNotFound     = errors.New("organizations: not found")
	ErrInvalidInput = errors.New("organizations: invalid input")
)
