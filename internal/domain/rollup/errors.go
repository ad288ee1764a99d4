package rollup

import "errors"

var (
	ErrInvalidScope  = errors.New("invalid stats scope")
	ErrInvalidWindow = errors.New("invalid stats window")
	ErrScopeNotFound = errors.New("stats scope not found")
)
