// Package service holds the error categories shared by the domain services.
package service

import "errors"

var (
	// ErrInvalidInput marks caller mistakes; handlers answer 400.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks rows missing for the requesting user; handlers answer 404.
	ErrNotFound = errors.New("not found")
)
