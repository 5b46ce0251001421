package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrLockHeld        = errors.New("lock held by another instance")
	ErrUnauthorized    = errors.New("unauthorized")
)
