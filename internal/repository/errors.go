package repository

import "errors"

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrConflict means the users document kept changing underneath a write
	// until the retry budget ran out.
	ErrConflict = errors.New("users document changed concurrently")
)
