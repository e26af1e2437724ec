package util

import "errors"

var (
	ErrKeyNotFound        = errors.New("key not found")
	ErrInvalidGameResult  = errors.New("invalid game result")
	ErrInvalidPoints      = errors.New("points must not be negative")
	ErrRemoteStatus       = errors.New("remote api returned non-success status")
	ErrTokenUserMismatch  = errors.New("token does not belong to user")
	ErrUnsupportedBackend = errors.New("unsupported storage backend")
)
