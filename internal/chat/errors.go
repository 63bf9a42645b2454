package chat

import "errors"

var (
	ErrEmptyRoom       = errors.New("room id cannot be empty")
	ErrEmptyUsername   = errors.New("username cannot be empty")
	ErrUsernameTooLong = errors.New("username cannot be longer than 50 characters")
	ErrEmptyText       = errors.New("message text cannot be empty")
	ErrTextTooLong     = errors.New("message text cannot be longer than 500 characters")
)
