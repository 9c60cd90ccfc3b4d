package services

import (
	"errors"
	"fmt"
)

var (
	ErrGroupNotFound      = errors.New("group not found")
	ErrNotMember          = errors.New("user is not an active member of this group")
	ErrNotCreator         = errors.New("only the group creator can do this")
	ErrCodeExhausted      = errors.New("could not allocate a unique group code")
	ErrUserExists         = errors.New("username or email already exists")
	ErrInvalidCredentials = errors.New("username or password incorrect")
	ErrRateLimited        = errors.New("too many requests")
)

// ValidationError 请求字段缺失或格式错误，只返回给调用方
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
