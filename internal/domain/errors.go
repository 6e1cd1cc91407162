package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a business failure so the HTTP boundary can map it to a
// status code without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindInvalidOrExpiredOTP
	KindChallengeExpired
	KindInvalidOrExpiredLink
	KindRegistrationExpired
	KindUnauthorized
	KindReplayDetected
	KindCredentialNotFound
	KindNotConfigured
	KindInternal
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ErrorKind extracts the Kind from an error chain, KindUnknown if none.
func ErrorKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Sentinels for the failures the services return. Compare with errors.Is.
var (
	ErrConflict             = NewError(KindConflict, "phone or email already registered")
	ErrInvalidOrExpiredOTP  = NewError(KindInvalidOrExpiredOTP, "invalid or expired OTP")
	ErrChallengeExpired     = NewError(KindChallengeExpired, "challenge missing or expired")
	ErrInvalidOrExpiredLink = NewError(KindInvalidOrExpiredLink, "invalid or expired verification link")
	ErrRegistrationExpired  = NewError(KindRegistrationExpired, "registration expired, please start over")
	ErrUnauthorized         = NewError(KindUnauthorized, "unauthorized")
	ErrReplayDetected       = NewError(KindReplayDetected, "credential replay detected")
	ErrCredentialNotFound   = NewError(KindCredentialNotFound, "credential not found")
	ErrUserNotFound         = NewError(KindUnauthorized, "invalid credentials")
)
